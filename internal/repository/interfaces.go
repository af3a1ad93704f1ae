// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/geoboard/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// 集計値（UpVotes/DownVotes）は VoteRepository.Transition からのみ更新され、
// このインターフェースには直接更新する操作を持たない。
type UserRepository interface {
	// Create はユーザーを作成する。表示名が既に使われている場合はDuplicateNameエラーを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByDisplayName は表示名（完全一致）でユーザーを取得する。見つからない場合はnilを返す。
	FindByDisplayName(ctx context.Context, displayName string) (*model.User, error)

	// FindByAuthToken は認証トークンでユーザーを取得する。見つからない場合はnilを返す。
	FindByAuthToken(ctx context.Context, authToken string) (*model.User, error)
}

// MessageRepository はメッセージデータの永続化インターフェース。
type MessageRepository interface {
	// Create はメッセージを作成する。
	Create(ctx context.Context, message *model.Message) error

	// FindByID は指定IDのメッセージを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Message, error)

	// List は全メッセージを作成順で返す。
	List(ctx context.Context) ([]*model.Message, error)

	// Delete はメッセージと、それを参照する全ての投票を削除する。
	// 投稿者の集計値からはメッセージが受けた分を同じ操作内で差し引く。
	// 削除対象が存在しなかった場合はfalseを返す。
	// 削除開始後に到着した投票遷移はメッセージ未検出として失敗する。
	Delete(ctx context.Context, id string) (bool, error)
}

// DecideFunc は現在の投票（存在しない場合はnil）から遷移を決定する。
// Transition の排他区間内で呼ばれるため、副作用を持たない純粋な関数であること。
// 再試行時には複数回呼ばれることがある。
type DecideFunc func(current *model.Vote) (model.VoteTransition, error)

// TransitionResult は Transition の実行結果。
type TransitionResult struct {
	Transition model.VoteTransition
	Vote       *model.Vote // 遷移後の投票。Remove 後はnil
	AuthorID   string
}

// VoteRepository は投票台帳の永続化インターフェース。
type VoteRepository interface {
	// FindByVoterAndMessage は投票者IDとメッセージIDで投票を取得する。見つからない場合はnilを返す。
	FindByVoterAndMessage(ctx context.Context, voterID, messageID string) (*model.Vote, error)

	// ListByVoter は投票者の全投票を表示名付きで返す。
	ListByVoter(ctx context.Context, voterID string) ([]model.VoteWithRelations, error)

	// ListByMessage はメッセージに対する全投票を表示名付きで返す。
	ListByMessage(ctx context.Context, messageID string) ([]model.VoteWithRelations, error)

	// Transition は (voterID, messageID) の組に対して
	// 「現在の投票の取得 → decide による遷移決定 → 投票の書き込み → メッセージ集計値の更新 →
	// 投稿者集計値の更新」を1つの原子的な単位として実行する。
	// 同じ組に対する Transition は直列化され、異なる組は並行に実行できる。
	// メッセージが存在しない（削除済みを含む）場合はMessageNotFoundエラーを返し、何も変更しない。
	// decide がエラーを返した場合も何も変更しない。
	Transition(ctx context.Context, voterID, messageID string, decide DecideFunc) (*TransitionResult, error)
}

// Store はプロセスが所有するリポジトリ一式。
type Store interface {
	Users() UserRepository
	Messages() MessageRepository
	Votes() VoteRepository
}
