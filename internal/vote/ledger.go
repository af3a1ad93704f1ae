// Package vote は投票台帳を提供する。
//
// 投票の作成・変更・取消と、メッセージおよび投稿者の集計値の更新は
// repository.VoteRepository.Transition の1回の呼び出しとして原子的に実行される。
// 一時的なストレージ障害のみを有限回再試行する。
package vote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/hitoshi/geoboard/internal/metrics"
	"github.com/hitoshi/geoboard/internal/model"
	"github.com/hitoshi/geoboard/internal/repository"
)

// 再試行の既定値
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 20 * time.Millisecond
)

// Verifier は呼び出し元ユーザーの確認インターフェース。
type Verifier interface {
	Verify(ctx context.Context, displayName, authToken string) (*model.User, error)
}

// UserFinder は表示名によるユーザー検索インターフェース。
type UserFinder interface {
	FindByDisplayName(ctx context.Context, displayName string) (*model.User, error)
}

// Options はLedgerの再試行設定。
type Options struct {
	MaxRetries int           // 初回を除く再試行回数。0以下の場合は DefaultMaxRetries
	BaseDelay  time.Duration // 指数バックオフの初期待機時間。0以下の場合は DefaultBaseDelay
}

// CastInput は投票の入力。
type CastInput struct {
	DisplayName string
	AuthToken   string
	MessageID   string
	Value       bool
}

// RemoveInput は投票取消の入力。
type RemoveInput struct {
	DisplayName string
	AuthToken   string
	MessageID   string
}

// Selector は投票検索の条件。少なくとも一方を指定する。
type Selector struct {
	DisplayName string
	MessageID   string
}

// QueryResult は Query の結果。
// 両方の条件を指定した場合は Single、それ以外は List が設定される。
type QueryResult struct {
	Single *model.VoteWithRelations
	List   []model.VoteWithRelations
}

// Ledger は投票台帳のサービス層。
type Ledger struct {
	votes      repository.VoteRepository
	users      UserFinder
	verifier   Verifier
	metrics    metrics.MetricsCollector
	maxRetries uint64
	baseDelay  time.Duration
}

// NewLedger はLedgerの新しいインスタンスを生成する。
func NewLedger(
	votes repository.VoteRepository,
	users UserFinder,
	verifier Verifier,
	collector metrics.MetricsCollector,
	opts Options,
) *Ledger {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	return &Ledger{
		votes:      votes,
		users:      users,
		verifier:   verifier,
		metrics:    collector,
		maxRetries: uint64(opts.MaxRetries),
		baseDelay:  opts.BaseDelay,
	}
}

// DecideCast は現在の投票に value を投じたときの遷移を返す。
//
//	投票なし      → Create (value側 +1)
//	同じ値        → None   (変更なし)
//	異なる値      → Change (旧値側 -1, 新値側 +1)
func DecideCast(current *model.Vote, value bool) model.VoteTransition {
	switch {
	case current == nil:
		t := model.VoteTransition{Kind: model.TransitionCreate, Value: value}
		if value {
			t.UpDelta = 1
		} else {
			t.DownDelta = 1
		}
		return t
	case current.Value == value:
		return model.VoteTransition{Kind: model.TransitionNone, Value: value}
	case value:
		return model.VoteTransition{Kind: model.TransitionChange, Value: true, UpDelta: 1, DownDelta: -1}
	default:
		return model.VoteTransition{Kind: model.TransitionChange, Value: false, UpDelta: -1, DownDelta: 1}
	}
}

// DecideRemove は現在の投票を取り消すときの遷移を返す。
// 投票が存在しない場合はVoteNotFoundエラーを返す。
func DecideRemove(current *model.Vote) (model.VoteTransition, error) {
	if current == nil {
		return model.VoteTransition{}, model.NewVoteNotFoundError()
	}
	t := model.VoteTransition{Kind: model.TransitionRemove, Value: current.Value}
	if current.Value {
		t.UpDelta = -1
	} else {
		t.DownDelta = -1
	}
	return t, nil
}

// Cast は投票を作成または変更する。同じ値の再投票は何も変更しない。
func (l *Ledger) Cast(ctx context.Context, in CastInput) (*repository.TransitionResult, error) {
	voter, err := l.verifier.Verify(ctx, in.DisplayName, in.AuthToken)
	if err != nil {
		return nil, err
	}
	decide := func(current *model.Vote) (model.VoteTransition, error) {
		return DecideCast(current, in.Value), nil
	}
	return l.transition(ctx, voter, in.MessageID, decide)
}

// Remove は投票を取り消す。投票が存在しない場合はVoteNotFoundエラーを返す。
func (l *Ledger) Remove(ctx context.Context, in RemoveInput) (*repository.TransitionResult, error) {
	voter, err := l.verifier.Verify(ctx, in.DisplayName, in.AuthToken)
	if err != nil {
		return nil, err
	}
	return l.transition(ctx, voter, in.MessageID, DecideRemove)
}

// transition はリポジトリの遷移を実行し、一時的な障害の場合のみ指数バックオフで再試行する。
func (l *Ledger) transition(ctx context.Context, voter *model.User, messageID string, decide repository.DecideFunc) (*repository.TransitionResult, error) {
	start := time.Now()
	defer func() {
		l.metrics.RecordVoteLatency(time.Since(start))
	}()

	backoff := retry.WithMaxRetries(l.maxRetries, retry.NewExponential(l.baseDelay))

	var result *repository.TransitionResult
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			l.metrics.RecordVoteRetry()
		}

		r, err := l.votes.Transition(ctx, voter.ID, messageID, decide)
		if err != nil {
			if repository.IsRetryable(err) {
				slog.Warn("vote transition retry",
					slog.String("voter_id", voter.ID),
					slog.String("message_id", messageID),
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)
				return retry.RetryableError(err)
			}
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, fmt.Errorf("投票の更新に失敗しました: %w", err)
	}

	l.metrics.RecordVoteTransition(string(result.Transition.Kind))
	if result.Transition.Kind != model.TransitionNone {
		slog.Info("vote transition applied",
			slog.String("voter_id", voter.ID),
			slog.String("message_id", messageID),
			slog.String("author_id", result.AuthorID),
			slog.String("transition", string(result.Transition.Kind)),
		)
	}
	return result, nil
}

// Get は表示名とメッセージIDで投票を取得する。
// ユーザーまたは投票が存在しない場合はVoteNotFoundエラーを返す。
func (l *Ledger) Get(ctx context.Context, displayName, messageID string) (*model.VoteWithRelations, error) {
	voter, err := l.findUser(ctx, displayName)
	if err != nil {
		return nil, err
	}
	if voter == nil {
		return nil, model.NewVoteNotFoundError()
	}

	v, err := l.votes.FindByVoterAndMessage(ctx, voter.ID, messageID)
	if err != nil {
		return nil, fmt.Errorf("投票の取得に失敗しました: %w", err)
	}
	if v == nil {
		return nil, model.NewVoteNotFoundError()
	}
	return &model.VoteWithRelations{Vote: *v, UserDisplayName: voter.DisplayName}, nil
}

// ListByUser は表示名のユーザーが投じた全投票を返す。ユーザーが存在しない場合は空を返す。
func (l *Ledger) ListByUser(ctx context.Context, displayName string) ([]model.VoteWithRelations, error) {
	voter, err := l.findUser(ctx, displayName)
	if err != nil {
		return nil, err
	}
	if voter == nil {
		return []model.VoteWithRelations{}, nil
	}

	votes, err := l.votes.ListByVoter(ctx, voter.ID)
	if err != nil {
		return nil, fmt.Errorf("投票一覧の取得に失敗しました: %w", err)
	}
	return nonNil(votes), nil
}

// ListByMessage はメッセージに対する全投票を返す。
func (l *Ledger) ListByMessage(ctx context.Context, messageID string) ([]model.VoteWithRelations, error) {
	votes, err := l.votes.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("投票一覧の取得に失敗しました: %w", err)
	}
	return nonNil(votes), nil
}

// Query は指定された条件に応じて Get / ListByUser / ListByMessage を呼び分ける。
// 条件が1つもない場合はBadRequestエラーを返す。
func (l *Ledger) Query(ctx context.Context, sel Selector) (*QueryResult, error) {
	switch {
	case sel.DisplayName != "" && sel.MessageID != "":
		v, err := l.Get(ctx, sel.DisplayName, sel.MessageID)
		if err != nil {
			return nil, err
		}
		return &QueryResult{Single: v}, nil
	case sel.DisplayName != "":
		list, err := l.ListByUser(ctx, sel.DisplayName)
		if err != nil {
			return nil, err
		}
		return &QueryResult{List: list}, nil
	case sel.MessageID != "":
		list, err := l.ListByMessage(ctx, sel.MessageID)
		if err != nil {
			return nil, err
		}
		return &QueryResult{List: list}, nil
	default:
		return nil, model.NewVoteSelectorRequiredError()
	}
}

func (l *Ledger) findUser(ctx context.Context, displayName string) (*model.User, error) {
	u, err := l.users.FindByDisplayName(ctx, displayName)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return u, nil
}

func nonNil(votes []model.VoteWithRelations) []model.VoteWithRelations {
	if votes == nil {
		return []model.VoteWithRelations{}
	}
	return votes
}
