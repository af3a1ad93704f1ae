package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/geoboard/internal/database"
	"github.com/hitoshi/geoboard/internal/model"
)

// PostgresVoteRepo はPostgreSQLを使用した投票リポジトリ。
type PostgresVoteRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresVoteRepo はPostgresVoteRepoを生成する。
func NewPostgresVoteRepo(db *sql.DB) *PostgresVoteRepo {
	return &PostgresVoteRepo{db: db, now: time.Now}
}

// errTransitionTargetGone はトランザクション途中でメッセージが削除されたことを示す。
var errTransitionTargetGone = errors.New("message disappeared during vote transition")

// FindByVoterAndMessage は投票者IDとメッセージIDで投票を取得する。見つからない場合はnilを返す。
func (r *PostgresVoteRepo) FindByVoterAndMessage(ctx context.Context, voterID, messageID string) (*model.Vote, error) {
	if !validIDs(voterID, messageID) {
		return nil, nil
	}
	v, err := findVote(ctx, r.db, voterID, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to find vote: %w", err)
	}
	return v, nil
}

func findVote(ctx context.Context, q database.DBTX, voterID, messageID string) (*model.Vote, error) {
	v := &model.Vote{}
	err := q.QueryRowContext(ctx,
		`SELECT user_id, message_id, value, created_at, updated_at
		 FROM votes WHERE user_id = $1 AND message_id = $2`,
		voterID, messageID,
	).Scan(&v.VoterID, &v.MessageID, &v.Value, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListByVoter は投票者の全投票を表示名付きで返す。
func (r *PostgresVoteRepo) ListByVoter(ctx context.Context, voterID string) ([]model.VoteWithRelations, error) {
	if !validIDs(voterID) {
		return []model.VoteWithRelations{}, nil
	}
	return r.listWithRelations(ctx, `v.user_id = $1`, voterID)
}

// ListByMessage はメッセージに対する全投票を表示名付きで返す。
func (r *PostgresVoteRepo) ListByMessage(ctx context.Context, messageID string) ([]model.VoteWithRelations, error) {
	if !validIDs(messageID) {
		return []model.VoteWithRelations{}, nil
	}
	return r.listWithRelations(ctx, `v.message_id = $1`, messageID)
}

func (r *PostgresVoteRepo) listWithRelations(ctx context.Context, where string, arg string) ([]model.VoteWithRelations, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT v.user_id, v.message_id, v.value, v.created_at, v.updated_at, u.display_name
		 FROM votes v
		 JOIN users u ON u.id = v.user_id
		 WHERE `+where+`
		 ORDER BY v.created_at, v.user_id, v.message_id`,
		arg,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	votes := make([]model.VoteWithRelations, 0)
	for rows.Next() {
		var vr model.VoteWithRelations
		if err := rows.Scan(&vr.VoterID, &vr.MessageID, &vr.Value, &vr.CreatedAt, &vr.UpdatedAt, &vr.UserDisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, vr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate votes: %w", err)
	}
	return votes, nil
}

// Transition は投票の遷移を1トランザクションで実行する。
//
// 同じ組の遷移は pg_advisory_xact_lock で直列化する。
// 行ロックの取得順はメッセージ行 → 投票行 → ユーザー行で固定し、
// メッセージ削除（メッセージ行 → CASCADEで投票行 → 投稿者行）と同じ順序にする。
// 集計値は相対更新（up_votes = up_votes + $n）で更新する。
func (r *PostgresVoteRepo) Transition(ctx context.Context, voterID, messageID string, decide DecideFunc) (*TransitionResult, error) {
	if !validIDs(voterID, messageID) {
		return nil, model.NewMessageNotFoundError(messageID)
	}

	var result *TransitionResult
	err := database.WithTx(ctx, r.db, nil, func(ctx context.Context, tx database.DBTX) error {
		result = nil

		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`,
			voterID, messageID,
		); err != nil {
			return fmt.Errorf("failed to acquire pair lock: %w", err)
		}

		var authorID string
		err := tx.QueryRowContext(ctx,
			`SELECT author_id FROM messages WHERE id = $1`, messageID,
		).Scan(&authorID)
		if err == sql.ErrNoRows {
			return model.NewMessageNotFoundError(messageID)
		}
		if err != nil {
			return fmt.Errorf("failed to find message author: %w", err)
		}

		current, err := findVote(ctx, tx, voterID, messageID)
		if err != nil {
			return fmt.Errorf("failed to find current vote: %w", err)
		}

		t, err := decide(current)
		if err != nil {
			return err
		}
		result = &TransitionResult{Transition: t, Vote: current, AuthorID: authorID}
		if t.Kind == model.TransitionNone {
			return nil
		}

		now := r.now()
		if err := applyCounterDelta(ctx, tx, "messages", messageID, t, now); err != nil {
			return err
		}
		vote, err := writeVote(ctx, tx, voterID, messageID, t, now)
		if err != nil {
			return err
		}
		if err := applyCounterDelta(ctx, tx, "users", authorID, t, now); err != nil {
			return err
		}
		result.Vote = vote
		return nil
	})

	if errors.Is(err, errTransitionTargetGone) || isForeignKeyViolation(err) {
		return nil, model.NewMessageNotFoundError(messageID)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyCounterDelta はmessagesまたはusersの集計値に差分を加算する。
// 対象行が存在しない場合はerrTransitionTargetGoneを返す。
func applyCounterDelta(ctx context.Context, tx database.DBTX, table, id string, t model.VoteTransition, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE `+table+`
		 SET up_votes = up_votes + $2, down_votes = down_votes + $3, updated_at = $4
		 WHERE id = $1`,
		id, t.UpDelta, t.DownDelta, now,
	)
	if err != nil {
		return fmt.Errorf("failed to apply vote delta to %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return errTransitionTargetGone
	}
	return nil
}

// writeVote は遷移の種別に応じて投票行を作成・更新・削除し、遷移後の投票を返す。
func writeVote(ctx context.Context, tx database.DBTX, voterID, messageID string, t model.VoteTransition, now time.Time) (*model.Vote, error) {
	var (
		res sql.Result
		err error
	)
	switch t.Kind {
	case model.TransitionCreate:
		res, err = tx.ExecContext(ctx,
			`INSERT INTO votes (user_id, message_id, value, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $4)`,
			voterID, messageID, t.Value, now,
		)
	case model.TransitionChange:
		res, err = tx.ExecContext(ctx,
			`UPDATE votes SET value = $3, updated_at = $4 WHERE user_id = $1 AND message_id = $2`,
			voterID, messageID, t.Value, now,
		)
	case model.TransitionRemove:
		res, err = tx.ExecContext(ctx,
			`DELETE FROM votes WHERE user_id = $1 AND message_id = $2`,
			voterID, messageID,
		)
	default:
		return nil, fmt.Errorf("unknown vote transition: %q", t.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write vote: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return nil, errTransitionTargetGone
	}

	if t.Kind == model.TransitionRemove {
		return nil, nil
	}
	v, err := findVote(ctx, tx, voterID, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload vote: %w", err)
	}
	return v, nil
}

// validIDs は全てのIDがUUIDとして解釈できるかを返す。
// UUID列に不正な文字列を渡すとSQLエラーになるため、事前に未検出として扱う。
func validIDs(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}

// compile-time interface check
var _ VoteRepository = (*PostgresVoteRepo)(nil)
