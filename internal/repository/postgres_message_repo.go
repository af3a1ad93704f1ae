package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/geoboard/internal/database"
	"github.com/hitoshi/geoboard/internal/model"
)

// PostgresMessageRepo はPostgreSQLを使用したメッセージリポジトリ。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

const messageColumns = `id, text, latitude, longitude, author_id, up_votes, down_votes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	m := &model.Message{}
	err := row.Scan(&m.ID, &m.Text, &m.Latitude, &m.Longitude, &m.AuthorID,
		&m.UpVotes, &m.DownVotes, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Create はメッセージを作成する。投稿者が存在しない場合はUserNotFoundエラーを返す。
func (r *PostgresMessageRepo) Create(ctx context.Context, message *model.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, text, latitude, longitude, author_id, up_votes, down_votes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7)`,
		message.ID, message.Text, message.Latitude, message.Longitude, message.AuthorID,
		message.CreatedAt, message.UpdatedAt,
	)
	if isForeignKeyViolation(err) {
		return model.NewUserNotFoundError()
	}
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// FindByID は指定IDのメッセージを取得する。見つからない場合はnilを返す。
func (r *PostgresMessageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	m, err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message by ID: %w", err)
	}
	return m, nil
}

// List は全メッセージを作成順で返す。
func (r *PostgresMessageRepo) List(ctx context.Context) ([]*model.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// Delete はメッセージを削除し、投稿者の集計値からこのメッセージが受けた分を差し引く。
// 投票はON DELETE CASCADEで削除される。
// 行ロックの取得順は投票遷移と同じメッセージ行 → ユーザー行で、
// 実行中の投票遷移の完了を待ってから確定した集計値で差し引く。
// 後続の投票遷移は行が存在しないことを検出して失敗する。
func (r *PostgresMessageRepo) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	deleted := false
	err := database.WithTx(ctx, r.db, nil, func(ctx context.Context, tx database.DBTX) error {
		var authorID string
		var up, down int
		err := tx.QueryRowContext(ctx,
			`DELETE FROM messages WHERE id = $1 RETURNING author_id, up_votes, down_votes`, id,
		).Scan(&authorID, &up, &down)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		deleted = true

		if up == 0 && down == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET up_votes = up_votes - $2, down_votes = down_votes - $3, updated_at = $4 WHERE id = $1`,
			authorID, up, down, time.Now(),
		); err != nil {
			return fmt.Errorf("failed to update author counters: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// compile-time interface check
var _ MessageRepository = (*PostgresMessageRepo)(nil)
