package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/geoboard/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, display_name, auth_token, up_votes, down_votes, created_at, updated_at`

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(&user.ID, &user.DisplayName, &user.AuthToken,
		&user.UpVotes, &user.DownVotes, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create はユーザーを作成する。表示名が既に使われている場合はDuplicateNameエラーを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, auth_token, up_votes, down_votes, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, 0, $4, $5)`,
		user.ID, user.DisplayName, user.AuthToken, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewDuplicateNameError()
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByDisplayName は表示名（完全一致）でユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByDisplayName(ctx context.Context, displayName string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE display_name = $1`, displayName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by display name: %w", err)
	}
	return user, nil
}

// FindByAuthToken は認証トークンでユーザーを取得する。見つからない場合はnilを返す。
// 同じトークンを持つユーザーが複数いる場合は最初に作成されたユーザーを返す。
func (r *PostgresUserRepo) FindByAuthToken(ctx context.Context, authToken string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE auth_token = $1
		 ORDER BY created_at, id LIMIT 1`, authToken))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by auth token: %w", err)
	}
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
