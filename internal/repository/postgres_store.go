package repository

import "database/sql"

// PostgresStore はPostgreSQLを使用する全リポジトリをまとめたストア。
type PostgresStore struct {
	users    *PostgresUserRepo
	messages *PostgresMessageRepo
	votes    *PostgresVoteRepo
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		users:    NewPostgresUserRepo(db),
		messages: NewPostgresMessageRepo(db),
		votes:    NewPostgresVoteRepo(db),
	}
}

// Users はユーザーリポジトリを返す。
func (s *PostgresStore) Users() UserRepository { return s.users }

// Messages はメッセージリポジトリを返す。
func (s *PostgresStore) Messages() MessageRepository { return s.messages }

// Votes は投票リポジトリを返す。
func (s *PostgresStore) Votes() VoteRepository { return s.votes }

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
