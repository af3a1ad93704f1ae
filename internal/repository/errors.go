package repository

import (
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATEコード
const (
	pqUniqueViolation      = "23505"
	pqForeignKeyViolation  = "23503"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// IsRetryable は一時的なストレージ障害（直列化失敗、デッドロック、接続断）かどうかを判定する。
// 入力やデータ状態に起因するエラー（APIError、制約違反）はfalseを返す。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case pqSerializationFailure, pqDeadlockDetected:
		return true
	}
	// Class 08: connection exception
	return pqErr.Code.Class() == "08"
}

// errNegativeCounter は遷移を適用すると集計値が負になる場合のエラー。
// 台帳と集計値が既に不整合であることを意味する。
var errNegativeCounter = errors.New("vote counter would become negative")

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pqCode(err) == pqUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pqCode(err) == pqForeignKeyViolation
}
