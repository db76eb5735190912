package repository

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/hitoshi/recipebox/internal/model"
)

// リポジトリ共通のエラー。呼び出し側はerrors.Isで判定する。
var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicate   = errors.New("duplicate key")
	ErrUnavailable = errors.New("store unavailable")

	ErrDuplicateEmail    = fmt.Errorf("%w: email", ErrDuplicate)
	ErrDuplicateUsername = fmt.Errorf("%w: username", ErrDuplicate)
)

// PostgreSQLのエラーコード
const (
	pqUniqueViolation = "unique_violation"
	pqConnectionClass = "08"
)

// usernameConstraint はusersテーブルのユーザー名一意制約名。
const usernameConstraint = "users_username_key"

// classifyError はドライバのエラーをリポジトリ共通のエラーに分類する。
// 分類できないエラーはそのまま返す。
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code.Name() == pqUniqueViolation {
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
		if pqErr.Code.Class() == pqConnectionClass {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return err
}

// classifyUserError はusersテーブルへの書き込みエラーを分類する。
// 一意制約違反は違反した制約に応じてメールアドレス重複とユーザー名重複を区別する。
func classifyUserError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == pqUniqueViolation {
		if pqErr.Constraint == usernameConstraint {
			return ErrDuplicateUsername
		}
		return ErrDuplicateEmail
	}
	return classifyError(err)
}

// ToAPIError はユーザー系リポジトリのエラーをクライアント向けのAPIErrorに変換する。
// ErrNotFoundはUSER_NOT_FOUNDとして扱う。
func ToAPIError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateEmail):
		return model.NewDuplicateEmailError()
	case errors.Is(err, ErrDuplicateUsername):
		return model.NewDuplicateUsernameError()
	case errors.Is(err, ErrNotFound):
		return model.NewUserNotFoundError()
	case errors.Is(err, ErrUnavailable):
		return model.NewStorageUnavailableError(err)
	default:
		return model.NewStorageOperationError(err)
	}
}
