package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/recipebox/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `email, username, password_hash, profile_image, profile_image_mime, member_since, last_login, updated_at`

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var lastLogin sql.NullTime
	err := row.Scan(
		&user.Email, &user.Username, &user.PasswordHash,
		&user.ProfileImage, &user.ProfileImageMime,
		&user.MemberSince, &lastLogin, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLogin = &t
	}
	return user, nil
}

// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", classifyError(err))
	}
	return user, nil
}

// FindByUsername は指定ユーザー名のユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`,
		username,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", classifyError(err))
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, username, password_hash, member_since, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.Email, user.Username, user.PasswordHash, user.MemberSince, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", classifyUserError(err))
	}
	return nil
}

// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classifyError(err))
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (email, username, password_hash, member_since, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.Email, user.Username, user.PasswordHash, user.MemberSince, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", classifyUserError(err))
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, user_email, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.UserEmail, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", classifyError(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classifyError(err))
	}
	return nil
}

// UpdateProfile はユーザー名とパスワードハッシュを更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, email, username, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET username = $2, password_hash = $3, updated_at = now() WHERE email = $1`,
		email, username, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", classifyUserError(err))
	}
	return requireAffected(result, "user", email)
}

// UpdateLastLogin は最終ログイン日時を更新する。
func (r *PostgresUserRepo) UpdateLastLogin(ctx context.Context, email string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login = $2 WHERE email = $1`,
		email, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", classifyError(err))
	}
	return requireAffected(result, "user", email)
}

// UpdateProfileImage はプロフィール画像を更新する。
func (r *PostgresUserRepo) UpdateProfileImage(ctx context.Context, email string, data []byte, mime string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET profile_image = $2, profile_image_mime = $3, updated_at = now() WHERE email = $1`,
		email, data, mime,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile image: %w", classifyError(err))
	}
	return requireAffected(result, "user", email)
}

// DeleteByEmail は指定ユーザーを削除する。
// 関連するidentities、sessions、saved_recipesはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByEmail(ctx context.Context, email string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE email = $1`,
		email,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", classifyError(err))
	}
	return requireAffected(result, "user", email)
}

// requireAffected は更新件数が0件の場合にErrNotFoundを返す。
func requireAffected(result sql.Result, kind, key string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
