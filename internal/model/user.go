// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// メールアドレスを主キーとし、ユーザー名も全ユーザーで一意とする。
type User struct {
	Email            string
	Username         string
	PasswordHash     string // Googleログインのみのユーザーは空
	ProfileImage     []byte
	ProfileImageMime string
	MemberSince      time.Time
	LastLogin        *time.Time
	UpdatedAt        time.Time
}

// HasPassword はパスワードログインが可能なユーザーかどうかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// HasProfileImage はプロフィール画像が設定済みかどうかを返す。
func (u *User) HasProfileImage() bool {
	return len(u.ProfileImage) > 0
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserEmail      string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserEmail string
	ExpiresAt time.Time
	CreatedAt time.Time
}
