// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/recipebox/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByUsername は指定ユーザー名のユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレス重複時はErrDuplicateEmail、ユーザー名重複時はErrDuplicateUsernameを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はユーザー名とパスワードハッシュを更新する。
	// 該当ユーザーがいない場合はErrNotFoundを返す。
	UpdateProfile(ctx context.Context, email, username, passwordHash string) error

	// UpdateLastLogin は最終ログイン日時を更新する。
	UpdateLastLogin(ctx context.Context, email string, at time.Time) error

	// UpdateProfileImage はプロフィール画像を更新する。
	UpdateProfileImage(ctx context.Context, email string, data []byte, mime string) error

	// DeleteByEmail は指定ユーザーを削除する。
	// 関連するidentities、sessions、saved_recipesはCASCADE削除される。
	DeleteByEmail(ctx context.Context, email string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create は既存ユーザーにidentityを紐付ける。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserEmail は指定ユーザーの全セッションを削除する。
	DeleteByUserEmail(ctx context.Context, email string) error
	// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SavedRecipeRepository はクックブック（保存済みレシピ）の永続化インターフェース。
// (user_email, recipe_id) の一意性はストア側で保証する。
type SavedRecipeRepository interface {
	// InsertIfAbsent は (UserEmail, RecipeID) が未登録の場合のみ挿入する。
	// 挿入した場合はrec.IDに採番したIDを設定してtrueを返す。既存の場合はfalseを返し何も変更しない。
	InsertIfAbsent(ctx context.Context, rec *model.SavedRecipe) (bool, error)

	// ListByUser はユーザーの保存済みレシピをID昇順で返す。
	ListByUser(ctx context.Context, email string) ([]*model.SavedRecipe, error)

	// ListAll は全ユーザーの保存済みレシピをID昇順で返す。
	ListAll(ctx context.Context) ([]*model.SavedRecipe, error)

	// DeleteByUserAndRecipe は該当レコードを削除する。削除した場合trueを返す。
	DeleteByUserAndRecipe(ctx context.Context, email, recipeID string) (bool, error)

	// DeleteByUser はユーザーの保存済みレシピを全て削除し、削除件数を返す。
	DeleteByUser(ctx context.Context, email string) (int64, error)

	// UpdateShared は共有フラグを更新する。該当レコードがあればtrueを返す。
	UpdateShared(ctx context.Context, email, recipeID string, shared bool) (bool, error)
}

// DailyPicksRepository は日替わりおすすめレシピの永続化インターフェース。
type DailyPicksRepository interface {
	// Save は指定日のおすすめレシピを保存する。同じ日が既にあれば上書きする。
	Save(ctx context.Context, picks *model.DailyPicks) error

	// FindByDay は指定日のおすすめレシピを取得する。見つからない場合はnilを返す。
	FindByDay(ctx context.Context, day string) (*model.DailyPicks, error)

	// FindLatest は最も新しい日のおすすめレシピを取得する。1件も無い場合はnilを返す。
	FindLatest(ctx context.Context) (*model.DailyPicks, error)
}
