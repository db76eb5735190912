// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, cookbook, recipe, system
	Action   string // ユーザー向け対処方法
	Cause    error  // 元になった内部エラー（レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は元になった内部エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Cause
}

// 定義済みエラーコード
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeInvalidURL             = "INVALID_URL"
	ErrCodeSSRFBlocked            = "SSRF_BLOCKED"
	ErrCodeFetchFailed            = "FETCH_FAILED"
	ErrCodeUnsupportedImage       = "UNSUPPORTED_IMAGE"
	ErrCodeImageTooLarge          = "IMAGE_TOO_LARGE"
	ErrCodeDuplicateSave          = "DUPLICATE_SAVE"
	ErrCodeSavedRecipeNotFound    = "SAVED_RECIPE_NOT_FOUND"
	ErrCodeStorageUnavailable     = "STORAGE_UNAVAILABLE"
	ErrCodeStorageOperationFailed = "STORAGE_OPERATION_FAILED"
	ErrCodeRecipeNotFound         = "RECIPE_NOT_FOUND"
	ErrCodeRecipeSourceFailed     = "RECIPE_SOURCE_FAILED"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeDuplicateEmail         = "DUPLICATE_EMAIL"
	ErrCodeDuplicateUsername      = "DUPLICATE_USERNAME"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeProfileImageNotFound   = "PROFILE_IMAGE_NOT_FOUND"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeCSRFInvalid            = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimited            = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// IsErrorCode はerrがAPIErrorで、指定コードを持つかどうかを返す。
func IsErrorCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewValidationError は入力値不正エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトの画像URLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewFetchFailedError は画像URLの取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "validation",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewUnsupportedImageError は対応していない画像形式のエラーを生成する。
func NewUnsupportedImageError(mime string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedImage,
		Message:  fmt.Sprintf("対応していない画像形式です: %s", mime),
		Category: "validation",
		Action:   "JPEG、PNG、GIF、WebPのいずれかの画像を指定してください。",
	}
}

// NewImageTooLargeError は画像サイズ超過エラーを生成する。
func NewImageTooLargeError(maxBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodeImageTooLarge,
		Message:  fmt.Sprintf("画像サイズが上限（%dバイト）を超えています。", maxBytes),
		Category: "validation",
		Action:   "サイズの小さい画像を指定してください。",
	}
}

// NewDuplicateSaveError は保存済みレシピを再度保存しようとした場合のエラーを生成する。
func NewDuplicateSaveError(recipeID string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateSave,
		Message:  fmt.Sprintf("このレシピは既にクックブックに保存されています: %s", recipeID),
		Category: "cookbook",
		Action:   "クックブックから該当レシピを確認してください。",
	}
}

// NewSavedRecipeNotFoundError はクックブックに該当レシピが無い場合のエラーを生成する。
func NewSavedRecipeNotFoundError(recipeID string) *APIError {
	return &APIError{
		Code:     ErrCodeSavedRecipeNotFound,
		Message:  fmt.Sprintf("クックブックに指定されたレシピが見つかりません: %s", recipeID),
		Category: "cookbook",
		Action:   "クックブックを再読み込みしてください。",
	}
}

// NewStorageUnavailableError はストアが未初期化または接続不能な場合のエラーを生成する。
func NewStorageUnavailableError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStorageUnavailable,
		Message:  "データストアに接続できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Cause:    cause,
	}
}

// NewStorageOperationError はストア操作の失敗を表すエラーを生成する。
func NewStorageOperationError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStorageOperationFailed,
		Message:  "データの保存または読み込みに失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Cause:    cause,
	}
}

// NewRecipeNotFoundError は外部APIにレシピが存在しない場合のエラーを生成する。
func NewRecipeNotFoundError(recipeID string) *APIError {
	return &APIError{
		Code:     ErrCodeRecipeNotFound,
		Message:  fmt.Sprintf("指定されたレシピが見つかりません: %s", recipeID),
		Category: "recipe",
		Action:   "レシピIDを確認してください。",
	}
}

// NewRecipeSourceError は外部レシピAPIの呼び出し失敗エラーを生成する。
func NewRecipeSourceError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeRecipeSourceFailed,
		Message:  "レシピ情報の取得に失敗しました。",
		Category: "recipe",
		Action:   "しばらく待ってから再度お試しください。",
		Cause:    cause,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewDuplicateEmailError は登録済みメールアドレスのエラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewDuplicateUsernameError は使用済みユーザー名のエラーを生成する。
func NewDuplicateUsernameError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateUsername,
		Message:  "このユーザー名は既に使われています。",
		Category: "auth",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// メールアドレスの存在有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewProfileImageNotFoundError はプロフィール画像未設定のエラーを生成する。
func NewProfileImageNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileImageNotFound,
		Message:  "プロフィール画像が設定されていません。",
		Category: "validation",
		Action:   "プロフィール画像をアップロードしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewCSRFInvalidError はCSRFトークン検証失敗のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "リクエストを検証できませんでした。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
