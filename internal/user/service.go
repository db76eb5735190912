// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/recipebox/internal/auth"
	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/repository"
	"github.com/hitoshi/recipebox/internal/security"
)

// DefaultMaxImageBytes はプロフィール画像の既定の上限サイズ（2MB）。
const DefaultMaxImageBytes = 2 * 1024 * 1024

// imageFetchTimeout はURLからの画像取り込みのタイムアウト。
const imageFetchTimeout = 10 * time.Second

// allowedImageTypes はプロフィール画像として受け付けるMIMEタイプ。
var allowedImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// CookbookClearer はクックブックの一括削除インターフェース。
type CookbookClearer interface {
	ClearCookbook(ctx context.Context, userEmail string) error
}

// ProfileUpdate はプロフィール更新の入力。nilのフィールドは変更しない。
type ProfileUpdate struct {
	Username *string
	Password *string
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo      repository.UserRepository
	sessionRepo   repository.SessionRepository
	cookbook      CookbookClearer
	guard         security.URLGuard
	maxImageBytes int64
}

// NewService はServiceの新しいインスタンスを生成する。
// maxImageBytesが0以下の場合はDefaultMaxImageBytesを使う。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	cookbook CookbookClearer,
	guard security.URLGuard,
	maxImageBytes int64,
) *Service {
	if maxImageBytes <= 0 {
		maxImageBytes = DefaultMaxImageBytes
	}
	return &Service{
		userRepo:      userRepo,
		sessionRepo:   sessionRepo,
		cookbook:      cookbook,
		guard:         guard,
		maxImageBytes: maxImageBytes,
	}
}

// GetProfile はユーザーのプロフィールを返す。
func (s *Service) GetProfile(ctx context.Context, email string) (*model.User, error) {
	u, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, repository.ToAPIError(err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}

// UpdateProfile はユーザー名とパスワードを更新する。メールアドレスは変更できない。
func (s *Service) UpdateProfile(ctx context.Context, email string, in ProfileUpdate) (*model.User, error) {
	u, err := s.GetProfile(ctx, email)
	if err != nil {
		return nil, err
	}

	username := u.Username
	if in.Username != nil {
		username = strings.TrimSpace(*in.Username)
		if err := auth.ValidateUsername(username); err != nil {
			return nil, err
		}
	}

	hash := u.PasswordHash
	if in.Password != nil {
		if err := auth.ValidatePassword(*in.Password); err != nil {
			return nil, err
		}
		if hash, err = auth.HashPassword(*in.Password); err != nil {
			return nil, err
		}
	}

	if err := s.userRepo.UpdateProfile(ctx, email, username, hash); err != nil {
		return nil, repository.ToAPIError(err)
	}

	slog.Info("プロフィールを更新しました",
		slog.String("email", email),
		slog.Bool("username_changed", username != u.Username),
		slog.Bool("password_changed", in.Password != nil),
	)
	return s.GetProfile(ctx, email)
}

// SetProfileImage はアップロードされた画像をプロフィール画像として保存する。
// 画像形式はヘッダーではなく内容から判定する。
func (s *Service) SetProfileImage(ctx context.Context, email string, data []byte) error {
	mime, err := s.checkImage(data)
	if err != nil {
		return err
	}
	if err := s.userRepo.UpdateProfileImage(ctx, email, data, mime); err != nil {
		return repository.ToAPIError(err)
	}

	slog.Info("プロフィール画像を更新しました",
		slog.String("email", email),
		slog.String("mime", mime),
		slog.Int("size", len(data)),
	)
	return nil
}

// ImportProfileImage は指定URLから画像を取得してプロフィール画像に設定する。
// 取得にはSSRF防止機能付きのHTTPクライアントを使う。
func (s *Service) ImportProfileImage(ctx context.Context, email, rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return model.NewInvalidURLError("URLが入力されていません")
	}
	if s.guard == nil {
		return model.NewFetchFailedError("画像の取り込みは無効です")
	}
	if err := s.guard.ValidateURL(rawURL); err != nil {
		if errors.Is(err, security.ErrBlockedURL) {
			slog.Warn("プロフィール画像取り込み: SSRFブロック", slog.String("url", rawURL))
			return model.NewSSRFBlockedError()
		}
		return model.NewInvalidURLError(err.Error())
	}

	data, err := s.fetchImage(ctx, rawURL)
	if err != nil {
		return err
	}
	return s.SetProfileImage(ctx, email, data)
}

func (s *Service) fetchImage(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", "RecipeBox/1.0")
	req.Header.Set("Accept", "image/*")

	resp, err := s.guard.NewSafeClient(imageFetchTimeout).Do(req)
	if err != nil {
		slog.Warn("プロフィール画像取り込み: HTTPリクエスト失敗",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewFetchFailedError("画像を取得できませんでした")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("プロフィール画像取り込み: HTTPステータス異常",
			slog.String("url", rawURL),
			slog.Int("status", resp.StatusCode),
		)
		return nil, model.NewFetchFailedError(fmt.Sprintf("画像の取得に失敗しました（HTTP %d）", resp.StatusCode))
	}

	// 上限+1バイトまで読み、超過を検出する
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxImageBytes+1))
	if err != nil {
		return nil, model.NewFetchFailedError("画像の読み込みに失敗しました")
	}
	return data, nil
}

// GetProfileImage はプロフィール画像とMIMEタイプを返す。
func (s *Service) GetProfileImage(ctx context.Context, email string) ([]byte, string, error) {
	u, err := s.GetProfile(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if !u.HasProfileImage() {
		return nil, "", model.NewProfileImageNotFoundError()
	}
	return u.ProfileImage, u.ProfileImageMime, nil
}

// checkImage はサイズと画像形式を検証し、MIMEタイプを返す。
func (s *Service) checkImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", model.NewValidationError("画像が指定されていません")
	}
	if int64(len(data)) > s.maxImageBytes {
		return "", model.NewImageTooLargeError(s.maxImageBytes)
	}
	mime, _, _ := strings.Cut(http.DetectContentType(data), ";")
	if !slices.Contains(allowedImageTypes, mime) {
		return "", model.NewUnsupportedImageError(mime)
	}
	return mime, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: saved_recipes → sessions → user（+ CASCADE: identities）
func (s *Service) Withdraw(ctx context.Context, email string) error {
	if _, err := s.GetProfile(ctx, email); err != nil {
		return err
	}

	slog.Info("退会処理を開始します", slog.String("email", email))

	// 1. クックブックを空にする
	if s.cookbook != nil {
		if err := s.cookbook.ClearCookbook(ctx, email); err != nil {
			return fmt.Errorf("クックブックの削除に失敗しました: %w", err)
		}
	}

	// 2. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserEmail(ctx, email); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 3. ユーザーを削除
	if err := s.userRepo.DeleteByEmail(ctx, email); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました", slog.String("email", email))
	return nil
}
