// Package auth はパスワード認証、Google OAuth認証、セッションとアクセストークンの発行を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/repository"
)

// MaxUsernameLength はユーザー名の最大文字数。
const MaxUsernameLength = 50

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	GetLoginURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginResult はログイン成功時に発行したセッションとアクセストークン。
type LoginResult struct {
	User           *model.User
	Session        *model.Session
	Token          string
	TokenExpiresAt time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenIssuer
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。oauthがnilの場合、Googleログインは無効になる。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	tokens *TokenIssuer,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		config:      config,
		now:         time.Now,
	}
}

// OAuthEnabled はGoogleログインが設定済みかどうかを返す。
func (s *Service) OAuthEnabled() bool {
	return s.oauth != nil
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	if s.oauth == nil {
		return ""
	}
	return s.oauth.GetLoginURL(state)
}

// Register はパスワードでユーザーを登録し、そのままログイン状態にする。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*LoginResult, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		MemberSince:  now,
		LastLogin:    &now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, repository.ToAPIError(err)
	}

	slog.Info("new user registered",
		slog.String("email", email),
		slog.String("username", username),
	)

	return s.issue(ctx, user)
}

// Login はメールアドレスまたはユーザー名とパスワードで認証する。
// 未登録・パスワード不一致・パスワード未設定のいずれもINVALID_CREDENTIALSを返す。
func (s *Service) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	var (
		user *model.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.userRepo.FindByEmail(ctx, strings.ToLower(identifier))
	} else {
		user, err = s.userRepo.FindByUsername(ctx, identifier)
	}
	if err != nil {
		return nil, repository.ToAPIError(err)
	}
	if user == nil || !CheckPassword(user.PasswordHash, password) {
		slog.Warn("login failed", slog.String("identifier", identifier))
		return nil, model.NewInvalidCredentialsError()
	}

	if err := s.touchLastLogin(ctx, user); err != nil {
		return nil, err
	}

	slog.Info("user logged in", slog.String("email", user.Email))
	return s.issue(ctx, user)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// identityが未登録の場合、同じメールアドレスのユーザーがいれば紐付け、いなければユーザーを作成する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*LoginResult, error) {
	if s.oauth == nil {
		return nil, fmt.Errorf("oauth provider is not configured")
	}

	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var user *model.User
	if identity != nil {
		user, err = s.userRepo.FindByEmail(ctx, identity.UserEmail)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, model.NewUserNotFoundError()
		}
	} else {
		user, err = s.linkOrCreate(ctx, info)
		if err != nil {
			return nil, err
		}
	}

	if err := s.touchLastLogin(ctx, user); err != nil {
		return nil, err
	}

	slog.Info("user logged in",
		slog.String("email", user.Email),
		slog.String("provider", info.Provider),
	)
	return s.issue(ctx, user)
}

// linkOrCreate は新しいidentityを既存ユーザーに紐付けるか、新規ユーザーとともに作成する。
func (s *Service) linkOrCreate(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(info.Email))
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}

	now := s.now()
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserEmail:      email,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		// 未確認のメールアドレスで既存アカウントを乗っ取られないようにする
		if !info.EmailVerified {
			return nil, model.NewInvalidCredentialsError()
		}
		if err := s.identRepo.Create(ctx, identity); err != nil {
			return nil, fmt.Errorf("failed to link identity: %w", err)
		}
		slog.Info("identity linked to existing user",
			slog.String("email", email),
			slog.String("provider", info.Provider),
		)
		return existing, nil
	}

	base := DeriveUsername(info.Name, email)
	for attempt := 0; attempt < 5; attempt++ {
		user := &model.User{
			Email:       email,
			Username:    candidateUsername(base, attempt),
			MemberSince: now,
			UpdatedAt:   now,
		}
		err := s.userRepo.CreateWithIdentity(ctx, user, identity)
		if err == nil {
			slog.Info("new user created",
				slog.String("email", email),
				slog.String("username", user.Username),
				slog.String("provider", info.Provider),
			)
			return user, nil
		}
		if !errors.Is(err, repository.ErrDuplicateUsername) {
			return nil, repository.ToAPIError(err)
		}
	}
	return nil, model.NewDuplicateUsernameError()
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

func (s *Service) touchLastLogin(ctx context.Context, user *model.User) error {
	now := s.now()
	if err := s.userRepo.UpdateLastLogin(ctx, user.Email, now); err != nil {
		return repository.ToAPIError(err)
	}
	user.LastLogin = &now
	return nil
}

// issue はセッションを作成し、同じセッションに紐づくアクセストークンを発行する。
func (s *Service) issue(ctx context.Context, user *model.User) (*LoginResult, error) {
	session, err := s.createSession(ctx, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	result := &LoginResult{User: user, Session: session}
	if s.tokens != nil {
		token, expiresAt, err := s.tokens.Issue(user.Email, session.ID)
		if err != nil {
			return nil, err
		}
		result.Token = token
		result.TokenExpiresAt = expiresAt
	}
	return result, nil
}

func (s *Service) createSession(ctx context.Context, email string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserEmail: email,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ValidateUsername はユーザー名の形式を検証する。
func ValidateUsername(username string) error {
	if username == "" {
		return model.NewValidationError("ユーザー名を入力してください")
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return model.NewValidationError(fmt.Sprintf("ユーザー名は%d文字以内で入力してください", MaxUsernameLength))
	}
	return nil
}

// DeriveUsername は表示名（なければメールアドレスのローカル部）からユーザー名を作る。
// 英数字・アンダースコア・ハイフン以外は除去し、小文字にする。
func DeriveUsername(displayName, email string) string {
	src := displayName
	if strings.TrimSpace(src) == "" {
		src, _, _ = strings.Cut(email, "@")
	}

	var b strings.Builder
	for _, r := range strings.ToLower(src) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}

	name := strings.Trim(b.String(), "_-")
	if name == "" {
		name = "user"
	}
	if len(name) > MaxUsernameLength-9 {
		name = name[:MaxUsernameLength-9]
	}
	return name
}

// candidateUsername は重複時に短いランダム接尾辞を付けたユーザー名を返す。
func candidateUsername(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return base + "-" + uuid.New().String()[:8]
}
