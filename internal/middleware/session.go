// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/recipebox/internal/auth"
	"github.com/hitoshi/recipebox/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userEmailContextKey = contextKey("user_email")
	sessionIDContextKey = contextKey("session_id")
	bearerContextKey    = contextKey("bearer")
)

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// TokenParser はアクセストークンの検証インターフェース。
type TokenParser interface {
	Parse(tokenString string) (*auth.Claims, error)
}

// Authenticator はリクエストからログイン中のユーザーを特定する。
// session_id Cookie と Authorization: Bearer のどちらも受け付ける。
// Bearerトークンは発行元のセッションが有効な間だけ使える（ログアウトで失効する）。
type Authenticator struct {
	sessions SessionFinder
	tokens   TokenParser
}

// NewAuthenticator はAuthenticatorを生成する。tokensがnilの場合はCookieのみを受け付ける。
func NewAuthenticator(sessions SessionFinder, tokens TokenParser) *Authenticator {
	return &Authenticator{sessions: sessions, tokens: tokens}
}

// Required は未認証のリクエストに401を返すミドルウェアを返す。
func (a *Authenticator) Required() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, ok := a.authenticate(r)
			if !ok {
				WriteUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Optional は認証できた場合のみユーザーをコンテキストに注入するミドルウェアを返す。
// 未認証でもリクエストは通す。
func (a *Authenticator) Optional() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ctx, ok := a.authenticate(r); ok {
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) (context.Context, bool) {
	ctx := r.Context()

	if token, ok := bearerToken(r); ok {
		if a.tokens == nil {
			return nil, false
		}
		claims, err := a.tokens.Parse(token)
		if err != nil {
			slog.Debug("bearer token rejected", slog.String("error", err.Error()))
			return nil, false
		}
		session, ok := a.findSession(ctx, claims.SessionID)
		if !ok || session.UserEmail != claims.Subject {
			return nil, false
		}
		ctx = context.WithValue(ctx, bearerContextKey, true)
		return withSession(ctx, session), true
	}

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	session, ok := a.findSession(ctx, cookie.Value)
	if !ok {
		return nil, false
	}
	return withSession(ctx, session), true
}

func (a *Authenticator) findSession(ctx context.Context, id string) (*model.Session, bool) {
	if id == "" {
		return nil, false
	}
	session, err := a.sessions.FindByID(ctx, id)
	if err != nil {
		slog.Error("failed to find session", slog.String("error", err.Error()))
		return nil, false
	}
	return session, session != nil
}

func withSession(ctx context.Context, session *model.Session) context.Context {
	ctx = context.WithValue(ctx, userEmailContextKey, session.UserEmail)
	ctx = context.WithValue(ctx, sessionIDContextKey, session.ID)
	setLoggedUser(ctx, session.UserEmail)
	return ctx
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserEmailFromContext はリクエストコンテキストからユーザーのメールアドレスを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserEmailFromContext(ctx context.Context) (string, error) {
	email, ok := ctx.Value(userEmailContextKey).(string)
	if !ok || email == "" {
		return "", fmt.Errorf("user email not found in context")
	}
	return email, nil
}

// SessionIDFromContext はリクエストを認証したセッションのIDを返す。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}

// IsBearerAuthenticated はBearerトークンで認証されたリクエストかどうかを返す。
func IsBearerAuthenticated(ctx context.Context) bool {
	b, _ := ctx.Value(bearerContextKey).(bool)
	return b
}

// ContextWithUserEmail はコンテキストにユーザーのメールアドレスを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, userEmailContextKey, email)
}
