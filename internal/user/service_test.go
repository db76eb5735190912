package user

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/recipebox/internal/auth"
	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/repository/memory"
	"github.com/hitoshi/recipebox/internal/security"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// --- モック ---

type mockGuard struct {
	validateFn func(rawURL string) error
	client     *http.Client
}

func (m *mockGuard) NewSafeClient(_ time.Duration) *http.Client {
	return m.client
}

func (m *mockGuard) ValidateURL(rawURL string) error {
	if m.validateFn != nil {
		return m.validateFn(rawURL)
	}
	return nil
}

type mockCookbook struct {
	clearFn func(ctx context.Context, email string) error
}

func (m *mockCookbook) ClearCookbook(ctx context.Context, email string) error {
	return m.clearFn(ctx, email)
}

var _ security.URLGuard = (*mockGuard)(nil)
var _ CookbookClearer = (*mockCookbook)(nil)

// --- ヘルパー ---

func newTestService(t *testing.T, guard security.URLGuard, cookbook CookbookClearer) (*Service, *memory.UserRepo, *memory.SessionRepo) {
	t.Helper()
	users := memory.NewUserRepo()
	sessions := memory.NewSessionRepo()

	hash, err := auth.HashPassword("password1")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := users.Create(ctx, &model.User{Email: "cook@example.com", Username: "cook", PasswordHash: hash}); err != nil {
		t.Fatal(err)
	}
	if err := users.Create(ctx, &model.User{Email: "chef@example.com", Username: "chef"}); err != nil {
		t.Fatal(err)
	}

	return NewService(users, sessions, cookbook, guard, 64), users, sessions
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if !model.IsErrorCode(err, code) {
		t.Fatalf("err = %v, want %s", err, code)
	}
}

func strPtr(s string) *string { return &s }

// --- GetProfile / UpdateProfile ---

func TestGetProfile(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)

	u, err := svc.GetProfile(context.Background(), "cook@example.com")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if u.Username != "cook" {
		t.Errorf("username = %q, want cook", u.Username)
	}

	_, err = svc.GetProfile(context.Background(), "nobody@example.com")
	assertCode(t, err, model.ErrCodeUserNotFound)
}

func TestUpdateProfile_UsernameAndPassword(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, nil, nil)

	u, err := svc.UpdateProfile(ctx, "cook@example.com", ProfileUpdate{
		Username: strPtr(" home_cook "),
		Password: strPtr("new-password"),
	})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if u.Username != "home_cook" || u.Email != "cook@example.com" {
		t.Errorf("user = %+v", u)
	}
	if !auth.CheckPassword(u.PasswordHash, "new-password") {
		t.Error("password should be updated")
	}
}

func TestUpdateProfile_KeepsUnsetFields(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, nil, nil)

	u, err := svc.UpdateProfile(ctx, "cook@example.com", ProfileUpdate{Username: strPtr("renamed")})
	if err != nil {
		t.Fatal(err)
	}
	if !auth.CheckPassword(u.PasswordHash, "password1") {
		t.Error("password should be unchanged")
	}
}

func TestUpdateProfile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		email string
		in    ProfileUpdate
		code  string
	}{
		{"ユーザー名の重複", "cook@example.com", ProfileUpdate{Username: strPtr("chef")}, model.ErrCodeDuplicateUsername},
		{"空のユーザー名", "cook@example.com", ProfileUpdate{Username: strPtr("  ")}, model.ErrCodeValidation},
		{"短いパスワード", "cook@example.com", ProfileUpdate{Password: strPtr("short")}, model.ErrCodeValidation},
		{"存在しないユーザー", "nobody@example.com", ProfileUpdate{Username: strPtr("x")}, model.ErrCodeUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t, nil, nil)
			_, err := svc.UpdateProfile(context.Background(), tt.email, tt.in)
			assertCode(t, err, tt.code)
		})
	}
}

// --- プロフィール画像 ---

func TestSetProfileImage(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, nil, nil)

	if err := svc.SetProfileImage(ctx, "cook@example.com", pngHeader); err != nil {
		t.Fatalf("SetProfileImage() error = %v", err)
	}

	data, mime, err := svc.GetProfileImage(ctx, "cook@example.com")
	if err != nil {
		t.Fatalf("GetProfileImage() error = %v", err)
	}
	if mime != "image/png" || !bytes.Equal(data, pngHeader) {
		t.Errorf("mime = %q, data = %v", mime, data)
	}
}

func TestSetProfileImage_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		code string
	}{
		{"空", nil, model.ErrCodeValidation},
		{"画像以外", []byte("hello, this is plain text"), model.ErrCodeUnsupportedImage},
		{"サイズ超過", append(bytes.Clone(pngHeader), make([]byte, 64)...), model.ErrCodeImageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t, nil, nil)
			err := svc.SetProfileImage(context.Background(), "cook@example.com", tt.data)
			assertCode(t, err, tt.code)
		})
	}
}

func TestGetProfileImage_NotSet(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)
	_, _, err := svc.GetProfileImage(context.Background(), "cook@example.com")
	assertCode(t, err, model.ErrCodeProfileImageNotFound)
}

func TestImportProfileImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/avatar.gif":
			w.Write([]byte("GIF89a\x01\x00\x01\x00"))
		case "/missing.png":
			w.WriteHeader(http.StatusNotFound)
		case "/large.png":
			w.Write(append(bytes.Clone(pngHeader), make([]byte, 128)...))
		}
	}))
	defer server.Close()

	tests := []struct {
		name     string
		url      string
		validate func(string) error
		code     string
	}{
		{"成功", server.URL + "/avatar.gif", nil, ""},
		{"404", server.URL + "/missing.png", nil, model.ErrCodeFetchFailed},
		{"サイズ超過", server.URL + "/large.png", nil, model.ErrCodeImageTooLarge},
		{"空URL", "", nil, model.ErrCodeInvalidURL},
		{"SSRFブロック", "http://169.254.169.254/", func(string) error {
			return fmt.Errorf("address: %w", security.ErrBlockedURL)
		}, model.ErrCodeSSRFBlocked},
		{"不正なURL", "http://", func(string) error { return errors.New("empty host") }, model.ErrCodeInvalidURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := &mockGuard{validateFn: tt.validate, client: server.Client()}
			svc, _, _ := newTestService(t, guard, nil)
			ctx := context.Background()

			err := svc.ImportProfileImage(ctx, "cook@example.com", tt.url)
			if tt.code != "" {
				assertCode(t, err, tt.code)
				return
			}
			if err != nil {
				t.Fatalf("ImportProfileImage() error = %v", err)
			}
			_, mime, err := svc.GetProfileImage(ctx, "cook@example.com")
			if err != nil || mime != "image/gif" {
				t.Errorf("mime = %q, err = %v", mime, err)
			}
		})
	}
}

func TestImportProfileImage_RealGuardBlocksLoopback(t *testing.T) {
	svc, _, _ := newTestService(t, security.NewSSRFGuard(), nil)
	err := svc.ImportProfileImage(context.Background(), "cook@example.com", "http://127.0.0.1/avatar.png")
	assertCode(t, err, model.ErrCodeSSRFBlocked)
}

// --- Withdraw ---

func TestWithdraw_DeletesInOrder(t *testing.T) {
	ctx := context.Background()
	var order []string
	cookbook := &mockCookbook{clearFn: func(ctx context.Context, email string) error {
		order = append(order, "cookbook:"+email)
		return nil
	}}
	svc, users, sessions := newTestService(t, nil, cookbook)

	if err := sessions.Create(ctx, &model.Session{ID: "s1", UserEmail: "cook@example.com", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	if err := svc.Withdraw(ctx, "cook@example.com"); err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}

	if len(order) != 1 || order[0] != "cookbook:cook@example.com" {
		t.Errorf("cookbook clear calls = %v", order)
	}
	if s, _ := sessions.FindByID(ctx, "s1"); s != nil {
		t.Error("session should be deleted")
	}
	if u, _ := users.FindByEmail(ctx, "cook@example.com"); u != nil {
		t.Error("user should be deleted")
	}
	if u, _ := users.FindByEmail(ctx, "chef@example.com"); u == nil {
		t.Error("other users must remain")
	}
}

func TestWithdraw_UserNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)
	err := svc.Withdraw(context.Background(), "nobody@example.com")
	assertCode(t, err, model.ErrCodeUserNotFound)
}

func TestWithdraw_CookbookErrorStopsBeforeUserDeletion(t *testing.T) {
	ctx := context.Background()
	cookbook := &mockCookbook{clearFn: func(ctx context.Context, email string) error {
		return model.NewStorageUnavailableError(errors.New("down"))
	}}
	svc, users, _ := newTestService(t, nil, cookbook)

	if err := svc.Withdraw(ctx, "cook@example.com"); err == nil {
		t.Fatal("expected error")
	}
	if u, _ := users.FindByEmail(ctx, "cook@example.com"); u == nil {
		t.Error("user must not be deleted when cookbook clear fails")
	}
}
