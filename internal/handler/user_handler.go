package handler

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/user"
)

// profileImageField はプロフィール画像アップロードのフォームフィールド名。
const profileImageField = "image"

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, email string) (*model.User, error)
	UpdateProfile(ctx context.Context, email string, in user.ProfileUpdate) (*model.User, error)
	SetProfileImage(ctx context.Context, email string, data []byte) error
	ImportProfileImage(ctx context.Context, email, rawURL string) error
	GetProfileImage(ctx context.Context, email string) ([]byte, string, error)
	// Withdraw はクックブック、セッション、外部ID連携、ユーザーを削除する。
	Withdraw(ctx context.Context, email string) error
}

var _ UserServiceInterface = (*user.Service)(nil)

// StatsProvider はプロフィールに表示するクックブック集計を提供する。
type StatsProvider interface {
	GetUserStats(ctx context.Context, userEmail string) (model.UserStats, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service        UserServiceInterface
	stats          StatsProvider
	maxUploadBytes int64
}

// NewUserHandler はUserHandlerを生成する。
// maxUploadBytesはアップロードを読み込む上限で、超過分はサービス層でIMAGE_TOO_LARGEになる。
func NewUserHandler(service UserServiceInterface, stats StatsProvider, maxUploadBytes int64) *UserHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = user.DefaultMaxImageBytes
	}
	return &UserHandler{
		service:        service,
		stats:          stats,
		maxUploadBytes: maxUploadBytes,
	}
}

type userResponse struct {
	Email           string     `json:"email"`
	Username        string     `json:"username"`
	MemberSince     time.Time  `json:"member_since"`
	LastLogin       *time.Time `json:"last_login,omitempty"`
	HasPassword     bool       `json:"has_password"`
	HasProfileImage bool       `json:"has_profile_image"`
}

type statsResponse struct {
	SavedRecipesCount int `json:"saved_recipes_count"`
	RecipesShared     int `json:"recipes_shared"`
}

type profileResponse struct {
	userResponse
	Stats *statsResponse `json:"stats,omitempty"`
}

type updateProfileRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

type importImageRequest struct {
	URL string `json:"url"`
}

func toUserResponse(u *model.User) userResponse {
	if u == nil {
		return userResponse{}
	}
	return userResponse{
		Email:           u.Email,
		Username:        u.Username,
		MemberSince:     u.MemberSince,
		LastLogin:       u.LastLogin,
		HasPassword:     u.HasPassword(),
		HasProfileImage: u.HasProfileImage(),
	}
}

func toStatsResponse(s model.UserStats) statsResponse {
	return statsResponse{
		SavedRecipesCount: s.SavedRecipesCount,
		RecipesShared:     s.RecipesShared,
	}
}

// GetMe はログイン中のユーザーのプロフィールとクックブック集計を返す。
// GET /api/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	email, ok := requireUserEmail(w, r)
	if !ok {
		return
	}

	u, err := h.service.GetProfile(r.Context(), email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := profileResponse{userResponse: toUserResponse(u)}
	if h.stats != nil {
		stats, err := h.stats.GetUserStats(r.Context(), email)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		s := toStatsResponse(stats)
		resp.Stats = &s
	}

	writeJSON(w, http.StatusOK, resp)
}

// UpdateMe はユーザー名またはパスワードを変更する。メールアドレスは変更できない。
// PUT /api/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	email, ok := requireUserEmail(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), email, user.ProfileUpdate{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	email, ok := requireUserEmail(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), email); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetProfilePicture はプロフィール画像を返す。
// GET /api/users/me/profile-picture
func (h *UserHandler) GetProfilePicture(w http.ResponseWriter, r *http.Request) {
	email, ok := requireUserEmail(w, r)
	if !ok {
		return
	}

	data, mimeType, err := h.service.GetProfileImage(r.Context(), email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// PutProfilePicture はプロフィール画像を設定する。
// multipart/form-data の image フィールドでアップロードするか、
// JSON {"url": "..."} で外部URLから取り込む。
// PUT /api/users/me/profile-picture
func (h *UserHandler) PutProfilePicture(w http.ResponseWriter, r *http.Request) {
	email, ok := requireUserEmail(w, r)
	if !ok {
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req importImageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.URL == "" {
			handleServiceError(w, model.NewInvalidURLError("URLが空です"))
			return
		}
		if err := h.service.ImportProfileImage(r.Context(), email, req.URL); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	data, err := h.readUpload(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.service.SetProfileImage(r.Context(), email, data); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// readUpload はmultipartの画像フィールドを上限+1バイトまで読み込む。
// 上限の判定はサービス層に任せる。
func (h *UserHandler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	// フォームのヘッダー分の余裕を持たせる
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+64<<10)
	file, _, err := r.FormFile(profileImageField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, model.NewImageTooLargeError(h.maxUploadBytes)
		}
		return nil, model.NewValidationError("imageフィールドが必要です")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		return nil, model.NewValidationError("画像を読み込めませんでした")
	}
	return data, nil
}
