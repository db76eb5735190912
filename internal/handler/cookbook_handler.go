package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/recipebox/internal/cookbook"
	"github.com/hitoshi/recipebox/internal/model"
)

// detailFetchConcurrency は詳細付き一覧で同時に外部APIへ問い合わせる上限。
const detailFetchConcurrency = 4

// CookbookServiceInterface はクックブックハンドラーが必要とするサービスインターフェース。
type CookbookServiceInterface interface {
	SaveRecipe(ctx context.Context, userEmail string, recipe *model.Recipe) (*model.SavedRecipe, error)
	GetUserSavedRecipes(ctx context.Context, userEmail string) ([]*model.SavedRecipe, error)
	RemoveRecipe(ctx context.Context, userEmail, recipeID string) error
	ClearCookbook(ctx context.Context, userEmail string) error
	GetUserStats(ctx context.Context, userEmail string) (model.UserStats, error)
	GetRecentActivity(ctx context.Context, userEmail string, limit int) ([]*model.SavedRecipe, error)
	SearchUserRecipes(ctx context.Context, userEmail, query string, filters model.SearchFilters) ([]*model.SavedRecipe, error)
	MarkShared(ctx context.Context, userEmail, recipeID string) error
}

var _ CookbookServiceInterface = (*cookbook.Service)(nil)

// RecipeGetter はIDでレシピ詳細を取得する。
type RecipeGetter interface {
	Get(ctx context.Context, id int64) (*model.Recipe, error)
}

// CookbookHandler はクックブック（保存済みレシピ）のHTTPハンドラー。
// 保存済みレコードと外部APIの詳細はここで結合する。
type CookbookHandler struct {
	service CookbookServiceInterface
	recipes RecipeGetter
}

// NewCookbookHandler はCookbookHandlerを生成する。
func NewCookbookHandler(service CookbookServiceInterface, recipes RecipeGetter) *CookbookHandler {
	return &CookbookHandler{
		service: service,
		recipes: recipes,
	}
}

type saveRecipeRequest struct {
	RecipeID string `json:"recipe_id"`
}

type savedRecipeResponse struct {
	ID             int64           `json:"id"`
	RecipeID       string          `json:"recipe_id"`
	Title          string          `json:"title"`
	Image          string          `json:"image"`
	ReadyInMinutes int             `json:"ready_in_minutes"`
	Servings       int             `json:"servings"`
	Nutrition      model.Nutrition `json:"nutrition"`
	Cuisines       []string        `json:"cuisines"`
	Diets          []string        `json:"diets"`
	SavedAt        time.Time       `json:"saved_at"`
	Shared         bool            `json:"shared"`
	Details        *model.Recipe   `json:"details,omitempty"`
}

type savedRecipeListResponse struct {
	Recipes []savedRecipeResponse `json:"recipes"`
}

func toSavedRecipeResponse(rec *model.SavedRecipe) savedRecipeResponse {
	cuisines := rec.Cuisines
	if cuisines == nil {
		cuisines = []string{}
	}
	diets := rec.Diets
	if diets == nil {
		diets = []string{}
	}
	return savedRecipeResponse{
		ID:             rec.ID,
		RecipeID:       rec.RecipeID,
		Title:          rec.Title,
		Image:          rec.Image,
		ReadyInMinutes: rec.ReadyInMinutes,
		Servings:       rec.Servings,
		Nutrition:      rec.Nutrition,
		Cuisines:       cuisines,
		Diets:          diets,
		SavedAt:        rec.SavedAt,
		Shared:         rec.Shared,
	}
}

func toSavedRecipeList(recs []*model.SavedRecipe) savedRecipeListResponse {
	out := make([]savedRecipeResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toSavedRecipeResponse(rec))
	}
	return savedRecipeListResponse{Recipes: out}
}

// List は保存済みレシピ一覧を返す。
// details=true の場合は外部APIから最新の詳細を取得して付与する。
// 取得に失敗したレシピは保存時のスナップショットのみを返す。
// GET /api/cookbook?details=true
func (h *CookbookHandler) List(w http.ResponseWriter, r *http.Request) {
	email, ok := requireUserEmail(w, r)
	if !ok {
		return
	}

	recs, err := h.service.GetUserSavedRecipes(r.Context(), email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toSavedRecipeList(recs)
	if withDetails, _ := strconv.ParseBool(r.URL.Query().Get("details")); withDetails && h.recipes != nil {
		h.attachDetails(r.Context(), resp.Recipes)
	}

	writeJSON(w, http.StatusOK, resp)
}

// attachDetails は各レコードに外部APIの詳細を並行取得して設定する。
func (h *CookbookHandler) attachDetails(ctx context.Context, items []savedRecipeResponse) {
	sem := make(chan struct{}, detailFetchConcurrency)
	var wg sync.WaitGroup

	for i := range items {
		id, err := strconv.ParseInt(items[i].RecipeID, 10, 64)
		if err != nil {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(item *savedRecipeResponse, id int64) {
			defer wg.Done()
			defer func() { <-sem }()

			recipe, err := h.recipes.Get(ctx, id)
			if err != nil {
				slog.Warn("failed to fetch recipe details, using saved snapshot",
					slog.String("recipe_id", item.RecipeID),
					slog.String("error", err.Error()),
				)
				return
			}
			item.Details = recipe
		}(&items[i], id)
	}

	wg.Wait()
}

// Save は外部APIからレシピを取得してクックブックに保存する。
// POST /api/cookbook
func (h *CookbookHandler) Save(w http.ResponseWriter, r *http.Request) {
	email, ok := requireUserEmail(w, r)
	if !ok {
		return
	}

	var req saveRecipeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := parseRecipeID(req.RecipeID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	recipe, err := h.recipes.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	rec, err := h.service.SaveRecipe(r.Context(), email, recipe)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSavedRecipeResponse(rec))
}

// Remove はクックブックから1件削除する。未保存のレシピは404。
// DELETE /api/cookbook/{recipeId}
func (h *CookbookHandler) Remove(w http.ResponseWriter, r *http.Request) {
	email, ok := requireUserEmail(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveRecipe(r.Context(), email, chi.URLParam(r, "recipeId")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Clear はクックブックを空にする。
// DELETE /api/cookbook
func (h *CookbookHandler) Clear(w http.ResponseWriter, r *http.Request) {
	email, ok := requireUserEmail(w, r)
	if !ok {
		return
	}

	if err := h.service.ClearCookbook(r.Context(), email); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Share は保存済みレシピを共有済みにする。
// POST /api/cookbook/{recipeId}/share
func (h *CookbookHandler) Share(w http.ResponseWriter, r *http.Request) {
	email, ok := requireUserEmail(w, r)
	if !ok {
		return
	}

	if err := h.service.MarkShared(r.Context(), email, chi.URLParam(r, "recipeId")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Stats はクックブックの集計値を返す。
// GET /api/cookbook/stats
func (h *CookbookHandler) Stats(w http.ResponseWriter, r *http.Request) {
	email, ok := requireUserEmail(w, r)
	if !ok {
		return
	}

	stats, err := h.service.GetUserStats(r.Context(), email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toStatsResponse(stats))
}

// Recent は最近保存したレシピを返す。limit未指定時は5件。
// GET /api/cookbook/recent?limit=5
func (h *CookbookHandler) Recent(w http.ResponseWriter, r *http.Request) {
	email, ok := requireUserEmail(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	recs, err := h.service.GetRecentActivity(r.Context(), email, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSavedRecipeList(recs))
}

// Search は自分のクックブック内を検索する。
// GET /api/cookbook/search?q=&cuisine=&diet=&max_cook_time=
func (h *CookbookHandler) Search(w http.ResponseWriter, r *http.Request) {
	email, ok := requireUserEmail(w, r)
	if !ok {
		return
	}

	query, filters, err := parseSearchParams(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	recs, err := h.service.SearchUserRecipes(r.Context(), email, query, filters)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSavedRecipeList(recs))
}
