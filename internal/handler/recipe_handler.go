package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/recipebox/internal/middleware"
	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/recipesource"
)

// RecipeSource は外部レシピAPIへのアクセスインターフェース。
type RecipeSource = recipesource.Source

// SavedChecker はレシピが保存済みかどうかを判定する。
type SavedChecker interface {
	IsSaved(ctx context.Context, userEmail, recipeID string) (bool, error)
}

// CatalogSearcher は全ユーザーの保存済みレシピを検索する。
type CatalogSearcher interface {
	SearchRecipes(ctx context.Context, query string, filters model.SearchFilters) ([]*model.SavedRecipe, error)
}

// DailyPicker は今日のおすすめレシピを提供する。
type DailyPicker interface {
	Today(ctx context.Context) (*model.DailyPicks, bool, error)
}

// RecipeHandler はレシピ閲覧のHTTPハンドラー。
type RecipeHandler struct {
	source  RecipeSource
	saved   SavedChecker
	catalog CatalogSearcher
	daily   DailyPicker
}

// NewRecipeHandler はRecipeHandlerを生成する。savedとdailyはnilでもよい。
func NewRecipeHandler(source RecipeSource, saved SavedChecker, catalog CatalogSearcher, daily DailyPicker) *RecipeHandler {
	return &RecipeHandler{
		source:  source,
		saved:   saved,
		catalog: catalog,
		daily:   daily,
	}
}

type recipeListResponse struct {
	Recipes []model.Recipe `json:"recipes"`
}

type recipeDetailResponse struct {
	model.Recipe
	IsSaved bool `json:"is_saved"`
}

type dailyPicksResponse struct {
	Day       string         `json:"day"`
	Recipes   []model.Recipe `json:"recipes"`
	FetchedAt time.Time      `json:"fetched_at"`
	Stale     bool           `json:"stale"`
}

// Random はランダムなレシピ一覧を返す。
// GET /api/recipes/random?count=12
func (h *RecipeHandler) Random(w http.ResponseWriter, r *http.Request) {
	count, err := queryInt(r, "count", recipesource.DefaultCount)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	recipes, err := h.source.Random(r.Context(), count)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recipeListResponse{Recipes: nonNilRecipes(recipes)})
}

// Search はキーワードでレシピを検索する。
// GET /api/recipes/search?q=pasta&count=12
func (h *RecipeHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		handleServiceError(w, model.NewValidationError("検索キーワードを入力してください"))
		return
	}
	count, err := queryInt(r, "count", recipesource.DefaultCount)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	recipes, err := h.source.Search(r.Context(), query, count)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recipeListResponse{Recipes: nonNilRecipes(recipes)})
}

// Get はレシピ詳細を返す。ログイン中であれば保存済みかどうかも判定する。
// GET /api/recipes/{id}
func (h *RecipeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseRecipeID(chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	recipe, err := h.source.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := recipeDetailResponse{Recipe: *recipe}
	if email, err := middleware.UserEmailFromContext(r.Context()); err == nil && h.saved != nil {
		saved, err := h.saved.IsSaved(r.Context(), email, recipe.ExternalID())
		if err != nil {
			// 保存状態が取れなくても詳細は表示する
			slog.Warn("failed to check saved state",
				slog.String("recipe_id", recipe.ExternalID()),
				slog.String("error", err.Error()),
			)
		}
		resp.IsSaved = saved
	}

	writeJSON(w, http.StatusOK, resp)
}

// Daily は今日のおすすめレシピを返す。取得に失敗した場合は直近の保存分を stale=true で返す。
// GET /api/recipes/daily
func (h *RecipeHandler) Daily(w http.ResponseWriter, r *http.Request) {
	if h.daily == nil {
		http.NotFound(w, r)
		return
	}

	picks, stale, err := h.daily.Today(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dailyPicksResponse{
		Day:       picks.Day,
		Recipes:   nonNilRecipes(picks.Recipes),
		FetchedAt: picks.FetchedAt,
		Stale:     stale,
	})
}

// SearchSaved は全ユーザーが保存したレシピを検索する（みんなの保存レシピ）。
// GET /api/recipes/saved/search?q=&cuisine=&diet=&max_cook_time=
func (h *RecipeHandler) SearchSaved(w http.ResponseWriter, r *http.Request) {
	query, filters, err := parseSearchParams(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	recs, err := h.catalog.SearchRecipes(r.Context(), query, filters)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSavedRecipeList(recs))
}

// parseRecipeID は外部レシピIDを検証して数値に変換する。
func parseRecipeID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewValidationError("レシピIDが不正です")
	}
	return id, nil
}

// parseSearchParams は保存済みレシピ検索のクエリパラメータを読む。
func parseSearchParams(r *http.Request) (string, model.SearchFilters, error) {
	q := r.URL.Query()
	maxCookTime, err := queryInt(r, "max_cook_time", 0)
	if err != nil {
		return "", model.SearchFilters{}, err
	}
	if maxCookTime < 0 {
		return "", model.SearchFilters{}, model.NewValidationError("max_cook_timeは0以上で指定してください")
	}
	return strings.TrimSpace(q.Get("q")), model.SearchFilters{
		Cuisine:     strings.TrimSpace(q.Get("cuisine")),
		Diet:        strings.TrimSpace(q.Get("diet")),
		MaxCookTime: maxCookTime,
	}, nil
}

func nonNilRecipes(recipes []model.Recipe) []model.Recipe {
	if recipes == nil {
		return []model.Recipe{}
	}
	return recipes
}
