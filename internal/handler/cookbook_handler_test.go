package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/recipebox/internal/model"
)

// --- モック定義 ---

type mockCookbookService struct {
	saveFn       func(ctx context.Context, email string, recipe *model.Recipe) (*model.SavedRecipe, error)
	listFn       func(ctx context.Context, email string) ([]*model.SavedRecipe, error)
	removeFn     func(ctx context.Context, email, recipeID string) error
	clearFn      func(ctx context.Context, email string) error
	statsFn      func(ctx context.Context, email string) (model.UserStats, error)
	recentFn     func(ctx context.Context, email string, limit int) ([]*model.SavedRecipe, error)
	searchFn     func(ctx context.Context, email, query string, filters model.SearchFilters) ([]*model.SavedRecipe, error)
	markSharedFn func(ctx context.Context, email, recipeID string) error
}

func (m *mockCookbookService) SaveRecipe(ctx context.Context, email string, recipe *model.Recipe) (*model.SavedRecipe, error) {
	return m.saveFn(ctx, email, recipe)
}

func (m *mockCookbookService) GetUserSavedRecipes(ctx context.Context, email string) ([]*model.SavedRecipe, error) {
	return m.listFn(ctx, email)
}

func (m *mockCookbookService) RemoveRecipe(ctx context.Context, email, recipeID string) error {
	return m.removeFn(ctx, email, recipeID)
}

func (m *mockCookbookService) ClearCookbook(ctx context.Context, email string) error {
	return m.clearFn(ctx, email)
}

func (m *mockCookbookService) GetUserStats(ctx context.Context, email string) (model.UserStats, error) {
	return m.statsFn(ctx, email)
}

func (m *mockCookbookService) GetRecentActivity(ctx context.Context, email string, limit int) ([]*model.SavedRecipe, error) {
	return m.recentFn(ctx, email, limit)
}

func (m *mockCookbookService) SearchUserRecipes(ctx context.Context, email, query string, filters model.SearchFilters) ([]*model.SavedRecipe, error) {
	return m.searchFn(ctx, email, query, filters)
}

func (m *mockCookbookService) MarkShared(ctx context.Context, email, recipeID string) error {
	return m.markSharedFn(ctx, email, recipeID)
}

func savedRecord(id int64, recipeID, title string) *model.SavedRecipe {
	return &model.SavedRecipe{
		ID:        id,
		UserEmail: "alice@example.com",
		RecipeID:  recipeID,
		Title:     title,
		Image:     "https://img.example.com/" + recipeID + ".jpg",
		SavedAt:   time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

// --- 未認証 ---

func TestCookbookHandler_RequiresUser(t *testing.T) {
	h := NewCookbookHandler(&mockCookbookService{}, &mockRecipeSource{})
	handlers := map[string]http.HandlerFunc{
		"List":   h.List,
		"Save":   h.Save,
		"Remove": h.Remove,
		"Clear":  h.Clear,
		"Share":  h.Share,
		"Stats":  h.Stats,
		"Recent": h.Recent,
		"Search": h.Search,
	}
	for name, fn := range handlers {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			fn(w, httptest.NewRequest(http.MethodGet, "/api/cookbook", nil))
			assertErrorCode(t, w, http.StatusUnauthorized, model.ErrCodeUnauthorized)
		})
	}
}

// --- GET /api/cookbook ---

func TestCookbookHandler_List_Snapshot(t *testing.T) {
	svc := &mockCookbookService{
		listFn: func(ctx context.Context, email string) ([]*model.SavedRecipe, error) {
			if email != "alice@example.com" {
				t.Errorf("email = %q", email)
			}
			return []*model.SavedRecipe{savedRecord(1, "100", "Pasta")}, nil
		},
	}
	src := &mockRecipeSource{
		getFn: func(ctx context.Context, id int64) (*model.Recipe, error) {
			t.Error("details should not be fetched without details=true")
			return nil, nil
		},
	}
	h := NewCookbookHandler(svc, src)
	w := httptest.NewRecorder()

	h.List(w, withUserEmail(httptest.NewRequest(http.MethodGet, "/api/cookbook", nil), "alice@example.com"))

	resp := decodeBody[savedRecipeListResponse](t, w)
	if len(resp.Recipes) != 1 || resp.Recipes[0].RecipeID != "100" || resp.Recipes[0].Details != nil {
		t.Errorf("recipes = %+v", resp.Recipes)
	}
	if resp.Recipes[0].Cuisines == nil || resp.Recipes[0].Diets == nil {
		t.Error("cuisines and diets should be empty arrays")
	}
}

func TestCookbookHandler_List_EmptyCookbook(t *testing.T) {
	svc := &mockCookbookService{
		listFn: func(ctx context.Context, email string) ([]*model.SavedRecipe, error) {
			return []*model.SavedRecipe{}, nil
		},
	}
	h := NewCookbookHandler(svc, &mockRecipeSource{})
	w := httptest.NewRecorder()

	h.List(w, withUserEmail(httptest.NewRequest(http.MethodGet, "/api/cookbook", nil), "alice@example.com"))

	if body := w.Body.String(); body != "{\"recipes\":[]}\n" {
		t.Errorf("body = %q", body)
	}
}

func TestCookbookHandler_List_WithDetails_FallsBackPerRecipe(t *testing.T) {
	svc := &mockCookbookService{
		listFn: func(ctx context.Context, email string) ([]*model.SavedRecipe, error) {
			return []*model.SavedRecipe{
				savedRecord(1, "100", "Pasta"),
				savedRecord(2, "200", "Curry"),
				savedRecord(3, "300", "Soup"),
			}, nil
		},
	}
	var mu sync.Mutex
	fetched := map[int64]bool{}
	src := &mockRecipeSource{
		getFn: func(ctx context.Context, id int64) (*model.Recipe, error) {
			mu.Lock()
			fetched[id] = true
			mu.Unlock()
			if id == 200 {
				return nil, model.NewRecipeSourceError(errors.New("quota"))
			}
			r := sampleRecipe(id, "live")
			r.Summary = "fresh"
			return &r, nil
		},
	}
	h := NewCookbookHandler(svc, src)
	w := httptest.NewRecorder()

	h.List(w, withUserEmail(httptest.NewRequest(http.MethodGet, "/api/cookbook?details=true", nil), "alice@example.com"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody[savedRecipeListResponse](t, w)
	if len(resp.Recipes) != 3 {
		t.Fatalf("len = %d, want 3", len(resp.Recipes))
	}
	if len(fetched) != 3 {
		t.Errorf("fetched = %v, want all three", fetched)
	}
	for _, rec := range resp.Recipes {
		switch rec.RecipeID {
		case "200":
			if rec.Details != nil {
				t.Error("failed fetch should fall back to snapshot only")
			}
			if rec.Title != "Curry" {
				t.Errorf("snapshot title = %q, want Curry", rec.Title)
			}
		default:
			if rec.Details == nil || rec.Details.Summary != "fresh" {
				t.Errorf("recipe %s details = %+v", rec.RecipeID, rec.Details)
			}
		}
	}
}

func TestCookbookHandler_List_StorageUnavailable_Returns503(t *testing.T) {
	svc := &mockCookbookService{
		listFn: func(ctx context.Context, email string) ([]*model.SavedRecipe, error) {
			return nil, model.NewStorageUnavailableError(errors.New("no store"))
		},
	}
	h := NewCookbookHandler(svc, &mockRecipeSource{})
	w := httptest.NewRecorder()

	h.List(w, withUserEmail(httptest.NewRequest(http.MethodGet, "/api/cookbook", nil), "alice@example.com"))

	assertErrorCode(t, w, http.StatusServiceUnavailable, model.ErrCodeStorageUnavailable)
}

// --- POST /api/cookbook ---

func TestCookbookHandler_Save(t *testing.T) {
	var saved *model.Recipe
	svc := &mockCookbookService{
		saveFn: func(ctx context.Context, email string, recipe *model.Recipe) (*model.SavedRecipe, error) {
			saved = recipe
			rec := savedRecord(7, recipe.ExternalID(), recipe.Title)
			return rec, nil
		},
	}
	src := &mockRecipeSource{
		getFn: func(ctx context.Context, id int64) (*model.Recipe, error) {
			r := sampleRecipe(id, "Teriyaki")
			return &r, nil
		},
	}
	h := NewCookbookHandler(svc, src)
	w := httptest.NewRecorder()

	h.Save(w, withUserEmail(jsonRequest(t, http.MethodPost, "/api/cookbook", map[string]string{"recipe_id": "52772"}), "alice@example.com"))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusCreated, w.Body.String())
	}
	if saved == nil || saved.ID != 52772 || saved.Title != "Teriyaki" {
		t.Errorf("saved recipe = %+v", saved)
	}
	resp := decodeBody[savedRecipeResponse](t, w)
	if resp.ID != 7 || resp.RecipeID != "52772" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestCookbookHandler_Save_Errors(t *testing.T) {
	okSource := &mockRecipeSource{
		getFn: func(ctx context.Context, id int64) (*model.Recipe, error) {
			r := sampleRecipe(id, "x")
			return &r, nil
		},
	}
	tests := []struct {
		name       string
		recipeID   string
		source     *mockRecipeSource
		saveErr    error
		wantStatus int
		wantCode   string
	}{
		{"IDが不正", "abc", okSource, nil, http.StatusBadRequest, model.ErrCodeValidation},
		{"外部APIに無い", "999", &mockRecipeSource{}, nil, http.StatusNotFound, model.ErrCodeRecipeNotFound},
		{"外部API障害", "1", &mockRecipeSource{getFn: func(ctx context.Context, id int64) (*model.Recipe, error) {
			return nil, model.NewRecipeSourceError(errors.New("down"))
		}}, nil, http.StatusBadGateway, model.ErrCodeRecipeSourceFailed},
		{"保存済み", "1", okSource, model.NewDuplicateSaveError("1"), http.StatusConflict, model.ErrCodeDuplicateSave},
		{"ストア障害", "1", okSource, model.NewStorageOperationError(errors.New("disk")), http.StatusInternalServerError, model.ErrCodeStorageOperationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCookbookService{
				saveFn: func(ctx context.Context, email string, recipe *model.Recipe) (*model.SavedRecipe, error) {
					if tt.saveErr == nil {
						t.Error("SaveRecipe should not be called")
						return nil, errors.New("unexpected")
					}
					return nil, tt.saveErr
				},
			}
			h := NewCookbookHandler(svc, tt.source)
			w := httptest.NewRecorder()

			h.Save(w, withUserEmail(jsonRequest(t, http.MethodPost, "/api/cookbook", map[string]string{"recipe_id": tt.recipeID}), "alice@example.com"))

			assertErrorCode(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

// --- DELETE /api/cookbook/{recipeId}, DELETE /api/cookbook ---

func TestCookbookHandler_Remove(t *testing.T) {
	removed := map[string]bool{"52772": true}
	svc := &mockCookbookService{
		removeFn: func(ctx context.Context, email, recipeID string) error {
			if !removed[recipeID] {
				return model.NewSavedRecipeNotFoundError(recipeID)
			}
			delete(removed, recipeID)
			return nil
		},
	}
	h := NewCookbookHandler(svc, &mockRecipeSource{})

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodDelete, "/api/cookbook/52772", nil)
		return withURLParam(withUserEmail(req, "alice@example.com"), "recipeId", "52772")
	}

	w := httptest.NewRecorder()
	h.Remove(w, newReq())
	if w.Code != http.StatusNoContent {
		t.Errorf("first remove status = %d, want %d", w.Code, http.StatusNoContent)
	}

	// 削除は冪等ではない
	w = httptest.NewRecorder()
	h.Remove(w, newReq())
	assertErrorCode(t, w, http.StatusNotFound, model.ErrCodeSavedRecipeNotFound)
}

func TestCookbookHandler_Clear(t *testing.T) {
	calls := 0
	svc := &mockCookbookService{
		clearFn: func(ctx context.Context, email string) error {
			calls++
			return nil
		},
	}
	h := NewCookbookHandler(svc, &mockRecipeSource{})

	for range 2 {
		w := httptest.NewRecorder()
		h.Clear(w, withUserEmail(httptest.NewRequest(http.MethodDelete, "/api/cookbook", nil), "alice@example.com"))
		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
		}
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

// --- POST /api/cookbook/{recipeId}/share ---

func TestCookbookHandler_Share(t *testing.T) {
	svc := &mockCookbookService{
		markSharedFn: func(ctx context.Context, email, recipeID string) error {
			if recipeID != "52772" {
				return model.NewSavedRecipeNotFoundError(recipeID)
			}
			return nil
		},
	}
	h := NewCookbookHandler(svc, &mockRecipeSource{})

	w := httptest.NewRecorder()
	req := withURLParam(withUserEmail(httptest.NewRequest(http.MethodPost, "/api/cookbook/52772/share", nil), "alice@example.com"), "recipeId", "52772")
	h.Share(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}

	w = httptest.NewRecorder()
	req = withURLParam(withUserEmail(httptest.NewRequest(http.MethodPost, "/api/cookbook/1/share", nil), "alice@example.com"), "recipeId", "1")
	h.Share(w, req)
	assertErrorCode(t, w, http.StatusNotFound, model.ErrCodeSavedRecipeNotFound)
}

// --- GET /api/cookbook/stats, /recent, /search ---

func TestCookbookHandler_Stats(t *testing.T) {
	svc := &mockCookbookService{
		statsFn: func(ctx context.Context, email string) (model.UserStats, error) {
			return model.UserStats{SavedRecipesCount: 4, RecipesShared: 1}, nil
		},
	}
	h := NewCookbookHandler(svc, &mockRecipeSource{})
	w := httptest.NewRecorder()

	h.Stats(w, withUserEmail(httptest.NewRequest(http.MethodGet, "/api/cookbook/stats", nil), "alice@example.com"))

	resp := decodeBody[statsResponse](t, w)
	if resp.SavedRecipesCount != 4 || resp.RecipesShared != 1 {
		t.Errorf("stats = %+v", resp)
	}
}

func TestCookbookHandler_Recent_PassesLimit(t *testing.T) {
	var gotLimit int
	svc := &mockCookbookService{
		recentFn: func(ctx context.Context, email string, limit int) ([]*model.SavedRecipe, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	h := NewCookbookHandler(svc, &mockRecipeSource{})

	h.Recent(httptest.NewRecorder(), withUserEmail(httptest.NewRequest(http.MethodGet, "/api/cookbook/recent", nil), "alice@example.com"))
	if gotLimit != 0 {
		t.Errorf("limit = %d, want 0 (service default)", gotLimit)
	}

	h.Recent(httptest.NewRecorder(), withUserEmail(httptest.NewRequest(http.MethodGet, "/api/cookbook/recent?limit=3", nil), "alice@example.com"))
	if gotLimit != 3 {
		t.Errorf("limit = %d, want 3", gotLimit)
	}
}

func TestCookbookHandler_Search_ScopedToUser(t *testing.T) {
	var gotEmail, gotQuery string
	svc := &mockCookbookService{
		searchFn: func(ctx context.Context, email, query string, filters model.SearchFilters) ([]*model.SavedRecipe, error) {
			gotEmail, gotQuery = email, query
			return []*model.SavedRecipe{savedRecord(1, "100", "Pasta")}, nil
		},
	}
	h := NewCookbookHandler(svc, &mockRecipeSource{})
	w := httptest.NewRecorder()

	h.Search(w, withUserEmail(httptest.NewRequest(http.MethodGet, "/api/cookbook/search?q=pas", nil), "alice@example.com"))

	if gotEmail != "alice@example.com" || gotQuery != "pas" {
		t.Errorf("email = %q, query = %q", gotEmail, gotQuery)
	}
	resp := decodeBody[savedRecipeListResponse](t, w)
	if len(resp.Recipes) != 1 {
		t.Errorf("len = %d, want 1", len(resp.Recipes))
	}
}
