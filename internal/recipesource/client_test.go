package recipesource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/security"
)

const randomResponse = `{
  "recipes": [
    {
      "id": 716429,
      "title": " Pasta with Garlic ",
      "image": "https://img.spoonacular.com/recipes/716429-556x370.jpg",
      "readyInMinutes": 45,
      "servings": 2,
      "summary": "A <b>tasty</b> dish<script>alert(1)</script>",
      "cuisines": ["Italian"],
      "diets": ["dairy free"],
      "nutrition": {"nutrients": [{"name": "Calories", "amount": 584.5, "unit": "kcal"}]},
      "extendedIngredients": [{"original": "1 tbsp <b>butter</b>"}],
      "analyzedInstructions": [
        {"steps": [{"number": 1, "step": "Boil water."}, {"number": 2, "step": "Cook pasta."}]},
        {"steps": [{"number": 1, "step": "Ignored group."}]}
      ],
      "unknownField": {"nested": true}
    }
  ]
}`

type observed struct {
	endpoint string
	failed   bool
}

type mockObserver struct {
	mu    sync.Mutex
	calls []observed
}

func (m *mockObserver) ObserveRecipeAPI(endpoint string, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, observed{endpoint, err != nil})
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *mockObserver, *bytes.Buffer) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	obs := &mockObserver{}
	c := NewClient(server.Client(), logger, server.URL+"/recipes/", "secret-key", security.NewContentSanitizer(), obs)
	return c, obs, &buf
}

func TestClient_Random_ParsesAndSanitizes(t *testing.T) {
	c, obs, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recipes/random" {
			t.Errorf("path = %s, want /recipes/random", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("number") != "10" {
			t.Errorf("number = %s, want 10", q.Get("number"))
		}
		if got := r.Header.Get("x-api-key"); got != "secret-key" {
			t.Errorf("x-api-key = %s, want secret-key", got)
		}
		if q.Has("apiKey") {
			t.Error("API key must not be sent in the query string")
		}
		if q.Get("includeNutrition") != "true" {
			t.Error("includeNutrition should be true")
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, randomResponse)
	})

	recipes, err := c.Random(context.Background(), 10)
	if err != nil {
		t.Fatalf("Random がエラーを返した: %v", err)
	}
	if len(recipes) != 1 {
		t.Fatalf("len = %d, want 1", len(recipes))
	}

	r := recipes[0]
	if r.ID != 716429 || r.Title != "Pasta with Garlic" || r.ReadyInMinutes != 45 || r.Servings != 2 {
		t.Errorf("unexpected recipe: %+v", r)
	}
	if strings.Contains(r.Summary, "<script") || !strings.Contains(r.Summary, "<b>tasty</b>") {
		t.Errorf("summary not sanitized: %q", r.Summary)
	}
	if len(r.Nutrition.Nutrients) != 1 || r.Nutrition.Nutrients[0].Amount != 584.5 {
		t.Errorf("nutrition = %+v", r.Nutrition)
	}
	if len(r.Ingredients) != 1 || r.Ingredients[0].Original != "1 tbsp butter" {
		t.Errorf("ingredients = %+v", r.Ingredients)
	}
	if len(r.Instructions) != 2 || r.Instructions[1].Step != "Cook pasta." {
		t.Errorf("instructions = %+v", r.Instructions)
	}
	if len(obs.calls) != 1 || obs.calls[0] != (observed{"random", false}) {
		t.Errorf("observer calls = %+v", obs.calls)
	}
}

func TestClient_Random_DefaultAndMaxCount(t *testing.T) {
	var got []string
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.URL.Query().Get("number"))
		io.WriteString(w, `{"recipes": []}`)
	})

	if _, err := c.Random(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Random(context.Background(), 1000); err != nil {
		t.Fatal(err)
	}
	if got[0] != "12" || got[1] != "100" {
		t.Errorf("number params = %v, want [12 100]", got)
	}
}

func TestClient_Get(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recipes/42/information" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `{"id": 42, "title": "Soup", "image": "https://img.example.com/42.jpg", "readyInMinutes": 20}`)
	})

	r, err := c.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("Get がエラーを返した: %v", err)
	}
	if r.ID != 42 || r.Title != "Soup" || r.ReadyInMinutes != 20 {
		t.Errorf("unexpected recipe: %+v", r)
	}
}

func TestClient_Get_NotFound(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Get(context.Background(), 1)
	if !model.IsErrorCode(err, model.ErrCodeRecipeNotFound) {
		t.Errorf("err = %v, want RECIPE_NOT_FOUND", err)
	}
}

func TestClient_Search(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recipes/complexSearch" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if q := r.URL.Query().Get("query"); q != "miso soup" {
			t.Errorf("query = %q, want %q", q, "miso soup")
		}
		io.WriteString(w, `{"results": [{"id": 1, "title": "Miso Soup"}, {"id": 2, "title": "Miso Ramen"}], "totalResults": 2}`)
	})

	recipes, err := c.Search(context.Background(), "miso soup", 5)
	if err != nil {
		t.Fatalf("Search がエラーを返した: %v", err)
	}
	if len(recipes) != 2 || recipes[1].Title != "Miso Ramen" {
		t.Errorf("unexpected results: %+v", recipes)
	}
}

func TestClient_Failures_AreGeneric(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"サーバーエラー", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"クォータ超過", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusPaymentRequired) }},
		{"不正なJSON", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, `{not json`) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, obs, logs := newTestClient(t, tt.handler)

			_, err := c.Random(context.Background(), 3)
			if !model.IsErrorCode(err, model.ErrCodeRecipeSourceFailed) {
				t.Errorf("err = %v, want RECIPE_SOURCE_FAILED", err)
			}
			if len(obs.calls) != 1 || !obs.calls[0].failed {
				t.Errorf("observer calls = %+v, want one failure", obs.calls)
			}
			if strings.Contains(logs.String(), "secret-key") {
				t.Error("API key must not be logged")
			}
		})
	}
}

func TestClient_TransportError_DoesNotLeakAPIKey(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	// 接続できないアドレス
	c := NewClient(&http.Client{Timeout: time.Second}, logger, "http://127.0.0.1:1/recipes", "SECRETKEY123", nil, nil)

	_, err := c.Get(context.Background(), 42)
	if !model.IsErrorCode(err, model.ErrCodeRecipeSourceFailed) {
		t.Fatalf("err = %v, want RECIPE_SOURCE_FAILED", err)
	}
	if strings.Contains(err.Error(), "SECRETKEY123") {
		t.Errorf("error text contains the API key: %v", err)
	}
	if cause := errors.Unwrap(err); cause != nil && strings.Contains(cause.Error(), "SECRETKEY123") {
		t.Errorf("error cause contains the API key: %v", cause)
	}
	if strings.Contains(buf.String(), "SECRETKEY123") {
		t.Errorf("log contains the API key: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "/recipes/42/information") {
		t.Errorf("log should keep the request path: %s", buf.String())
	}
}

func TestClient_ContextCanceled(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"recipes": []}`)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Random(ctx, 1)
	if !model.IsErrorCode(err, model.ErrCodeRecipeSourceFailed) {
		t.Fatalf("err = %v, want RECIPE_SOURCE_FAILED", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want to wrap context.Canceled", err)
	}
}

func TestNewClient_DefaultBaseURL(t *testing.T) {
	c := NewClient(http.DefaultClient, slog.Default(), "", "", nil, nil)
	if c.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %s, want %s", c.baseURL, DefaultBaseURL)
	}
}
