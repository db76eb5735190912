// Package recipesource は外部レシピAPI（Spoonacular互換）のクライアントを提供する。
// リトライとキャッシュは行わず、失敗は呼び出し元にそのまま返す。
package recipesource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/security"
)

const (
	// DefaultBaseURL は外部レシピAPIのベースURL。
	DefaultBaseURL = "https://api.spoonacular.com/recipes"
	// DefaultCount はランダム取得と検索の既定件数。
	DefaultCount = 12
	// maxCount はAPIが1リクエストで返せる最大件数。
	maxCount = 100
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 5 << 20
	// apiKeyHeader はAPIキーを送るヘッダー名。
	apiKeyHeader = "x-api-key"
)

// エンドポイント名。ログとメトリクスのラベルに使う。
const (
	endpointRandom = "random"
	endpointGet    = "information"
	endpointSearch = "search"
)

// Source はレシピの取得元のインターフェース。
type Source interface {
	Random(ctx context.Context, n int) ([]model.Recipe, error)
	Get(ctx context.Context, id int64) (*model.Recipe, error)
	Search(ctx context.Context, query string, n int) ([]model.Recipe, error)
}

// Observer は外部API呼び出しの計測値を受け取るインターフェース。
type Observer interface {
	ObserveRecipeAPI(endpoint string, d time.Duration, err error)
}

// Client は外部レシピAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	apiKey     string
	sanitizer  security.ContentSanitizer
	observer   Observer
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLが空の場合はDefaultBaseURLを使う。observerはnilでもよい。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, apiKey string, sanitizer security.ContentSanitizer, observer Observer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		sanitizer:  sanitizer,
		observer:   observer,
	}
}

// Random はランダムにn件のレシピを取得する。nが0以下の場合はDefaultCount件。
func (c *Client) Random(ctx context.Context, n int) ([]model.Recipe, error) {
	q := url.Values{}
	q.Set("number", strconv.Itoa(clampCount(n)))
	q.Set("addRecipeInformation", "true")
	q.Set("includeNutrition", "true")

	var body struct {
		Recipes []apiRecipe `json:"recipes"`
	}
	if err := c.getJSON(ctx, endpointRandom, "/random", q, &body); err != nil {
		return nil, err
	}
	return c.convertAll(body.Recipes), nil
}

// Get は指定IDのレシピ詳細を取得する。存在しない場合はRECIPE_NOT_FOUNDを返す。
func (c *Client) Get(ctx context.Context, id int64) (*model.Recipe, error) {
	q := url.Values{}
	q.Set("includeNutrition", "true")

	var body apiRecipe
	path := fmt.Sprintf("/%d/information", id)
	if err := c.getJSON(ctx, endpointGet, path, q, &body); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.status == http.StatusNotFound {
			return nil, model.NewRecipeNotFoundError(strconv.FormatInt(id, 10))
		}
		return nil, err
	}
	r := c.convert(body)
	return &r, nil
}

// Search はキーワードでレシピを検索する。nが0以下の場合はDefaultCount件。
func (c *Client) Search(ctx context.Context, query string, n int) ([]model.Recipe, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("number", strconv.Itoa(clampCount(n)))
	q.Set("addRecipeInformation", "true")
	q.Set("addRecipeNutrition", "true")

	var body struct {
		Results []apiRecipe `json:"results"`
	}
	if err := c.getJSON(ctx, endpointSearch, "/complexSearch", q, &body); err != nil {
		return nil, err
	}
	return c.convertAll(body.Results), nil
}

// statusError は外部APIが200以外を返したことを表す。
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("recipe API returned status %d", e.status)
}

// getJSON はGETリクエストを送り、レスポンスをoutにデコードする。
// 失敗は全てRECIPE_SOURCE_FAILEDに包んで返す（404のみstatusErrorのまま返す）。
func (c *Client) getJSON(ctx context.Context, endpoint, path string, q url.Values, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveRecipeAPI(endpoint, time.Since(start), err)
		}
	}()

	reqURL := c.baseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.NewRecipeSourceError(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "RecipeBox/1.0")
	// APIキーはURLに載せない（エラーやログにURLが出るため）
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = stripURL(err)
		c.logger.Error("レシピAPIの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return model.NewRecipeSourceError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("レシピAPIがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
		)
		se := &statusError{status: resp.StatusCode}
		if resp.StatusCode == http.StatusNotFound {
			return se
		}
		return model.NewRecipeSourceError(se)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return model.NewRecipeSourceError(fmt.Errorf("failed to read response: %w", err))
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("レシピAPIのレスポンスのパースに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return model.NewRecipeSourceError(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// stripURL は*url.ErrorからリクエストURLを取り除き、原因のエラーだけを返す。
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s %s: %w", urlErr.Op, endpointPathOnly(urlErr.URL), urlErr.Err)
	}
	return err
}

// endpointPathOnly はURLのクエリを落としたパスを返す。
func endpointPathOnly(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "recipe API"
	}
	return u.Path
}

func clampCount(n int) int {
	if n <= 0 {
		return DefaultCount
	}
	return min(n, maxCount)
}

var _ Source = (*Client)(nil)
