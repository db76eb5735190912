// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する。
// cookbook.OpRecorder と recipesource.Observer を満たす。
type Collector struct {
	cookbookOps      *prometheus.CounterVec
	recipeAPILatency *prometheus.HistogramVec
	recipeAPIFail    *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	dailyRefresh     *prometheus.CounterVec
	sessionsPurged   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cookbookOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipebox_cookbook_operations_total",
			Help: "クックブック操作の実行数（操作・結果別）",
		}, []string{"op", "result"}),
		recipeAPILatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recipebox_recipe_api_latency_seconds",
			Help:    "外部レシピAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		recipeAPIFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipebox_recipe_api_failures_total",
			Help: "外部レシピAPI呼び出しの失敗数",
		}, []string{"endpoint"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipebox_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		dailyRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipebox_daily_picks_refresh_total",
			Help: "おすすめレシピ更新の実行数（結果別）",
		}, []string{"result"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recipebox_sessions_purged_total",
			Help: "期限切れで削除したセッション数",
		}),
	}

	reg.MustRegister(
		c.cookbookOps,
		c.recipeAPILatency,
		c.recipeAPIFail,
		c.httpStatus,
		c.dailyRefresh,
		c.sessionsPurged,
	)
	return c
}

// RecordCookbookOp はクックブック操作の結果を記録する。
func (c *Collector) RecordCookbookOp(op, result string) {
	c.cookbookOps.WithLabelValues(op, result).Inc()
}

// ObserveRecipeAPI は外部レシピAPI呼び出しのレイテンシと成否を記録する。
func (c *Collector) ObserveRecipeAPI(endpoint string, d time.Duration, err error) {
	c.recipeAPILatency.WithLabelValues(endpoint).Observe(d.Seconds())
	if err != nil {
		c.recipeAPIFail.WithLabelValues(endpoint).Inc()
	}
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordDailyRefresh はおすすめレシピ更新の結果を記録する。
// resultは "fetched", "skipped", "failed" のいずれか。
func (c *Collector) RecordDailyRefresh(result string) {
	c.dailyRefresh.WithLabelValues(result).Inc()
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(n int64) {
	c.sessionsPurged.Add(float64(n))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
