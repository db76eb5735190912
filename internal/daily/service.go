// Package daily は日替わりおすすめレシピの取得と配信を提供する。
//
// おすすめは設定タイムゾーンの暦日ごとに1回だけ外部APIから取得して保存し、
// 同じ日の間は保存済みの内容を返す。
package daily

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/repository"
)

// dayLayout は日付キーの形式。
const dayLayout = "2006-01-02"

// リフレッシュ結果。メトリクスのラベルに使う。
const (
	ResultFetched = "fetched"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// RecipeFetcher はランダムなレシピを取得するインターフェース。
type RecipeFetcher interface {
	Random(ctx context.Context, n int) ([]model.Recipe, error)
}

// RefreshRecorder はリフレッシュ結果を記録するインターフェース。
type RefreshRecorder interface {
	RecordDailyRefresh(result string)
}

// Config は日替わりおすすめの設定。
type Config struct {
	// Count は1日あたりのおすすめ件数（デフォルト: 6）。
	Count int
	// Location は日付の切り替えに使うタイムゾーン（デフォルト: Asia/Kolkata）。
	Location *time.Location
	// Interval はワーカーが日付の切り替えを確認する間隔（デフォルト: 1時間）。
	Interval time.Duration
}

// DefaultConfig はデフォルトの設定を返す。
// Asia/Kolkataが読み込めない環境ではUTC+5:30の固定ゾーンを使う。
func DefaultConfig() Config {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*60*60+30*60)
	}
	return Config{
		Count:    6,
		Location: loc,
		Interval: time.Hour,
	}
}

// Service は日替わりおすすめのサービス層。
type Service struct {
	repo     repository.DailyPicksRepository
	source   RecipeFetcher
	recorder RefreshRecorder
	logger   *slog.Logger
	config   Config
	now      func() time.Time

	// 同時に複数のリクエストが取得を始めないようにする
	mu sync.Mutex
}

// NewService はServiceの新しいインスタンスを生成する。recorderはnilでもよい。
func NewService(repo repository.DailyPicksRepository, source RecipeFetcher, recorder RefreshRecorder, logger *slog.Logger, config Config) *Service {
	def := DefaultConfig()
	if config.Count <= 0 {
		config.Count = def.Count
	}
	if config.Location == nil {
		config.Location = def.Location
	}
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	return &Service{
		repo:     repo,
		source:   source,
		recorder: recorder,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// Day は現在時刻における設定タイムゾーンの日付キーを返す。
func (s *Service) Day() string {
	return s.now().In(s.config.Location).Format(dayLayout)
}

// Today は今日のおすすめを返す。
// 未取得なら取得を試み、失敗した場合は最新の保存済みおすすめをstale=trueで返す。
// 保存済みが1件もなければRECIPE_SOURCE_FAILEDを返す。
func (s *Service) Today(ctx context.Context) (picks *model.DailyPicks, stale bool, err error) {
	day := s.Day()

	picks, err = s.repo.FindByDay(ctx, day)
	if err != nil {
		return nil, false, repository.ToAPIError(err)
	}
	if picks != nil {
		return picks, false, nil
	}

	picks, _, refreshErr := s.Refresh(ctx)
	if refreshErr == nil {
		return picks, false, nil
	}

	latest, err := s.repo.FindLatest(ctx)
	if err != nil {
		return nil, false, repository.ToAPIError(err)
	}
	if latest == nil {
		return nil, false, refreshErr
	}

	s.logger.Warn("今日のおすすめを取得できないため前回分を返します",
		slog.String("day", day),
		slog.String("stale_day", latest.Day),
	)
	return latest, true, nil
}

// Refresh は今日のおすすめが未保存の場合に外部APIから取得して保存する。
// 既に保存済みの場合は取得せずに保存済みの内容とfetched=falseを返す。
func (s *Service) Refresh(ctx context.Context) (picks *model.DailyPicks, fetched bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := s.Day()
	defer func() {
		switch {
		case err != nil:
			s.record(ResultFailed)
		case fetched:
			s.record(ResultFetched)
		default:
			s.record(ResultSkipped)
		}
	}()

	existing, err := s.repo.FindByDay(ctx, day)
	if err != nil {
		s.logger.Error("保存済みおすすめの読み込みに失敗しました",
			slog.String("day", day),
			slog.String("error", err.Error()),
		)
		return nil, false, repository.ToAPIError(err)
	}
	if existing != nil {
		return existing, false, nil
	}

	recipes, err := s.source.Random(ctx, s.config.Count)
	if err != nil {
		s.logger.Error("おすすめレシピの取得に失敗しました",
			slog.String("day", day),
			slog.String("error", err.Error()),
		)
		return nil, false, err
	}

	picks = &model.DailyPicks{
		Day:       day,
		Recipes:   recipes,
		FetchedAt: s.now(),
	}
	if err := s.repo.Save(ctx, picks); err != nil {
		s.logger.Error("おすすめの保存に失敗しました",
			slog.String("day", day),
			slog.String("error", err.Error()),
		)
		return nil, false, repository.ToAPIError(err)
	}

	s.logger.Info("今日のおすすめを取得しました",
		slog.String("day", day),
		slog.Int("count", len(recipes)),
	)
	return picks, true, nil
}

func (s *Service) record(result string) {
	if s.recorder != nil {
		s.recorder.RecordDailyRefresh(result)
	}
}
