package daily

import (
	"context"
	"log/slog"
	"time"
)

// Job は日付の切り替えを定期的に確認し、おすすめを取得するワーカー。
type Job struct {
	service  *Service
	logger   *slog.Logger
	interval time.Duration
}

// NewJob はJobの新しいインスタンスを生成する。
func NewJob(service *Service, logger *slog.Logger) *Job {
	return &Job{
		service:  service,
		logger:   logger,
		interval: service.config.Interval,
	}
}

// Start はジョブをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("おすすめレシピジョブを開始しました",
		slog.Duration("interval", j.interval),
		slog.Int("count", j.service.config.Count),
		slog.String("timezone", j.service.config.Location.String()),
	)

	// 起動直後に1回実行
	j.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("おすすめレシピジョブを停止しました")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce は1回分の確認を実行する。失敗はログに残し、次の周期で再試行する。
func (j *Job) RunOnce(ctx context.Context) {
	start := time.Now()

	picks, fetched, err := j.service.Refresh(ctx)
	if err != nil {
		j.logger.Error("おすすめレシピジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	j.logger.Debug("おすすめレシピジョブが完了しました",
		slog.String("day", picks.Day),
		slog.Bool("fetched", fetched),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}
