package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/recipebox/internal/model"
)

// dayLayout はdaily_picks.dayの文字列表現。
const dayLayout = "2006-01-02"

// PostgresDailyPicksRepo はPostgreSQLを使用したおすすめレシピリポジトリ。
type PostgresDailyPicksRepo struct {
	db *sql.DB
}

// NewPostgresDailyPicksRepo はPostgresDailyPicksRepoを生成する。
func NewPostgresDailyPicksRepo(db *sql.DB) *PostgresDailyPicksRepo {
	return &PostgresDailyPicksRepo{db: db}
}

// Save は指定日のおすすめレシピを保存する。同じ日が既にあれば上書きする。
func (r *PostgresDailyPicksRepo) Save(ctx context.Context, picks *model.DailyPicks) error {
	recipes, err := json.Marshal(picks.Recipes)
	if err != nil {
		return fmt.Errorf("failed to marshal daily recipes: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO daily_picks (day, recipes, fetched_at)
		 VALUES ($1::date, $2, $3)
		 ON CONFLICT (day) DO UPDATE SET recipes = EXCLUDED.recipes, fetched_at = EXCLUDED.fetched_at`,
		picks.Day, recipes, picks.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save daily picks: %w", classifyError(err))
	}
	return nil
}

// FindByDay は指定日のおすすめレシピを取得する。見つからない場合はnilを返す。
func (r *PostgresDailyPicksRepo) FindByDay(ctx context.Context, day string) (*model.DailyPicks, error) {
	return r.findOne(ctx,
		`SELECT day, recipes, fetched_at FROM daily_picks WHERE day = $1::date`,
		day,
	)
}

// FindLatest は最も新しい日のおすすめレシピを取得する。
func (r *PostgresDailyPicksRepo) FindLatest(ctx context.Context) (*model.DailyPicks, error) {
	return r.findOne(ctx,
		`SELECT day, recipes, fetched_at FROM daily_picks ORDER BY day DESC LIMIT 1`,
	)
}

func (r *PostgresDailyPicksRepo) findOne(ctx context.Context, query string, args ...any) (*model.DailyPicks, error) {
	var (
		day     time.Time
		recipes []byte
		picks   model.DailyPicks
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&day, &recipes, &picks.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find daily picks: %w", classifyError(err))
	}
	if err := json.Unmarshal(recipes, &picks.Recipes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal daily recipes: %w", err)
	}
	picks.Day = day.Format(dayLayout)
	return &picks, nil
}

// compile-time interface check
var _ DailyPicksRepository = (*PostgresDailyPicksRepo)(nil)
