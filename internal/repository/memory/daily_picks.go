package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/repository"
)

// DailyPicksRepo はメモリ上のおすすめレシピリポジトリ。
type DailyPicksRepo struct {
	mu    sync.RWMutex
	picks map[string]model.DailyPicks
}

// NewDailyPicksRepo はDailyPicksRepoを生成する。
func NewDailyPicksRepo() *DailyPicksRepo {
	return &DailyPicksRepo{picks: make(map[string]model.DailyPicks)}
}

// Save は指定日のおすすめレシピを保存する。
func (r *DailyPicksRepo) Save(_ context.Context, picks *model.DailyPicks) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *picks
	c.Recipes = slices.Clone(picks.Recipes)
	r.picks[picks.Day] = c
	return nil
}

// FindByDay は指定日のおすすめレシピを取得する。
func (r *DailyPicksRepo) FindByDay(_ context.Context, day string) (*model.DailyPicks, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.picks[day]
	if !ok {
		return nil, nil
	}
	p.Recipes = slices.Clone(p.Recipes)
	return &p, nil
}

// FindLatest は最も新しい日のおすすめレシピを取得する。
// Dayは YYYY-MM-DD 形式なので文字列比較で日付順になる。
func (r *DailyPicksRepo) FindLatest(_ context.Context) (*model.DailyPicks, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *model.DailyPicks
	for day := range r.picks {
		if latest == nil || day > latest.Day {
			p := r.picks[day]
			latest = &p
		}
	}
	if latest != nil {
		latest.Recipes = slices.Clone(latest.Recipes)
	}
	return latest, nil
}

var _ repository.DailyPicksRepository = (*DailyPicksRepo)(nil)
