package cookbook

import (
	"slices"
	"strings"

	"github.com/hitoshi/recipebox/internal/model"
)

// filterRecipes は検索条件を全て満たすレコードを元の順序のまま返す。
//   - query: タイトルの部分一致（大文字小文字を区別しない）
//   - Cuisine / Diet: レコードの一覧のいずれかと完全一致（大文字小文字も区別する）
//   - MaxCookTime: 調理時間がN分以下。調理時間が不明（0）のレコードは除外する
//
// 空の条件は絞り込みに使わない。
func filterRecipes(recs []*model.SavedRecipe, query string, filters model.SearchFilters) []*model.SavedRecipe {
	q := strings.ToLower(strings.TrimSpace(query))
	cuisine := strings.TrimSpace(filters.Cuisine)
	diet := strings.TrimSpace(filters.Diet)

	out := make([]*model.SavedRecipe, 0, len(recs))
	for _, rec := range recs {
		if q != "" && !strings.Contains(strings.ToLower(rec.Title), q) {
			continue
		}
		if cuisine != "" && !slices.Contains(rec.Cuisines, cuisine) {
			continue
		}
		if diet != "" && !slices.Contains(rec.Diets, diet) {
			continue
		}
		if filters.MaxCookTime > 0 && (rec.ReadyInMinutes <= 0 || rec.ReadyInMinutes > filters.MaxCookTime) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
