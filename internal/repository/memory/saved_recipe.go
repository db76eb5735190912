// Package memory はプロセス内メモリ上のリポジトリ実装を提供する。
// STORE_DRIVER=memory での起動とテストで使用する。再起動するとデータは失われる。
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/repository"
)

type savedKey struct {
	email    string
	recipeID string
}

// SavedRecipeRepo はメモリ上のクックブックリポジトリ。
// 一意性チェックと書き込みは同じロックの中で行う。
type SavedRecipeRepo struct {
	mu     sync.Mutex
	lastID int64
	rows   map[savedKey]*model.SavedRecipe
}

// NewSavedRecipeRepo はSavedRecipeRepoを生成する。
func NewSavedRecipeRepo() *SavedRecipeRepo {
	return &SavedRecipeRepo{rows: make(map[savedKey]*model.SavedRecipe)}
}

// InsertIfAbsent は (UserEmail, RecipeID) が未登録の場合のみ挿入する。
// IDは削除後も再利用しない。
func (r *SavedRecipeRepo) InsertIfAbsent(_ context.Context, rec *model.SavedRecipe) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := savedKey{rec.UserEmail, rec.RecipeID}
	if _, ok := r.rows[key]; ok {
		return false, nil
	}
	r.lastID++
	rec.ID = r.lastID
	r.rows[key] = cloneSaved(rec)
	return true, nil
}

// ListByUser はユーザーの保存済みレシピをID昇順で返す。
func (r *SavedRecipeRepo) ListByUser(_ context.Context, email string) ([]*model.SavedRecipe, error) {
	return r.list(func(rec *model.SavedRecipe) bool { return rec.UserEmail == email }), nil
}

// ListAll は全ユーザーの保存済みレシピをID昇順で返す。
func (r *SavedRecipeRepo) ListAll(_ context.Context) ([]*model.SavedRecipe, error) {
	return r.list(func(*model.SavedRecipe) bool { return true }), nil
}

// DeleteByUserAndRecipe は該当レコードを削除する。削除した場合trueを返す。
func (r *SavedRecipeRepo) DeleteByUserAndRecipe(_ context.Context, email, recipeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := savedKey{email, recipeID}
	if _, ok := r.rows[key]; !ok {
		return false, nil
	}
	delete(r.rows, key)
	return true, nil
}

// DeleteByUser はユーザーの保存済みレシピを全て削除し、削除件数を返す。
func (r *SavedRecipeRepo) DeleteByUser(_ context.Context, email string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for key := range r.rows {
		if key.email == email {
			delete(r.rows, key)
			n++
		}
	}
	return n, nil
}

// UpdateShared は共有フラグを更新する。
func (r *SavedRecipeRepo) UpdateShared(_ context.Context, email, recipeID string, shared bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.rows[savedKey{email, recipeID}]
	if !ok {
		return false, nil
	}
	rec.Shared = shared
	return true, nil
}

func (r *SavedRecipeRepo) list(match func(*model.SavedRecipe) bool) []*model.SavedRecipe {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.SavedRecipe, 0)
	for _, rec := range r.rows {
		if match(rec) {
			out = append(out, cloneSaved(rec))
		}
	}
	slices.SortFunc(out, func(a, b *model.SavedRecipe) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// cloneSaved は呼び出し側との間でスライスを共有しないようにコピーする。
func cloneSaved(rec *model.SavedRecipe) *model.SavedRecipe {
	c := *rec
	c.Cuisines = slices.Clone(rec.Cuisines)
	c.Diets = slices.Clone(rec.Diets)
	c.Nutrition.Nutrients = slices.Clone(rec.Nutrition.Nutrients)
	return &c
}

var _ repository.SavedRecipeRepository = (*SavedRecipeRepo)(nil)
