package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/recipebox/internal/model"
)

// PostgresSavedRecipeRepo はPostgreSQLを使用したクックブックリポジトリ。
// 重複保存の防止はsaved_recipes_user_recipe_key一意制約に委ねる。
type PostgresSavedRecipeRepo struct {
	db *sql.DB
}

// NewPostgresSavedRecipeRepo はPostgresSavedRecipeRepoを生成する。
func NewPostgresSavedRecipeRepo(db *sql.DB) *PostgresSavedRecipeRepo {
	return &PostgresSavedRecipeRepo{db: db}
}

const savedRecipeColumns = `id, user_email, recipe_id, title, image, ready_in_minutes, servings,
	nutrition, cuisines, diets, saved_at, shared`

// InsertIfAbsent は (UserEmail, RecipeID) が未登録の場合のみ挿入する。
// ON CONFLICT DO NOTHINGにより、同時実行時も片方だけが挿入される。
func (r *PostgresSavedRecipeRepo) InsertIfAbsent(ctx context.Context, rec *model.SavedRecipe) (bool, error) {
	nutrition, err := json.Marshal(rec.Nutrition)
	if err != nil {
		return false, fmt.Errorf("failed to marshal nutrition: %w", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO saved_recipes
		   (user_email, recipe_id, title, image, ready_in_minutes, servings,
		    nutrition, cuisines, diets, saved_at, shared)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (user_email, recipe_id) DO NOTHING
		 RETURNING id`,
		rec.UserEmail, rec.RecipeID, rec.Title, rec.Image, rec.ReadyInMinutes, rec.Servings,
		nutrition, pq.Array(nonNilStrings(rec.Cuisines)), pq.Array(nonNilStrings(rec.Diets)),
		rec.SavedAt, rec.Shared,
	).Scan(&id)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert saved recipe: %w", classifyError(err))
	}

	rec.ID = id
	return true, nil
}

// ListByUser はユーザーの保存済みレシピをID昇順で返す。
func (r *PostgresSavedRecipeRepo) ListByUser(ctx context.Context, email string) ([]*model.SavedRecipe, error) {
	return r.query(ctx,
		`SELECT `+savedRecipeColumns+` FROM saved_recipes WHERE user_email = $1 ORDER BY id`,
		email,
	)
}

// ListAll は全ユーザーの保存済みレシピをID昇順で返す。
func (r *PostgresSavedRecipeRepo) ListAll(ctx context.Context) ([]*model.SavedRecipe, error) {
	return r.query(ctx, `SELECT `+savedRecipeColumns+` FROM saved_recipes ORDER BY id`)
}

// DeleteByUserAndRecipe は該当レコードを削除する。削除した場合trueを返す。
func (r *PostgresSavedRecipeRepo) DeleteByUserAndRecipe(ctx context.Context, email, recipeID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM saved_recipes WHERE user_email = $1 AND recipe_id = $2`,
		email, recipeID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete saved recipe: %w", classifyError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteByUser はユーザーの保存済みレシピを全て削除し、削除件数を返す。
func (r *PostgresSavedRecipeRepo) DeleteByUser(ctx context.Context, email string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM saved_recipes WHERE user_email = $1`,
		email,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear saved recipes: %w", classifyError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// UpdateShared は共有フラグを更新する。該当レコードがあればtrueを返す。
func (r *PostgresSavedRecipeRepo) UpdateShared(ctx context.Context, email, recipeID string, shared bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE saved_recipes SET shared = $3 WHERE user_email = $1 AND recipe_id = $2`,
		email, recipeID, shared,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update shared flag: %w", classifyError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresSavedRecipeRepo) query(ctx context.Context, query string, args ...any) ([]*model.SavedRecipe, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query saved recipes: %w", classifyError(err))
	}
	defer rows.Close()

	recipes := make([]*model.SavedRecipe, 0)
	for rows.Next() {
		rec := &model.SavedRecipe{}
		var nutrition []byte
		if err := rows.Scan(
			&rec.ID, &rec.UserEmail, &rec.RecipeID, &rec.Title, &rec.Image,
			&rec.ReadyInMinutes, &rec.Servings, &nutrition,
			pq.Array(&rec.Cuisines), pq.Array(&rec.Diets),
			&rec.SavedAt, &rec.Shared,
		); err != nil {
			return nil, fmt.Errorf("failed to scan saved recipe: %w", classifyError(err))
		}
		if len(nutrition) > 0 {
			if err := json.Unmarshal(nutrition, &rec.Nutrition); err != nil {
				return nil, fmt.Errorf("failed to unmarshal nutrition: %w", err)
			}
		}
		recipes = append(recipes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate saved recipes: %w", classifyError(err))
	}
	return recipes, nil
}

// nonNilStrings はNOT NULL配列カラムに渡すため、nilスライスを空スライスに置き換える。
func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// compile-time interface check
var _ SavedRecipeRepository = (*PostgresSavedRecipeRepo)(nil)
