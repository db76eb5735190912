// Package cookbook はユーザーごとのクックブック（保存済みレシピ）のドメインロジックを提供する。
//
// 全ての操作は呼び出し側が明示的に渡すユーザーのメールアドレスを単位とする。
// 同一 (ユーザー, レシピ) の重複保存の防止はストアの一意性保証に委ね、
// このパッケージではロックを持たない。
package cookbook

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/recipebox/internal/model"
	"github.com/hitoshi/recipebox/internal/repository"
)

// DefaultRecentLimit はGetRecentActivityでlimit未指定時に返す件数。
const DefaultRecentLimit = 5

// 操作名。メトリクスのラベルに使用する。
const (
	OpSave   = "save"
	OpList   = "list"
	OpRemove = "remove"
	OpClear  = "clear"
	OpStats  = "stats"
	OpRecent = "recent"
	OpSearch = "search"
	OpShare  = "share"
)

// OpRecorder はクックブック操作の結果を記録するインターフェース。
type OpRecorder interface {
	RecordCookbookOp(op, result string)
}

// Service はクックブックのサービス層。
type Service struct {
	repo     repository.SavedRecipeRepository
	recorder OpRecorder
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// repoがnilの場合、全操作がSTORAGE_UNAVAILABLEを返す。recorderはnilでもよい。
func NewService(repo repository.SavedRecipeRepository, recorder OpRecorder) *Service {
	return &Service{
		repo:     repo,
		recorder: recorder,
		now:      time.Now,
	}
}

// SaveRecipe はレシピをユーザーのクックブックに保存し、採番済みのレコードを返す。
// 既に保存済みの場合はDUPLICATE_SAVEを返し、状態は変更しない。
func (s *Service) SaveRecipe(ctx context.Context, userEmail string, recipe *model.Recipe) (rec *model.SavedRecipe, err error) {
	defer func() { s.record(OpSave, err) }()

	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validateEmail(userEmail); err != nil {
		return nil, err
	}
	if err := validateRecipe(recipe); err != nil {
		return nil, err
	}

	rec = newSavedRecipe(userEmail, recipe, s.now())
	inserted, err := s.repo.InsertIfAbsent(ctx, rec)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if !inserted {
		return nil, model.NewDuplicateSaveError(rec.RecipeID)
	}

	slog.Info("レシピをクックブックに保存しました",
		slog.String("user_email", userEmail),
		slog.String("recipe_id", rec.RecipeID),
		slog.Int64("saved_recipe_id", rec.ID),
	)
	return rec, nil
}

// GetUserSavedRecipes はユーザーの保存済みレシピを全て返す。
// 保存が無い場合は空スライスを返す。
func (s *Service) GetUserSavedRecipes(ctx context.Context, userEmail string) (recs []*model.SavedRecipe, err error) {
	defer func() { s.record(OpList, err) }()

	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validateEmail(userEmail); err != nil {
		return nil, err
	}
	return s.listByUser(ctx, userEmail)
}

// RemoveRecipe はユーザーのクックブックから指定レシピを削除する。
// 保存されていない場合はSAVED_RECIPE_NOT_FOUNDを返す。
func (s *Service) RemoveRecipe(ctx context.Context, userEmail, recipeID string) (err error) {
	defer func() { s.record(OpRemove, err) }()

	if err := s.ready(); err != nil {
		return err
	}
	if err := validateEmail(userEmail); err != nil {
		return err
	}

	deleted, err := s.repo.DeleteByUserAndRecipe(ctx, userEmail, recipeID)
	if err != nil {
		return translateStoreError(err)
	}
	if !deleted {
		return model.NewSavedRecipeNotFoundError(recipeID)
	}

	slog.Info("レシピをクックブックから削除しました",
		slog.String("user_email", userEmail),
		slog.String("recipe_id", recipeID),
	)
	return nil
}

// ClearCookbook はユーザーの保存済みレシピを全て削除する。
// 0件でも成功する。
func (s *Service) ClearCookbook(ctx context.Context, userEmail string) (err error) {
	defer func() { s.record(OpClear, err) }()

	if err := s.ready(); err != nil {
		return err
	}
	if err := validateEmail(userEmail); err != nil {
		return err
	}

	n, err := s.repo.DeleteByUser(ctx, userEmail)
	if err != nil {
		return translateStoreError(err)
	}

	slog.Info("クックブックを空にしました",
		slog.String("user_email", userEmail),
		slog.Int64("deleted_count", n),
	)
	return nil
}

// GetUserStats はユーザーのクックブック集計値を返す。
// 集計値は保持せず、呼び出しごとに現在の保存済みレシピから算出する。
func (s *Service) GetUserStats(ctx context.Context, userEmail string) (stats model.UserStats, err error) {
	defer func() { s.record(OpStats, err) }()

	if err := s.ready(); err != nil {
		return model.UserStats{}, err
	}
	if err := validateEmail(userEmail); err != nil {
		return model.UserStats{}, err
	}

	recs, err := s.listByUser(ctx, userEmail)
	if err != nil {
		return model.UserStats{}, err
	}

	stats.SavedRecipesCount = len(recs)
	for _, rec := range recs {
		if rec.Shared {
			stats.RecipesShared++
		}
	}
	return stats, nil
}

// GetRecentActivity は保存日時の新しい順に最大limit件を返す。
// 同時刻の場合は後から保存した（IDが大きい）ものを先にする。
// limitが0以下の場合はDefaultRecentLimitを使う。
func (s *Service) GetRecentActivity(ctx context.Context, userEmail string, limit int) (recs []*model.SavedRecipe, err error) {
	defer func() { s.record(OpRecent, err) }()

	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validateEmail(userEmail); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	recs, err = s.listByUser(ctx, userEmail)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(recs, func(a, b *model.SavedRecipe) int {
		if c := b.SavedAt.Compare(a.SavedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// SearchRecipes は全ユーザーの保存済みレシピを横断して検索する。
// 「他のユーザーが保存したレシピ」を探すカタログ検索として提供する。
// 自分のクックブックだけを検索する場合はSearchUserRecipesを使う。
func (s *Service) SearchRecipes(ctx context.Context, query string, filters model.SearchFilters) (recs []*model.SavedRecipe, err error) {
	defer func() { s.record(OpSearch, err) }()

	if err := s.ready(); err != nil {
		return nil, err
	}

	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return filterRecipes(all, query, filters), nil
}

// SearchUserRecipes はユーザー自身の保存済みレシピを検索する。
func (s *Service) SearchUserRecipes(ctx context.Context, userEmail, query string, filters model.SearchFilters) (recs []*model.SavedRecipe, err error) {
	defer func() { s.record(OpSearch, err) }()

	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validateEmail(userEmail); err != nil {
		return nil, err
	}

	own, err := s.listByUser(ctx, userEmail)
	if err != nil {
		return nil, err
	}
	return filterRecipes(own, query, filters), nil
}

// MarkShared は保存済みレシピに共有済みフラグを立てる。
// 保存されていない場合はSAVED_RECIPE_NOT_FOUNDを返す。
func (s *Service) MarkShared(ctx context.Context, userEmail, recipeID string) (err error) {
	defer func() { s.record(OpShare, err) }()

	if err := s.ready(); err != nil {
		return err
	}
	if err := validateEmail(userEmail); err != nil {
		return err
	}

	updated, err := s.repo.UpdateShared(ctx, userEmail, recipeID, true)
	if err != nil {
		return translateStoreError(err)
	}
	if !updated {
		return model.NewSavedRecipeNotFoundError(recipeID)
	}
	return nil
}

// IsSaved はユーザーが指定レシピを保存済みかどうかを返す。
func (s *Service) IsSaved(ctx context.Context, userEmail, recipeID string) (bool, error) {
	recs, err := s.GetUserSavedRecipes(ctx, userEmail)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(recs, func(rec *model.SavedRecipe) bool {
		return rec.RecipeID == recipeID
	}), nil
}

func (s *Service) ready() error {
	if s.repo == nil {
		return model.NewStorageUnavailableError(errors.New("saved recipe store is not initialized"))
	}
	return nil
}

func (s *Service) listByUser(ctx context.Context, userEmail string) ([]*model.SavedRecipe, error) {
	recs, err := s.repo.ListByUser(ctx, userEmail)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if recs == nil {
		recs = []*model.SavedRecipe{}
	}
	return recs, nil
}

func (s *Service) record(op string, err error) {
	if s.recorder == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = resultLabel(err)
	}
	s.recorder.RecordCookbookOp(op, result)
}

// resultLabel はエラーをメトリクス用の結果ラベルに変換する。
func resultLabel(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return strings.ToLower(apiErr.Code)
	}
	return "error"
}

// translateStoreError はストアのエラーをクックブックのエラー分類に変換する。
func translateStoreError(err error) error {
	if errors.Is(err, repository.ErrUnavailable) {
		return model.NewStorageUnavailableError(err)
	}
	return model.NewStorageOperationError(err)
}

func validateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return model.NewValidationError("ユーザーのメールアドレスが指定されていません")
	}
	return nil
}

func validateRecipe(recipe *model.Recipe) error {
	if recipe == nil {
		return model.NewValidationError("レシピが指定されていません")
	}
	if recipe.ID <= 0 {
		return model.NewValidationError(fmt.Sprintf("レシピIDが不正です: %d", recipe.ID))
	}
	if strings.TrimSpace(recipe.Title) == "" {
		return model.NewValidationError("レシピのタイトルがありません")
	}
	if strings.TrimSpace(recipe.Image) == "" {
		return model.NewValidationError("レシピの画像がありません")
	}
	return nil
}

// newSavedRecipe は保存対象のフィールドだけをコピーしてレコードを組み立てる。
func newSavedRecipe(userEmail string, recipe *model.Recipe, savedAt time.Time) *model.SavedRecipe {
	return &model.SavedRecipe{
		UserEmail:      userEmail,
		RecipeID:       recipe.ExternalID(),
		Title:          recipe.Title,
		Image:          recipe.Image,
		ReadyInMinutes: recipe.ReadyInMinutes,
		Servings:       recipe.Servings,
		Nutrition: model.Nutrition{
			Nutrients: slices.Clone(recipe.Nutrition.Nutrients),
		},
		Cuisines: slices.Clone(recipe.Cuisines),
		Diets:    slices.Clone(recipe.Diets),
		SavedAt:  savedAt,
	}
}
