package model

import (
	"strconv"
	"time"
)

// Nutrient は栄養素1件分の値。
type Nutrient struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
}

// Nutrition はレシピの栄養情報スナップショット。
type Nutrition struct {
	Nutrients []Nutrient `json:"nutrients"`
}

// Ingredient は材料1行分。
type Ingredient struct {
	Original string `json:"original"`
}

// InstructionStep は調理手順の1ステップ。
type InstructionStep struct {
	Number int    `json:"number"`
	Step   string `json:"step"`
}

// Recipe は外部レシピAPIから取得したレシピ。
// 外部APIのレスポンスのうち、このサービスが参照するフィールドだけを持つ。
// JSONタグはおすすめレシピの保存形式とAPIレスポンスを兼ねる。
type Recipe struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Image          string    `json:"image"`
	ReadyInMinutes int       `json:"ready_in_minutes"`
	Servings       int       `json:"servings"`
	Nutrition      Nutrition `json:"nutrition"`
	Cuisines       []string  `json:"cuisines"`
	Diets          []string  `json:"diets"`

	// 詳細表示用。クックブックには保存しない。
	Summary      string            `json:"summary,omitempty"`
	Ingredients  []Ingredient      `json:"ingredients,omitempty"`
	Instructions []InstructionStep `json:"instructions,omitempty"`
	SourceURL    string            `json:"source_url,omitempty"`
}

// ExternalID は外部レシピIDの文字列表現を返す。
func (r *Recipe) ExternalID() string {
	return strconv.FormatInt(r.ID, 10)
}

// SavedRecipe はユーザーがクックブックに保存したレシピを表す。
// (UserEmail, RecipeID) の組は一意。作成後に変更されるのは Shared のみ。
type SavedRecipe struct {
	ID             int64
	UserEmail      string
	RecipeID       string
	Title          string
	Image          string
	ReadyInMinutes int
	Servings       int
	Nutrition      Nutrition
	Cuisines       []string
	Diets          []string
	SavedAt        time.Time
	Shared         bool
}

// UserStats はユーザーのクックブック集計値。
type UserStats struct {
	SavedRecipesCount int
	RecipesShared     int
}

// SearchFilters は保存済みレシピ検索の絞り込み条件。
// ゼロ値の項目は絞り込みに使わない。
type SearchFilters struct {
	Cuisine     string
	Diet        string
	MaxCookTime int
}

// DailyPicks は1日分のおすすめレシピ。
type DailyPicks struct {
	Day       string // YYYY-MM-DD（設定タイムゾーン基準）
	Recipes   []Recipe
	FetchedAt time.Time
}
