package recipesource

import (
	"strings"

	"github.com/hitoshi/recipebox/internal/model"
)

// apiRecipe は外部APIのレシピJSONのうち参照するフィールド。
type apiRecipe struct {
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	Image          string   `json:"image"`
	ReadyInMinutes int      `json:"readyInMinutes"`
	Servings       int      `json:"servings"`
	Summary        string   `json:"summary"`
	SourceURL      string   `json:"sourceUrl"`
	Cuisines       []string `json:"cuisines"`
	Diets          []string `json:"diets"`
	Nutrition      struct {
		Nutrients []struct {
			Name   string  `json:"name"`
			Amount float64 `json:"amount"`
			Unit   string  `json:"unit"`
		} `json:"nutrients"`
	} `json:"nutrition"`
	ExtendedIngredients []struct {
		Original string `json:"original"`
	} `json:"extendedIngredients"`
	AnalyzedInstructions []struct {
		Steps []struct {
			Number int    `json:"number"`
			Step   string `json:"step"`
		} `json:"steps"`
	} `json:"analyzedInstructions"`
}

func (c *Client) convertAll(in []apiRecipe) []model.Recipe {
	out := make([]model.Recipe, 0, len(in))
	for _, r := range in {
		out = append(out, c.convert(r))
	}
	return out
}

// convert は外部APIのレシピをドメインモデルに変換する。
// 概要HTMLはサニタイズし、材料と手順はプレーンテキストにする。
// 手順は最初の手順グループのみ使う。
func (c *Client) convert(r apiRecipe) model.Recipe {
	out := model.Recipe{
		ID:             r.ID,
		Title:          strings.TrimSpace(r.Title),
		Image:          r.Image,
		ReadyInMinutes: r.ReadyInMinutes,
		Servings:       r.Servings,
		Cuisines:       r.Cuisines,
		Diets:          r.Diets,
		SourceURL:      r.SourceURL,
	}
	if c.sanitizer != nil {
		out.Summary = c.sanitizer.SanitizeSummary(r.Summary)
	}

	for _, n := range r.Nutrition.Nutrients {
		out.Nutrition.Nutrients = append(out.Nutrition.Nutrients, model.Nutrient{
			Name: n.Name, Amount: n.Amount, Unit: n.Unit,
		})
	}
	for _, ing := range r.ExtendedIngredients {
		out.Ingredients = append(out.Ingredients, model.Ingredient{Original: c.plain(ing.Original)})
	}
	if len(r.AnalyzedInstructions) > 0 {
		for _, st := range r.AnalyzedInstructions[0].Steps {
			out.Instructions = append(out.Instructions, model.InstructionStep{
				Number: st.Number, Step: c.plain(st.Step),
			})
		}
	}
	return out
}

func (c *Client) plain(s string) string {
	if c.sanitizer == nil {
		return s
	}
	return c.sanitizer.PlainText(s)
}
