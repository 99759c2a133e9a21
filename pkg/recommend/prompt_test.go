package recommend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt(t *testing.T) {
	stats := StatsRecord{
		OrdersCount: 10,
		Categories: map[string]CategoryShare{
			"salad": {Count: 2, Percent: 20},
			"soup":  {Count: 5, Percent: 50},
			"main":  {Count: 3, Percent: 30},
		},
		UniqueDishes:         6,
		TotalDishesAvailable: 42,
		FavoriteDishes: []DishCount{
			{Name: "Борщ", Count: 5},
			{Name: "Цезарь", Count: 3},
		},
	}

	prompt := BuildPrompt(stats)

	assert.Contains(t, prompt, "Количество заказов: 10")
	assert.Contains(t, prompt, "soup: 5 (50.0%), main: 3 (30.0%), salad: 2 (20.0%)")
	assert.Contains(t, prompt, "6 из 42")
	assert.Contains(t, prompt, "Борщ (5x), Цезарь (3x)")
	assert.Equal(t, prompt, BuildPrompt(stats), "prompt must be deterministic")
}

func TestBuildPrompt_EmptyStats(t *testing.T) {
	prompt := BuildPrompt(StatsRecord{})

	assert.Equal(t, 2, strings.Count(prompt, noData))
	assert.Contains(t, prompt, "Количество заказов: 0")
}

func TestFormatCategories_TieBreakByName(t *testing.T) {
	got := formatCategories(map[string]CategoryShare{
		"b": {Count: 1, Percent: 33.3},
		"a": {Count: 1, Percent: 33.3},
		"c": {Count: 1, Percent: 33.3},
	})
	assert.Equal(t, "a: 1 (33.3%), b: 1 (33.3%), c: 1 (33.3%)", got)
}
