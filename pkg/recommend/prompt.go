package recommend

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// noData replaces an empty list in the prompt
const noData = "нет данных"

const promptTemplate = `Ты помощник по питанию в корпоративном сервисе заказа обедов.
Проанализируй заказы пользователя за последние 30 дней и дай персональные рекомендации.

Статистика:
- Количество заказов: %d
- Распределение по категориям: %s
- Уникальных блюд: %d из %d доступных
- Любимые блюда: %s

Ответь строго в формате JSON без пояснений:
{"summary": "краткий вывод о рационе (1-2 предложения)", "tips": ["совет 1", "совет 2", "совет 3"]}`

// BuildPrompt renders the statistics into the completion prompt.
// Categories are listed by count, most frequent first, so equal stats give equal prompts.
func BuildPrompt(stats StatsRecord) string {
	return fmt.Sprintf(promptTemplate,
		stats.OrdersCount,
		formatCategories(stats.Categories),
		stats.UniqueDishes,
		stats.TotalDishesAvailable,
		formatFavorites(stats.FavoriteDishes),
	)
}

func formatCategories(categories map[string]CategoryShare) string {
	if len(categories) == 0 {
		return noData
	}

	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, cj := categories[names[i]].Count, categories[names[j]].Count
		if ci != cj {
			return ci > cj
		}
		return names[i] < names[j]
	})

	parts := make([]string, 0, len(names))
	for _, name := range names {
		share := categories[name]
		parts = append(parts, fmt.Sprintf("%s: %d (%s%%)", name, share.Count, strconv.FormatFloat(share.Percent, 'f', 1, 64)))
	}
	return strings.Join(parts, ", ")
}

func formatFavorites(dishes []DishCount) string {
	if len(dishes) == 0 {
		return noData
	}

	parts := make([]string, 0, len(dishes))
	for _, d := range dishes {
		parts = append(parts, fmt.Sprintf("%s (%dx)", d.Name, d.Count))
	}
	return strings.Join(parts, ", ")
}
