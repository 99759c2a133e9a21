// Package stats turns a user's order history into the recommend.StatsRecord
// fed to the completion prompt.
package stats

import (
	"context"
	"math"
	"sort"

	"github.com/mihaimyh/gokeypool/pkg/recommend"
)

const (
	// DefaultWindowDays is the analysis window for statistics and activity
	DefaultWindowDays = 30

	// MinOrdersForRecommendation is the activity threshold for generating recommendations
	MinOrdersForRecommendation = 5

	// FavoriteDishesLimit caps the favorite dishes list
	FavoriteDishesLimit = 5
)

// Source provides order statistics
type Source interface {
	// UserStats summarizes the orders userID placed in the last days days.
	UserStats(ctx context.Context, userID int64, days int) (*recommend.StatsRecord, error)

	// ActiveUsers lists users with at least minOrders orders in the last days days.
	ActiveUsers(ctx context.Context, minOrders, days int) ([]int64, error)
}

// ComboItem is one dish of a combo order
type ComboItem struct {
	Category   string `json:"category"`
	MenuItemID int64  `json:"menu_item_id"`
}

// Extra is an item ordered on top of the combo
type Extra struct {
	MenuItemID int64 `json:"menu_item_id"`
	Quantity   int   `json:"quantity"`
}

// Order holds the dish composition of one order
type Order struct {
	ComboItems []ComboItem `json:"combo_items"`
	Extras     []Extra     `json:"extras"`
}

// DishWeight is a menu item with its order frequency
type DishWeight struct {
	MenuItemID int64
	Count      int
}

// CategoryDistribution counts combo items per category.
// Percent is relative to all categorized items and rounded to one decimal.
func CategoryDistribution(orders []Order) map[string]recommend.CategoryShare {
	counts := make(map[string]int)
	total := 0
	for _, o := range orders {
		for _, item := range o.ComboItems {
			if item.Category == "" {
				continue
			}
			counts[item.Category]++
			total++
		}
	}

	shares := make(map[string]recommend.CategoryShare, len(counts))
	for category, count := range counts {
		shares[category] = recommend.CategoryShare{
			Count:   count,
			Percent: roundTenth(float64(count) / float64(total) * 100),
		}
	}
	return shares
}

// UniqueDishes counts distinct menu items across combo items and extras
func UniqueDishes(orders []Order) int {
	seen := make(map[int64]struct{})
	for _, o := range orders {
		for _, item := range o.ComboItems {
			if item.MenuItemID != 0 {
				seen[item.MenuItemID] = struct{}{}
			}
		}
		for _, extra := range o.Extras {
			if extra.MenuItemID != 0 {
				seen[extra.MenuItemID] = struct{}{}
			}
		}
	}
	return len(seen)
}

// TopDishes returns the limit most ordered menu items. Extras count with their quantity.
// Ties are broken by menu item id.
func TopDishes(orders []Order, limit int) []DishWeight {
	counts := make(map[int64]int)
	for _, o := range orders {
		for _, item := range o.ComboItems {
			if item.MenuItemID != 0 {
				counts[item.MenuItemID]++
			}
		}
		for _, extra := range o.Extras {
			if extra.MenuItemID == 0 {
				continue
			}
			qty := extra.Quantity
			if qty <= 0 {
				qty = 1
			}
			counts[extra.MenuItemID] += qty
		}
	}

	dishes := make([]DishWeight, 0, len(counts))
	for id, count := range counts {
		dishes = append(dishes, DishWeight{MenuItemID: id, Count: count})
	}
	sort.Slice(dishes, func(i, j int) bool {
		if dishes[i].Count != dishes[j].Count {
			return dishes[i].Count > dishes[j].Count
		}
		return dishes[i].MenuItemID < dishes[j].MenuItemID
	})

	if limit > 0 && len(dishes) > limit {
		dishes = dishes[:limit]
	}
	return dishes
}

// NameDishes resolves menu item ids to names, dropping items without a name
func NameDishes(dishes []DishWeight, names map[int64]string) []recommend.DishCount {
	named := make([]recommend.DishCount, 0, len(dishes))
	for _, d := range dishes {
		if name, ok := names[d.MenuItemID]; ok && name != "" {
			named = append(named, recommend.DishCount{Name: name, Count: d.Count})
		}
	}
	return named
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
