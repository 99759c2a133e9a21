package recommend

import "time"

// CategoryShare is how often a dish category appears in a user's orders
type CategoryShare struct {
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// DishCount is a dish together with how many times it was ordered
type DishCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// StatsRecord summarizes a user's order history over the analysis window
type StatsRecord struct {
	OrdersCount          int                      `json:"orders_count"`
	Categories           map[string]CategoryShare `json:"categories"`
	UniqueDishes         int                      `json:"unique_dishes"`
	TotalDishesAvailable int                      `json:"total_dishes_available"`
	FavoriteDishes       []DishCount              `json:"favorite_dishes"`
	LastOrderDate        *time.Time               `json:"last_order_date,omitempty"`
}

// Recommendation is the best-effort result of a generation.
// Summary is nil and Tips is empty when the upstream text could not be parsed.
type Recommendation struct {
	Summary *string  `json:"summary"`
	Tips    []string `json:"tips"`
}

// Empty reports whether the recommendation carries no content
func (r *Recommendation) Empty() bool {
	return r == nil || (r.Summary == nil && len(r.Tips) == 0)
}

func emptyRecommendation() *Recommendation {
	return &Recommendation{Summary: nil, Tips: []string{}}
}
