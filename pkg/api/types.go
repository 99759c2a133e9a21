package api

import (
	"time"

	"github.com/mihaimyh/gokeypool/pkg/recommend"
)

// PoolStatusResponse is the dashboard view of the key pool
type PoolStatusResponse struct {
	CurrentKeyIndex   int         `json:"current_key_index"`
	TotalKeys         int         `json:"total_keys"`
	MaxRequestsPerKey int         `json:"max_requests_per_key"`
	Available         bool        `json:"available"`
	Keys              []KeyStatus `json:"keys"`
}

// KeyStatus describes one credential; the key itself is never exposed
type KeyStatus struct {
	Index   int  `json:"index"`
	Used    int  `json:"used"`
	Invalid bool `json:"invalid"`
	Usable  bool `json:"usable"`
}

// RotationsResponse lists rotation events, most recent first
type RotationsResponse struct {
	Rotations []string `json:"rotations"`
}

// StatsSummary is the statistics block returned next to a recommendation
type StatsSummary struct {
	OrdersLastDays int                                `json:"orders_last_30_days"`
	Categories     map[string]recommend.CategoryShare `json:"categories"`
	UniqueDishes   int                                `json:"unique_dishes"`
	FavoriteDishes []recommend.DishCount              `json:"favorite_dishes"`
}

// RecommendationResponse is the latest recommendation of a user with fresh stats
type RecommendationResponse struct {
	Summary     *string      `json:"summary"`
	Tips        []string     `json:"tips"`
	Stats       StatsSummary `json:"stats"`
	GeneratedAt *time.Time   `json:"generated_at"`
}

// BatchRunResponse acknowledges a queued batch run
type BatchRunResponse struct {
	Status string `json:"status"`
}
