package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/mihaimyh/gokeypool/pkg/keypool"
	"github.com/mihaimyh/gokeypool/pkg/recommend"
)

var (
	// ErrBadRequest marks client errors (malformed ids)
	ErrBadRequest = errors.New("bad request")

	// ErrNotEnoughOrders is returned when a user has too few orders for a recommendation
	ErrNotEnoughOrders = errors.New("not enough orders for recommendations")
)

// Handler serves the key pool admin and recommendation endpoints
type Handler struct {
	config Config
	logger keypool.Logger
	group  singleflight.Group
}

// Routes returns a chi router with every endpoint mounted
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/pool/status", h.GetPoolStatus)
	r.Get("/pool/rotations", h.GetRotations)
	r.Delete("/pool/keys/{index}/invalid", h.ClearInvalid)
	r.Get("/users/{id}/recommendations", h.GetRecommendations)
	r.Post("/users/{id}/recommendations/generate", h.GenerateRecommendations)
	if h.config.Batch != nil {
		r.Post("/batch/run", h.RunBatch)
	}
	return r
}

// RunBatch queues a batch generation run and returns immediately
func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	if h.config.Batch == nil {
		http.NotFound(w, r)
		return
	}

	h.config.Batch.Trigger()
	h.logger.Info("Batch run requested via API")
	h.writeJSON(w, http.StatusAccepted, BatchRunResponse{Status: "queued"})
}

// GetPoolStatus returns usage and validity of every key
func (h *Handler) GetPoolStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.config.Pool.Status(ctx)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to get pool status: %w", err), http.StatusInternalServerError)
		return
	}

	response := PoolStatusResponse{
		CurrentKeyIndex:   int(status.CurrentIndex),
		TotalKeys:         status.TotalKeys,
		MaxRequestsPerKey: status.MaxRequestsPerKey,
		Keys:              make([]KeyStatus, 0, status.TotalKeys),
	}
	for i := 0; i < status.TotalKeys; i++ {
		index := keypool.Index(i)
		usable := status.Usable(index)
		response.Keys = append(response.Keys, KeyStatus{
			Index:   i,
			Used:    status.UsageCounts[index],
			Invalid: isInvalid(status, index),
			Usable:  usable,
		})
		response.Available = response.Available || usable
	}

	h.writeJSON(w, http.StatusOK, response)
}

// GetRotations returns the recent rotation log
func (h *Handler) GetRotations(w http.ResponseWriter, r *http.Request) {
	entries, err := h.config.Pool.RotationLog(r.Context(), h.config.RotationLogLimit)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to read rotation log: %w", err), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []string{}
	}
	h.writeJSON(w, http.StatusOK, RotationsResponse{Rotations: entries})
}

// ClearInvalid removes the invalid flag of a key after an operator replaced or re-enabled it
func (h *Handler) ClearInvalid(w http.ResponseWriter, r *http.Request) {
	raw := h.config.GetKeyIndex(r)
	index, err := strconv.Atoi(raw)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("%w: invalid key index %q", ErrBadRequest, raw), http.StatusBadRequest)
		return
	}

	err = h.config.Pool.ClearInvalid(r.Context(), keypool.Index(index))
	switch {
	case errors.Is(err, keypool.ErrIndexOutOfRange):
		h.handleError(w, r, err, http.StatusNotFound)
		return
	case err != nil:
		h.handleError(w, r, fmt.Errorf("failed to clear invalid flag: %w", err), http.StatusInternalServerError)
		return
	}

	h.logger.Info("Key invalid flag cleared via API", keypool.Field{Key: "key_index", Value: index})
	w.WriteHeader(http.StatusNoContent)
}

// GetRecommendations returns the cached recommendation of a user together with fresh stats
func (h *Handler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	userStats, err := h.config.Stats.UserStats(ctx, userID, h.config.WindowDays)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to get user stats: %w", err), http.StatusInternalServerError)
		return
	}

	cached, err := h.config.Cache.Get(ctx, userID)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to read cached recommendations: %w", err), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, buildResponse(cached, userStats))
}

// GenerateRecommendations generates a recommendation now, bypassing the nightly batch.
// Concurrent requests for the same user share a single generation.
func (h *Handler) GenerateRecommendations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	userStats, err := h.config.Stats.UserStats(ctx, userID, h.config.WindowDays)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to get user stats: %w", err), http.StatusInternalServerError)
		return
	}

	if userStats.OrdersCount < h.config.MinOrders {
		h.handleError(w, r, fmt.Errorf("%w: %d of %d required", ErrNotEnoughOrders, userStats.OrdersCount, h.config.MinOrders),
			http.StatusBadRequest)
		return
	}

	v, err, shared := h.group.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		return h.generate(context.WithoutCancel(ctx), userID, *userStats)
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, keypool.ErrPoolExhausted) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Error("Failed to generate recommendations",
			keypool.Field{Key: "user_tgid", Value: userID},
			keypool.Field{Key: "error", Value: err.Error()},
		)
		h.handleError(w, r, err, status)
		return
	}

	cached, _ := v.(*recommend.CachedRecommendation)
	h.logger.Info("Recommendations generated on demand",
		keypool.Field{Key: "user_tgid", Value: userID},
		keypool.Field{Key: "shared", Value: shared},
	)
	h.writeJSON(w, http.StatusOK, buildResponse(cached, userStats))
}

func (h *Handler) generate(ctx context.Context, userID int64, userStats recommend.StatsRecord) (*recommend.CachedRecommendation, error) {
	rec, err := h.config.Generator.Generate(ctx, userStats)
	if err != nil {
		return nil, err
	}
	return h.config.Cache.Put(ctx, userID, rec)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := h.config.GetUserID(r)
	if raw == "" {
		h.handleError(w, r, fmt.Errorf("%w: user ID not found", ErrBadRequest), http.StatusBadRequest)
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("%w: invalid user ID format", ErrBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func buildResponse(cached *recommend.CachedRecommendation, userStats *recommend.StatsRecord) RecommendationResponse {
	response := RecommendationResponse{
		Tips: []string{},
		Stats: StatsSummary{
			OrdersLastDays: userStats.OrdersCount,
			Categories:     userStats.Categories,
			UniqueDishes:   userStats.UniqueDishes,
			FavoriteDishes: userStats.FavoriteDishes,
		},
	}
	if response.Stats.Categories == nil {
		response.Stats.Categories = map[string]recommend.CategoryShare{}
	}
	if response.Stats.FavoriteDishes == nil {
		response.Stats.FavoriteDishes = []recommend.DishCount{}
	}
	if cached != nil {
		response.Summary = cached.Summary
		if cached.Tips != nil {
			response.Tips = cached.Tips
		}
		generatedAt := cached.GeneratedAt
		response.GeneratedAt = &generatedAt
	}
	return response
}

func isInvalid(status *keypool.Status, index keypool.Index) bool {
	for _, inv := range status.InvalidKeys {
		if inv == index {
			return true
		}
	}
	return false
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", keypool.Field{Key: "error", Value: err.Error()})
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	h.writeJSON(w, statusCode, map[string]string{"error": err.Error()})
}
