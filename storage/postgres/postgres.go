// Package postgres reads order statistics from the lunch-ordering PostgreSQL database.
// It implements stats.Source over the orders and menu_items tables.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/gokeypool/pkg/recommend"
	"github.com/mihaimyh/gokeypool/pkg/stats"
)

// Storage implements stats.Source using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Now anchors the analysis window (default: time.Now)
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL statistics source
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks database connectivity
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UserStats implements stats.Source
func (s *Storage) UserStats(ctx context.Context, userID int64, days int) (*recommend.StatsRecord, error) {
	if days <= 0 {
		days = stats.DefaultWindowDays
	}
	since := s.config.Now().AddDate(0, 0, -days)

	orders, err := s.orders(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	total, err := s.availableDishes(ctx)
	if err != nil {
		return nil, err
	}

	top := stats.TopDishes(orders, stats.FavoriteDishesLimit)
	names, err := s.dishNames(ctx, top)
	if err != nil {
		return nil, err
	}

	last, err := s.lastOrderDate(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &recommend.StatsRecord{
		OrdersCount:          len(orders),
		Categories:           stats.CategoryDistribution(orders),
		UniqueDishes:         stats.UniqueDishes(orders),
		TotalDishesAvailable: total,
		FavoriteDishes:       stats.NameDishes(top, names),
		LastOrderDate:        last,
	}, nil
}

// ActiveUsers implements stats.Source
func (s *Storage) ActiveUsers(ctx context.Context, minOrders, days int) ([]int64, error) {
	if days <= 0 {
		days = stats.DefaultWindowDays
	}
	since := s.config.Now().AddDate(0, 0, -days)

	rows, err := s.pool.Query(ctx,
		`SELECT user_tgid FROM orders
			WHERE created_at >= $1
			GROUP BY user_tgid
			HAVING count(id) >= $2
			ORDER BY user_tgid`,
		since, minOrders)
	if err != nil {
		return nil, fmt.Errorf("failed to query active users: %w", err)
	}

	users, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to read active users: %w", err)
	}
	return users, nil
}

func (s *Storage) orders(ctx context.Context, userID int64, since time.Time) ([]stats.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT combo_items, extras FROM orders
			WHERE user_tgid = $1 AND created_at >= $2`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []stats.Order
	for rows.Next() {
		var comboRaw, extrasRaw []byte
		if err := rows.Scan(&comboRaw, &extrasRaw); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		var o stats.Order
		if err := decodeItems(comboRaw, &o.ComboItems); err != nil {
			return nil, fmt.Errorf("failed to decode combo items: %w", err)
		}
		if err := decodeItems(extrasRaw, &o.Extras); err != nil {
			return nil, fmt.Errorf("failed to decode extras: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}
	return orders, nil
}

func (s *Storage) availableDishes(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(id) FROM menu_items WHERE is_available`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count menu items: %w", err)
	}
	return count, nil
}

func (s *Storage) dishNames(ctx context.Context, dishes []stats.DishWeight) (map[int64]string, error) {
	names := make(map[int64]string, len(dishes))
	if len(dishes) == 0 {
		return names, nil
	}

	ids := make([]int64, len(dishes))
	for i, d := range dishes {
		ids[i] = d.MenuItemID
	}

	rows, err := s.pool.Query(ctx, `SELECT id, name FROM menu_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query menu item names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan menu item: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}

func (s *Storage) lastOrderDate(ctx context.Context, userID int64) (*time.Time, error) {
	var last time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT created_at FROM orders WHERE user_tgid = $1 ORDER BY created_at DESC LIMIT 1`,
		userID).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last order date: %w", err)
	}
	return &last, nil
}

// decodeItems unmarshals a jsonb array column; NULL decodes to an empty list
func decodeItems[T any](raw []byte, out *[]T) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
