// Package firestore provides a Firestore implementation of the keypool.CounterStore interface.
// Each key is one document in a single collection; counters and lists are updated in
// transactions. Expiry is stored in an expiresAt field and applied lazily on read, so a
// Firestore TTL policy on that field is only needed to reclaim space.
package firestore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	fieldValue     = "value"
	fieldList      = "list"
	fieldExpiresAt = "expiresAt"
)

// Storage implements keypool.CounterStore using Google Cloud Firestore
type Storage struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

// Config holds Firestore storage configuration
type Config struct {
	// Collection holds one document per key
	// Default: "keypool_state"
	Collection string

	// Now is used for expiry decisions (default: time.Now)
	Now func() time.Time
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.Collection == "" {
		config.Collection = "keypool_state"
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Storage{
		client:     client,
		collection: config.Collection,
		now:        config.Now,
	}, nil
}

// GetInt implements keypool.CounterStore
func (s *Storage) GetInt(ctx context.Context, key string) (int, bool, error) {
	data, found, err := s.get(ctx, key)
	if err != nil || !found {
		return 0, false, err
	}
	v, err := strconv.Atoi(getString(data, fieldValue))
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}

// IncrBy implements keypool.CounterStore
func (s *Storage) IncrBy(ctx context.Context, key string, by int) (int, error) {
	doc := s.doc(key)
	var newValue int

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		current := 0
		record := map[string]interface{}{}
		if err == nil && snap.Exists() && s.alive(snap.Data()) {
			data := snap.Data()
			current, err = strconv.Atoi(getString(data, fieldValue))
			if err != nil {
				return fmt.Errorf("value of %s is not an integer", key)
			}
			if expiresAt, ok := data[fieldExpiresAt].(time.Time); ok {
				record[fieldExpiresAt] = expiresAt
			}
		}

		newValue = current + by
		record[fieldValue] = strconv.Itoa(newValue)
		return tx.Set(doc, record)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return newValue, nil
}

// TTL implements keypool.CounterStore. Missing keys report -2 and keys without expiry -1.
func (s *Storage) TTL(ctx context.Context, key string) (time.Duration, error) {
	data, found, err := s.get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return -2, nil
	}
	expiresAt, ok := data[fieldExpiresAt].(time.Time)
	if !ok {
		return -1, nil
	}
	return expiresAt.Sub(s.now()), nil
}

// Expire implements keypool.CounterStore
func (s *Storage) Expire(ctx context.Context, key string, ttl time.Duration) error {
	doc := s.doc(key)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if !snap.Exists() || !s.alive(snap.Data()) {
			return nil
		}
		return tx.Update(doc, []firestore.Update{{Path: fieldExpiresAt, Value: s.now().Add(ttl).UTC()}})
	})
	if err != nil {
		return fmt.Errorf("failed to expire %s: %w", key, err)
	}
	return nil
}

// SetString implements keypool.CounterStore
func (s *Storage) SetString(ctx context.Context, key, value string) error {
	return s.SetWithExpiry(ctx, key, value, 0)
}

// SetWithExpiry implements keypool.CounterStore. A zero ttl means no expiry.
func (s *Storage) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	record := map[string]interface{}{fieldValue: value}
	if ttl > 0 {
		record[fieldExpiresAt] = s.now().Add(ttl).UTC()
	}
	if _, err := s.doc(key).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// GetString implements keypool.CounterStore
func (s *Storage) GetString(ctx context.Context, key string) (string, bool, error) {
	data, found, err := s.get(ctx, key)
	if err != nil || !found {
		return "", false, err
	}
	v, ok := data[fieldValue].(string)
	return v, ok, nil
}

// Delete implements keypool.CounterStore
func (s *Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.doc(key).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// ListPushFront implements keypool.CounterStore
func (s *Storage) ListPushFront(ctx context.Context, key, value string) error {
	return s.updateList(ctx, key, func(list []string) []string {
		return append([]string{value}, list...)
	})
}

// ListTrim implements keypool.CounterStore
func (s *Storage) ListTrim(ctx context.Context, key string, start, stop int) error {
	return s.updateList(ctx, key, func(list []string) []string {
		lo, hi := listBounds(len(list), start, stop)
		if lo > hi {
			return nil
		}
		return list[lo : hi+1]
	})
}

// ListRange implements keypool.CounterStore
func (s *Storage) ListRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	data, found, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return []string{}, nil
	}
	list := getStrings(data, fieldList)
	lo, hi := listBounds(len(list), start, stop)
	if lo > hi {
		return []string{}, nil
	}
	return list[lo : hi+1], nil
}

func (s *Storage) updateList(ctx context.Context, key string, update func([]string) []string) error {
	doc := s.doc(key)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		var list []string
		if err == nil && snap.Exists() && s.alive(snap.Data()) {
			list = getStrings(snap.Data(), fieldList)
		}

		list = update(list)
		if len(list) == 0 {
			return tx.Delete(doc)
		}
		return tx.Set(doc, map[string]interface{}{fieldList: list})
	})
	if err != nil {
		return fmt.Errorf("failed to update list %s: %w", key, err)
	}
	return nil
}

// get returns the live document data for key
func (s *Storage) get(ctx context.Context, key string) (map[string]interface{}, bool, error) {
	snap, err := s.doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if !snap.Exists() {
		return nil, false, nil
	}

	data := snap.Data()
	if !s.alive(data) {
		return nil, false, nil
	}
	return data, true, nil
}

func (s *Storage) alive(data map[string]interface{}) bool {
	expiresAt, ok := data[fieldExpiresAt].(time.Time)
	return !ok || s.now().Before(expiresAt)
}

func (s *Storage) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(docID(key))
}

// docID maps a store key to a valid document id; '/' would address a subcollection.
func docID(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getStrings(data map[string]interface{}, key string) []string {
	raw, ok := data[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// listBounds resolves Redis-style inclusive indices (negative counts from the end).
func listBounds(n, start, stop int) (int, int) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}
