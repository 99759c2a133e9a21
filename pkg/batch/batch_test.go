package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gokeypool/pkg/keypool"
	"github.com/mihaimyh/gokeypool/pkg/recommend"
	"github.com/mihaimyh/gokeypool/storage/memory"
)

type fakeSource struct {
	users     []int64
	listErr   error
	statsErr  map[int64]error
	minOrders int
	days      int
}

func (f *fakeSource) UserStats(_ context.Context, userID int64, _ int) (*recommend.StatsRecord, error) {
	if err := f.statsErr[userID]; err != nil {
		return nil, err
	}
	return &recommend.StatsRecord{OrdersCount: int(userID)}, nil
}

func (f *fakeSource) ActiveUsers(_ context.Context, minOrders, days int) ([]int64, error) {
	f.minOrders, f.days = minOrders, days
	return f.users, f.listErr
}

// fakeGenerator fails for users listed in errs; users are identified by OrdersCount
type fakeGenerator struct {
	errs  map[int64]error
	calls atomic.Int64
}

func (g *fakeGenerator) Generate(_ context.Context, stats recommend.StatsRecord) (*recommend.Recommendation, error) {
	g.calls.Add(1)
	if err := g.errs[int64(stats.OrdersCount)]; err != nil {
		return nil, err
	}
	summary := fmt.Sprintf("user %d", stats.OrdersCount)
	return &recommend.Recommendation{Summary: &summary, Tips: []string{"tip"}}, nil
}

func newRunner(t *testing.T, source *fakeSource, gen Generator, concurrency int) (*Runner, *recommend.Cache) {
	t.Helper()
	cache := recommend.NewCache(memory.New(), recommend.CacheConfig{})
	runner, err := NewRunner(source, gen, cache, Config{Concurrency: concurrency})
	require.NoError(t, err)
	return runner, cache
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(nil, &fakeGenerator{}, recommend.NewCache(memory.New(), recommend.CacheConfig{}), Config{})
	assert.Error(t, err)

	runner, err := NewRunner(&fakeSource{}, &fakeGenerator{}, recommend.NewCache(memory.New(), recommend.CacheConfig{}), Config{})
	require.NoError(t, err)
	assert.Equal(t, 5, runner.config.MinOrders)
	assert.Equal(t, 30, runner.config.WindowDays)
	assert.Equal(t, 1, runner.config.Concurrency)
}

func TestRun_AllSucceed(t *testing.T) {
	source := &fakeSource{users: []int64{5, 6, 7}}
	runner, cache := newRunner(t, source, &fakeGenerator{}, 2)
	ctx := context.Background()

	summary, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalUsers)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.False(t, summary.Exhausted)
	assert.InDelta(t, 100.0, summary.SuccessRate(), 0.001)

	assert.Equal(t, 5, source.minOrders)
	assert.Equal(t, 30, source.days)

	for _, id := range source.users {
		got, err := cache.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, fmt.Sprintf("user %d", id), *got.Summary)
	}
}

func TestRun_NoUsers(t *testing.T) {
	gen := &fakeGenerator{}
	runner, _ := newRunner(t, &fakeSource{}, gen, 1)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalUsers)
	assert.Equal(t, 0.0, summary.SuccessRate())
	assert.Equal(t, int64(0), gen.calls.Load())
}

func TestRun_ListFailure(t *testing.T) {
	runner, _ := newRunner(t, &fakeSource{listErr: errors.New("db down")}, &fakeGenerator{}, 1)

	summary, err := runner.Run(context.Background())
	assert.Error(t, err)
	assert.Nil(t, summary)
}

func TestRun_FailuresDoNotStopBatch(t *testing.T) {
	source := &fakeSource{
		users:    []int64{5, 6, 7, 8},
		statsErr: map[int64]error{6: errors.New("query failed")},
	}
	gen := &fakeGenerator{errs: map[int64]error{7: fmt.Errorf("bad request: %w", recommend.ErrFatal)}}
	runner, cache := newRunner(t, source, gen, 1)
	ctx := context.Background()

	summary, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 4, summary.Processed())
	assert.InDelta(t, 50.0, summary.SuccessRate(), 0.001)

	got, err := cache.Get(ctx, 8)
	require.NoError(t, err)
	assert.NotNil(t, got, "users after a failure are still processed")

	got, err = cache.Get(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRun_ExhaustionStopsBatch(t *testing.T) {
	source := &fakeSource{users: []int64{5, 6, 7, 8, 9}}
	gen := &fakeGenerator{errs: map[int64]error{6: keypool.ErrPoolExhausted}}
	runner, cache := newRunner(t, source, gen, 1)
	ctx := context.Background()

	summary, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Exhausted)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, int64(2), gen.calls.Load(), "no user is attempted after exhaustion")

	got, err := cache.Get(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRun_WrappedExhaustionStopsBatch(t *testing.T) {
	source := &fakeSource{users: []int64{5, 6, 7}}
	wrapped := fmt.Errorf("%w: last attempt failed: %w", keypool.ErrPoolExhausted, recommend.ErrTransient)
	gen := &fakeGenerator{errs: map[int64]error{5: wrapped}}
	runner, _ := newRunner(t, source, gen, 1)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Exhausted)
	assert.Equal(t, 0, summary.Succeeded)
}

// blockingGenerator holds every call until ctx ends, except for the exhausting user
type blockingGenerator struct {
	started sync.WaitGroup
}

func (g *blockingGenerator) Generate(ctx context.Context, stats recommend.StatsRecord) (*recommend.Recommendation, error) {
	if stats.OrdersCount == 5 {
		g.started.Wait()
		return nil, keypool.ErrPoolExhausted
	}
	g.started.Done()
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_ExhaustionCancelsInFlightWithoutCountingThem(t *testing.T) {
	gen := &blockingGenerator{}
	gen.started.Add(2)
	source := &fakeSource{users: []int64{6, 7, 5}}
	runner, _ := newRunner(t, source, gen, 3)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Exhausted)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.Succeeded)
}

func TestRun_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &fakeSource{users: []int64{5, 6}}
	runner, _ := newRunner(t, source, &fakeGenerator{}, 1)

	_, err := runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
