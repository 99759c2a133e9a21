package recommend_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gokeypool/pkg/keypool"
	"github.com/mihaimyh/gokeypool/pkg/recommend"
	"github.com/mihaimyh/gokeypool/storage/memory"
)

const validResponse = `{"summary": "Сбалансированный рацион", "tips": ["Добавьте салат", "Попробуйте рыбу"]}`

// scriptedCompleter answers each call with respond(call number, api key)
type scriptedCompleter struct {
	mu      sync.Mutex
	keys    []string
	respond func(call int, apiKey string) (string, error)
}

func (s *scriptedCompleter) Complete(_ context.Context, apiKey, _ string) (string, error) {
	s.mu.Lock()
	s.keys = append(s.keys, apiKey)
	call := len(s.keys)
	s.mu.Unlock()
	return s.respond(call, apiKey)
}

func (s *scriptedCompleter) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func newPool(t *testing.T, n int) *keypool.Pool {
	t.Helper()
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}
	pool, err := keypool.New(memory.New(), keypool.Config{Keys: keys})
	require.NoError(t, err)
	return pool
}

func newClient(t *testing.T, pool recommend.Pool, completer recommend.Completer) *recommend.Client {
	t.Helper()
	client, err := recommend.NewClient(pool, completer, recommend.Config{})
	require.NoError(t, err)
	return client
}

func sampleStats() recommend.StatsRecord {
	return recommend.StatsRecord{
		OrdersCount: 12,
		Categories: map[string]recommend.CategoryShare{
			"soup": {Count: 6, Percent: 50},
			"main": {Count: 6, Percent: 50},
		},
		UniqueDishes:         7,
		TotalDishesAvailable: 40,
		FavoriteDishes:       []recommend.DishCount{{Name: "Борщ", Count: 5}},
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := recommend.NewClient(nil, &scriptedCompleter{}, recommend.Config{})
	assert.ErrorIs(t, err, recommend.ErrInvalidConfiguration)

	_, err = recommend.NewClient(newPool(t, 1), nil, recommend.Config{})
	assert.ErrorIs(t, err, recommend.ErrInvalidConfiguration)
}

func TestGenerate_Success(t *testing.T) {
	completer := &scriptedCompleter{respond: func(int, string) (string, error) {
		return "```json\n" + validResponse + "\n```", nil
	}}
	client := newClient(t, newPool(t, 2), completer)

	rec, err := client.Generate(context.Background(), sampleStats())
	require.NoError(t, err)
	require.NotNil(t, rec.Summary)
	assert.Equal(t, "Сбалансированный рацион", *rec.Summary)
	assert.Equal(t, []string{"Добавьте салат", "Попробуйте рыбу"}, rec.Tips)
	assert.Equal(t, []string{"key-0"}, completer.calls())
}

func TestGenerate_RateLimitedRetryBound(t *testing.T) {
	completer := &scriptedCompleter{respond: func(int, string) (string, error) {
		return "", &recommend.ServiceError{StatusCode: 429, Message: "Resource has been exhausted"}
	}}
	client := newClient(t, newPool(t, 3), completer)

	_, err := client.Generate(context.Background(), sampleStats())
	assert.ErrorIs(t, err, keypool.ErrPoolExhausted)
	assert.Len(t, completer.calls(), 3, "one attempt per key, never more")
	assert.ElementsMatch(t, []string{"key-0", "key-1", "key-2"}, completer.calls())
}

func TestGenerate_UnauthorizedMarksAndSkips(t *testing.T) {
	pool := newPool(t, 2)
	completer := &scriptedCompleter{respond: func(call int, apiKey string) (string, error) {
		if apiKey == "key-0" {
			return "", &recommend.ServiceError{StatusCode: 401, Message: "API key not valid"}
		}
		return validResponse, nil
	}}
	client := newClient(t, pool, completer)
	ctx := context.Background()

	rec, err := client.Generate(ctx, sampleStats())
	require.NoError(t, err)
	assert.False(t, rec.Empty())
	assert.Equal(t, []string{"key-0", "key-1"}, completer.calls())

	status, err := pool.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []keypool.Index{0}, status.InvalidKeys)
	assert.Equal(t, keypool.Index(1), status.CurrentIndex)
}

func TestGenerate_AllUnauthorized(t *testing.T) {
	pool := newPool(t, 2)
	completer := &scriptedCompleter{respond: func(int, string) (string, error) {
		return "", &recommend.ServiceError{StatusCode: 401}
	}}
	client := newClient(t, pool, completer)
	ctx := context.Background()

	_, err := client.Generate(ctx, sampleStats())
	assert.ErrorIs(t, err, keypool.ErrPoolExhausted)

	status, err := pool.Status(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []keypool.Index{0, 1}, status.InvalidKeys)
}

func TestGenerate_FatalPropagates(t *testing.T) {
	completer := &scriptedCompleter{respond: func(int, string) (string, error) {
		return "", &recommend.ServiceError{StatusCode: 400, Message: "Invalid JSON payload"}
	}}
	pool := newPool(t, 3)
	client := newClient(t, pool, completer)

	_, err := client.Generate(context.Background(), sampleStats())
	require.Error(t, err)
	assert.ErrorIs(t, err, recommend.ErrFatal)
	assert.NotErrorIs(t, err, keypool.ErrPoolExhausted)

	var svcErr *recommend.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 400, svcErr.StatusCode)
	assert.Len(t, completer.calls(), 1)

	status, err := pool.Status(context.Background())
	require.NoError(t, err)
	assert.Empty(t, status.InvalidKeys)
}

func TestGenerate_TransientRecovers(t *testing.T) {
	completer := &scriptedCompleter{respond: func(call int, _ string) (string, error) {
		if call == 1 {
			return "", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
		}
		return validResponse, nil
	}}
	client := newClient(t, newPool(t, 2), completer)

	rec, err := client.Generate(context.Background(), sampleStats())
	require.NoError(t, err)
	assert.Len(t, rec.Tips, 2)
	assert.Equal(t, []string{"key-0", "key-1"}, completer.calls())
}

func TestGenerate_TransientOnLastAttempt(t *testing.T) {
	upstream := &recommend.ServiceError{StatusCode: 503, Message: "overloaded"}

	t.Run("single key propagates directly", func(t *testing.T) {
		completer := &scriptedCompleter{respond: func(int, string) (string, error) { return "", upstream }}
		client := newClient(t, newPool(t, 1), completer)

		_, err := client.Generate(context.Background(), sampleStats())
		assert.ErrorIs(t, err, recommend.ErrTransient)
		assert.NotErrorIs(t, err, keypool.ErrPoolExhausted)
	})

	t.Run("several keys report exhaustion", func(t *testing.T) {
		completer := &scriptedCompleter{respond: func(int, string) (string, error) { return "", upstream }}
		client := newClient(t, newPool(t, 3), completer)

		_, err := client.Generate(context.Background(), sampleStats())
		assert.ErrorIs(t, err, keypool.ErrPoolExhausted)
		assert.ErrorIs(t, err, recommend.ErrTransient)
		assert.Len(t, completer.calls(), 3)
	})
}

func TestGenerate_TimeoutIsTransient(t *testing.T) {
	completer := &blockingCompleter{}
	pool := newPool(t, 2)
	client, err := recommend.NewClient(pool, completer, recommend.Config{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), sampleStats())
	assert.ErrorIs(t, err, keypool.ErrPoolExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerate_ExhaustedPoolFailsBeforeCalling(t *testing.T) {
	pool := newPool(t, 2)
	ctx := context.Background()
	require.NoError(t, pool.MarkInvalid(ctx, 0))
	require.NoError(t, pool.MarkInvalid(ctx, 1))

	completer := &scriptedCompleter{respond: func(int, string) (string, error) { return validResponse, nil }}
	client := newClient(t, pool, completer)

	_, err := client.Generate(ctx, sampleStats())
	assert.ErrorIs(t, err, keypool.ErrPoolExhausted)
	assert.Empty(t, completer.calls())
}

func TestGenerate_MalformedResponseDegrades(t *testing.T) {
	completer := &scriptedCompleter{respond: func(int, string) (string, error) { return "not json at all", nil }}
	client := newClient(t, newPool(t, 1), completer)

	rec, err := client.Generate(context.Background(), sampleStats())
	require.NoError(t, err)
	assert.Nil(t, rec.Summary)
	assert.Equal(t, []string{}, rec.Tips)
}

func TestGenerate_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	completer := &scriptedCompleter{respond: func(int, string) (string, error) {
		cancel()
		return "", context.Canceled
	}}
	client := newClient(t, newPool(t, 3), completer)

	_, err := client.Generate(ctx, sampleStats())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, completer.calls(), 1)
}

// blockingCompleter waits until its context ends
type blockingCompleter struct{}

func (blockingCompleter) Complete(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
