package bus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/bus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBus(t *testing.T, opts bus.RedisOptions) (*bus.Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return bus.NewRedis(client, opts), mr
}

func TestRedisRequestReply(t *testing.T) {
	requester, mr := newRedisBus(t, bus.RedisOptions{PollInterval: time.Second})

	responderClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = responderClient.Close() })
	responder := bus.NewRedis(responderClient, bus.RedisOptions{PollInterval: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan identity.RegistrationRequest, 1)
	served := make(chan error, 1)
	go func() {
		served <- responder.Serve(ctx, func(ctx context.Context, req identity.RegistrationRequest) (identity.RegistrationResult, error) {
			received <- req
			return identity.RegistrationResult{
				CorrelationID: req.CorrelationID,
				Valid:         false,
				Errors:        []string{"social number already in use"},
			}, nil
		})
	}()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()

	result, err := requester.Request(reqCtx, identity.RegistrationRequest{
		CorrelationID: "corr-1",
		UserID:        "user-1",
		Name:          "Ada",
		Email:         "a@x.com",
		SocialNumber:  "123",
	})
	require.NoError(t, err)
	assert.Equal(t, "corr-1", result.CorrelationID)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"social number already in use"}, result.Errors)

	req := <-received
	assert.Equal(t, "user-1", req.UserID)
	assert.Equal(t, "a@x.com", req.Email)

	assert.False(t, mr.Exists(requester.ReplyKey("corr-1")))

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestRedisHandlerErrorIsInvalidResult(t *testing.T) {
	requester, mr := newRedisBus(t, bus.RedisOptions{})
	responder := bus.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), bus.RedisOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = responder.Serve(ctx, func(ctx context.Context, req identity.RegistrationRequest) (identity.RegistrationResult, error) {
			return identity.RegistrationResult{}, errors.New("customer service failed")
		})
	}()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()

	result, err := requester.Request(reqCtx, identity.RegistrationRequest{CorrelationID: "corr-2"})
	require.NoError(t, err)
	assert.Equal(t, "corr-2", result.CorrelationID)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"customer service failed"}, result.Errors)
}

func TestRedisRequestWithoutResponder(t *testing.T) {
	requester, mr := newRedisBus(t, bus.RedisOptions{WaitTimeout: time.Second})

	_, err := requester.Request(context.Background(), identity.RegistrationRequest{CorrelationID: "corr-3"})
	require.ErrorIs(t, err, bus.ErrNoReply)

	queued, err := mr.List(bus.DefaultQueueKey)
	require.NoError(t, err)
	assert.Len(t, queued, 1)
}

func TestRedisRequestRequiresCorrelationID(t *testing.T) {
	requester, _ := newRedisBus(t, bus.RedisOptions{})

	_, err := requester.Request(context.Background(), identity.RegistrationRequest{})
	require.Error(t, err)
}

func TestRedisServeRequiresHandler(t *testing.T) {
	responder, _ := newRedisBus(t, bus.RedisOptions{})
	require.Error(t, responder.Serve(context.Background(), nil))
}

func TestRedisServeDropsExpiredRequests(t *testing.T) {
	requester, mr := newRedisBus(t, bus.RedisOptions{PollInterval: 50 * time.Millisecond})

	stale := `{"reply_to":"stale-reply","deadline":"2020-01-01T00:00:00Z","request":{"correlation_id":"stale"}}`
	_, err := mr.Push(bus.DefaultQueueKey, stale)
	require.NoError(t, err)

	responderClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = responderClient.Close() })
	responder := bus.NewRedis(responderClient, bus.RedisOptions{PollInterval: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan string, 2)
	go func() {
		_ = responder.Serve(ctx, func(ctx context.Context, req identity.RegistrationRequest) (identity.RegistrationResult, error) {
			seen <- req.CorrelationID
			return identity.RegistrationResult{Valid: true}, nil
		})
	}()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()

	result, err := requester.Request(reqCtx, identity.RegistrationRequest{CorrelationID: "fresh"})
	require.NoError(t, err)
	assert.True(t, result.Valid)

	assert.Equal(t, "fresh", <-seen)
	assert.Empty(t, seen)
	assert.False(t, mr.Exists("stale-reply"))
}

func TestRedisNoReplyCountsAsDeadline(t *testing.T) {
	requester, _ := newRedisBus(t, bus.RedisOptions{WaitTimeout: time.Second})

	_, err := requester.Request(context.Background(), identity.RegistrationRequest{CorrelationID: "corr-late"})
	require.ErrorIs(t, err, bus.ErrNoReply)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
