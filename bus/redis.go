package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultQueueKey     = "identity:registration:requests"
	DefaultReplyTTL     = time.Minute
	DefaultWaitTimeout  = 10 * time.Second
	DefaultPollInterval = time.Second
)

// ErrNoReply is returned when no reply arrived before the wait expired. It
// matches context.DeadlineExceeded.
var ErrNoReply error = noReplyError{}

type noReplyError struct{}

func (noReplyError) Error() string { return "bus: no reply received" }

func (noReplyError) Is(target error) bool { return target == context.DeadlineExceeded }

// RedisOptions configures the Redis list transport.
type RedisOptions struct {
	QueueKey     string
	ReplyTTL     time.Duration
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

func (o RedisOptions) withDefaults() RedisOptions {
	if strings.TrimSpace(o.QueueKey) == "" {
		o.QueueKey = DefaultQueueKey
	}
	if o.ReplyTTL <= 0 {
		o.ReplyTTL = DefaultReplyTTL
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

type envelope struct {
	ReplyTo  string                       `json:"reply_to"`
	Deadline time.Time                    `json:"deadline,omitzero"`
	Request  identity.RegistrationRequest `json:"request"`
}

func (e envelope) expired(now time.Time) bool {
	return !e.Deadline.IsZero() && now.After(e.Deadline)
}

// Redis carries registration requests over a Redis list. Replies come back
// on a per correlation list so concurrent requests never share a key.
type Redis struct {
	client redis.UniversalClient
	opts   RedisOptions
	logger identity.Logger
}

var _ identity.EventBus = (*Redis)(nil)

// NewRedis returns a Redis bus using client
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	return &Redis{
		client: client,
		opts:   opts.withDefaults(),
		logger: noopLogger{},
	}
}

func (r *Redis) WithLogger(logger identity.Logger) *Redis {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// ReplyKey is the list a responder pushes the result for correlationID to
func (r *Redis) ReplyKey(correlationID string) string {
	return r.opts.QueueKey + ":reply:" + correlationID
}

// Request pushes req on the queue and blocks until the reply list gets a
// value, ctx is done, or the wait timeout elapses.
func (r *Redis) Request(ctx context.Context, req identity.RegistrationRequest) (identity.RegistrationResult, error) {
	if req.CorrelationID == "" {
		return identity.RegistrationResult{}, fmt.Errorf("bus: correlation id required")
	}

	wait := r.opts.WaitTimeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if wait <= 0 {
		return identity.RegistrationResult{}, context.DeadlineExceeded
	}

	replyKey := r.ReplyKey(req.CorrelationID)
	payload, err := json.Marshal(envelope{
		ReplyTo:  replyKey,
		Deadline: time.Now().Add(wait),
		Request:  req,
	})
	if err != nil {
		return identity.RegistrationResult{}, fmt.Errorf("bus: encode request: %w", err)
	}

	if err := r.client.RPush(ctx, r.opts.QueueKey, payload).Err(); err != nil {
		return identity.RegistrationResult{}, fmt.Errorf("bus: publish request: %w", err)
	}

	r.logger.Debug("bus request published", "correlation_id", req.CorrelationID, "queue", r.opts.QueueKey)

	values, err := r.client.BLPop(ctx, wait, replyKey).Result()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return identity.RegistrationResult{}, ctxErr
		}
		if errors.Is(err, redis.Nil) {
			return identity.RegistrationResult{}, ErrNoReply
		}
		return identity.RegistrationResult{}, fmt.Errorf("bus: await reply: %w", err)
	}

	if len(values) != 2 {
		return identity.RegistrationResult{}, fmt.Errorf("bus: unexpected reply shape")
	}

	var result identity.RegistrationResult
	if err := json.Unmarshal([]byte(values[1]), &result); err != nil {
		return identity.RegistrationResult{}, fmt.Errorf("bus: decode reply: %w", err)
	}

	return result, nil
}

// Serve consumes requests from the queue and answers each with handler
// until ctx is done. A handler error is reported back as an invalid result.
func (r *Redis) Serve(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("bus: handler required")
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		values, err := r.client.BLPop(ctx, r.opts.PollInterval, r.opts.QueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			r.logger.Error("bus serve pop error", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.opts.PollInterval):
			}
			continue
		}

		if len(values) != 2 {
			continue
		}

		if err := r.answer(ctx, values[1], handler); err != nil {
			r.logger.Error("bus serve answer error", "error", err)
		}
	}
}

func (r *Redis) answer(ctx context.Context, raw string, handler Handler) error {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if env.expired(time.Now()) {
		r.logger.Warn("bus request expired before it was served",
			"correlation_id", env.Request.CorrelationID,
			"deadline", env.Deadline,
		)
		return nil
	}
	if env.ReplyTo == "" {
		env.ReplyTo = r.ReplyKey(env.Request.CorrelationID)
	}

	result, err := handler(ctx, env.Request)
	if err != nil {
		result = identity.RegistrationResult{
			Valid:  false,
			Errors: []string{err.Error()},
		}
	}
	if result.CorrelationID == "" {
		result.CorrelationID = env.Request.CorrelationID
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, env.ReplyTo, payload)
	pipe.Expire(ctx, env.ReplyTo, r.opts.ReplyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}

	r.logger.Debug("bus reply published", "correlation_id", result.CorrelationID, "valid", result.Valid)
	return nil
}
