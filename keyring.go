package identity

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type keySnapshot struct {
	current SigningKey
	keys    []SigningKey
}

// KeyRing is the default SigningKeyProvider. Readers see an immutable snapshot
// that rotation replaces atomically; rotations are serialized.
type KeyRing struct {
	store          KeyStore
	algorithm      string
	rotationPeriod time.Duration
	retention      int
	now            func() time.Time
	logger         Logger
	activitySink   ActivitySink

	mu       sync.Mutex
	snapshot atomic.Pointer[keySnapshot]
}

var _ SigningKeyProvider = (*KeyRing)(nil)

// NewKeyRing returns a key ring persisting through store. A nil store keeps
// keys in memory only.
func NewKeyRing(store KeyStore, cfg Config) *KeyRing {
	if cfg == nil {
		cfg = Options{}
	}
	return &KeyRing{
		store:          store,
		algorithm:      cfg.GetSigningAlgorithm(),
		rotationPeriod: cfg.GetKeyRotationPeriod(),
		retention:      cfg.GetKeyRetention(),
		now:            time.Now,
		logger:         defLogger{},
		activitySink:   noopActivitySink{},
	}
}

func (r *KeyRing) WithLogger(logger Logger) *KeyRing {
	r.logger = normalizeLogger(logger)
	return r
}

// WithClock injects a custom clock (useful for tests).
func (r *KeyRing) WithClock(clock func() time.Time) *KeyRing {
	if clock != nil {
		r.now = clock
	}
	return r
}

func (r *KeyRing) WithActivitySink(sink ActivitySink) *KeyRing {
	r.activitySink = normalizeActivitySink(sink)
	return r
}

// Load reads persisted keys. Keys are ordered newest first; the key flagged as
// current wins, falling back to the newest one.
func (r *KeyRing) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.store.LoadKeys(ctx)
	if err != nil {
		return newError(ErrSigningKeyUnavailable, err, map[string]any{"operation": "load"})
	}

	if len(keys) == 0 {
		return nil
	}

	r.snapshot.Store(buildSnapshot(keys))
	r.logger.Debug("signing keys loaded", "count", len(keys))
	return nil
}

// Current returns the active signing key, generating the first one on demand.
func (r *KeyRing) Current(ctx context.Context) (SigningKey, error) {
	snap, err := r.ensure(ctx)
	if err != nil {
		return SigningKey{}, err
	}
	return snap.current, nil
}

// History returns up to the configured retention of keys, newest first.
func (r *KeyRing) History(ctx context.Context) ([]SigningKey, error) {
	snap, err := r.ensure(ctx)
	if err != nil {
		return nil, err
	}

	n := len(snap.keys)
	if r.retention > 0 && n > r.retention {
		n = r.retention
	}

	out := make([]SigningKey, n)
	copy(out, snap.keys[:n])
	return out, nil
}

// Rotate creates a new current key. Prior keys are kept for verification.
func (r *KeyRing) Rotate(ctx context.Context) (SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateLocked(ctx)
}

// RotateIfDue rotates when the current key has passed its rotation window.
func (r *KeyRing) RotateIfDue(ctx context.Context) (bool, error) {
	snap, err := r.ensure(ctx)
	if err != nil {
		return false, err
	}

	if !snap.current.Expired(r.now()) {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// another caller may have rotated while we waited
	if latest := r.snapshot.Load(); latest != nil && !latest.current.Expired(r.now()) {
		return false, nil
	}

	if _, err := r.rotateLocked(ctx); err != nil {
		return false, err
	}

	return true, nil
}

// Run checks the rotation window every interval until ctx is done.
func (r *KeyRing) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RotateIfDue(ctx); err != nil {
				r.logger.Error("signing key rotation failed", "error", err)
			}
		}
	}
}

func (r *KeyRing) ensure(ctx context.Context) (*keySnapshot, error) {
	if snap := r.snapshot.Load(); snap != nil {
		return snap, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if snap := r.snapshot.Load(); snap != nil {
		return snap, nil
	}

	if r.store != nil {
		keys, err := r.store.LoadKeys(ctx)
		if err != nil {
			return nil, newError(ErrSigningKeyUnavailable, err, map[string]any{"operation": "load"})
		}
		if len(keys) > 0 {
			snap := buildSnapshot(keys)
			r.snapshot.Store(snap)
			return snap, nil
		}
	}

	if _, err := r.rotateLocked(ctx); err != nil {
		return nil, err
	}

	return r.snapshot.Load(), nil
}

func (r *KeyRing) rotateLocked(ctx context.Context) (SigningKey, error) {
	now := r.now()

	key, err := GenerateSigningKey(r.algorithm, now, r.rotationPeriod)
	if err != nil {
		return SigningKey{}, newError(ErrSigningKeyUnavailable, err, map[string]any{
			"operation": "generate",
			"algorithm": r.algorithm,
		})
	}

	if r.store != nil {
		if err := r.store.SaveCurrentKey(ctx, key); err != nil {
			return SigningKey{}, newError(ErrSigningKeyUnavailable, err, map[string]any{
				"operation": "save",
				"kid":       key.KeyID,
			})
		}
	}

	var previous []SigningKey
	var previousID string
	if snap := r.snapshot.Load(); snap != nil {
		previous = snap.keys
		previousID = snap.current.KeyID
	}

	keys := make([]SigningKey, 0, len(previous)+1)
	keys = append(keys, key)
	for _, k := range previous {
		k.Current = false
		keys = append(keys, k)
	}

	r.snapshot.Store(&keySnapshot{current: key, keys: keys})

	r.logger.Info("signing key rotated", "kid", key.KeyID, "previous_kid", previousID, "alg", key.Algorithm)
	r.recordActivity(ctx, key.KeyID, previousID, now)

	return key, nil
}

func (r *KeyRing) recordActivity(ctx context.Context, kid, previous string, at time.Time) {
	event := ActivityEvent{
		EventType:  ActivityEventKeyRotated,
		Actor:      ActorRef{Type: "system"},
		OccurredAt: at,
		Metadata: map[string]any{
			"kid":          kid,
			"previous_kid": previous,
		},
	}
	if err := normalizeActivitySink(r.activitySink).Record(ctx, event); err != nil {
		r.logger.Warn("key ring activity sink error", "error", err)
	}
}

func buildSnapshot(keys []SigningKey) *keySnapshot {
	sorted := make([]SigningKey, len(keys))
	copy(sorted, keys)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	currentIdx := 0
	for i, k := range sorted {
		if k.Current {
			currentIdx = i
			break
		}
	}

	for i := range sorted {
		sorted[i].Current = i == currentIdx
	}

	if currentIdx != 0 {
		current := sorted[currentIdx]
		sorted = append(sorted[:currentIdx], sorted[currentIdx+1:]...)
		sorted = append([]SigningKey{current}, sorted...)
	}

	return &keySnapshot{current: sorted[0], keys: sorted}
}

// IsSigningKeyError reports whether err came from the key provider
func IsSigningKeyError(err error) bool {
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.TextCode == TextCodeSigningKeyUnavailable
}
