// Package activitymap flattens identity activity events into a record shape
// that audit pipelines and log sinks can store without knowing the identity types.
package activitymap

import (
	"strings"
	"time"

	identity "github.com/goliatone/go-identity"
)

const (
	MetadataKeyActorType = "actor_type"
	MetadataKeyFromState = "from_state"
	MetadataKeyToState   = "to_state"
)

const (
	defaultChannel    = "identity"
	defaultObjectType = "identity"
	defaultActorID    = "system"

	signingKeyObjectType = "signing_key"
)

// Record is the flattened activity
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Option func(*options)

type options struct {
	channel       string
	actorFallback string
	now           func() time.Time
}

// Normalize converts an identity.ActivityEvent into a Record. Key rotations
// are reported against the new key id, everything else against the user.
func Normalize(event identity.ActivityEvent, opts ...Option) Record {
	o := options{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = o.now().UTC()
	}

	objectType, objectID := objectOf(event)

	return Record{
		ActorID: firstNonEmpty(
			strings.TrimSpace(event.Actor.ID),
			strings.TrimSpace(event.UserID),
			o.actorFallback,
		),
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    o.channel,
		Metadata:   metadataOf(event),
		OccurredAt: occurredAt,
	}
}

func WithChannel(channel string) Option {
	return func(o *options) {
		if channel = strings.TrimSpace(channel); channel != "" {
			o.channel = channel
		}
	}
}

func WithActorFallback(actorID string) Option {
	return func(o *options) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			o.actorFallback = actorID
		}
	}
}

// WithClock sets the time used for events without a timestamp
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func objectOf(event identity.ActivityEvent) (string, string) {
	if event.EventType == identity.ActivityEventKeyRotated {
		kid, _ := event.Metadata["kid"].(string)
		return signingKeyObjectType, strings.TrimSpace(kid)
	}
	return defaultObjectType, strings.TrimSpace(event.UserID)
}

func metadataOf(event identity.ActivityEvent) map[string]any {
	var out map[string]any
	set := func(key string, value any) {
		if out == nil {
			out = make(map[string]any, len(event.Metadata)+3)
		}
		out[key] = value
	}

	for key, value := range event.Metadata {
		set(key, value)
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if _, exists := out[MetadataKeyActorType]; !exists {
			set(MetadataKeyActorType, actorType)
		}
	}
	if event.FromState != "" {
		set(MetadataKeyFromState, string(event.FromState))
	}
	if event.ToState != "" {
		set(MetadataKeyToState, string(event.ToState))
	}

	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
