// Package event provides the realtime change feed for profile and favorite
// documents. Acknowledged writes are published here and every subscriber of the
// affected record receives them, including the client that made the write.
package event

import (
	"context"
	"time"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/model"
)

// Feed interface defines the realtime operations required by the profile store
// and the toggle bindings.
type Feed interface {
	// PublishFavoriteChanged announces an acknowledged favorite write
	PublishFavoriteChanged(ctx context.Context, change model.FavoriteChanged) error

	// PublishProfileChanged announces an acknowledged profile write
	PublishProfileChanged(ctx context.Context, change model.ProfileChanged) error

	// SubscribeFavorite delivers every change of recordID to onChange until the
	// subscription is cancelled. onError receives transport failures; after an
	// error the subscription may deliver nothing further.
	SubscribeFavorite(recordID string, onChange func(model.FavoriteChanged), onError func(error)) (Subscription, error)

	// Close closes the feed connection
	Close() error
}

// Subscription is a live registration on the feed.
type Subscription interface {
	// Unsubscribe detaches the subscription. It is safe to call more than once.
	Unsubscribe() error
}

// EventEnvelope represents the standard event envelope structure.
// All events published to NATS are wrapped in this envelope for consistency.
type EventEnvelope struct {
	Type          string      `json:"type"`          // Event type identifier
	Version       string      `json:"version"`       // Event schema version
	OccurredAt    time.Time   `json:"occurredAt"`    // When the event occurred
	CorrelationID string      `json:"correlationId"` // Correlation ID for tracing
	Payload       interface{} `json:"payload"`       // Event-specific data
}

const (
	TypeFavoriteChanged = "profile.favorites.changed"
	TypeProfileChanged  = "profile.profiles.changed"
	envelopeVersion     = "1.0.0"
)
