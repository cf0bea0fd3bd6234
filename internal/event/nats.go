// internal/event/nats.go
// NATS implementation of Feed. Writes are published through JetStream so they
// are retained and deduplicated; subscribers use core subscriptions on the same
// subjects, which receive every message the stream captures.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/model"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Subjects used by the feed
const (
	favoriteSubjectPrefix = "profile.favorites."
	profileSubjectPrefix  = "profile.profiles."
)

// natsFeed is the NATS JetStream implementation of Feed.
type natsFeed struct {
	nc *nats.Conn            // NATS connection
	js nats.JetStreamContext // JetStream context for stream operations

	mu   sync.Mutex
	subs map[*nats.Subscription]*natsSub // live subscriptions, for error routing
}

type natsSub struct {
	feed    *natsFeed
	sub     *nats.Subscription
	onError func(error)
	once    sync.Once
}

// NewFeedFromURL creates a feed for url. An empty url yields an in-process
// feed; a connection failure is logged and also falls back to the in-process
// feed so a session can continue without realtime updates from other clients.
func NewFeedFromURL(url string) Feed {
	if url == "" {
		return NewMemory()
	}

	feed, err := NewNATSFeed(url)
	if err != nil {
		slog.Warn("NATS feed unavailable, using in-process feed", "error", err)
		return NewMemory()
	}
	return feed
}

// NewNATSFeed connects to url and initializes the streams backing the feed.
func NewNATSFeed(url string) (Feed, error) {
	f := &natsFeed{subs: make(map[*nats.Subscription]*natsSub)}

	nc, err := nats.Connect(url,
		nats.Name("profile-sync"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = nats.ErrConnectionClosed
			}
			f.failAll(fmt.Errorf("nats disconnected: %w", err))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			f.failOne(sub, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := initStreams(js); err != nil {
		nc.Close()
		return nil, err
	}

	f.nc = nc
	f.js = js
	return f, nil
}

// initStreams creates the PROFILE_FAVORITES and PROFILE_PROFILES streams.
func initStreams(js nats.JetStreamContext) error {
	streams := []*nats.StreamConfig{
		{
			Name:       "PROFILE_FAVORITES",
			Subjects:   []string{favoriteSubjectPrefix + "*"},
			Retention:  nats.LimitsPolicy,
			MaxAge:     24 * time.Hour,
			Discard:    nats.DiscardOld,
			Storage:    nats.FileStorage,
			Duplicates: 2 * time.Minute,
		},
		{
			Name:       "PROFILE_PROFILES",
			Subjects:   []string{profileSubjectPrefix + "*"},
			Retention:  nats.LimitsPolicy,
			MaxAge:     24 * time.Hour,
			Discard:    nats.DiscardOld,
			Storage:    nats.FileStorage,
			Duplicates: 2 * time.Minute,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(cfg); err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return fmt.Errorf("failed to create %s stream: %w", cfg.Name, err)
		}
	}
	return nil
}

// PublishFavoriteChanged publishes change on profile.favorites.<recordID>.
func (f *natsFeed) PublishFavoriteChanged(ctx context.Context, change model.FavoriteChanged) error {
	return f.publish(ctx, favoriteSubjectPrefix+change.RecordID, TypeFavoriteChanged, change.ChangedAt, change)
}

// PublishProfileChanged publishes change on profile.profiles.<id>.
func (f *natsFeed) PublishProfileChanged(ctx context.Context, change model.ProfileChanged) error {
	return f.publish(ctx, profileSubjectPrefix+change.Profile.ID, TypeProfileChanged, change.ChangedAt, change)
}

func (f *natsFeed) publish(ctx context.Context, subject, eventType string, occurredAt time.Time, payload interface{}) error {
	envelope := EventEnvelope{
		Type:          eventType,
		Version:       envelopeVersion,
		OccurredAt:    occurredAt.UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	// The correlation ID doubles as the JetStream dedup key
	_, err = f.js.Publish(subject, b, nats.Context(ctx), nats.MsgId(envelope.CorrelationID))
	return err
}

// SubscribeFavorite opens a core subscription on the record's subject.
func (f *natsFeed) SubscribeFavorite(recordID string, onChange func(model.FavoriteChanged), onError func(error)) (Subscription, error) {
	s := &natsSub{feed: f, onError: onError}

	sub, err := f.nc.Subscribe(favoriteSubjectPrefix+recordID, func(msg *nats.Msg) {
		var envelope struct {
			Type    string                `json:"type"`
			Payload model.FavoriteChanged `json:"payload"`
		}
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			slog.Warn("dropping malformed favorite event", "subject", msg.Subject, "error", err)
			return
		}
		if envelope.Type != TypeFavoriteChanged {
			return
		}
		onChange(envelope.Payload)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to favorite %s: %w", recordID, err)
	}

	s.sub = sub
	f.mu.Lock()
	f.subs[sub] = s
	f.mu.Unlock()
	return s, nil
}

// failOne reports err to the owner of sub.
func (f *natsFeed) failOne(sub *nats.Subscription, err error) {
	if sub == nil {
		return
	}
	f.mu.Lock()
	s := f.subs[sub]
	f.mu.Unlock()
	if s != nil {
		s.fail(err)
	}
}

// failAll reports err to every live subscription.
func (f *natsFeed) failAll(err error) {
	f.mu.Lock()
	targets := make([]*natsSub, 0, len(f.subs))
	for _, s := range f.subs {
		targets = append(targets, s)
	}
	f.mu.Unlock()

	for _, s := range targets {
		s.fail(err)
	}
}

// Close closes the NATS connection.
func (f *natsFeed) Close() error {
	if f.nc != nil {
		f.nc.Close()
	}
	return nil
}

// fail delivers at most one error per subscription.
func (s *natsSub) fail(err error) {
	s.once.Do(func() {
		if s.onError != nil {
			s.onError(err)
		}
	})
}

func (s *natsSub) Unsubscribe() error {
	s.feed.mu.Lock()
	_, live := s.feed.subs[s.sub]
	delete(s.feed.subs, s.sub)
	s.feed.mu.Unlock()

	if !live {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return err
	}
	return nil
}
