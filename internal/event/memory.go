package event

import (
	"context"
	"errors"
	"sync"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/model"
)

// ErrFeedClosed is returned when subscribing to a closed feed.
var ErrFeedClosed = errors.New("feed closed")

// Memory is an in-process Feed. Delivery is synchronous on the publishing
// goroutine, in subscription order.
type Memory struct {
	mu       sync.Mutex
	nextID   int
	subs     map[string]map[int]*memorySub // record ID -> subscriptions
	profiles []model.ProfileChanged
	closed   bool
}

type memorySub struct {
	feed     *Memory
	id       int
	recordID string
	onChange func(model.FavoriteChanged)
	onError  func(error)
}

// NewMemory creates an in-process feed.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]*memorySub)}
}

// PublishFavoriteChanged delivers change to all current subscribers of the record.
func (m *Memory) PublishFavoriteChanged(ctx context.Context, change model.FavoriteChanged) error {
	m.mu.Lock()
	targets := make([]*memorySub, 0, len(m.subs[change.RecordID]))
	for _, s := range m.subs[change.RecordID] {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	for _, s := range targets {
		s.onChange(change)
	}
	return nil
}

// PublishProfileChanged records change; profile changes have no subscribers yet.
func (m *Memory) PublishProfileChanged(ctx context.Context, change model.ProfileChanged) error {
	m.mu.Lock()
	m.profiles = append(m.profiles, change)
	m.mu.Unlock()
	return nil
}

// ProfileChanges returns the profile changes published so far.
func (m *Memory) ProfileChanges() []model.ProfileChanged {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ProfileChanged, len(m.profiles))
	copy(out, m.profiles)
	return out
}

// SubscribeFavorite registers callbacks for recordID.
func (m *Memory) SubscribeFavorite(recordID string, onChange func(model.FavoriteChanged), onError func(error)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrFeedClosed
	}
	m.nextID++
	s := &memorySub{feed: m, id: m.nextID, recordID: recordID, onChange: onChange, onError: onError}
	if m.subs[recordID] == nil {
		m.subs[recordID] = make(map[int]*memorySub)
	}
	m.subs[recordID][s.id] = s
	return s, nil
}

// Subscribers returns the number of live subscriptions for recordID.
func (m *Memory) Subscribers(recordID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[recordID])
}

// Disconnect simulates a transport failure: every subscription receives err
// and is dropped.
func (m *Memory) Disconnect(err error) {
	m.mu.Lock()
	var targets []*memorySub
	for _, byID := range m.subs {
		for _, s := range byID {
			targets = append(targets, s)
		}
	}
	m.subs = make(map[string]map[int]*memorySub)
	m.mu.Unlock()

	for _, s := range targets {
		if s.onError != nil {
			s.onError(err)
		}
	}
}

// Close drops all subscriptions.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[int]*memorySub)
	return nil
}

func (s *memorySub) Unsubscribe() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	if byID, ok := s.feed.subs[s.recordID]; ok {
		delete(byID, s.id)
		if len(byID) == 0 {
			delete(s.feed.subs, s.recordID)
		}
	}
	return nil
}
