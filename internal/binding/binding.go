// Package binding keeps a live, locally editable mirror of a remote favorite
// flag. Local toggles are applied optimistically and written in the
// background; every value the realtime feed delivers for a newer record
// revision replaces the local one, so the server stays the final authority.
package binding

import (
	"context"
	"log/slog"
	"sync"

	errordefs "github.com/RegistryAccord/registryaccord-profile-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/event"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/model"
)

// Store is the part of the remote profile store a binding needs.
type Store interface {
	ReadFavorite(ctx context.Context, recordID string) (model.FavoriteRecord, error)
	ToggleFavoriteField(ctx context.Context, imageRef string, value bool) error
	SubscribeFavorite(recordID string, onChange func(model.FavoriteChanged), onError func(error)) (event.Subscription, error)
}

// State is the lifecycle state of a Binding.
type State int

const (
	Unbound State = iota
	Bound
	Closed
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	default:
		return "closed"
	}
}

// EventKind classifies binding events.
type EventKind int

const (
	Optimistic       EventKind = iota // local value set ahead of the write acknowledgment
	Remote                            // value delivered by the realtime feed
	Rollback                          // a failed write restored the last confirmed value
	WriteFailed                       // a write failed but a newer value already superseded it
	SubscriptionLost                  // the realtime subscription dropped; the value is now stale
)

func (k EventKind) String() string {
	switch k {
	case Optimistic:
		return "optimistic"
	case Remote:
		return "remote"
	case Rollback:
		return "rollback"
	case WriteFailed:
		return "write_failed"
	default:
		return "subscription_lost"
	}
}

// Event is delivered to the binding's handler. Value is the binding's value
// after the event; Err is set for Rollback, WriteFailed and SubscriptionLost.
type Event struct {
	Kind  EventKind
	Value bool
	Err   error
}

// Binder opens bindings over a store.
type Binder struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBinder creates a binder over store.
func NewBinder(store Store, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binder{store: store, logger: logger, metrics: metrics.NewMetrics()}
}

// Binding mirrors the favorite flag of one record.
type Binding struct {
	binder   *Binder
	recordID string
	handler  func(Event)
	writeCtx context.Context

	mu        sync.Mutex
	state     State
	imageRef  string
	value     bool   // what the caller sees
	confirmed bool   // last value the server reported
	revision  int64  // record revision of confirmed; 0 until one is known
	seeded    bool   // a remote event arrived before the initial read finished
	gen       uint64 // bumped by every local set and remote event
	lost      bool
	sub       event.Subscription
	queue     []Event
	wake      chan struct{}
	stop      chan struct{}

	// one writer per binding; pending holds the newest value not yet sent
	pending *pendingWrite
	writing bool
	writes  sync.WaitGroup
}

// pendingWrite is a value waiting for the writer
type pendingWrite struct {
	value bool
	gen   uint64
}

// Bind opens a subscription on recordID and seeds the value from the current
// record. handler receives events sequentially on a dedicated goroutine and
// may be nil. The returned binding is Bound; the caller must Close it.
func (b *Binder) Bind(ctx context.Context, recordID string, handler func(Event)) (*Binding, error) {
	bd := &Binding{
		binder:   b,
		recordID: recordID,
		handler:  handler,
		writeCtx: context.WithoutCancel(ctx),
		state:    Unbound,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}

	// Subscribe before reading so no change between the two is missed.
	sub, err := b.store.SubscribeFavorite(recordID, bd.onRemote, bd.onError)
	if err != nil {
		return nil, errordefs.Wrap(errordefs.SUBSCRIPTION_LOST, "failed to bind favorite "+recordID, err)
	}

	rec, err := b.store.ReadFavorite(ctx, recordID)
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}

	bd.mu.Lock()
	if bd.lost {
		bd.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil, errordefs.New(errordefs.SUBSCRIPTION_LOST, "subscription to favorite "+recordID+" dropped while binding")
	}
	bd.sub = sub
	bd.imageRef = rec.ImageRef
	// an event that raced the read wins unless the read is known to be newer
	if !bd.seeded || (bd.revision > 0 && rec.Revision > bd.revision) {
		bd.value = rec.IsFavorite
		bd.confirmed = rec.IsFavorite
		bd.revision = rec.Revision
	}
	bd.state = Bound
	bd.mu.Unlock()

	if handler != nil {
		go bd.dispatch()
	}
	b.metrics.ActiveBindings.Inc()
	return bd, nil
}

// With binds recordID, runs fn and closes the binding on every exit path.
func (b *Binder) With(ctx context.Context, recordID string, handler func(Event), fn func(*Binding) error) error {
	bd, err := b.Bind(ctx, recordID, handler)
	if err != nil {
		return err
	}
	fnErr := fn(bd)
	closeErr := bd.Close()
	if fnErr != nil {
		return fnErr
	}
	return closeErr
}

// RecordID returns the bound record.
func (bd *Binding) RecordID() string {
	return bd.recordID
}

// ImageRef returns the image the bound record refers to.
func (bd *Binding) ImageRef() string {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	return bd.imageRef
}

// State returns the lifecycle state.
func (bd *Binding) State() State {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	return bd.state
}

// Value returns the value the caller should display.
func (bd *Binding) Value() bool {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	return bd.value
}

// SetOptimistic shows value immediately and writes it in the background. If
// the write fails and nothing newer has arrived, the last confirmed value is
// restored. Writes are sent one at a time in call order; a value superseded
// before its turn is skipped, so the newest value is always written last.
// After Close it does nothing.
func (bd *Binding) SetOptimistic(value bool) {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	if bd.state != Bound {
		return
	}
	bd.gen++
	if bd.value != value {
		bd.value = value
		bd.emit(Event{Kind: Optimistic, Value: value})
	}

	bd.pending = &pendingWrite{value: value, gen: bd.gen}
	if !bd.writing {
		bd.writing = true
		bd.writes.Add(1)
		go bd.writeLoop(bd.imageRef)
	}
}

// writeLoop sends pending values until none is left.
func (bd *Binding) writeLoop(imageRef string) {
	defer bd.writes.Done()
	for {
		bd.mu.Lock()
		w := bd.pending
		bd.pending = nil
		if w == nil {
			bd.writing = false
			bd.mu.Unlock()
			return
		}
		bd.mu.Unlock()

		if err := bd.binder.store.ToggleFavoriteField(bd.writeCtx, imageRef, w.value); err != nil {
			bd.onWriteFailed(w.gen, err)
		}
	}
}

// Wait blocks until every write issued by SetOptimistic has finished.
func (bd *Binding) Wait() {
	bd.writes.Wait()
}

// Close detaches the subscription. Events arriving afterwards are dropped and
// pending writes finish without affecting the binding. Closing twice is a no-op.
func (bd *Binding) Close() error {
	bd.mu.Lock()
	if bd.state != Bound {
		bd.mu.Unlock()
		return nil
	}
	bd.state = Closed
	bd.queue = nil
	sub := bd.sub
	bd.mu.Unlock()

	close(bd.stop)
	bd.binder.metrics.ActiveBindings.Dec()

	if err := sub.Unsubscribe(); err != nil {
		bd.binder.logger.Warn("failed to detach favorite subscription", "record_id", bd.recordID, "error", err)
		return err
	}
	return nil
}

func (bd *Binding) onRemote(change model.FavoriteChanged) {
	bd.mu.Lock()
	defer bd.mu.Unlock()

	if bd.state == Closed || bd.lost || change.RecordID != bd.recordID {
		return
	}
	if change.Revision != 0 {
		// delivered out of order: a newer revision is already confirmed
		if change.Revision <= bd.revision {
			return
		}
		bd.revision = change.Revision
	}

	bd.gen++
	bd.confirmed = change.IsFavorite
	if bd.state == Unbound {
		bd.seeded = true
		bd.value = change.IsFavorite
		return
	}
	if bd.value != change.IsFavorite {
		bd.value = change.IsFavorite
		bd.emit(Event{Kind: Remote, Value: change.IsFavorite})
	}
}

func (bd *Binding) onError(err error) {
	bd.mu.Lock()
	defer bd.mu.Unlock()

	if bd.state == Closed || bd.lost {
		return
	}
	bd.lost = true
	bd.binder.logger.Warn("favorite subscription lost", "record_id", bd.recordID, "error", err)
	bd.emit(Event{
		Kind:  SubscriptionLost,
		Value: bd.value,
		Err:   errordefs.Wrap(errordefs.SUBSCRIPTION_LOST, "realtime updates for "+bd.recordID+" stopped", err),
	})
}

func (bd *Binding) onWriteFailed(gen uint64, err error) {
	bd.mu.Lock()
	defer bd.mu.Unlock()

	if bd.state != Bound {
		return
	}
	bd.binder.logger.Warn("favorite write failed", "record_id", bd.recordID, "error", err)

	if gen == bd.gen && bd.value != bd.confirmed {
		bd.value = bd.confirmed
		bd.emit(Event{Kind: Rollback, Value: bd.value, Err: err})
		return
	}
	bd.emit(Event{Kind: WriteFailed, Value: bd.value, Err: err})
}

// emit queues e for the handler. Callers hold mu.
func (bd *Binding) emit(e Event) {
	bd.binder.metrics.BindingEventTotal.WithLabelValues(e.Kind.String()).Inc()
	if bd.handler == nil || bd.state != Bound {
		return
	}
	bd.queue = append(bd.queue, e)
	select {
	case bd.wake <- struct{}{}:
	default:
	}
}

// dispatch delivers queued events in order until the binding closes.
func (bd *Binding) dispatch() {
	for {
		select {
		case <-bd.stop:
			return
		case <-bd.wake:
		}

		for {
			bd.mu.Lock()
			if bd.state != Bound || len(bd.queue) == 0 {
				bd.mu.Unlock()
				break
			}
			e := bd.queue[0]
			bd.queue = bd.queue[1:]
			bd.mu.Unlock()

			bd.handler(e)
		}
	}
}
