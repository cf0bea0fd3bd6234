package binding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	errordefs "github.com/RegistryAccord/registryaccord-profile-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/event"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/media"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/model"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/profile"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	recordID = "img1"
	imageRef = "https://img.example.test/1.jpg"
)

// fakeStore serves one record over an in-process feed. Writes are answered by
// toggle and never published, so tests decide which remote events arrive.
type fakeStore struct {
	feed    *event.Memory
	initial bool
	readErr error

	mu       sync.Mutex
	revision int64
	toggle   func(value bool) error
	writes   []bool
}

func newFakeStore(initial bool) *fakeStore {
	return &fakeStore{feed: event.NewMemory(), initial: initial, revision: 1}
}

func (f *fakeStore) ReadFavorite(ctx context.Context, id string) (model.FavoriteRecord, error) {
	if f.readErr != nil {
		return model.FavoriteRecord{}, f.readErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.FavoriteRecord{ID: id, ImageRef: imageRef, IsFavorite: f.initial, Revision: f.revision}, nil
}

func (f *fakeStore) ToggleFavoriteField(ctx context.Context, ref string, value bool) error {
	f.mu.Lock()
	f.writes = append(f.writes, value)
	toggle := f.toggle
	f.mu.Unlock()
	if toggle != nil {
		return toggle(value)
	}
	return nil
}

func (f *fakeStore) SubscribeFavorite(id string, onChange func(model.FavoriteChanged), onError func(error)) (event.Subscription, error) {
	return f.feed.SubscribeFavorite(id, onChange, onError)
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeStore) writesSent() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.writes))
	copy(out, f.writes)
	return out
}

// remote publishes value under the next revision.
func (f *fakeStore) remote(value bool) {
	f.mu.Lock()
	f.revision++
	rev := f.revision
	f.mu.Unlock()
	f.remoteAt(rev, value)
}

// remoteAt publishes value under rev, whatever was published before.
func (f *fakeStore) remoteAt(rev int64, value bool) {
	_ = f.feed.PublishFavoriteChanged(context.Background(), model.FavoriteChanged{
		RecordID:   recordID,
		ImageRef:   imageRef,
		IsFavorite: value,
		Revision:   rev,
		ChangedAt:  time.Now(),
	})
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) kinds() []EventKind {
	var kinds []EventKind
	for _, e := range r.snapshot() {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (r *recorder) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, time.Second, 5*time.Millisecond)
	return r.snapshot()
}

func TestBindSeedsValue(t *testing.T) {
	store := newFakeStore(true)
	bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, nil)
	require.NoError(t, err)
	defer bd.Close()

	assert.Equal(t, Bound, bd.State())
	assert.True(t, bd.Value())
	assert.Equal(t, recordID, bd.RecordID())
	assert.Equal(t, 1, store.feed.Subscribers(recordID))
}

func TestBindReadFailureDetaches(t *testing.T) {
	store := newFakeStore(false)
	store.readErr = errordefs.New(errordefs.NOT_FOUND, "no favorite record")

	_, err := NewBinder(store, nil).Bind(context.Background(), recordID, nil)
	assert.Equal(t, errordefs.NOT_FOUND, errordefs.CodeOf(err))
	assert.Zero(t, store.feed.Subscribers(recordID))
}

func TestBindSubscribeFailure(t *testing.T) {
	store := newFakeStore(false)
	require.NoError(t, store.feed.Close())

	_, err := NewBinder(store, nil).Bind(context.Background(), recordID, nil)
	assert.Equal(t, errordefs.SUBSCRIPTION_LOST, errordefs.CodeOf(err))
}

func TestSetOptimisticIsImmediate(t *testing.T) {
	store := newFakeStore(false)
	release := make(chan struct{})
	store.toggle = func(bool) error { <-release; return nil }

	rec := &recorder{}
	bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, rec.handle)
	require.NoError(t, err)
	defer bd.Close()

	bd.SetOptimistic(true)
	assert.True(t, bd.Value())

	events := rec.waitFor(t, 1)
	assert.Equal(t, Event{Kind: Optimistic, Value: true}, events[0])

	close(release)
	bd.Wait()
	assert.Equal(t, 1, store.writeCount())
}

func TestRemoteEventOverridesOptimistic(t *testing.T) {
	store := newFakeStore(false)
	release := make(chan struct{})
	store.toggle = func(bool) error { <-release; return nil }

	rec := &recorder{}
	bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, rec.handle)
	require.NoError(t, err)
	defer bd.Close()

	bd.SetOptimistic(true)
	store.remote(false)

	assert.False(t, bd.Value())
	events := rec.waitFor(t, 2)
	assert.Equal(t, []EventKind{Optimistic, Remote}, rec.kinds())
	assert.False(t, events[1].Value)

	close(release)
	bd.Wait()
	assert.False(t, bd.Value())
}

func TestStaleRemoteEventIsDropped(t *testing.T) {
	store := newFakeStore(true)
	rec := &recorder{}
	bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, rec.handle)
	require.NoError(t, err)
	defer bd.Close()

	// revision 2 set false and revision 3 set true, delivered newest first
	store.remoteAt(3, true)
	store.remoteAt(2, false)
	// a repeated delivery of the same revision changes nothing either
	store.remoteAt(3, true)

	time.Sleep(20 * time.Millisecond)
	assert.True(t, bd.Value())
	assert.Empty(t, rec.snapshot())

	store.remoteAt(4, false)
	events := rec.waitFor(t, 1)
	assert.Equal(t, Event{Kind: Remote, Value: false}, events[0])
	assert.False(t, bd.Value())
}

// heldFeed delays the next favorite publication until release is closed.
type heldFeed struct {
	*event.Memory

	mu      sync.Mutex
	hold    bool
	reached chan struct{}
	release chan struct{}
}

func newHeldFeed() *heldFeed {
	return &heldFeed{
		Memory:  event.NewMemory(),
		hold:    true,
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (f *heldFeed) PublishFavoriteChanged(ctx context.Context, change model.FavoriteChanged) error {
	f.mu.Lock()
	held := f.hold
	f.hold = false
	f.mu.Unlock()

	if held {
		close(f.reached)
		<-f.release
	}
	return f.Memory.PublishFavoriteChanged(ctx, change)
}

func TestOutOfOrderPublicationsConvergeOnStoredValue(t *testing.T) {
	ctx := context.Background()
	feed := newHeldFeed()
	feed.hold = false
	store := profile.NewStore(storage.NewMemory(), media.NewMemory("memory://assets"), feed)

	fav, err := store.AddFavorite(ctx, imageRef)
	require.NoError(t, err)

	bd, err := NewBinder(store, nil).Bind(ctx, fav.ID, nil)
	require.NoError(t, err)
	defer bd.Close()
	require.True(t, bd.Value())

	feed.mu.Lock()
	feed.hold = true
	feed.mu.Unlock()

	// client A commits false, its publication is held back
	done := make(chan error, 1)
	go func() { done <- store.ToggleFavoriteField(ctx, imageRef, false) }()
	<-feed.reached

	// client B commits true afterwards and is delivered first
	require.NoError(t, store.ToggleFavoriteField(ctx, imageRef, true))
	close(feed.release)
	require.NoError(t, <-done)

	stored, err := store.ReadFavorite(ctx, fav.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsFavorite)
	assert.Equal(t, stored.IsFavorite, bd.Value())
}

func TestRapidTogglesAreWrittenInOrder(t *testing.T) {
	store := newFakeStore(false)
	release := make(chan struct{})
	var once sync.Once
	store.toggle = func(bool) error {
		// only the first write is held back
		held := false
		once.Do(func() { held = true })
		if held {
			<-release
		}
		return nil
	}

	bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, nil)
	require.NoError(t, err)
	defer bd.Close()

	bd.SetOptimistic(true)
	require.Eventually(t, func() bool { return store.writeCount() == 1 }, time.Second, 5*time.Millisecond)
	bd.SetOptimistic(false)

	close(release)
	bd.Wait()

	assert.Equal(t, []bool{true, false}, store.writesSent())
	assert.False(t, bd.Value())
}

func TestSupersededPendingWriteIsSkipped(t *testing.T) {
	store := newFakeStore(false)
	release := make(chan struct{})
	var once sync.Once
	store.toggle = func(bool) error {
		held := false
		once.Do(func() { held = true })
		if held {
			<-release
		}
		return nil
	}

	bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, nil)
	require.NoError(t, err)
	defer bd.Close()

	bd.SetOptimistic(true)
	require.Eventually(t, func() bool { return store.writeCount() == 1 }, time.Second, 5*time.Millisecond)
	bd.SetOptimistic(false)
	bd.SetOptimistic(true)
	bd.SetOptimistic(false)

	close(release)
	bd.Wait()

	writes := store.writesSent()
	assert.Equal(t, []bool{true, false}, writes)
	assert.False(t, bd.Value())
}

func TestAcknowledgmentAndEchoInEitherOrder(t *testing.T) {
	tests := []struct {
		name      string
		echoFirst bool
	}{
		{name: "echo before acknowledgment", echoFirst: true},
		{name: "acknowledgment before echo", echoFirst: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(false)
			if tt.echoFirst {
				store.toggle = func(value bool) error {
					store.remote(value)
					return nil
				}
			}

			rec := &recorder{}
			bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, rec.handle)
			require.NoError(t, err)
			defer bd.Close()

			bd.SetOptimistic(true)
			bd.Wait()
			if !tt.echoFirst {
				store.remote(true)
			}

			rec.waitFor(t, 1)
			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, []EventKind{Optimistic}, rec.kinds())
			assert.True(t, bd.Value())
		})
	}
}

func TestFailedWriteRollsBack(t *testing.T) {
	store := newFakeStore(false)
	cause := errordefs.New(errordefs.PROFILE_WRITE_FAILED, "offline")
	store.toggle = func(bool) error { return cause }

	rec := &recorder{}
	bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, rec.handle)
	require.NoError(t, err)
	defer bd.Close()

	bd.SetOptimistic(true)
	bd.Wait()

	assert.False(t, bd.Value())
	events := rec.waitFor(t, 2)
	assert.Equal(t, []EventKind{Optimistic, Rollback}, rec.kinds())
	assert.False(t, events[1].Value)
	assert.ErrorIs(t, events[1].Err, cause)
}

func TestFailedWriteSupersededByRemote(t *testing.T) {
	store := newFakeStore(false)
	release := make(chan struct{})
	store.toggle = func(bool) error { <-release; return errors.New("timeout") }

	rec := &recorder{}
	bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, rec.handle)
	require.NoError(t, err)
	defer bd.Close()

	bd.SetOptimistic(true)
	store.remote(false)
	store.remote(true)
	close(release)
	bd.Wait()

	assert.True(t, bd.Value())
	rec.waitFor(t, 4)
	assert.Equal(t, []EventKind{Optimistic, Remote, Remote, WriteFailed}, rec.kinds())
}

func TestDuplicateRemoteValuesEmitOnce(t *testing.T) {
	store := newFakeStore(false)
	rec := &recorder{}
	bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, rec.handle)
	require.NoError(t, err)
	defer bd.Close()

	store.remote(false)
	store.remote(true)
	store.remote(true)
	store.remote(false)

	rec.waitFor(t, 2)
	time.Sleep(20 * time.Millisecond)
	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, Event{Kind: Remote, Value: true}, events[0])
	assert.Equal(t, Event{Kind: Remote, Value: false}, events[1])
}

func TestCloseDropsLateEvents(t *testing.T) {
	store := newFakeStore(false)
	rec := &recorder{}
	bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, rec.handle)
	require.NoError(t, err)

	require.NoError(t, bd.Close())
	assert.Equal(t, Closed, bd.State())
	assert.Zero(t, store.feed.Subscribers(recordID))

	store.remote(true)
	bd.onRemote(model.FavoriteChanged{RecordID: recordID, IsFavorite: true})
	bd.onError(errors.New("late disconnect"))

	assert.False(t, bd.Value())
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestSetOptimisticAfterCloseIsNoop(t *testing.T) {
	store := newFakeStore(false)
	bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, nil)
	require.NoError(t, err)
	require.NoError(t, bd.Close())

	bd.SetOptimistic(true)
	bd.Wait()

	assert.False(t, bd.Value())
	assert.Zero(t, store.writeCount())
}

func TestCloseTwice(t *testing.T) {
	store := newFakeStore(false)
	bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, nil)
	require.NoError(t, err)

	assert.NoError(t, bd.Close())
	assert.NoError(t, bd.Close())
}

func TestPendingWriteAfterCloseIsDiscarded(t *testing.T) {
	store := newFakeStore(false)
	release := make(chan struct{})
	store.toggle = func(bool) error { <-release; return errors.New("offline") }

	rec := &recorder{}
	bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, rec.handle)
	require.NoError(t, err)

	bd.SetOptimistic(true)
	rec.waitFor(t, 1)
	require.NoError(t, bd.Close())

	close(release)
	bd.Wait()

	assert.True(t, bd.Value())
	assert.Equal(t, []EventKind{Optimistic}, rec.kinds())
}

func TestSubscriptionLostKeepsStaleValue(t *testing.T) {
	store := newFakeStore(true)
	rec := &recorder{}
	bd, err := NewBinder(store, nil).Bind(context.Background(), recordID, rec.handle)
	require.NoError(t, err)
	defer bd.Close()

	store.feed.Disconnect(errors.New("network unreachable"))

	events := rec.waitFor(t, 1)
	assert.Equal(t, SubscriptionLost, events[0].Kind)
	assert.True(t, events[0].Value)
	assert.Equal(t, errordefs.SUBSCRIPTION_LOST, errordefs.CodeOf(events[0].Err))

	bd.onRemote(model.FavoriteChanged{RecordID: recordID, IsFavorite: false})
	assert.True(t, bd.Value())
	assert.Equal(t, Bound, bd.State())
}

func TestWithClosesOnError(t *testing.T) {
	store := newFakeStore(false)
	boom := errors.New("screen failed")

	var seen *Binding
	err := NewBinder(store, nil).With(context.Background(), recordID, nil, func(bd *Binding) error {
		seen = bd
		assert.Equal(t, 1, store.feed.Subscribers(recordID))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	require.NotNil(t, seen)
	assert.Equal(t, Closed, seen.State())
	assert.Zero(t, store.feed.Subscribers(recordID))
}

func TestBindingOverProfileStore(t *testing.T) {
	feed := event.NewMemory()
	store := profile.NewStore(storage.NewMemory(), media.NewMemory("memory://assets"), feed)
	ctx := context.Background()

	fav, err := store.AddFavorite(ctx, imageRef)
	require.NoError(t, err)

	rec := &recorder{}
	bd, err := NewBinder(store, nil).Bind(ctx, fav.ID, rec.handle)
	require.NoError(t, err)
	defer bd.Close()
	require.True(t, bd.Value())

	bd.SetOptimistic(false)
	bd.Wait()
	bd.SetOptimistic(false)
	bd.Wait()

	got, err := store.ReadFavorite(ctx, fav.ID)
	require.NoError(t, err)
	assert.False(t, got.IsFavorite)
	assert.False(t, bd.Value())

	// the self-originated echo matches the optimistic value and adds nothing
	rec.waitFor(t, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []EventKind{Optimistic}, rec.kinds())
}
