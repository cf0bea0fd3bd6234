// Package conformance provides a test harness that verifies a document store
// and realtime feed pair behaves the way the profile pipeline relies on.
// The same checks run against the in-memory backends and, when configured,
// against PostgreSQL and NATS.
package conformance

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
	"github.com/oklog/ulid/v2"
)

// deliveryTimeout bounds how long realtime checks wait for an event
const deliveryTimeout = 5 * time.Second

// Config holds configuration for the conformance test harness.
type Config struct {
	// Docs is the document store under test; nil uses the in-memory store
	Docs storage.Store

	// Feed is the realtime feed under test; nil uses the in-process feed
	Feed event.Feed
}

// Harness provides the conformance checks over one backend pair.
type Harness struct {
	docs  storage.Store
	feed  event.Feed
	store *profile.Store
}

// NewHarness creates a new conformance test harness.
func NewHarness(cfg Config) *Harness {
	if cfg.Docs == nil {
		cfg.Docs = storage.NewMemory()
	}
	if cfg.Feed == nil {
		cfg.Feed = event.NewMemory()
	}
	return &Harness{
		docs:  cfg.Docs,
		feed:  cfg.Feed,
		store: profile.NewStore(cfg.Docs, media.NewMemory("memory://assets"), cfg.Feed),
	}
}

// Close releases the feed.
func (h *Harness) Close() {
	_ = h.feed.Close()
}

// RunConformanceTests runs all conformance checks.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("ProfileDocuments", h.testProfileDocuments)
	t.Run("FavoriteDocuments", h.testFavoriteDocuments)
	t.Run("FavoriteListing", h.testFavoriteListing)
	t.Run("RealtimeDelivery", h.testRealtimeDelivery)
}

// uniqueRef returns an image URI no other run has used.
func uniqueRef() string {
	return "https://img.example.test/" + ulid.Make().String() + ".jpg"
}

func (h *Harness) testProfileDocuments(t *testing.T) {
	ctx := context.Background()
	id := "conformance-" + ulid.Make().String()

	if _, err := h.docs.GetProfile(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetProfile() on missing profile error = %v, want ErrNotFound", err)
	}

	avatar := "https://assets.example.test/avatars/a.jpg"
	if err := h.docs.PutProfile(ctx, model.ProfileRecord{ID: id, DisplayName: "first", AvatarRef: &avatar}); err != nil {
		t.Fatalf("PutProfile() error = %v", err)
	}
	got, err := h.docs.GetProfile(ctx, id)
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if got.DisplayName != "first" || got.AvatarRef == nil || *got.AvatarRef != avatar {
		t.Errorf("GetProfile() = %+v, want first with avatar", got)
	}

	// last write wins, including clearing the avatar
	if err := h.docs.PutProfile(ctx, model.ProfileRecord{ID: id, DisplayName: "second"}); err != nil {
		t.Fatalf("PutProfile() overwrite error = %v", err)
	}
	got, err = h.docs.GetProfile(ctx, id)
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if got.DisplayName != "second" || got.AvatarRef != nil {
		t.Errorf("GetProfile() after overwrite = %+v, want second without avatar", got)
	}

	if _, err := h.store.ReadProfile(ctx, "conformance-missing-"+ulid.Make().String()); errordefs.CodeOf(err) != errordefs.NOT_FOUND {
		t.Errorf("ReadProfile() code = %v, want NOT_FOUND", errordefs.CodeOf(err))
	}
}

func (h *Harness) testFavoriteDocuments(t *testing.T) {
	ctx := context.Background()
	ref := uniqueRef()
	fav := model.FavoriteRecord{ID: ulid.Make().String(), ImageRef: ref, IsFavorite: true}

	if err := h.docs.CreateFavorite(ctx, fav); err != nil {
		t.Fatalf("CreateFavorite() error = %v", err)
	}
	dup := model.FavoriteRecord{ID: ulid.Make().String(), ImageRef: ref, IsFavorite: true}
	if err := h.docs.CreateFavorite(ctx, dup); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("CreateFavorite() duplicate image error = %v, want ErrConflict", err)
	}

	byImage, err := h.docs.GetFavoriteByImage(ctx, ref)
	if err != nil {
		t.Fatalf("GetFavoriteByImage() error = %v", err)
	}
	if byImage.ID != fav.ID {
		t.Errorf("GetFavoriteByImage() id = %s, want %s", byImage.ID, fav.ID)
	}
	if byImage.Revision != 1 {
		t.Errorf("new favorite revision = %d, want 1", byImage.Revision)
	}

	revision := byImage.Revision
	tests := []struct {
		name        string
		value       bool
		wantChanged bool
	}{
		{"set false", false, true},
		{"set false again", false, false},
		{"set true", true, true},
		{"set true again", true, false},
	}
	for _, tt := range tests {
		got, changed, err := h.docs.SetFavorite(ctx, ref, tt.value)
		if err != nil {
			t.Fatalf("%s: SetFavorite() error = %v", tt.name, err)
		}
		if changed != tt.wantChanged {
			t.Errorf("%s: changed = %v, want %v", tt.name, changed, tt.wantChanged)
		}
		if got.IsFavorite != tt.value || got.ID != fav.ID {
			t.Errorf("%s: SetFavorite() = %+v, want %s=%v", tt.name, got, fav.ID, tt.value)
		}
		// only a change moves the revision
		want := revision
		if tt.wantChanged {
			want++
		}
		if got.Revision != want {
			t.Errorf("%s: revision = %d, want %d", tt.name, got.Revision, want)
		}
		revision = got.Revision
	}

	if _, _, err := h.docs.SetFavorite(ctx, uniqueRef(), true); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("SetFavorite() on missing image error = %v, want ErrNotFound", err)
	}
	if _, err := h.docs.GetFavorite(ctx, ulid.Make().String()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetFavorite() on missing record error = %v, want ErrNotFound", err)
	}
}

func (h *Harness) testFavoriteListing(t *testing.T) {
	ctx := context.Background()
	base := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)

	older := model.FavoriteRecord{ID: ulid.Make().String(), ImageRef: uniqueRef(), IsFavorite: true, UpdatedAt: base}
	newer := model.FavoriteRecord{ID: ulid.Make().String(), ImageRef: uniqueRef(), IsFavorite: false, UpdatedAt: base.Add(time.Minute)}
	for _, fav := range []model.FavoriteRecord{older, newer} {
		if err := h.docs.CreateFavorite(ctx, fav); err != nil {
			t.Fatalf("CreateFavorite() error = %v", err)
		}
	}

	all, err := h.docs.ListFavorites(ctx, false)
	if err != nil {
		t.Fatalf("ListFavorites() error = %v", err)
	}
	if indexOf(all, newer.ID) < 0 || indexOf(all, older.ID) < 0 {
		t.Fatalf("ListFavorites() is missing created records")
	}
	if indexOf(all, newer.ID) > indexOf(all, older.ID) {
		t.Errorf("ListFavorites() is not newest first")
	}

	only, err := h.docs.ListFavorites(ctx, true)
	if err != nil {
		t.Fatalf("ListFavorites(onlyFavorite) error = %v", err)
	}
	if indexOf(only, newer.ID) >= 0 {
		t.Errorf("ListFavorites(onlyFavorite) includes a non-favorite record")
	}
	if indexOf(only, older.ID) < 0 {
		t.Errorf("ListFavorites(onlyFavorite) is missing a favorite record")
	}
}

func indexOf(list []model.FavoriteRecord, id string) int {
	for i, fav := range list {
		if fav.ID == id {
			return i
		}
	}
	return -1
}

// collector gathers delivered favorite changes.
type collector struct {
	mu      sync.Mutex
	changes []model.FavoriteChanged
}

func (c *collector) add(change model.FavoriteChanged) {
	c.mu.Lock()
	c.changes = append(c.changes, change)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}

func (c *collector) at(i int) model.FavoriteChanged {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changes[i]
}

// waitFor polls until c holds n changes or the delivery timeout passes.
func (c *collector) waitFor(n int) bool {
	deadline := time.Now().Add(deliveryTimeout)
	for time.Now().Before(deadline) {
		if c.len() >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return c.len() >= n
}

func (h *Harness) testRealtimeDelivery(t *testing.T) {
	ctx := context.Background()

	fav, err := h.store.AddFavorite(ctx, uniqueRef())
	if err != nil {
		t.Fatalf("AddFavorite() error = %v", err)
	}

	c := &collector{}
	sub, err := h.store.SubscribeFavorite(fav.ID, c.add, func(err error) {
		t.Logf("subscription error: %v", err)
	})
	if err != nil {
		t.Fatalf("SubscribeFavorite() error = %v", err)
	}

	if err := h.store.ToggleFavoriteField(ctx, fav.ImageRef, false); err != nil {
		t.Fatalf("ToggleFavoriteField() error = %v", err)
	}
	if !c.waitFor(1) {
		t.Fatalf("no change delivered after toggle")
	}
	if got := c.at(0); got.RecordID != fav.ID || got.IsFavorite {
		t.Errorf("delivered change = %+v, want %s=false", got, fav.ID)
	}

	// an idempotent write publishes nothing; the next real change is delivered second
	if err := h.store.ToggleFavoriteField(ctx, fav.ImageRef, false); err != nil {
		t.Fatalf("ToggleFavoriteField() repeat error = %v", err)
	}
	if err := h.store.ToggleFavoriteField(ctx, fav.ImageRef, true); err != nil {
		t.Fatalf("ToggleFavoriteField() error = %v", err)
	}
	if !c.waitFor(2) {
		t.Fatalf("second change not delivered")
	}
	if got := c.at(1); !got.IsFavorite {
		t.Errorf("second delivered change = %+v, want true", got)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("second Unsubscribe() error = %v", err)
	}
	if err := h.store.ToggleFavoriteField(ctx, fav.ImageRef, false); err != nil {
		t.Fatalf("ToggleFavoriteField() after unsubscribe error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := c.len(); n != 2 {
		t.Errorf("delivered %d changes after unsubscribe, want 2", n)
	}
}
