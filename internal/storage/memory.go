// internal/storage/memory.go
// Package storage provides implementations of the Store interface
// for both in-memory and PostgreSQL document stores.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when a document is not found
	ErrConflict = errors.New("conflict")  // Returned when a document already exists
)

// Store interface defines the document operations required by the profile store.
// This interface is implemented by both in-memory and PostgreSQL backends.
// Writes are last-write-wins; there is no concurrency token.
type Store interface {
	// Profile documents, one per identity
	GetProfile(ctx context.Context, id string) (*model.ProfileRecord, error) // Get a profile by identity
	PutProfile(ctx context.Context, profile model.ProfileRecord) error       // Create or overwrite a profile

	// Favorite documents, one per liked image
	CreateFavorite(ctx context.Context, fav model.FavoriteRecord) error                     // Create a new favorite record
	GetFavorite(ctx context.Context, id string) (*model.FavoriteRecord, error)              // Get a favorite by record ID
	GetFavoriteByImage(ctx context.Context, imageRef string) (*model.FavoriteRecord, error) // Get a favorite by image URI
	ListFavorites(ctx context.Context, onlyFavorite bool) ([]model.FavoriteRecord, error)   // List favorites, newest first

	// SetFavorite sets the flag of the record for imageRef. changed is false
	// when the stored value already equals value.
	SetFavorite(ctx context.Context, imageRef string, value bool) (fav *model.FavoriteRecord, changed bool, err error)
}

// memory implements the Store interface using in-memory storage.
// It's intended for development and testing purposes.
type memory struct {
	mu        sync.RWMutex                     // Protects concurrent access to maps
	profiles  map[string]*model.ProfileRecord  // Map of identity to profile
	favorites map[string]*model.FavoriteRecord // Map of record ID to favorite
	byImage   map[string]string                // Map of image URI to record ID
}

// NewMemory creates a new in-memory storage implementation.
func NewMemory() Store {
	return &memory{
		profiles:  make(map[string]*model.ProfileRecord),
		favorites: make(map[string]*model.FavoriteRecord),
		byImage:   make(map[string]string),
	}
}

func (m *memory) GetProfile(ctx context.Context, id string) (*model.ProfileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, exists := m.profiles[id]
	if !exists {
		return nil, ErrNotFound
	}
	profileCopy := *profile
	profileCopy.AvatarRef = copyRef(profile.AvatarRef)
	return &profileCopy, nil
}

func (m *memory) PutProfile(ctx context.Context, profile model.ProfileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	profileCopy := profile
	profileCopy.AvatarRef = copyRef(profile.AvatarRef)
	if profileCopy.UpdatedAt.IsZero() {
		profileCopy.UpdatedAt = time.Now().UTC()
	}
	m.profiles[profile.ID] = &profileCopy
	return nil
}

func (m *memory) CreateFavorite(ctx context.Context, fav model.FavoriteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.favorites[fav.ID]; exists {
		return ErrConflict
	}
	if _, exists := m.byImage[fav.ImageRef]; exists {
		return ErrConflict
	}

	favCopy := fav
	if favCopy.UpdatedAt.IsZero() {
		favCopy.UpdatedAt = time.Now().UTC()
	}
	if favCopy.Revision == 0 {
		favCopy.Revision = 1
	}
	m.favorites[fav.ID] = &favCopy
	m.byImage[fav.ImageRef] = fav.ID
	return nil
}

func (m *memory) GetFavorite(ctx context.Context, id string) (*model.FavoriteRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fav, exists := m.favorites[id]
	if !exists {
		return nil, ErrNotFound
	}
	favCopy := *fav
	return &favCopy, nil
}

func (m *memory) GetFavoriteByImage(ctx context.Context, imageRef string) (*model.FavoriteRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.byImage[imageRef]
	if !exists {
		return nil, ErrNotFound
	}
	favCopy := *m.favorites[id]
	return &favCopy, nil
}

func (m *memory) ListFavorites(ctx context.Context, onlyFavorite bool) ([]model.FavoriteRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.FavoriteRecord, 0, len(m.favorites))
	for _, fav := range m.favorites {
		if onlyFavorite && !fav.IsFavorite {
			continue
		}
		result = append(result, *fav)
	}
	// Newest first, then by ID for stable ordering
	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (m *memory) SetFavorite(ctx context.Context, imageRef string, value bool) (*model.FavoriteRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, exists := m.byImage[imageRef]
	if !exists {
		return nil, false, ErrNotFound
	}
	fav := m.favorites[id]
	changed := fav.IsFavorite != value
	if changed {
		fav.IsFavorite = value
		fav.Revision++
		fav.UpdatedAt = time.Now().UTC()
	}
	favCopy := *fav
	return &favCopy, changed, nil
}

// copyRef detaches an optional reference from the caller's memory
func copyRef(ref *string) *string {
	if ref == nil {
		return nil
	}
	v := *ref
	return &v
}
