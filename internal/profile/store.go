// Package profile implements the remote profile store: the authoritative
// profile and favorite documents, the asset uploader and the realtime
// announcement of every acknowledged write.
package profile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	errordefs "github.com/RegistryAccord/registryaccord-profile-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/event"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/media"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/model"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/telemetry"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// assetPrefix is the object key prefix for uploaded avatars
const assetPrefix = "avatars/"

// Store is the remote profile store. Writes are last-write-wins: there is no
// concurrency token, so two sessions editing the same profile overwrite each
// other in the order their writes are acknowledged.
type Store struct {
	docs      storage.Store
	objects   media.ObjectStore
	feed      event.Feed
	validator *schema.Validator
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for non-fatal failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the write timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a profile store over a document store, an object store and
// a realtime feed.
func NewStore(docs storage.Store, objects media.ObjectStore, feed event.Feed, opts ...Option) *Store {
	s := &Store{
		docs:      docs,
		objects:   objects,
		feed:      feed,
		validator: schema.MustNewValidator(),
		metrics:   metrics.NewMetrics(),
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// observe runs fn inside a span and records its outcome.
func (s *Store) observe(ctx context.Context, op string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := telemetry.Tracer().Start(ctx, "profile."+op)
	defer span.End()
	span.SetAttributes(attrs...)

	start := time.Now()
	err := fn(ctx)
	status := metrics.Status(err)
	s.metrics.StoreOperationTotal.WithLabelValues(op, status).Inc()
	s.metrics.StoreOperationDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errordefs.CodeOf(err)))
	}
	return err
}

// ReadProfile returns the profile for id, or NOT_FOUND.
func (s *Store) ReadProfile(ctx context.Context, id string) (model.ProfileRecord, error) {
	var profile model.ProfileRecord
	err := s.observe(ctx, "read_profile", func(ctx context.Context) error {
		p, err := s.docs.GetProfile(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errordefs.Wrap(errordefs.NOT_FOUND, "no profile for identity "+id, err)
			}
			return errordefs.Wrap(errordefs.INTERNAL, "failed to read profile", err)
		}
		profile = *p
		return nil
	}, attribute.String("profile.id", id))
	return profile, err
}

// UploadAsset stores content and returns its retrievable URI. The object is
// written in a single request, so a failure leaves nothing referenced.
func (s *Store) UploadAsset(ctx context.Context, content []byte, contentType string) (string, error) {
	var uri string
	err := s.observe(ctx, "upload_asset", func(ctx context.Context) error {
		key := assetPrefix + ulid.Make().String() + extensionFor(contentType)
		u, err := s.objects.Put(ctx, key, contentType, content)
		if err != nil {
			return errordefs.Wrap(errordefs.UPLOAD_FAILED, "failed to upload asset", err)
		}
		uri = u
		return nil
	}, attribute.Int("asset.size", len(content)), attribute.String("asset.content_type", contentType))
	return uri, err
}

// UpdateProfile overwrites the profile for id. A nil avatarRef clears the avatar.
func (s *Store) UpdateProfile(ctx context.Context, id, displayName string, avatarRef *string) error {
	return s.observe(ctx, "update_profile", func(ctx context.Context) error {
		profile := model.ProfileRecord{
			ID:          id,
			DisplayName: displayName,
			AvatarRef:   avatarRef,
			UpdatedAt:   s.now(),
		}
		if err := s.validator.Validate(schema.CollectionProfile, profile); err != nil {
			return errordefs.Wrap(errordefs.PROFILE_WRITE_FAILED, "profile document rejected", err)
		}
		if err := s.docs.PutProfile(ctx, profile); err != nil {
			return errordefs.Wrap(errordefs.PROFILE_WRITE_FAILED, "failed to write profile", err)
		}

		change := model.ProfileChanged{Profile: profile, ChangedAt: profile.UpdatedAt}
		if err := s.feed.PublishProfileChanged(ctx, change); err != nil {
			s.logger.Warn("failed to publish profile change", "profile_id", id, "error", err)
		}
		return nil
	}, attribute.String("profile.id", id))
}

// AddFavorite records imageRef as a liked image, favorited. Adding an image
// that is already recorded returns the existing record.
func (s *Store) AddFavorite(ctx context.Context, imageRef string) (model.FavoriteRecord, error) {
	var fav model.FavoriteRecord
	err := s.observe(ctx, "add_favorite", func(ctx context.Context) error {
		rec := model.FavoriteRecord{
			ID:         ulid.Make().String(),
			ImageRef:   imageRef,
			IsFavorite: true,
			UpdatedAt:  s.now(),
		}
		if err := s.validator.Validate(schema.CollectionFavorite, rec); err != nil {
			return errordefs.Wrap(errordefs.VALIDATION, "favorite document rejected", err)
		}
		err := s.docs.CreateFavorite(ctx, rec)
		if errors.Is(err, storage.ErrConflict) {
			existing, getErr := s.docs.GetFavoriteByImage(ctx, imageRef)
			if getErr != nil {
				return errordefs.Wrap(errordefs.INTERNAL, "failed to read favorite", getErr)
			}
			fav = *existing
			return nil
		}
		if err != nil {
			return errordefs.Wrap(errordefs.INTERNAL, "failed to create favorite", err)
		}
		fav = rec
		return nil
	}, attribute.String("favorite.image_ref", imageRef))
	return fav, err
}

// ReadFavorite returns the favorite record with recordID, or NOT_FOUND.
func (s *Store) ReadFavorite(ctx context.Context, recordID string) (model.FavoriteRecord, error) {
	var fav model.FavoriteRecord
	err := s.observe(ctx, "read_favorite", func(ctx context.Context) error {
		f, err := s.docs.GetFavorite(ctx, recordID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errordefs.Wrap(errordefs.NOT_FOUND, "no favorite record "+recordID, err)
			}
			return errordefs.Wrap(errordefs.INTERNAL, "failed to read favorite", err)
		}
		fav = *f
		return nil
	}, attribute.String("favorite.id", recordID))
	return fav, err
}

// ListFavorites lists liked images, newest first.
func (s *Store) ListFavorites(ctx context.Context, onlyFavorite bool) ([]model.FavoriteRecord, error) {
	var favs []model.FavoriteRecord
	err := s.observe(ctx, "list_favorites", func(ctx context.Context) error {
		list, err := s.docs.ListFavorites(ctx, onlyFavorite)
		if err != nil {
			return errordefs.Wrap(errordefs.INTERNAL, "failed to list favorites", err)
		}
		favs = list
		return nil
	})
	return favs, err
}

// ToggleFavoriteField sets the favorite flag of imageRef. Setting the value the
// record already holds is a no-op and publishes nothing.
func (s *Store) ToggleFavoriteField(ctx context.Context, imageRef string, value bool) error {
	return s.observe(ctx, "toggle_favorite", func(ctx context.Context) error {
		fav, changed, err := s.docs.SetFavorite(ctx, imageRef, value)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errordefs.Wrap(errordefs.NOT_FOUND, "no favorite for image "+imageRef, err)
			}
			return errordefs.Wrap(errordefs.PROFILE_WRITE_FAILED, "failed to set favorite", err)
		}
		if !changed {
			return nil
		}

		change := model.FavoriteChanged{
			RecordID:   fav.ID,
			ImageRef:   fav.ImageRef,
			IsFavorite: fav.IsFavorite,
			Revision:   fav.Revision,
			ChangedAt:  fav.UpdatedAt,
		}
		if err := s.feed.PublishFavoriteChanged(ctx, change); err != nil {
			s.logger.Warn("failed to publish favorite change", "record_id", fav.ID, "error", err)
		}
		return nil
	}, attribute.String("favorite.image_ref", imageRef), attribute.Bool("favorite.value", value))
}

// SubscribeFavorite opens a realtime subscription on recordID.
func (s *Store) SubscribeFavorite(recordID string, onChange func(model.FavoriteChanged), onError func(error)) (event.Subscription, error) {
	sub, err := s.feed.SubscribeFavorite(recordID, onChange, onError)
	if err != nil {
		return nil, errordefs.Wrap(errordefs.SUBSCRIPTION_LOST, "failed to subscribe to favorite "+recordID, err)
	}
	return sub, nil
}

// extensionFor maps the uploaded content type to an object key suffix
func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	default:
		return ""
	}
}
