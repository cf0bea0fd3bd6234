package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/config"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/event"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/jwks"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/media"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/model"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/picker"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/profile"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/storage"
)

// localIdentity is used when no session token is configured.
const localIdentity = "local-user"

// app holds the wired backends shared by all commands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	docs     storage.Store
	feed     event.Feed
	store    *profile.Store
	identity identity.Provider
	verifier identity.Verifier
}

// newApp chooses each backend from cfg: PostgreSQL or in-memory documents,
// S3 or in-memory objects, NATS or the in-process feed.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.DatabaseDSN != "" {
		docs, err := storage.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres storage: %w", err)
		}
		a.docs = docs
	} else {
		logger.Debug("using in-memory document store")
		a.docs = storage.NewMemory()
	}

	var objects media.ObjectStore
	if cfg.S3Endpoint != "" {
		s3, err := media.NewS3Client(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey, cfg.AssetPublicBase)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize object storage: %w", err)
		}
		objects = s3
	} else {
		logger.Debug("using in-memory object storage")
		objects = media.NewMemory(cfg.AssetPublicBase)
	}

	a.feed = event.NewFeedFromURL(cfg.NATSURL)
	a.store = profile.NewStore(a.docs, objects, a.feed, profile.WithLogger(logger))

	switch {
	case cfg.SessionToken != "" && cfg.JWKSURL == "":
		a.close()
		return nil, fmt.Errorf("PROFILE_JWKS_URL is required with PROFILE_SESSION_TOKEN")
	case cfg.JWKSURL != "":
		a.verifier = jwks.NewClient(cfg.JWKSURL)
		a.identity = identity.NewSessionProvider(cfg.SessionToken, cfg.JWTIssuer, cfg.JWTAudience, a.verifier)
	default:
		logger.Debug("no session configured, using local identity", "identity", localIdentity)
		a.identity = identity.Static(localIdentity)
	}

	return a, nil
}

// currentIdentity resolves the signed-in user.
func (a *app) currentIdentity(ctx context.Context) (string, error) {
	id, err := a.identity.CurrentIdentity(ctx)
	if err != nil {
		return "", fmt.Errorf("no signed-in user: %w", err)
	}
	return id, nil
}

// allowedKinds converts the configured kinds for the picker.
func (a *app) allowedKinds() picker.Kinds {
	kinds := make(picker.Kinds, 0, len(a.cfg.AllowedKinds))
	for _, k := range a.cfg.AllowedKinds {
		kinds = append(kinds, model.MediaKind(k))
	}
	return kinds
}

func (a *app) close() {
	if a.feed != nil {
		if err := a.feed.Close(); err != nil {
			a.logger.Warn("failed to close realtime feed", "error", err)
		}
	}
	// Close PostgreSQL storage if used
	if closer, ok := a.docs.(interface{ Close() }); ok {
		closer.Close()
	}
}
