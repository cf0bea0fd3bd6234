// internal/storage/postgres.go
// Package storage provides PostgreSQL implementation of the Store interface.
// This implementation is intended for production use with persistent data storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgres stores profile and favorite documents in PostgreSQL.
type postgres struct {
	db *pgxpool.Pool // Connection pool to PostgreSQL database
}

// NewPostgres creates a new PostgreSQL storage implementation.
// It establishes a connection pool to the database and initializes the schema.
// Parameters:
//   - dsn: Database connection string in PostgreSQL format
//
// Returns:
//   - Store: Implementation of the storage interface
//   - error: Any error that occurred during initialization
func NewPostgres(dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	// A client session needs only a handful of connections
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	// Establish connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool}, nil
}

// initSchema creates all required tables and indexes if they don't already exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		-- Profiles table, one row per identity
		CREATE TABLE IF NOT EXISTS profiles (
		    id TEXT PRIMARY KEY,                     -- Identity of the owner
		    display_name TEXT NOT NULL,              -- Public nickname
		    avatar_ref TEXT,                         -- Avatar URI, NULL when unset
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		-- Favorites table, one row per liked image
		CREATE TABLE IF NOT EXISTS favorites (
		    id TEXT PRIMARY KEY,                     -- Record identifier
		    image_ref TEXT NOT NULL UNIQUE,          -- Liked image URI
		    is_favorite BOOLEAN NOT NULL,            -- Favorite flag
		    revision BIGINT NOT NULL DEFAULT 1,      -- Bumped by every change of the flag
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
		ALTER TABLE favorites ADD COLUMN IF NOT EXISTS revision BIGINT NOT NULL DEFAULT 1;

		CREATE INDEX IF NOT EXISTS idx_favorites_updated_at ON favorites(updated_at DESC);
	`

	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool
func (p *postgres) Close() {
	p.db.Close()
}

// GetProfile retrieves a profile by identity
func (p *postgres) GetProfile(ctx context.Context, id string) (*model.ProfileRecord, error) {
	query := `SELECT id, display_name, avatar_ref, updated_at FROM profiles WHERE id = $1`

	var profile model.ProfileRecord
	err := p.db.QueryRow(ctx, query, id).Scan(
		&profile.ID,
		&profile.DisplayName,
		&profile.AvatarRef,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &profile, nil
}

// PutProfile creates or overwrites a profile. The last write wins.
func (p *postgres) PutProfile(ctx context.Context, profile model.ProfileRecord) error {
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}

	query := `INSERT INTO profiles (id, display_name, avatar_ref, updated_at)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (id) DO UPDATE
	          SET display_name = $2, avatar_ref = $3, updated_at = $4`

	_, err := p.db.Exec(ctx, query,
		profile.ID,
		profile.DisplayName,
		profile.AvatarRef,
		profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put profile: %w", err)
	}

	return nil
}

// CreateFavorite creates a new favorite record
func (p *postgres) CreateFavorite(ctx context.Context, fav model.FavoriteRecord) error {
	if fav.UpdatedAt.IsZero() {
		fav.UpdatedAt = time.Now().UTC()
	}
	if fav.Revision == 0 {
		fav.Revision = 1
	}

	query := `INSERT INTO favorites (id, image_ref, is_favorite, revision, updated_at) VALUES ($1, $2, $3, $4, $5)`

	_, err := p.db.Exec(ctx, query, fav.ID, fav.ImageRef, fav.IsFavorite, fav.Revision, fav.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("failed to create favorite: %w", err)
	}

	return nil
}

// GetFavorite retrieves a favorite by record ID
func (p *postgres) GetFavorite(ctx context.Context, id string) (*model.FavoriteRecord, error) {
	return p.getFavorite(ctx, `SELECT id, image_ref, is_favorite, revision, updated_at FROM favorites WHERE id = $1`, id)
}

// GetFavoriteByImage retrieves a favorite by image URI
func (p *postgres) GetFavoriteByImage(ctx context.Context, imageRef string) (*model.FavoriteRecord, error) {
	return p.getFavorite(ctx, `SELECT id, image_ref, is_favorite, revision, updated_at FROM favorites WHERE image_ref = $1`, imageRef)
}

func (p *postgres) getFavorite(ctx context.Context, query, arg string) (*model.FavoriteRecord, error) {
	var fav model.FavoriteRecord
	err := p.db.QueryRow(ctx, query, arg).Scan(&fav.ID, &fav.ImageRef, &fav.IsFavorite, &fav.Revision, &fav.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get favorite: %w", err)
	}
	return &fav, nil
}

// ListFavorites lists favorites, newest first
func (p *postgres) ListFavorites(ctx context.Context, onlyFavorite bool) ([]model.FavoriteRecord, error) {
	query := `SELECT id, image_ref, is_favorite, revision, updated_at FROM favorites`
	if onlyFavorite {
		query += ` WHERE is_favorite`
	}
	query += ` ORDER BY updated_at DESC, id ASC`

	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites: %w", err)
	}
	defer rows.Close()

	favorites := make([]model.FavoriteRecord, 0)
	for rows.Next() {
		var fav model.FavoriteRecord
		if err := rows.Scan(&fav.ID, &fav.ImageRef, &fav.IsFavorite, &fav.Revision, &fav.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan favorite: %w", err)
		}
		favorites = append(favorites, fav)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating favorites: %w", err)
	}

	return favorites, nil
}

// SetFavorite sets the flag for imageRef in a single statement. The row is
// only touched when the value differs, so a repeated set reports changed=false.
// Every change bumps the revision under the row lock, so revisions follow
// commit order.
func (p *postgres) SetFavorite(ctx context.Context, imageRef string, value bool) (*model.FavoriteRecord, bool, error) {
	query := `UPDATE favorites SET is_favorite = $2, revision = revision + 1, updated_at = $3
	          WHERE image_ref = $1 AND is_favorite <> $2
	          RETURNING id, image_ref, is_favorite, revision, updated_at`

	var fav model.FavoriteRecord
	err := p.db.QueryRow(ctx, query, imageRef, value, time.Now().UTC()).Scan(
		&fav.ID, &fav.ImageRef, &fav.IsFavorite, &fav.Revision, &fav.UpdatedAt)
	if err == nil {
		return &fav, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to set favorite: %w", err)
	}

	// Either the record is missing or it already holds value
	current, err := p.GetFavoriteByImage(ctx, imageRef)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}
