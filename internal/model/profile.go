// internal/model/profile.go
// Package model defines the data structures used throughout the profile sync core.
// These structures represent the remote documents, picked media and realtime events.
package model

import (
	"time"
)

// MediaKind classifies picked content.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// ProfileRecord represents the authoritative user profile document.
// There is one record per identity; it is mutated only through the profile store.
type ProfileRecord struct {
	ID          string    `json:"id" db:"id"`                          // Stable identity of the owner
	DisplayName string    `json:"displayName" db:"display_name"`       // Public nickname
	AvatarRef   *string   `json:"avatarRef,omitempty" db:"avatar_ref"` // Retrievable URI of the avatar, if any
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`           // When the record was last written
}

// FavoriteRecord represents a liked image and its favorite flag.
// It is remote-owned and may be changed by any client.
type FavoriteRecord struct {
	ID         string    `json:"id" db:"id"`                  // Record identifier
	ImageRef   string    `json:"imageRef" db:"image_ref"`     // URI of the liked image
	IsFavorite bool      `json:"isFavorite" db:"is_favorite"` // Favorite flag
	Revision   int64     `json:"revision" db:"revision"`      // Bumped by every change of the flag
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`   // When the flag was last written
}

// PickedMedia is the fully materialized result of a picker selection.
// It is owned by the calling screen until uploaded or discarded.
type PickedMedia struct {
	Content  []byte    // Raw bytes as delivered by the provider
	Kind     MediaKind // Image or video
	MimeType string    // Detected content type
}

// Size returns the raw content length in bytes.
func (m PickedMedia) Size() int64 {
	return int64(len(m.Content))
}

// FavoriteChanged is published on the realtime feed after an acknowledged
// favorite write. Revision is the record revision the write produced; the feed
// may deliver changes out of order, so subscribers keep the highest one seen.
// Zero means the publisher did not know the revision.
type FavoriteChanged struct {
	RecordID   string    `json:"recordId"`
	ImageRef   string    `json:"imageRef"`
	IsFavorite bool      `json:"isFavorite"`
	Revision   int64     `json:"revision,omitempty"`
	ChangedAt  time.Time `json:"changedAt"`
}

// ProfileChanged is published on the realtime feed after an acknowledged
// profile write.
type ProfileChanged struct {
	Profile   ProfileRecord `json:"profile"`
	ChangedAt time.Time     `json:"changedAt"`
}
