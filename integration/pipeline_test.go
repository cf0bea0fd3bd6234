// integration/pipeline_test.go
// Package integration provides end-to-end tests of the profile pipeline: a
// session identity drives the edit screen over the real profile store, and
// liked-image screens stay in sync through the realtime feed.
package integration

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/binding"
	errordefs "github.com/RegistryAccord/registryaccord-profile-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/event"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/jwks"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/media"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/permission"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/picker"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/profile"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/screen"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/storage"
	"github.com/golang-jwt/jwt/v5"
)

const assetBase = "memory://assets"

// pipeline bundles the in-memory backends behind a real profile store.
type pipeline struct {
	objects *media.Memory
	feed    *event.Memory
	store   *profile.Store
}

func newPipeline() *pipeline {
	objects := media.NewMemory(assetBase)
	feed := event.NewMemory()
	return &pipeline{
		objects: objects,
		feed:    feed,
		store:   profile.NewStore(storage.NewMemory(), objects, feed),
	}
}

// memItem is a library item held in memory.
type memItem struct {
	content  []byte
	mimeType string
}

func (i memItem) Load(ctx context.Context) ([]byte, string, error) {
	return i.content, i.mimeType, nil
}

// library always presents the same item.
type library struct {
	item memItem
}

func (l library) Present(ctx context.Context, allowed picker.Kinds) (picker.Item, error) {
	return l.item, nil
}

// createTestJWT signs a session token for subject with key.
func createTestJWT(t *testing.T, key ed25519.PrivateKey, issuer, audience, subject string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": issuer,
		"aud": audience,
		"sub": subject,
		"exp": float64(time.Now().Add(time.Hour).Unix()),
		"iat": float64(time.Now().Unix()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign JWT: %v", err)
	}
	return signed
}

// testPNG encodes a w×h image. With noise set the pixels are random, which
// keeps the JPEG encoding large.
func testPNG(t *testing.T, w, h int, noise bool) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if noise {
		if _, err := rand.Read(img.Pix); err != nil {
			t.Fatalf("failed to fill image: %v", err)
		}
	} else {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// TestSessionIdentity verifies that the session token decides which profile is edited.
func TestSessionIdentity(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	verifier := jwks.NewStaticClient("test-key", pub)

	tests := []struct {
		name     string
		issuer   string
		audience string
		wantErr  bool
	}{
		{"valid", "test-issuer", "test-audience", false},
		{"invalid issuer", "other-issuer", "test-audience", true},
		{"invalid audience", "test-issuer", "other-audience", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := createTestJWT(t, priv, tt.issuer, tt.audience, "user-123")
			provider := identity.NewSessionProvider(token, "test-issuer", "test-audience", verifier)

			id, err := provider.CurrentIdentity(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Errorf("CurrentIdentity() = %q, want error", id)
				}
				return
			}
			if err != nil {
				t.Fatalf("CurrentIdentity() error = %v", err)
			}
			if id != "user-123" {
				t.Errorf("CurrentIdentity() = %q, want %q", id, "user-123")
			}
		})
	}
}

// TestProfileEditSavesAvatar runs pick, validate, upload and write end to end.
func TestProfileEditSavesAvatar(t *testing.T) {
	ctx := context.Background()
	p := newPipeline()

	edit, err := screen.OpenProfileEdit(ctx, "user-123", screen.ProfileEditDeps{
		Store:  p.store,
		Gate:   permission.NewGate(permission.Fixed(permission.Authorized), nil),
		Picker: picker.New(library{item: memItem{content: testPNG(t, 32, 32, false), mimeType: "image/png"}}, nil),
	})
	if err != nil {
		t.Fatalf("OpenProfileEdit() error = %v", err)
	}
	defer edit.Close()

	edit.SetDisplayName("Mina")
	if err := edit.PickAvatar(); err != nil {
		t.Fatalf("PickAvatar() error = %v", err)
	}
	if err := edit.Done(ctx); err != nil {
		t.Fatalf("Done() error = %v", err)
	}

	rec, err := p.store.ReadProfile(ctx, "user-123")
	if err != nil {
		t.Fatalf("ReadProfile() error = %v", err)
	}
	if rec.DisplayName != "Mina" {
		t.Errorf("DisplayName = %q, want %q", rec.DisplayName, "Mina")
	}
	if rec.AvatarRef == nil || !strings.HasPrefix(*rec.AvatarRef, assetBase+"/avatars/") {
		t.Fatalf("AvatarRef = %v, want an uploaded asset URI", rec.AvatarRef)
	}

	key := strings.TrimPrefix(*rec.AvatarRef, assetBase+"/")
	obj, err := p.objects.Get(key)
	if err != nil {
		t.Fatalf("uploaded object missing: %v", err)
	}
	if obj.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q, want image/jpeg", obj.ContentType)
	}

	if n := len(p.feed.ProfileChanges()); n != 1 {
		t.Errorf("published %d profile changes, want 1", n)
	}

	// a second save without a new pick keeps the avatar
	edit.SetDisplayName("Mina K")
	if err := edit.Done(ctx); err != nil {
		t.Fatalf("second Done() error = %v", err)
	}
	rec2, err := p.store.ReadProfile(ctx, "user-123")
	if err != nil {
		t.Fatalf("ReadProfile() error = %v", err)
	}
	if rec2.AvatarRef == nil || *rec2.AvatarRef != *rec.AvatarRef {
		t.Errorf("AvatarRef after rename = %v, want %s", rec2.AvatarRef, *rec.AvatarRef)
	}
	if p.objects.Len() != 1 {
		t.Errorf("stored %d objects, want 1", p.objects.Len())
	}
}

// TestProfileEditRejectsOversizeAvatar verifies an oversize pick never reaches storage.
func TestProfileEditRejectsOversizeAvatar(t *testing.T) {
	ctx := context.Background()
	p := newPipeline()

	edit, err := screen.OpenProfileEdit(ctx, "user-123", screen.ProfileEditDeps{
		Store:    p.store,
		Gate:     permission.NewGate(permission.Fixed(permission.Authorized), nil),
		Picker:   picker.New(library{item: memItem{content: testPNG(t, 64, 64, true), mimeType: "image/png"}}, nil),
		MaxBytes: 1024,
	})
	if err != nil {
		t.Fatalf("OpenProfileEdit() error = %v", err)
	}
	defer edit.Close()

	err = edit.PickAvatar()
	if got := errordefs.CodeOf(err); got != errordefs.OVERSIZE_REJECTED {
		t.Fatalf("PickAvatar() code = %v, want %v", got, errordefs.OVERSIZE_REJECTED)
	}

	edit.SetDisplayName("Mina")
	if err := edit.Done(ctx); err != nil {
		t.Fatalf("Done() error = %v", err)
	}
	if p.objects.Len() != 0 {
		t.Errorf("stored %d objects, want 0", p.objects.Len())
	}
	rec, err := p.store.ReadProfile(ctx, "user-123")
	if err != nil {
		t.Fatalf("ReadProfile() error = %v", err)
	}
	if rec.AvatarRef != nil {
		t.Errorf("AvatarRef = %v, want nil", *rec.AvatarRef)
	}
}

// TestPermissionDeniedRedirectsToSettings verifies a denied gate shows the settings alert.
func TestPermissionDeniedRedirectsToSettings(t *testing.T) {
	ctx := context.Background()
	p := newPipeline()

	edit, err := screen.OpenProfileEdit(ctx, "user-123", screen.ProfileEditDeps{
		Store:  p.store,
		Gate:   permission.NewGate(permission.Fixed(permission.Denied), nil),
		Picker: picker.New(library{}, nil),
	})
	if err != nil {
		t.Fatalf("OpenProfileEdit() error = %v", err)
	}
	defer edit.Close()

	if got := errordefs.CodeOf(edit.PickAvatar()); got != errordefs.PERMISSION_DENIED {
		t.Fatalf("PickAvatar() code = %v, want %v", got, errordefs.PERMISSION_DENIED)
	}
	eventually(t, func() bool {
		a := edit.View().Alert
		return a != nil && a.SettingsURL == screen.AppSettingsURL
	}, "settings alert not shown")
}

// TestLikedDetailFollowsOtherClients verifies two screens on one record converge.
func TestLikedDetailFollowsOtherClients(t *testing.T) {
	ctx := context.Background()
	p := newPipeline()

	fav, err := p.store.AddFavorite(ctx, "https://img.example.test/cat.jpg")
	if err != nil {
		t.Fatalf("AddFavorite() error = %v", err)
	}

	binder := binding.NewBinder(p.store, nil)
	first, err := screen.OpenLikedDetail(ctx, binder, fav.ID, nil, nil)
	if err != nil {
		t.Fatalf("OpenLikedDetail() error = %v", err)
	}
	defer first.Close()
	second, err := screen.OpenLikedDetail(ctx, binder, fav.ID, nil, nil)
	if err != nil {
		t.Fatalf("OpenLikedDetail() error = %v", err)
	}
	defer second.Close()

	eventually(t, func() bool { return first.View().Favorite && second.View().Favorite }, "screens did not open favorited")

	first.Toggle()
	first.Binding().Wait()
	eventually(t, func() bool { return !first.View().Favorite && !second.View().Favorite }, "screens did not see the change")

	got, err := p.store.ReadFavorite(ctx, fav.ID)
	if err != nil {
		t.Fatalf("ReadFavorite() error = %v", err)
	}
	if got.IsFavorite {
		t.Error("stored flag is still true")
	}

	// a write from outside any screen reaches both
	if err := p.store.ToggleFavoriteField(ctx, fav.ImageRef, true); err != nil {
		t.Fatalf("ToggleFavoriteField() error = %v", err)
	}
	eventually(t, func() bool { return first.View().Favorite && second.View().Favorite }, "screens did not follow the remote write")
}
