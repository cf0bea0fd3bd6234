package screen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	errordefs "github.com/RegistryAccord/registryaccord-profile-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/model"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/permission"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/picker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGate struct {
	status permission.Status
}

func (g fakeGate) RequestAccess(ctx context.Context) permission.Status {
	return g.status
}

type fakePicker struct {
	mu    sync.Mutex
	media model.PickedMedia
	err   error
	calls int
}

func (p *fakePicker) PickOne(ctx context.Context, allowed picker.Kinds) (model.PickedMedia, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.media, p.err
}

func (p *fakePicker) presented() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// recordingStore records the order of store calls. Uploads block on gate when
// it is set.
type recordingStore struct {
	mu        sync.Mutex
	profile   *model.ProfileRecord
	calls     []string
	updates   []*string
	names     []string
	uploadErr error
	updateErr error
	gate      chan struct{}
	active    int
	maxActive int
	uploads   int
}

func (s *recordingStore) ReadProfile(ctx context.Context, id string) (model.ProfileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return model.ProfileRecord{}, errordefs.New(errordefs.NOT_FOUND, "no profile")
	}
	return *s.profile, nil
}

func (s *recordingStore) UploadAsset(ctx context.Context, content []byte, contentType string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, "upload")
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.uploads++
	n := s.uploads
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	return fmt.Sprintf("https://assets.example.test/avatars/%d.jpg", n), nil
}

func (s *recordingStore) UpdateProfile(ctx context.Context, id, displayName string, avatarRef *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "update")
	s.updates = append(s.updates, avatarRef)
	s.names = append(s.names, displayName)
	return s.updateErr
}

func (s *recordingStore) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func video(size int) model.PickedMedia {
	return model.PickedMedia{Content: make([]byte, size), Kind: model.KindVideo, MimeType: "video/mp4"}
}

func strPtr(s string) *string { return &s }

func openEdit(t *testing.T, id string, store ProfileStore, gate Gate, pick Picker) *ProfileEdit {
	t.Helper()
	p, err := OpenProfileEdit(context.Background(), id, ProfileEditDeps{
		Store:    store,
		Gate:     gate,
		Picker:   pick,
		MaxBytes: 4 * 1024 * 1024,
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestOpenShowsNameHintWhileEmpty(t *testing.T) {
	p := openEdit(t, "user-hint", &recordingStore{}, fakeGate{}, &fakePicker{})

	eventually(t, func() bool { return p.View().NameHintVisible })
	assert.Empty(t, p.View().DisplayName)

	p.SetDisplayName("Mina")
	eventually(t, func() bool { return p.View().DisplayName == "Mina" })
	assert.False(t, p.View().NameHintVisible)

	p.SetDisplayName("")
	eventually(t, func() bool { return p.View().NameHintVisible })
}

func TestOpenLoadsExistingProfile(t *testing.T) {
	store := &recordingStore{profile: &model.ProfileRecord{ID: "user-load", DisplayName: "Mina", AvatarRef: strPtr("https://a/1.jpg")}}
	p := openEdit(t, "user-load", store, fakeGate{}, &fakePicker{})

	eventually(t, func() bool { return p.View().DisplayName == "Mina" })
	require.NotNil(t, p.View().AvatarRef)
	assert.Equal(t, "https://a/1.jpg", *p.View().AvatarRef)
	assert.False(t, p.View().NameHintVisible)
}

func TestPickAvatarDeniedNeverPresentsPicker(t *testing.T) {
	for _, status := range []permission.Status{permission.Denied, permission.Restricted} {
		t.Run(status.String(), func(t *testing.T) {
			pick := &fakePicker{media: video(10)}
			p := openEdit(t, "user-denied-"+status.String(), &recordingStore{}, fakeGate{status: status}, pick)

			err := p.PickAvatar()
			assert.Equal(t, errordefs.PERMISSION_DENIED, errordefs.CodeOf(err))
			assert.Zero(t, pick.presented())

			eventually(t, func() bool { return p.View().Alert != nil })
			assert.Equal(t, AppSettingsURL, p.View().Alert.SettingsURL)
		})
	}
}

func TestPickAvatarNotDeterminedDoesNothing(t *testing.T) {
	pick := &fakePicker{media: video(10)}
	p := openEdit(t, "user-undecided", &recordingStore{}, fakeGate{status: permission.NotDetermined}, pick)

	assert.NoError(t, p.PickAvatar())
	assert.Zero(t, pick.presented())
	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, p.View().Alert)
}

func TestPickAvatarCancelledIsSilent(t *testing.T) {
	pick := &fakePicker{err: errordefs.New(errordefs.PICKER_CANCELLED, "dismissed")}
	p := openEdit(t, "user-cancel", &recordingStore{}, fakeGate{status: permission.Limited}, pick)

	assert.NoError(t, p.PickAvatar())
	assert.Equal(t, 1, pick.presented())
	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, p.View().Alert)
	assert.False(t, p.View().PendingAvatar)
}

func TestPickAvatarLoadFailedAlerts(t *testing.T) {
	pick := &fakePicker{err: errordefs.New(errordefs.PICKER_LOAD_FAILED, "asset missing")}
	p := openEdit(t, "user-loadfail", &recordingStore{}, fakeGate{status: permission.Authorized}, pick)

	err := p.PickAvatar()
	assert.Equal(t, errordefs.PICKER_LOAD_FAILED, errordefs.CodeOf(err))
	eventually(t, func() bool { return p.View().Alert != nil })
	assert.True(t, p.View().Alert.Retryable)
}

func TestOversizeAvatarIsNeverUploaded(t *testing.T) {
	store := &recordingStore{profile: &model.ProfileRecord{ID: "user-big", DisplayName: "Mina", AvatarRef: strPtr("https://a/old.jpg")}}
	pick := &fakePicker{media: video(5 * 1024 * 1024)}
	p := openEdit(t, "user-big", store, fakeGate{status: permission.Authorized}, pick)

	err := p.PickAvatar()
	require.Equal(t, errordefs.OVERSIZE_REJECTED, errordefs.CodeOf(err))
	var e *errordefs.Error
	require.True(t, errors.As(err, &e))
	assert.Contains(t, e.Message, "5.0 MiB")

	eventually(t, func() bool { return p.View().Alert != nil })
	assert.Contains(t, p.View().Alert.Message, "5.0 MiB")
	assert.False(t, p.View().PendingAvatar)

	require.NoError(t, p.Done(context.Background()))
	assert.Equal(t, []string{"update"}, store.callLog())
	require.Len(t, store.updates, 1)
	assert.Equal(t, "https://a/old.jpg", *store.updates[0])
}

func TestDoneUploadsBeforeWriting(t *testing.T) {
	store := &recordingStore{profile: &model.ProfileRecord{ID: "user-order", DisplayName: "Mina"}}
	pick := &fakePicker{media: video(1024)}
	p := openEdit(t, "user-order", store, fakeGate{status: permission.Authorized}, pick)

	require.NoError(t, p.PickAvatar())
	eventually(t, func() bool { return p.View().PendingAvatar })

	require.NoError(t, p.Done(context.Background()))
	assert.Equal(t, []string{"upload", "update"}, store.callLog())
	require.NotNil(t, store.updates[0])
	assert.Equal(t, "https://assets.example.test/avatars/1.jpg", *store.updates[0])

	eventually(t, func() bool { return !p.View().PendingAvatar && !p.View().Saving })
	assert.Equal(t, "https://assets.example.test/avatars/1.jpg", *p.View().AvatarRef)
}

func TestFailedUploadSkipsWrite(t *testing.T) {
	store := &recordingStore{
		profile:   &model.ProfileRecord{ID: "user-upfail", DisplayName: "Mina"},
		uploadErr: errordefs.Wrap(errordefs.UPLOAD_FAILED, "failed to upload asset", errors.New("quota")),
	}
	pick := &fakePicker{media: video(1024)}
	p := openEdit(t, "user-upfail", store, fakeGate{status: permission.Authorized}, pick)

	require.NoError(t, p.PickAvatar())
	eventually(t, func() bool { return p.View().PendingAvatar })

	err := p.Done(context.Background())
	assert.Equal(t, errordefs.UPLOAD_FAILED, errordefs.CodeOf(err))
	assert.Equal(t, []string{"upload"}, store.callLog())

	eventually(t, func() bool { return p.View().Alert != nil })
	assert.True(t, p.View().Alert.Retryable)
	assert.True(t, p.View().PendingAvatar)
}

func TestSavesOfOneProfileAreSerialized(t *testing.T) {
	gate := make(chan struct{})
	store := &recordingStore{profile: &model.ProfileRecord{ID: "user-serial"}, gate: gate}
	pick := &fakePicker{media: video(1024)}
	p := openEdit(t, "user-serial", store, fakeGate{status: permission.Authorized}, pick)

	require.NoError(t, p.PickAvatar())
	eventually(t, func() bool { return p.View().PendingAvatar })

	errs := make(chan error, 2)
	go func() { errs <- p.Done(context.Background()) }()
	eventually(t, func() bool { return len(store.callLog()) == 1 })

	p.SetDisplayName("second")
	go func() { errs <- p.Done(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"upload"}, store.callLog())

	close(gate)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.maxActive)
	assert.Equal(t, 1, store.uploads)
	assert.Equal(t, []string{"upload", "update", "update"}, store.calls)
	assert.Equal(t, "second", store.names[1])
	require.Len(t, store.updates, 2)
	assert.Equal(t, store.updates[0], store.updates[1])
}

func TestRetryAfterFailedWriteReusesUpload(t *testing.T) {
	store := &recordingStore{
		profile:   &model.ProfileRecord{ID: "user-retry"},
		updateErr: errordefs.New(errordefs.PROFILE_WRITE_FAILED, "write rejected"),
	}
	pick := &fakePicker{media: video(1024)}
	p := openEdit(t, "user-retry", store, fakeGate{status: permission.Authorized}, pick)

	require.NoError(t, p.PickAvatar())
	eventually(t, func() bool { return p.View().PendingAvatar })

	require.Error(t, p.Done(context.Background()))
	eventually(t, func() bool { return p.View().Alert != nil })
	assert.True(t, p.View().PendingAvatar)

	store.mu.Lock()
	store.updateErr = nil
	store.mu.Unlock()

	require.NoError(t, p.Done(context.Background()))
	eventually(t, func() bool { return !p.View().PendingAvatar })

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []string{"upload", "update", "update"}, store.calls)
	assert.Equal(t, 1, store.uploads)
	require.Len(t, store.updates, 2)
	assert.Equal(t, "https://assets.example.test/avatars/1.jpg", *store.updates[1])
}

func TestSaveLockIsDroppedWhenIdle(t *testing.T) {
	store := &recordingStore{profile: &model.ProfileRecord{ID: "user-locks"}}
	p := openEdit(t, "user-locks", store, fakeGate{status: permission.Authorized}, &fakePicker{})

	p.SetDisplayName("Mina")
	require.NoError(t, p.Done(context.Background()))
	p.Wait()

	saveLocks.Lock()
	defer saveLocks.Unlock()
	assert.NotContains(t, saveLocks.byProfile, "user-locks")
}

func TestCloseDiscardsInFlightSave(t *testing.T) {
	gate := make(chan struct{})
	store := &recordingStore{profile: &model.ProfileRecord{ID: "user-close", DisplayName: "Mina"}, gate: gate}
	pick := &fakePicker{media: video(1024)}

	var renders int
	var mu sync.Mutex
	p, err := OpenProfileEdit(context.Background(), "user-close", ProfileEditDeps{
		Store:  store,
		Gate:   fakeGate{status: permission.Authorized},
		Picker: pick,
		Render: func(ProfileEditView) {
			mu.Lock()
			renders++
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	require.NoError(t, p.PickAvatar())
	eventually(t, func() bool { return p.View().PendingAvatar })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Done(ctx) }()
	eventually(t, func() bool { return len(store.callLog()) == 1 })

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	p.Close()

	mu.Lock()
	before := renders
	mu.Unlock()

	close(gate)
	p.Wait()

	assert.Equal(t, []string{"upload", "update"}, store.callLog())
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, before, renders)
	mu.Unlock()
	assert.True(t, p.View().PendingAvatar)
}

func TestPickAvatarAfterCloseIsCancelled(t *testing.T) {
	pick := &fakePicker{err: errordefs.New(errordefs.PICKER_CANCELLED, "screen closed")}
	p := openEdit(t, "user-closed", &recordingStore{}, fakeGate{status: permission.Authorized}, pick)
	p.Close()

	assert.NoError(t, p.PickAvatar())
	assert.ErrorIs(t, p.Done(context.Background()), ErrLoopClosed)
}
