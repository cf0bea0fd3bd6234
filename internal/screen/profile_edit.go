package screen

import (
	"context"
	"log/slog"
	"sync"

	errordefs "github.com/RegistryAccord/registryaccord-profile-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/model"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/permission"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/picker"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/validate"
	"golang.org/x/sync/semaphore"
)

// ProfileStore is the part of the remote profile store the edit screen needs.
type ProfileStore interface {
	ReadProfile(ctx context.Context, id string) (model.ProfileRecord, error)
	UploadAsset(ctx context.Context, content []byte, contentType string) (string, error)
	UpdateProfile(ctx context.Context, id, displayName string, avatarRef *string) error
}

// Gate requests library access.
type Gate interface {
	RequestAccess(ctx context.Context) permission.Status
}

// Picker presents the media chooser.
type Picker interface {
	PickOne(ctx context.Context, allowed picker.Kinds) (model.PickedMedia, error)
}

// ProfileEditView is the state rendered by the profile edit screen.
type ProfileEditView struct {
	DisplayName     string
	NameHintVisible bool    // shown while the display name is empty
	AvatarRef       *string // the saved avatar
	PendingAvatar   bool    // a validated avatar waits for Done
	Saving          bool
	Alert           *Alert
}

// ProfileEditDeps wires a profile edit screen.
type ProfileEditDeps struct {
	Store    ProfileStore
	Gate     Gate
	Picker   Picker
	MaxBytes int64
	Allowed  picker.Kinds
	Logger   *slog.Logger
	// Render receives every new view state on the screen loop.
	Render func(ProfileEditView)
}

// saveLocks holds one single-slot semaphore per profile so at most one
// upload-and-write sequence is outstanding for a profile at a time. An entry
// lives while a save holds or waits for it.
var saveLocks = struct {
	sync.Mutex
	byProfile map[string]*saveLock
}{byProfile: make(map[string]*saveLock)}

type saveLock struct {
	sem  *semaphore.Weighted
	refs int
}

// acquireSaveLock blocks until profileID has no other save outstanding. The
// returned func releases the lock.
func acquireSaveLock(ctx context.Context, profileID string) (func(), error) {
	saveLocks.Lock()
	l, ok := saveLocks.byProfile[profileID]
	if !ok {
		l = &saveLock{sem: semaphore.NewWeighted(1)}
		saveLocks.byProfile[profileID] = l
	}
	l.refs++
	saveLocks.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		dropSaveLock(profileID, l)
		return nil, err
	}
	return func() {
		l.sem.Release(1)
		dropSaveLock(profileID, l)
	}, nil
}

func dropSaveLock(profileID string, l *saveLock) {
	saveLocks.Lock()
	defer saveLocks.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(saveLocks.byProfile, profileID)
	}
}

// pendingAvatar is a validated avatar in canonical form
type pendingAvatar struct {
	payload     []byte
	contentType string
}

// ProfileEdit is the profile edit screen controller.
type ProfileEdit struct {
	profileID string
	deps      ProfileEditDeps
	logger    *slog.Logger
	loop      *Loop
	ctx       context.Context
	cancel    context.CancelFunc
	inflight  sync.WaitGroup

	// avatar last written by this screen, read by the next save, and the
	// pending avatar whose upload produced uploadedRef
	savedMu     sync.Mutex
	savedAvatar *string
	uploaded    *pendingAvatar
	uploadedRef string

	// loop-owned
	view    ProfileEditView
	pending *pendingAvatar
	saving  int

	snapMu sync.Mutex
	snap   ProfileEditView
}

// OpenProfileEdit reads the profile and opens the screen. A profile that does
// not exist yet opens with an empty name.
func OpenProfileEdit(ctx context.Context, profileID string, deps ProfileEditDeps) (*ProfileEdit, error) {
	if deps.MaxBytes <= 0 {
		deps.MaxBytes = validate.DefaultMaxBytes
	}
	if len(deps.Allowed) == 0 {
		deps.Allowed = picker.AllKinds
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rec, err := deps.Store.ReadProfile(ctx, profileID)
	if err != nil && !errordefs.HasCode(err, errordefs.NOT_FOUND) {
		return nil, err
	}

	screenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &ProfileEdit{
		profileID: profileID,
		deps:      deps,
		logger:    logger.With("screen", "profile_edit", "profile_id", profileID),
		loop:      NewLoop(),
		ctx:       screenCtx,
		cancel:    cancel,
	}
	p.savedAvatar = rec.AvatarRef

	p.loop.Post(func() {
		p.view = ProfileEditView{
			DisplayName:     rec.DisplayName,
			NameHintVisible: rec.DisplayName == "",
			AvatarRef:       rec.AvatarRef,
		}
		p.publish()
	})
	return p, nil
}

// View returns the most recently rendered state.
func (p *ProfileEdit) View() ProfileEditView {
	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	return p.snap
}

// publish hands the current view to the renderer. Runs on the loop.
func (p *ProfileEdit) publish() {
	v := p.view
	p.snapMu.Lock()
	p.snap = v
	p.snapMu.Unlock()
	if p.deps.Render != nil {
		p.deps.Render(v)
	}
}

// SetDisplayName records the edited name.
func (p *ProfileEdit) SetDisplayName(name string) {
	p.loop.Post(func() {
		p.view.DisplayName = name
		p.view.NameHintVisible = name == ""
		p.publish()
	})
}

// DismissAlert clears the current alert.
func (p *ProfileEdit) DismissAlert() {
	p.loop.Post(func() {
		p.view.Alert = nil
		p.publish()
	})
}

// PickAvatar asks for library access, presents the picker and validates the
// selection. An accepted avatar is held until Done. The returned error is the
// failure that was raised on the screen, if any; NotDetermined access and a
// dismissed picker return nil and change nothing.
func (p *ProfileEdit) PickAvatar() error {
	ctx := p.ctx

	status := p.deps.Gate.RequestAccess(ctx)
	switch {
	case status.NeedsSettingsRedirect():
		err := errordefs.New(errordefs.PERMISSION_DENIED, "photo library access is "+status.String())
		p.raise(err)
		return err
	case !status.AllowsPicking():
		p.logger.Debug("library access not determined")
		return nil
	}

	media, err := p.deps.Picker.PickOne(ctx, p.deps.Allowed)
	if err != nil {
		if errordefs.HasCode(err, errordefs.PICKER_CANCELLED) {
			return nil
		}
		p.raise(err)
		return err
	}

	outcome := validate.Validate(media, p.deps.MaxBytes)
	if !outcome.Accepted {
		err := outcome.Err()
		p.logger.Info("picked media rejected", "measured_bytes", outcome.Reason.MeasuredBytes, "max_bytes", outcome.Reason.MaxBytes)
		p.raise(err)
		return err
	}

	avatar := &pendingAvatar{payload: outcome.Payload, contentType: outcome.ContentType}
	p.loop.Post(func() {
		p.pending = avatar
		p.view.PendingAvatar = true
		p.view.Alert = nil
		p.publish()
	})
	return nil
}

// Done saves the edited name and, if one was picked, the new avatar. The
// avatar is uploaded first and the profile written only once the upload has
// succeeded. Saves of the same profile run one at a time. A save still
// running when the screen closes completes in the background and its result
// is discarded.
func (p *ProfileEdit) Done(ctx context.Context) error {
	var (
		name   string
		avatar *pendingAvatar
	)
	if err := p.loop.Do(ctx, func() {
		name = p.view.DisplayName
		avatar = p.pending
		p.saving++
		p.view.Saving = true
		p.publish()
	}); err != nil {
		return err
	}

	release, err := acquireSaveLock(ctx, p.profileID)
	if err != nil {
		p.finishSave(nil, nil, nil)
		return err
	}
	p.inflight.Add(1)

	result := make(chan error, 1)
	go func() {
		defer p.inflight.Done()
		defer release()
		result <- p.save(name, avatar)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ProfileEdit) save(name string, avatar *pendingAvatar) error {
	// Writes outlive the screen.
	ctx := context.WithoutCancel(p.ctx)

	p.savedMu.Lock()
	avatarRef := p.savedAvatar
	var uploadedRef string
	if avatar != nil && avatar == p.uploaded {
		uploadedRef = p.uploadedRef
	}
	p.savedMu.Unlock()

	switch {
	case uploadedRef != "":
		// an earlier save already stored this avatar
		avatarRef = &uploadedRef
	case avatar != nil:
		uri, err := p.deps.Store.UploadAsset(ctx, avatar.payload, avatar.contentType)
		if err != nil {
			p.finishSave(avatar, nil, err)
			return err
		}
		p.savedMu.Lock()
		p.uploaded = avatar
		p.uploadedRef = uri
		p.savedMu.Unlock()
		avatarRef = &uri
	}

	if err := p.deps.Store.UpdateProfile(ctx, p.profileID, name, avatarRef); err != nil {
		p.finishSave(avatar, nil, err)
		return err
	}

	p.savedMu.Lock()
	p.savedAvatar = avatarRef
	p.savedMu.Unlock()

	p.finishSave(avatar, avatarRef, nil)
	return nil
}

// finishSave applies a save result to the screen, if it is still open. With
// no avatar and no avatarRef the displayed avatar is left alone.
func (p *ProfileEdit) finishSave(avatar *pendingAvatar, avatarRef *string, err error) {
	if err != nil {
		p.logger.Warn("profile save failed", "error", err)
	}
	p.loop.Post(func() {
		p.saving--
		p.view.Saving = p.saving > 0
		switch {
		case err != nil:
			p.view.Alert = AlertFor(err)
		case avatarRef != nil || avatar != nil:
			p.view.AvatarRef = avatarRef
			if p.pending == avatar {
				p.pending = nil
				p.view.PendingAvatar = false
			}
		}
		p.publish()
	})
}

// raise shows err on the screen.
func (p *ProfileEdit) raise(err error) {
	alert := AlertFor(err)
	if alert == nil {
		return
	}
	p.loop.Post(func() {
		p.view.Alert = alert
		p.publish()
	})
}

// Close cancels a presented picker and closes the screen. Saves in flight
// keep running; Wait blocks until they are done.
func (p *ProfileEdit) Close() {
	p.cancel()
	p.loop.Close()
}

// Wait blocks until every save started by Done has finished.
func (p *ProfileEdit) Wait() {
	p.inflight.Wait()
}
