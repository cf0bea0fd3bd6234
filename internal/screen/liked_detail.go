package screen

import (
	"context"
	"log/slog"
	"sync"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/binding"
)

// LikedDetailView is the state rendered by the liked-image detail screen.
type LikedDetailView struct {
	RecordID string
	ImageRef string
	Favorite bool
	// Live is false once realtime updates have stopped; Favorite is then the
	// last known value.
	Live  bool
	Alert *Alert
}

// LikedDetail shows one liked image with a favorite toggle bound to the
// remote record.
type LikedDetail struct {
	logger  *slog.Logger
	loop    *Loop
	binding *binding.Binding
	render  func(LikedDetailView)

	// loop-owned
	view LikedDetailView

	snapMu sync.Mutex
	snap   LikedDetailView
}

// OpenLikedDetail binds recordID and opens the screen. render receives every
// new view state on the screen loop and may be nil.
func OpenLikedDetail(ctx context.Context, binder *binding.Binder, recordID string, logger *slog.Logger, render func(LikedDetailView)) (*LikedDetail, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &LikedDetail{
		logger: logger.With("screen", "liked_detail", "record_id", recordID),
		loop:   NewLoop(),
		render: render,
	}

	bd, err := binder.Bind(ctx, recordID, func(e binding.Event) {
		d.loop.Post(func() { d.apply(e) })
	})
	if err != nil {
		d.loop.Close()
		return nil, err
	}
	d.binding = bd

	d.loop.Post(func() {
		d.view.RecordID = recordID
		d.view.ImageRef = bd.ImageRef()
		d.view.Favorite = bd.Value()
		d.view.Live = true
		d.publish()
	})
	return d, nil
}

// apply folds a binding event into the view. Runs on the loop.
func (d *LikedDetail) apply(e binding.Event) {
	d.view.Favorite = e.Value
	switch e.Kind {
	case binding.Rollback, binding.WriteFailed:
		d.view.Alert = AlertFor(e.Err)
	case binding.SubscriptionLost:
		d.logger.Warn("live favorite updates stopped", "error", e.Err)
		d.view.Live = false
		d.view.Alert = AlertFor(e.Err)
	}
	d.publish()
}

func (d *LikedDetail) publish() {
	v := d.view
	d.snapMu.Lock()
	d.snap = v
	d.snapMu.Unlock()
	if d.render != nil {
		d.render(v)
	}
}

// View returns the most recently rendered state.
func (d *LikedDetail) View() LikedDetailView {
	d.snapMu.Lock()
	defer d.snapMu.Unlock()
	return d.snap
}

// Toggle flips the favorite flag. The new value shows at once and is written
// in the background.
func (d *LikedDetail) Toggle() {
	d.binding.SetOptimistic(!d.binding.Value())
}

// Binding returns the screen's favorite binding.
func (d *LikedDetail) Binding() *binding.Binding {
	return d.binding
}

// Close detaches the binding and closes the screen. Pending writes finish in
// the background without touching the view.
func (d *LikedDetail) Close() error {
	err := d.binding.Close()
	d.loop.Close()
	return err
}
