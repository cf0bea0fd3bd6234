// Package picker presents the single-item media chooser and materializes the
// selection into memory.
package picker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	errordefs "github.com/RegistryAccord/registryaccord-profile-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/model"
)

// ErrDismissed is returned by a Source when the user closes the chooser
// without selecting anything.
var ErrDismissed = errors.New("picker dismissed")

// Kinds is the set of media kinds the chooser offers.
type Kinds []model.MediaKind

// AllKinds offers images and videos.
var AllKinds = Kinds{model.KindImage, model.KindVideo}

// Contains reports whether k is offered.
func (ks Kinds) Contains(k model.MediaKind) bool {
	for _, candidate := range ks {
		if candidate == k {
			return true
		}
	}
	return false
}

// Item is a selected entry whose content has not been read yet.
type Item interface {
	// Load reads the full content and reports its MIME type, if known.
	Load(ctx context.Context) (content []byte, mimeType string, err error)
}

// Source is the OS selection surface. Present shows one modal chooser limited
// to a single item and blocks until the user selects or dismisses it.
type Source interface {
	Present(ctx context.Context, allowed Kinds) (Item, error)
}

// Picker turns a Source into a single-shot asynchronous result.
type Picker struct {
	source  Source
	metrics *metrics.Metrics
	logger  *slog.Logger

	// one chooser on screen at a time
	mu sync.Mutex
}

// New creates a picker over source.
func New(source Source, logger *slog.Logger) *Picker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Picker{source: source, metrics: metrics.NewMetrics(), logger: logger}
}

// PickOne presents the chooser and returns the selected media, fully read.
// Dismissing the chooser or cancelling ctx yields PICKER_CANCELLED; content
// that cannot be read, is empty or is not of an allowed kind yields
// PICKER_LOAD_FAILED. Nothing is retried.
func (p *Picker) PickOne(ctx context.Context, allowed Kinds) (model.PickedMedia, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(allowed) == 0 {
		allowed = AllKinds
	}

	media, err := p.pick(ctx, allowed)
	outcome := "picked"
	switch errordefs.CodeOf(err) {
	case "":
	case errordefs.PICKER_CANCELLED:
		outcome = "cancelled"
	default:
		outcome = "load_failed"
		p.logger.Warn("picked media could not be loaded", "error", err)
	}
	p.metrics.PickTotal.WithLabelValues(outcome).Inc()
	return media, err
}

func (p *Picker) pick(ctx context.Context, allowed Kinds) (model.PickedMedia, error) {
	if ctx.Err() != nil {
		return model.PickedMedia{}, cancelled(ctx.Err())
	}

	item, err := p.source.Present(ctx, allowed)
	if ctx.Err() != nil {
		return model.PickedMedia{}, cancelled(ctx.Err())
	}
	if errors.Is(err, ErrDismissed) || (err == nil && item == nil) {
		return model.PickedMedia{}, cancelled(err)
	}
	if err != nil {
		return model.PickedMedia{}, errordefs.Wrap(errordefs.PICKER_LOAD_FAILED, "picker failed", err)
	}

	content, mimeType, err := item.Load(ctx)
	if ctx.Err() != nil {
		return model.PickedMedia{}, cancelled(ctx.Err())
	}
	if err != nil {
		return model.PickedMedia{}, errordefs.Wrap(errordefs.PICKER_LOAD_FAILED, "failed to load selection", err)
	}
	if len(content) == 0 {
		return model.PickedMedia{}, errordefs.New(errordefs.PICKER_LOAD_FAILED, "selection has no content")
	}

	if mimeType == "" {
		mimeType = http.DetectContentType(content)
	}
	kind, ok := KindOf(mimeType)
	if !ok || !allowed.Contains(kind) {
		return model.PickedMedia{}, errordefs.NewWithDetails(errordefs.PICKER_LOAD_FAILED,
			"selection is not an allowed media kind", map[string]string{"mimeType": mimeType})
	}

	return model.PickedMedia{Content: content, Kind: kind, MimeType: mimeType}, nil
}

// KindOf classifies a MIME type.
func KindOf(mimeType string) (model.MediaKind, bool) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return model.KindImage, true
	case strings.HasPrefix(mimeType, "video/"):
		return model.KindVideo, true
	default:
		return "", false
	}
}

func cancelled(cause error) error {
	return errordefs.Wrap(errordefs.PICKER_CANCELLED, "selection cancelled", cause)
}
