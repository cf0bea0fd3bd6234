// Package validate enforces the size ceiling on picked media. Size is measured
// on the canonical transferable form, the exact bytes that would be uploaded.
package validate

import (
	"bytes"
	"fmt"

	errordefs "github.com/RegistryAccord/registryaccord-profile-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/model"
	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
)

// DefaultMaxBytes is the avatar ceiling applied when none is configured.
const DefaultMaxBytes = 4 * 1024 * 1024

// OversizeError describes a rejected payload.
type OversizeError struct {
	MeasuredBytes int64 `json:"measuredBytes"`
	MaxBytes      int64 `json:"maxBytes"`
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("media is %s, limit is %s",
		humanize.IBytes(uint64(e.MeasuredBytes)), humanize.IBytes(uint64(e.MaxBytes)))
}

// Outcome is the result of Validate. Payload and ContentType hold the
// canonical form that was measured; an accepted outcome uploads exactly these.
type Outcome struct {
	Accepted    bool
	Reason      *OversizeError
	Payload     []byte
	ContentType string
}

// Err returns the OVERSIZE_REJECTED error for a rejected outcome, or nil.
func (o Outcome) Err() error {
	if o.Accepted || o.Reason == nil {
		return nil
	}
	return &errordefs.Error{
		Code:    errordefs.OVERSIZE_REJECTED,
		Message: o.Reason.Error(),
		Details: *o.Reason,
		Cause:   o.Reason,
	}
}

// Validate measures media in canonical form and compares it with maxBytes.
// A size strictly greater than maxBytes is rejected; equal is accepted.
func Validate(media model.PickedMedia, maxBytes int64) Outcome {
	payload, contentType := Canonical(media)
	size := int64(len(payload))

	m := metrics.NewMetrics()
	m.ValidatedBytes.Observe(float64(size))

	if size > maxBytes {
		m.ValidationTotal.WithLabelValues(string(media.Kind), "rejected").Inc()
		return Outcome{
			Reason:      &OversizeError{MeasuredBytes: size, MaxBytes: maxBytes},
			ContentType: contentType,
		}
	}

	m.ValidationTotal.WithLabelValues(string(media.Kind), "accepted").Inc()
	return Outcome{Accepted: true, Payload: payload, ContentType: contentType}
}

// Canonical returns the transferable form of media and its content type.
// Images are decoded with their EXIF orientation applied and re-encoded as
// JPEG at full quality. Videos, and images that cannot be decoded, are sent
// as picked.
func Canonical(media model.PickedMedia) ([]byte, string) {
	if media.Kind != model.KindImage {
		return media.Content, media.MimeType
	}

	img, err := imaging.Decode(bytes.NewReader(media.Content), imaging.AutoOrientation(true))
	if err != nil {
		return media.Content, media.MimeType
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(100)); err != nil {
		return media.Content, media.MimeType
	}
	return buf.Bytes(), "image/jpeg"
}
