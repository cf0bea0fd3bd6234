// Package permission requests and interprets the revocable media-library
// permission that guards the picker.
package permission

import (
	"context"
	"log/slog"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/metrics"
)

// Status is the library-access decision reported by the provider.
type Status int

const (
	NotDetermined Status = iota // the provider has not decided yet
	Authorized                  // full library access
	Limited                     // access to a user-chosen subset
	Denied                      // the user refused access
	Restricted                  // access is blocked by policy
)

// String returns the lower-case status name used in logs and metrics.
func (s Status) String() string {
	switch s {
	case Authorized:
		return "authorized"
	case Limited:
		return "limited"
	case Denied:
		return "denied"
	case Restricted:
		return "restricted"
	default:
		return "not_determined"
	}
}

// AllowsPicking reports whether the picker may be presented.
func (s Status) AllowsPicking() bool {
	return s == Authorized || s == Limited
}

// NeedsSettingsRedirect reports whether the caller should offer navigation to
// the system settings so the user can grant access.
func (s Status) NeedsSettingsRedirect() bool {
	return s == Denied || s == Restricted
}

// Provider is the OS permission surface. RequestAuthorization may prompt the
// user and blocks until they answer or a cached decision is returned.
type Provider interface {
	RequestAuthorization(ctx context.Context) (Status, error)
}

// Gate asks the provider for access on every request. Decisions are not
// remembered here because the user can grant or revoke access in the system
// settings at any time.
type Gate struct {
	provider Provider
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewGate creates a gate over provider.
func NewGate(provider Provider, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		provider: provider,
		metrics:  metrics.NewMetrics(),
		logger:   logger,
	}
}

// RequestAccess returns the permission status the provider reports now. A
// provider failure yields NotDetermined.
func (g *Gate) RequestAccess(ctx context.Context) Status {
	status, err := g.provider.RequestAuthorization(ctx)
	if err != nil {
		g.logger.Warn("permission request failed", "error", err)
		status = NotDetermined
	}

	g.metrics.PermissionRequestTotal.WithLabelValues(status.String()).Inc()
	return status
}
