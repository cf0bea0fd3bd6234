package screen

import (
	"errors"

	errordefs "github.com/RegistryAccord/registryaccord-profile-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/validate"
	"github.com/dustin/go-humanize"
)

// AppSettingsURL opens the application's page in the system settings.
const AppSettingsURL = "app-settings:"

// Alert is a user-facing message raised by a controller.
type Alert struct {
	Code    errordefs.ErrorCode
	Title   string
	Message string
	// SettingsURL is set when the alert offers to open the system settings.
	SettingsURL string
	// Retryable is set when the user may simply trigger the action again.
	Retryable bool
}

// AlertFor maps a pipeline failure to the alert the user should see. Silent
// failures and nil map to nil.
func AlertFor(err error) *Alert {
	if err == nil {
		return nil
	}

	code := errordefs.CodeOf(err)
	if errordefs.Silent(code) {
		return nil
	}

	switch code {
	case errordefs.PERMISSION_DENIED:
		return &Alert{
			Code:        code,
			Title:       "Photo access denied",
			Message:     "Allow photo access in Settings to choose a picture.",
			SettingsURL: AppSettingsURL,
		}
	case errordefs.OVERSIZE_REJECTED:
		msg := "The image file is too large."
		var oversize *validate.OversizeError
		if errors.As(err, &oversize) {
			msg = "The image file is too large (" + humanize.IBytes(uint64(oversize.MeasuredBytes)) +
				", limit " + humanize.IBytes(uint64(oversize.MaxBytes)) + ")."
		}
		return &Alert{Code: code, Title: "Warning", Message: msg}
	case errordefs.SUBSCRIPTION_LOST:
		return &Alert{
			Code:    code,
			Title:   "Offline",
			Message: "Live updates stopped. Reopen this screen to reconnect.",
		}
	}

	return &Alert{
		Code:      code,
		Title:     "Something went wrong",
		Message:   "Please try again.",
		Retryable: errordefs.Retryable(code),
	}
}
