package permission

import (
	"context"
	"errors"

	"github.com/charmbracelet/huh"
)

// TerminalProvider asks for library access with an interactive confirm prompt.
// Aborting the prompt leaves the decision open.
type TerminalProvider struct {
	Title string
}

// RequestAuthorization shows the prompt and maps the answer to a Status.
func (p TerminalProvider) RequestAuthorization(ctx context.Context) (Status, error) {
	title := p.Title
	if title == "" {
		title = "Allow access to your photo library?"
	}

	var allow bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description("Access is needed to choose a profile picture.").
				Affirmative("Allow").
				Negative("Don't Allow").
				Value(&allow),
		),
	).RunWithContext(ctx)
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) || errors.Is(err, context.Canceled) {
			return NotDetermined, nil
		}
		return NotDetermined, err
	}

	if allow {
		return Authorized, nil
	}
	return Denied, nil
}

// Fixed is a provider that always answers with the same status.
type Fixed Status

// RequestAuthorization returns the fixed status.
func (f Fixed) RequestAuthorization(ctx context.Context) (Status, error) {
	return Status(f), nil
}
