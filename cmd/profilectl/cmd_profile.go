package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/permission"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/picker"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/screen"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or edit your profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := current.currentIdentity(cmd.Context())
		if err != nil {
			return err
		}
		rec, err := current.store.ReadProfile(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var (
	editDir    string
	editName   string
	editAvatar bool
)

var profileEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit your display name and profile picture",
	Long:  "edit opens the profile editor. The name is prompted unless --name is given; with --avatar the photo library is opened to choose a new picture. Changes are saved when the editor is done.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := current.currentIdentity(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		views := make(chan screen.ProfileEditView, 1)
		var shown *screen.Alert
		render := func(v screen.ProfileEditView) {
			if v.Alert != nil && v.Alert != shown {
				printAlert(cmd.ErrOrStderr(), v.Alert)
			}
			shown = v.Alert
			select {
			case views <- v:
			default:
			}
		}

		edit, err := screen.OpenProfileEdit(ctx, id, screen.ProfileEditDeps{
			Store:    current.store,
			Gate:     permission.NewGate(permission.TerminalProvider{}, current.logger),
			Picker:   picker.New(picker.TerminalSource{Dir: editDir}, current.logger),
			MaxBytes: current.cfg.MaxAvatarBytes,
			Allowed:  current.allowedKinds(),
			Logger:   current.logger,
			Render:   render,
		})
		if err != nil {
			return err
		}
		defer edit.Wait()
		defer edit.Close()

		initial := <-views

		name := editName
		if !cmd.Flags().Changed("name") {
			name = initial.DisplayName
			err := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Display name").
						Placeholder("Enter a nickname").
						Value(&name),
				),
			).RunWithContext(ctx)
			if err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				return err
			}
		}
		edit.SetDisplayName(name)

		if editAvatar {
			// failures are shown by the renderer
			_ = edit.PickAvatar()
		}

		if err := edit.Done(ctx); err != nil {
			return err
		}

		rec, err := current.store.ReadProfile(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Profile saved.")
		return printJSON(out, rec)
	},
}

func init() {
	profileEditCmd.Flags().StringVar(&editDir, "dir", ".", "directory the photo library opens in")
	profileEditCmd.Flags().StringVar(&editName, "name", "", "new display name (skips the prompt)")
	profileEditCmd.Flags().BoolVar(&editAvatar, "avatar", false, "choose a new profile picture")

	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileEditCmd)
}

// printAlert writes an alert the way the screen would show it.
func printAlert(w io.Writer, a *screen.Alert) {
	fmt.Fprintf(w, "%s: %s\n", a.Title, a.Message)
	if a.SettingsURL != "" {
		fmt.Fprintf(w, "  Open settings: %s\n", a.SettingsURL)
	}
	if a.Retryable {
		fmt.Fprintln(w, "  You can try again.")
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
