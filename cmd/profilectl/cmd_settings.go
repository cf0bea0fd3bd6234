package main

import (
	"fmt"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/screen"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "List the settings entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, item := range (screen.Settings{}).Items() {
			fmt.Fprintf(out, "%-16s %s\n", item.ID, item.Title)
		}
		return nil
	},
}

var settingsOpenCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Show where a settings entry leads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := (screen.Settings{}).Select(args[0])
		if err != nil {
			return err
		}
		switch item.Kind {
		case screen.DestinationWeb:
			fmt.Fprintf(cmd.OutOrStdout(), "%s: open %s in a browser\n", item.Title, item.Target)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "%s: screen %s\n", item.Title, item.Target)
		}
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsOpenCmd)
}
