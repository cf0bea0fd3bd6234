package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/binding"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/screen"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/server"
	"github.com/spf13/cobra"
)

var favoritesCmd = &cobra.Command{
	Use:     "favorites",
	Aliases: []string{"fav"},
	Short:   "Manage liked images",
}

var onlyFavorite bool

var favoritesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List liked images, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		favs, err := current.store.ListFavorites(cmd.Context(), onlyFavorite)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(favs) == 0 {
			fmt.Fprintln(out, "No liked images.")
			return nil
		}
		for _, fav := range favs {
			mark := " "
			if fav.IsFavorite {
				mark = "*"
			}
			fmt.Fprintf(out, "%s %s  %s\n", mark, fav.ID, fav.ImageRef)
		}
		return nil
	},
}

var favoritesAddCmd = &cobra.Command{
	Use:   "add <image-uri>",
	Short: "Record a liked image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fav, err := current.store.AddFavorite(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), fav)
	},
}

var favoritesToggleCmd = &cobra.Command{
	Use:   "toggle <image-uri> <true|false>",
	Short: "Set the favorite flag of a liked image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("value must be true or false, got %q", args[1])
		}
		if err := current.store.ToggleFavoriteField(cmd.Context(), args[0], value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s favorite=%t\n", args[0], value)
		return nil
	},
}

var favoritesWatchCmd = &cobra.Command{
	Use:   "watch <record-id>",
	Short: "Open a liked image and follow its favorite flag live",
	Long:  "watch opens the liked-image detail for a record. Changes made by other clients are printed as they arrive. Type t and press enter to toggle the flag, q to quit.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		var shown *screen.Alert
		render := func(v screen.LikedDetailView) {
			live := "live"
			if !v.Live {
				live = "offline"
			}
			fmt.Fprintf(out, "%s favorite=%t (%s)\n", v.ImageRef, v.Favorite, live)
			if v.Alert != nil && v.Alert != shown {
				printAlert(cmd.ErrOrStderr(), v.Alert)
			}
			shown = v.Alert
		}

		binder := binding.NewBinder(current.store, current.logger)
		detail, err := screen.OpenLikedDetail(ctx, binder, args[0], current.logger, render)
		if err != nil {
			return err
		}
		defer detail.Binding().Wait()
		defer detail.Close()

		if addr := current.cfg.MetricsAddr; addr != "" {
			stopServer := startServer(addr)
			defer stopServer()
		}

		return readCommands(ctx, cmd.InOrStdin(), detail)
	},
}

// readCommands toggles the detail for each "t" line until "q", EOF or ctx ends.
func readCommands(ctx context.Context, in io.Reader, detail *screen.LikedDetail) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line {
			case "t", "toggle":
				detail.Toggle()
			case "q", "quit":
				return nil
			}
		}
	}
}

// startServer exposes health and metrics endpoints while a long-running
// command is open. The returned func shuts the server down.
func startServer(addr string) func() {
	srv := &http.Server{
		Addr: addr,
		Handler: server.NewMux(server.Options{
			Docs:     current.docs,
			Store:    current.store,
			Verifier: current.verifier,
			Issuer:   current.cfg.JWTIssuer,
			Audience: current.cfg.JWTAudience,
		}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		current.logger.Info("metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			current.logger.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "metrics server shutdown failed: %v\n", err)
		}
	}
}

func init() {
	favoritesListCmd.Flags().BoolVar(&onlyFavorite, "only", false, "list only images flagged as favorite")

	favoritesCmd.AddCommand(favoritesListCmd)
	favoritesCmd.AddCommand(favoritesAddCmd)
	favoritesCmd.AddCommand(favoritesToggleCmd)
	favoritesCmd.AddCommand(favoritesWatchCmd)
}
