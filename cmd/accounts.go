package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/rotation"
	"github.com/desertthunder/rotator/internal/server"
	"github.com/desertthunder/rotator/internal/services"
	"github.com/desertthunder/rotator/internal/shared"
)

const linkTimeout = 2 * time.Minute

// AccountsLink runs the OAuth authorization code flow and stores the authorized user as an
// account. Linking the same Spotify user again refreshes its token.
func (r *Runner) AccountsLink(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireSpotify(); err != nil {
		return err
	}
	store, err := r.Store()
	if err != nil {
		return err
	}

	state, err := shared.GenerateState()
	if err != nil {
		return fmt.Errorf("failed to generate state: %w", err)
	}

	logger := shared.WithLogger(r.logger, "component", "oauth")
	linker := services.NewLinker(store.Accounts, r.spotify, r.config.Rotation.MaxPlaylistsPerAccount, logger)
	handler := server.NewOAuthHandler(r.spotify, linker, state)

	router := server.NewBasicRouter()
	router.Use(server.Logging(logger))
	router.Handler(handler)

	serverCtx, cancel := context.WithTimeout(ctx, linkTimeout)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(serverCtx, r.config.Server.Addr(), router, logger)
	}()

	authURL := r.spotify.GetAuthURL(state)
	r.writePlainln("Open the following URL to authorize access:")
	r.writePlain("%s\n\n", authURL)

	if !cmd.Bool("no-browser") {
		if err := shared.OpenBrowser(authURL); err != nil {
			r.logger.Warn("failed to open browser", "error", err)
		}
	}

	r.writePlain("Waiting for authorization on %s ...\n", r.config.Server.Addr())

	select {
	case result := <-handler.Result():
		cancel()
		<-serveErr
		if err := result.Error(); err != nil {
			return fmt.Errorf("%w: %w", shared.ErrAuthFailed, err)
		}
		a := result.Account
		r.writePlainln("Linked %s (%s)", a.DisplayName, a.ID)
		r.writePlain("  Capacity: %d/%d playlists\n", a.PlaylistCount, a.CapacityCeiling)
		return nil
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("callback server failed: %w", err)
		}
		if errors.Is(serverCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: no authorization within %s", shared.ErrTimeout, linkTimeout)
		}
		return contextDone(ctx)
	}
}

// AccountsList prints every linked account with its capacity.
func (r *Runner) AccountsList(ctx context.Context, cmd *cli.Command) error {
	store, err := r.Store()
	if err != nil {
		return err
	}

	accounts, err := store.Accounts.List(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(accounts, cmd.Bool("pretty"))
	}

	if len(accounts) == 0 {
		r.writePlain("No accounts linked. Run 'rotator accounts link' first.\n")
		return nil
	}

	r.writePlain("Found %d accounts:\n\n", len(accounts))
	for i, a := range accounts {
		r.writePlain("%d. %s\n", i+1, a.DisplayName)
		r.writePlain("   ID: %s\n", a.ID)
		r.writePlain("   Spotify user: %s\n", a.RemoteUserID)
		r.writePlain("   Playlists: %d/%d (%d remaining)\n", a.PlaylistCount, a.CapacityCeiling, a.Remaining())
		r.writePlain("   Prefix: %s\n", displayPrefix(a.Prefix))
		r.writePlain("   Status: %s\n\n", a.Status)
	}
	return nil
}

// AccountsUpdate changes an account's prefix, capacity ceiling or status.
func (r *Runner) AccountsUpdate(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: account id", shared.ErrMissingArgument)
	}

	store, err := r.Store()
	if err != nil {
		return err
	}

	account, err := store.Accounts.Get(ctx, id)
	if err != nil {
		return err
	}

	if cmd.IsSet("prefix") {
		account.Prefix = rotation.SanitizePrefix(cmd.String("prefix"))
	}
	if cmd.IsSet("capacity") {
		account.CapacityCeiling = int(cmd.Int("capacity"))
	}
	if cmd.IsSet("status") {
		switch status := cmd.String("status"); status {
		case models.StatusActive, models.StatusDisabled:
			account.Status = status
		default:
			return fmt.Errorf("%w: status must be %s or %s", shared.ErrInvalidArgument, models.StatusActive, models.StatusDisabled)
		}
	}

	if err := store.Accounts.Update(ctx, account); err != nil {
		return err
	}

	r.writePlain("Updated account %s\n", account.ID)
	return nil
}

func displayPrefix(prefix string) string {
	if prefix == "" {
		return rotation.DefaultPrefix + " (default)"
	}
	return prefix
}
