package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/rotator/internal/repositories"
	"github.com/desertthunder/rotator/internal/rotation"
	"github.com/desertthunder/rotator/internal/services"
	"github.com/desertthunder/rotator/internal/shared"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database, repositories and rotation manager are opened on first use so commands that
// never touch storage start instantly.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	httpClient *http.Client

	db      *sql.DB
	ownsDB  bool
	store   *repositories.Store
	spotify *services.SpotifyService
	remote  rotation.RemoteSync
	creds   rotation.Credentials
	tokens  *services.TokenProvider
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config      *shared.Config
	ConfigPath  string
	Logger      *log.Logger
	Output      io.Writer
	HTTPClient  *http.Client
	DB          *sql.DB                 // Migrated database; opened from config when nil
	Spotify     *services.SpotifyService // OAuth, profile and catalog reads
	Remote      rotation.RemoteSync      // Defaults to Spotify
	Credentials rotation.Credentials     // Defaults to a token provider over the accounts table
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	r := &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		httpClient: opts.HTTPClient,
		db:         opts.DB,
		spotify:    opts.Spotify,
		remote:     opts.Remote,
		creds:      opts.Credentials,
	}
	if r.remote == nil && r.spotify != nil {
		r.remote = r.spotify
	}
	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, accountsCommand, catalogCommand, playlistsCommand, jobsCommand, metricsCommand, workerCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger used by the runner and everything it builds afterwards.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// Close releases the database when the runner opened it.
func (r *Runner) Close() error {
	if r.db != nil && r.ownsDB {
		return r.db.Close()
	}
	return nil
}

// Store opens the database on first use, running pending migrations.
func (r *Runner) Store() (*repositories.Store, error) {
	if r.store != nil {
		return r.store, nil
	}

	if r.db == nil {
		db, err := shared.NewDatabase(r.config.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
		if err := shared.RunMigrations(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		r.db = db
		r.ownsDB = true
	}

	r.store = repositories.NewStore(r.db)
	return r.store, nil
}

// Manager builds a rotation manager over the store, remote and credentials.
func (r *Runner) Manager(opts ...rotation.Option) (*rotation.Manager, error) {
	store, err := r.Store()
	if err != nil {
		return nil, err
	}
	if r.remote == nil {
		return nil, fmt.Errorf("%w: Spotify client_id and client_secret must be configured", shared.ErrMissingCredentials)
	}
	creds, err := r.Credentials()
	if err != nil {
		return nil, err
	}

	base := []rotation.Option{
		rotation.WithLogger(shared.WithLogger(r.logger, "component", "rotation")),
		rotation.WithDefaults(rotation.DefaultsFromConfig(r.config.Rotation)),
	}
	return rotation.NewManager(store, r.remote, creds, append(base, opts...)...), nil
}

// Credentials returns the account credential source, building a token provider over the
// accounts table when none was injected.
func (r *Runner) Credentials() (rotation.Credentials, error) {
	if r.creds != nil {
		return r.creds, nil
	}
	if r.spotify == nil {
		return nil, fmt.Errorf("%w: no token source for accounts", shared.ErrMissingCredentials)
	}
	store, err := r.Store()
	if err != nil {
		return nil, err
	}
	r.tokens = services.NewTokenProvider(store.Accounts, r.spotify, shared.WithLogger(r.logger, "component", "tokens"))
	r.creds = r.tokens
	return r.creds, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}

// requireSpotify reports a configuration error when no Spotify client is available.
func (r *Runner) requireSpotify() error {
	if r.spotify == nil {
		return fmt.Errorf("%w: Spotify client_id and client_secret must be set in config.toml or .env", shared.ErrMissingCredentials)
	}
	return nil
}

// contextDone wraps ctx.Err for commands that stop early.
func contextDone(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	return nil
}
