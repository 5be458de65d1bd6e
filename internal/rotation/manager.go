package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/sampler"
	"github.com/desertthunder/rotator/internal/services"
	"github.com/desertthunder/rotator/internal/shared"
)

// Store is the persistence the manager needs.
type Store interface {
	LoadUsableTracks(ctx context.Context) ([]models.Track, error)
	LoadRecentHistory(ctx context.Context, playlistID string, since time.Time) (map[string]struct{}, error)
	AppendHistory(ctx context.Context, playlistID string, trackIDs []string, batchTag string, at time.Time) error
	LatestBatch(ctx context.Context, playlistID string) (string, []models.Track, error)
	TouchTracks(ctx context.Context, ids []string, at time.Time) error

	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	ReserveCapacity(ctx context.Context, accountID string, n int) (int, error)
	ReleaseCapacity(ctx context.Context, accountID string, n int) error

	GetPlaylist(ctx context.Context, id string) (*models.Playlist, error)
	ListPlaylists(ctx context.Context, filter models.PlaylistFilter) ([]*models.Playlist, error)
	ListDuePlaylists(ctx context.Context, now time.Time) ([]*models.Playlist, error)
	ListSyncPending(ctx context.Context) ([]*models.Playlist, error)
	CreatePlaylist(ctx context.Context, p *models.Playlist) error
	SavePlaylist(ctx context.Context, p *models.Playlist) error
	ArchivePlaylist(ctx context.Context, id string) error
}

// RemoteSync writes playlists to the streaming service.
type RemoteSync interface {
	CreateRemotePlaylist(ctx context.Context, cred services.Credential, name, description string) (services.RemotePlaylist, error)
	ReplaceRemoteTracks(ctx context.Context, cred services.Credential, remoteID string, uris []string) error
	UpdateRemoteMetadata(ctx context.Context, cred services.Credential, remoteID, name, description string) error
}

// Credentials supplies a ready-to-use credential for an account.
type Credentials interface {
	Credential(ctx context.Context, accountID string) (services.Credential, error)
}

// Defaults are the rotation settings used when neither the request nor the playlist sets one.
type Defaults struct {
	NamePrefix   string
	Size         int
	IntervalDays int
	CooldownDays int
	ArtistCap    int
	Concurrency  int
}

// DefaultsFromConfig maps the [shared.RotationConfig] section onto [Defaults].
func DefaultsFromConfig(cfg shared.RotationConfig) Defaults {
	return Defaults{
		NamePrefix:   cfg.NamePrefix,
		Size:         cfg.PlaylistSize,
		IntervalDays: cfg.IntervalDays,
		CooldownDays: cfg.CooldownDays,
		ArtistCap:    cfg.ArtistCap,
		Concurrency:  cfg.SweepConcurrency,
	}
}

// Progress is called once for every playlist a bulk operation finishes, successfully or not.
type Progress func(done, total int, p *models.Playlist, err error)

// Manager creates, reshuffles, syncs and archives rotating playlists.
type Manager struct {
	store    Store
	remote   RemoteSync
	creds    Credentials
	sampler  *sampler.Sampler
	defaults Defaults
	progress Progress
	logger   *log.Logger
	now      func() time.Time
}

// Option configures a [Manager].
type Option func(*Manager)

// WithSampler replaces the sampler, typically with a seeded one.
func WithSampler(s *sampler.Sampler) Option {
	return func(m *Manager) { m.sampler = s }
}

// WithLogger sets the manager's logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithDefaults sets the rotation defaults.
func WithDefaults(d Defaults) Option {
	return func(m *Manager) { m.defaults = d }
}

// WithProgress registers a callback for bulk operations.
func WithProgress(fn Progress) Option {
	return func(m *Manager) { m.progress = fn }
}

// NewManager creates a Manager. Unset defaults fall back to the values of the example config.
func NewManager(store Store, remote RemoteSync, creds Credentials, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		remote:  remote,
		creds:   creds,
		sampler: sampler.New(),
		logger:  shared.NewLogger(nil),
		now:     time.Now,
		defaults: Defaults{
			NamePrefix:   DefaultPrefix,
			Size:         50,
			IntervalDays: 5,
			CooldownDays: 5,
			ArtistCap:    2,
			Concurrency:  4,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.defaults.Concurrency <= 0 {
		m.defaults.Concurrency = 1
	}
	return m
}

// CreateOptions configures [Manager.CreatePlaylists]. Zero values use the defaults.
type CreateOptions struct {
	Count        int
	NamePrefix   string
	Size         int
	IntervalDays int
	CooldownDays *int
	ArtistCap    int
}

// CreatePlaylists creates opts.Count playlists for the account and populates each one.
//
// Capacity for all of them is reserved up front; if the account cannot hold them nothing is
// created. A local failure stops creation and returns the unused slots. Remote failures do not
// stop creation: the playlist is kept, flagged SyncPending, and the failures are returned joined.
func (m *Manager) CreatePlaylists(ctx context.Context, accountID string, opts CreateOptions) ([]*models.Playlist, error) {
	if opts.Count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive, got %d", shared.ErrInvalidInput, opts.Count)
	}

	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Status == models.StatusDisabled {
		return nil, fmt.Errorf("%w: account %s is disabled", shared.ErrInvalidInput, account.ID)
	}

	template := &models.Playlist{
		AccountID:    account.ID,
		Prefix:       m.prefixFor(opts.NamePrefix, account),
		TargetSize:   pick(opts.Size, m.defaults.Size),
		IntervalDays: pick(opts.IntervalDays, m.defaults.IntervalDays),
		ArtistCap:    pick(opts.ArtistCap, m.defaults.ArtistCap),
		CooldownDays: opts.CooldownDays,
		Status:       models.StatusActive,
	}
	if err := m.checkSettings(template); err != nil {
		return nil, err
	}

	catalog, err := m.store.LoadUsableTracks(ctx)
	if err != nil {
		return nil, err
	}
	if len(catalog) < template.TargetSize {
		return nil, fmt.Errorf("%w: %d usable tracks, need %d", shared.ErrInsufficientTracks, len(catalog), template.TargetSize)
	}

	start, err := m.store.ReserveCapacity(ctx, account.ID, opts.Count)
	if err != nil {
		return nil, err
	}

	logger := shared.WithLogger(m.logger, "account", account.ID)
	var (
		created    []*models.Playlist
		remoteErrs []error
	)
	for i := range opts.Count {
		p := *template
		p.Index = start + i
		p.Name = BuildName(p.Prefix, p.Index)
		p.Description = PickDescription(p.Index)

		stored, err := m.createOne(ctx, &p, catalog)
		if err != nil && !errors.Is(err, shared.ErrRemoteSync) {
			if stored {
				created = append(created, &p)
			}
			unused := opts.Count - len(created)
			if releaseErr := m.store.ReleaseCapacity(ctx, account.ID, unused); releaseErr != nil {
				logger.Error("failed to release capacity", "slots", unused, "error", releaseErr)
				err = errors.Join(err, releaseErr)
			}
			return created, errors.Join(append(remoteErrs, err)...)
		}

		created = append(created, &p)
		if err != nil {
			logger.Warn("playlist created locally, remote sync pending", "playlist", p.ID, "name", p.Name, "error", err)
			remoteErrs = append(remoteErrs, err)
			continue
		}
		logger.Info("created playlist", "playlist", p.ID, "name", p.Name, "remote", p.RemoteID)
	}

	return created, errors.Join(remoteErrs...)
}

// createOne reports whether the playlist row was stored, even when a later step failed.
func (m *Manager) createOne(ctx context.Context, p *models.Playlist, catalog []models.Track) (bool, error) {
	sel, err := m.sampler.Select(catalog, nil, m.samplerOptions(p))
	if err != nil {
		return false, err
	}
	if err := m.store.CreatePlaylist(ctx, p); err != nil {
		return false, err
	}
	return true, m.apply(ctx, p, sel, m.now(), true, false)
}

// ReshuffleOptions overrides a playlist's settings for this and later reshuffles. Zero values keep
// the current setting.
type ReshuffleOptions struct {
	Size         int
	CooldownDays *int
	ArtistCap    int
	IntervalDays int
}

func (o ReshuffleOptions) applyTo(p *models.Playlist) {
	if o.Size > 0 {
		p.TargetSize = o.Size
	}
	if o.CooldownDays != nil {
		c := *o.CooldownDays
		p.CooldownDays = &c
	}
	if o.ArtistCap > 0 {
		p.ArtistCap = o.ArtistCap
	}
	if o.IntervalDays > 0 {
		p.IntervalDays = o.IntervalDays
	}
}

// ReshufflePlaylist selects a new track list for p against its own history, records it in the
// ledger and replaces the remote contents. account may be nil, in which case it is loaded.
//
// A playlist that has never been created remotely stays flagged SyncPending; the sync retry
// creates it with the newest batch.
func (m *Manager) ReshufflePlaylist(ctx context.Context, p *models.Playlist, account *models.Account, opts ReshuffleOptions) error {
	catalog, err := m.store.LoadUsableTracks(ctx)
	if err != nil {
		return err
	}
	return m.reshuffle(ctx, p, account, opts, catalog)
}

// ReshuffleByID loads the playlist and reshuffles it.
func (m *Manager) ReshuffleByID(ctx context.Context, id string, opts ReshuffleOptions) (*models.Playlist, error) {
	p, err := m.store.GetPlaylist(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, m.ReshufflePlaylist(ctx, p, nil, opts)
}

func (m *Manager) reshuffle(ctx context.Context, p *models.Playlist, account *models.Account, opts ReshuffleOptions, catalog []models.Track) error {
	if p.Status != models.StatusActive {
		return fmt.Errorf("%w: playlist %s is %s", shared.ErrInvalidInput, p.ID, p.Status)
	}

	if account == nil {
		var err error
		if account, err = m.store.GetAccount(ctx, p.AccountID); err != nil {
			return err
		}
	}
	if account.Status == models.StatusDisabled {
		return fmt.Errorf("%w: account %s is disabled", shared.ErrInvalidInput, account.ID)
	}

	opts.applyTo(p)
	if err := m.checkSettings(p); err != nil {
		return err
	}

	now := m.now()
	recent, err := m.recentTracks(ctx, p, now)
	if err != nil {
		return err
	}

	sel, err := m.sampler.Select(catalog, recent, m.samplerOptions(p))
	if err != nil {
		return err
	}
	if sel.CooldownRelaxed {
		m.logger.Warn("cooldown relaxed, catalog too small", "playlist", p.ID, "recent", len(recent))
	}

	p.Description = PickDescription(now.Day())
	if err := m.apply(ctx, p, sel, now, p.Synced(), true); err != nil {
		return err
	}

	m.logger.Info("reshuffled playlist", "playlist", p.ID, "name", p.Name, "tracks", len(sel.Tracks), "next", p.NextReshuffleAt)
	return nil
}

// SyncPending re-pushes the newest ledger batch of p, creating the remote playlist first when it
// does not exist yet. Tracks are not reselected and no ledger rows are written.
func (m *Manager) SyncPending(ctx context.Context, p *models.Playlist) error {
	tag, tracks, err := m.store.LatestBatch(ctx, p.ID)
	if err != nil {
		return err
	}
	if tag == "" {
		return fmt.Errorf("%w: playlist %s has no history to sync", shared.ErrInvalidInput, p.ID)
	}

	uris := make([]string, len(tracks))
	for i := range tracks {
		uris[i] = tracks[i].URI()
	}

	remoteErr := m.push(ctx, p, uris, true)
	p.SyncPending = remoteErr != nil
	if err := m.store.SavePlaylist(ctx, p); err != nil {
		return errors.Join(remoteErr, err)
	}
	if remoteErr != nil {
		return remoteErr
	}

	m.logger.Info("synced pending playlist", "playlist", p.ID, "batch", tag, "remote", p.RemoteID)
	return nil
}

// Archive archives the playlist and frees its capacity slot. The remote playlist and the
// ledger are left untouched.
func (m *Manager) Archive(ctx context.Context, playlistID string) error {
	if err := m.store.ArchivePlaylist(ctx, playlistID); err != nil {
		return err
	}
	m.logger.Info("archived playlist", "playlist", playlistID)
	return nil
}

// apply records the selection in the ledger, pushes it remotely when remote is set and advances
// the playlist's timestamps. Local failures are returned as is; a remote failure is returned
// wrapped in [shared.ErrRemoteSync] after the playlist has been saved with SyncPending set.
func (m *Manager) apply(ctx context.Context, p *models.Playlist, sel *sampler.Selection, now time.Time, remote, metadata bool) error {
	if err := m.store.AppendHistory(ctx, p.ID, sel.IDs(), BatchTag(now), now); err != nil {
		return err
	}
	if err := m.store.TouchTracks(ctx, sel.IDs(), now); err != nil {
		m.logger.Warn("failed to update track usage", "playlist", p.ID, "error", err)
	}

	var remoteErr error
	if remote {
		remoteErr = m.push(ctx, p, sel.URIs(), metadata)
	}

	p.MarkReshuffled(now)
	p.SyncPending = !remote || remoteErr != nil
	if err := m.store.SavePlaylist(ctx, p); err != nil {
		return errors.Join(remoteErr, err)
	}
	return remoteErr
}

// push writes uris to the remote playlist, creating it first when p has no remote id.
func (m *Manager) push(ctx context.Context, p *models.Playlist, uris []string, metadata bool) error {
	cred, err := m.creds.Credential(ctx, p.AccountID)
	if err != nil {
		return remoteError(p, err)
	}

	if !p.Synced() {
		rp, err := m.remote.CreateRemotePlaylist(ctx, cred, p.Name, p.Description)
		if err != nil {
			return remoteError(p, err)
		}
		p.RemoteID = rp.ID
		p.ExternalURL = rp.ExternalURL
		metadata = false
	}

	if err := m.remote.ReplaceRemoteTracks(ctx, cred, p.RemoteID, uris); err != nil {
		return remoteError(p, err)
	}
	if metadata {
		if err := m.remote.UpdateRemoteMetadata(ctx, cred, p.RemoteID, p.Name, p.Description); err != nil {
			return remoteError(p, err)
		}
	}
	return nil
}

func remoteError(p *models.Playlist, err error) error {
	if errors.Is(err, shared.ErrRemoteSync) {
		return fmt.Errorf("playlist %s: %w", p.ID, err)
	}
	return fmt.Errorf("%w: playlist %s: %w", shared.ErrRemoteSync, p.ID, err)
}

func (m *Manager) recentTracks(ctx context.Context, p *models.Playlist, now time.Time) (map[string]struct{}, error) {
	days := m.defaults.CooldownDays
	if p.CooldownDays != nil {
		days = *p.CooldownDays
	}
	if days <= 0 {
		return nil, nil
	}
	return m.store.LoadRecentHistory(ctx, p.ID, now.Add(-time.Duration(days)*24*time.Hour))
}

func (m *Manager) samplerOptions(p *models.Playlist) sampler.Options {
	return sampler.Options{TargetSize: p.TargetSize, ArtistCap: pick(p.ArtistCap, m.defaults.ArtistCap)}
}

func (m *Manager) checkSettings(p *models.Playlist) error {
	switch {
	case p.TargetSize <= 0:
		return fmt.Errorf("%w: size must be positive, got %d", shared.ErrInvalidInput, p.TargetSize)
	case p.IntervalDays <= 0:
		return fmt.Errorf("%w: interval must be positive, got %d", shared.ErrInvalidInput, p.IntervalDays)
	case pick(p.ArtistCap, m.defaults.ArtistCap) <= 0:
		return fmt.Errorf("%w: artist cap must be positive", shared.ErrInvalidInput)
	case p.CooldownDays != nil && *p.CooldownDays < 0:
		return fmt.Errorf("%w: cooldown cannot be negative, got %d", shared.ErrInvalidInput, *p.CooldownDays)
	}
	return nil
}

// prefixFor picks the requested prefix, then the account's, then the configured default.
func (m *Manager) prefixFor(requested string, account *models.Account) string {
	for _, prefix := range []string{requested, account.Prefix, m.defaults.NamePrefix} {
		if prefix != "" {
			return SanitizePrefix(prefix)
		}
	}
	return DefaultPrefix
}

func pick(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
