package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
)

const accountColumns = `id, sequence, display_name, remote_user_id, prefix, playlist_count, capacity_ceiling, playlist_seq, status, created_at, updated_at`

// AccountRepository persists accounts, their tokens and playlist capacity.
type AccountRepository struct {
	db dbtx
}

// NewAccountRepository creates a new AccountRepository with the given database connection
func NewAccountRepository(db dbtx) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account with generated ID and sequence
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.Status == "" {
		account.Status = models.StatusActive
	}
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}

	sequence, err := NextSequence(ctx, r.db, "accounts")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	now := utc(time.Now())
	account.ID = shared.GenerateID()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `
		INSERT INTO accounts (id, sequence, display_name, remote_user_id, prefix, playlist_count, capacity_ceiling, playlist_seq, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		account.ID,
		sequence,
		account.DisplayName,
		account.RemoteUserID,
		account.Prefix,
		account.PlaylistCount,
		account.CapacityCeiling,
		account.PlaylistSeq,
		account.Status,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// Get retrieves an account by ID
func (r *AccountRepository) Get(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByRemoteUserID retrieves an account by its Spotify user id
func (r *AccountRepository) GetByRemoteUserID(ctx context.Context, remoteUserID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE remote_user_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, remoteUserID))
}

// Update modifies the editable fields of an account
func (r *AccountRepository) Update(ctx context.Context, account *models.Account) error {
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}

	account.UpdatedAt = utc(time.Now())
	query := `
		UPDATE accounts
		SET display_name = ?, prefix = ?, capacity_ceiling = ?, status = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		account.DisplayName,
		account.Prefix,
		account.CapacityCeiling,
		account.Status,
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %s", shared.ErrAccountNotFound, account.ID))
}

// List retrieves all accounts ordered by sequence
func (r *AccountRepository) List(ctx context.Context) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY sequence ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return accounts, nil
}

// ReserveCapacity claims n playlist slots for the account and returns the first display index
// of the reserved range. The check against the ceiling and the increment are one statement,
// so concurrent reservations can never exceed the ceiling together.
func (r *AccountRepository) ReserveCapacity(ctx context.Context, accountID string, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: reservation size must be positive, got %d", shared.ErrInvalidInput, n)
	}

	var start int
	err := withTx(ctx, r.db, func(tx dbtx) error {
		query := `
			UPDATE accounts
			SET playlist_count = playlist_count + ?, playlist_seq = playlist_seq + ?, updated_at = ?
			WHERE id = ? AND playlist_count + ? <= capacity_ceiling
			RETURNING playlist_seq
		`
		var seq int
		err := tx.QueryRowContext(ctx, query, n, n, utc(time.Now()), accountID, n).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return r.capacityError(ctx, tx, accountID, n)
		}
		if err != nil {
			return fmt.Errorf("failed to reserve capacity: %w", err)
		}

		start = seq - n + 1
		return nil
	})
	return start, err
}

func (r *AccountRepository) capacityError(ctx context.Context, tx dbtx, accountID string, n int) error {
	var count, ceiling int
	err := tx.QueryRowContext(ctx, `SELECT playlist_count, capacity_ceiling FROM accounts WHERE id = ?`, accountID).Scan(&count, &ceiling)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", shared.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return fmt.Errorf("failed to load account capacity: %w", err)
	}
	return fmt.Errorf("%w: account %s has %d of %d playlists, requested %d more", shared.ErrCapacityExceeded, accountID, count, ceiling, n)
}

// ReleaseCapacity returns n slots to the account. Display indices are never reused.
func (r *AccountRepository) ReleaseCapacity(ctx context.Context, accountID string, n int) error {
	if n <= 0 {
		return nil
	}

	query := `
		UPDATE accounts
		SET playlist_count = MAX(playlist_count - ?, 0), updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, n, utc(time.Now()), accountID)
	if err != nil {
		return fmt.Errorf("failed to release capacity: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %s", shared.ErrAccountNotFound, accountID))
}

// Token returns the stored OAuth token of the account.
func (r *AccountRepository) Token(ctx context.Context, accountID string) (*models.AccountToken, error) {
	var (
		token  models.AccountToken
		expiry sql.NullTime
	)

	query := `SELECT access_token, refresh_token, token_expiry FROM accounts WHERE id = ?`
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(&token.AccessToken, &token.RefreshToken, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: account %s has no token", shared.ErrNotAuthenticated, accountID)
	}

	if expiry.Valid {
		token.Expiry = expiry.Time
	}
	return &token, nil
}

// SaveToken stores the OAuth token of the account.
func (r *AccountRepository) SaveToken(ctx context.Context, accountID string, token *models.AccountToken) error {
	var expiry sql.NullTime
	if !token.Expiry.IsZero() {
		expiry = sql.NullTime{Time: utc(token.Expiry), Valid: true}
	}

	query := `
		UPDATE accounts
		SET access_token = ?, refresh_token = ?, token_expiry = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, token.AccessToken, token.RefreshToken, expiry, utc(time.Now()), accountID)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %s", shared.ErrAccountNotFound, accountID))
}

// ListExpiringTokens returns the ids of active accounts whose token expires before cutoff.
func (r *AccountRepository) ListExpiringTokens(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		SELECT id FROM accounts
		WHERE status = ? AND refresh_token != '' AND token_expiry IS NOT NULL AND token_expiry <= ?
		ORDER BY sequence ASC
	`
	rows, err := r.db.QueryContext(ctx, query, models.StatusActive, utc(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring tokens: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}

// scanOne scans a single row into a [models.Account]
func (r *AccountRepository) scanOne(row *sql.Row) (*models.Account, error) {
	account, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrAccountNotFound
	}
	return account, err
}

func (r *AccountRepository) scan(s scanner) (*models.Account, error) {
	var a models.Account
	err := s.Scan(&a.ID, new(int), &a.DisplayName, &a.RemoteUserID, &a.Prefix, &a.PlaylistCount,
		&a.CapacityCeiling, &a.PlaylistSeq, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return &a, nil
}
