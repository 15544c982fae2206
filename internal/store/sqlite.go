package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mira-ai/antigravity-gateway/internal/account"
	"github.com/mira-ai/antigravity-gateway/internal/cryptoutil"
)

//go:embed schema.sql
var schemaSQL string

const tokenSalt = "account-token"

// SQLiteStore persists accounts and request logs in a single-file SQLite
// database, encrypting tokens at rest via cryptoutil.Box, matching the
// teacher's own choice of modernc.org/sqlite for its own account/log
// tables (internal/store/sqlite.go in the teacher repo).
type SQLiteStore struct {
	db     *sql.DB
	crypto *cryptoutil.Box
}

func Open(dbPath string, crypto *cryptoutil.Box) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, crypto: crypto}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *account.Account) error {
	accessEnc, err := s.crypto.Encrypt(a.AccessToken, tokenSalt)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := s.crypto.Encrypt(a.RefreshToken, tokenSalt)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, vendor, email, access_token_enc, refresh_token_enc,
			expires_at, profile_id, machine_id, login_provider, is_gcp_tos,
			status, error_message, created_at, last_refresh_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Vendor), a.Email, accessEnc, refreshEnc,
		a.ExpiresAt.Unix(), a.ProfileID, a.MachineID, a.LoginProvider, boolInt(a.IsGCPToS),
		string(a.Status), a.ErrorMessage, a.CreatedAt.Unix(), a.LastRefreshAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, vendor account.Vendor, id string) (*account.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ? AND vendor = ?`, id, string(vendor))
	return s.scanAccount(row)
}

func (s *SQLiteStore) ListAccounts(vendor account.Vendor) ([]*account.Account, error) {
	rows, err := s.db.Query(`SELECT `+accountCols+` FROM accounts WHERE vendor = ?`, string(vendor))
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()
	return s.scanAccounts(rows)
}

func (s *SQLiteStore) ListAllAccounts(ctx context.Context) ([]*account.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()
	return s.scanAccounts(rows)
}

func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) SaveAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	accessEnc, err := s.crypto.Encrypt(accessToken, tokenSalt)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := s.crypto.Encrypt(refreshToken, tokenSalt)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE accounts SET access_token_enc = ?, refresh_token_enc = ?, expires_at = ?,
			last_refresh_at = ?, status = ?, error_message = ''
		WHERE id = ?`,
		accessEnc, refreshEnc, expiresAt.Unix(), time.Now().UTC().Unix(), string(account.StatusNormal), id,
	)
	return err
}

func (s *SQLiteStore) MarkAccountError(ctx context.Context, id string, msg string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET status = ?, error_message = ? WHERE id = ?`,
		string(account.StatusError), msg, id)
	return err
}

func (s *SQLiteStore) SetAccountStatus(ctx context.Context, id string, status account.Status, reason string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET status = ?, error_message = ? WHERE id = ?`,
		string(status), reason, id)
	return err
}

const accountCols = `id, vendor, email, access_token_enc, refresh_token_enc,
	expires_at, profile_id, machine_id, login_provider, is_gcp_tos,
	status, error_message, created_at, last_refresh_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanAccount(row rowScanner) (*account.Account, error) {
	var (
		id, vendor, email, accessEnc, refreshEnc string
		expiresAt, createdAt, lastRefreshAt      int64
		profileID, machineID, loginProvider      string
		isGCPToS                                 int
		status, errMsg                           string
	)
	err := row.Scan(&id, &vendor, &email, &accessEnc, &refreshEnc,
		&expiresAt, &profileID, &machineID, &loginProvider, &isGCPToS,
		&status, &errMsg, &createdAt, &lastRefreshAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	accessTok, err := s.crypto.Decrypt(accessEnc, tokenSalt)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token for %s: %w", id, err)
	}
	refreshTok, err := s.crypto.Decrypt(refreshEnc, tokenSalt)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token for %s: %w", id, err)
	}

	return &account.Account{
		ID:            id,
		Vendor:        account.Vendor(vendor),
		Email:         email,
		AccessToken:   accessTok,
		RefreshToken:  refreshTok,
		ExpiresAt:     time.Unix(expiresAt, 0).UTC(),
		ProfileID:     profileID,
		MachineID:     machineID,
		LoginProvider: loginProvider,
		IsGCPToS:      isGCPToS != 0,
		Status:        account.Status(status),
		ErrorMessage:  errMsg,
		CreatedAt:     time.Unix(createdAt, 0).UTC(),
		LastRefreshAt: time.Unix(lastRefreshAt, 0).UTC(),
	}, nil
}

func (s *SQLiteStore) scanAccounts(rows *sql.Rows) ([]*account.Account, error) {
	var out []*account.Account
	for rows.Next() {
		a, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out = append(out, a)
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertRequestLog(ctx context.Context, e RequestLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_logs (timestamp, vendor, path, model, account_id, api_key_id,
			success, status, input_tokens, output_tokens, credits, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.Vendor, e.Path, e.Model, e.AccountID, e.APIKeyID,
		boolInt(e.Success), e.Status, e.InputTokens, e.OutputTokens, e.Credits, e.DurationMS, e.Error,
	)
	return err
}

func (s *SQLiteStore) QueryRequestLogs(ctx context.Context, q RequestLogQuery) ([]RequestLogEntry, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	if q.AccountID != "" {
		where += " AND account_id = ?"
		args = append(args, q.AccountID)
	}
	if q.APIKeyID != "" {
		where += " AND api_key_id = ?"
		args = append(args, q.APIKeyID)
	}
	if !q.Since.IsZero() {
		where += " AND timestamp >= ?"
		args = append(args, q.Since.Unix())
	}
	if !q.Until.IsZero() {
		where += " AND timestamp <= ?"
		args = append(args, q.Until.Unix())
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM request_logs `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count request logs: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, vendor, path, model, account_id, api_key_id, success, status,
			input_tokens, output_tokens, credits, duration_ms, error
		 FROM request_logs `+where+` ORDER BY timestamp DESC LIMIT ? OFFSET ?`,
		append(append([]any{}, args...), limit, q.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query request logs: %w", err)
	}
	defer rows.Close()

	var out []RequestLogEntry
	for rows.Next() {
		var e RequestLogEntry
		var success int
		if err := rows.Scan(&e.Timestamp, &e.Vendor, &e.Path, &e.Model, &e.AccountID, &e.APIKeyID,
			&success, &e.Status, &e.InputTokens, &e.OutputTokens, &e.Credits, &e.DurationMS, &e.Error); err != nil {
			return nil, 0, err
		}
		e.Success = success != 0
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (s *SQLiteStore) PurgeOldLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_logs WHERE timestamp < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
