// Package store is the Postgres persistence adapter for AgentRecord and
// ApiKey rows, opened through the pgx stdlib driver.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	. "github.com/relaywave/wagateway/internal/logging"
)

// AgentRecord mirrors the agents table: one row per (user_id, agent_id).
type AgentRecord struct {
	UserID             int64
	AgentID            string
	AgentName          string
	APIKey             string
	EndpointURLRun     *string
	Status             string
	LastConnectedAt    *time.Time
	LastDisconnectedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Status values an AgentRecord can hold.
const (
	StatusAwaitingQR   = "awaiting_qr"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusAuthFailed   = "auth_failed"
)

// ApiKey mirrors the externally-owned api_keys table.
type ApiKey struct {
	UserID      int64
	AccessToken string
	IsActive    bool
	UpdatedAt   time.Time
}

// Store wraps the Postgres connection pool.
type Store struct {
	db *sql.DB
}

// Open opens a pgx-backed connection pool against dsn ("pgx" is the
// driver name pgx/v5/stdlib registers itself under).
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	L_info("store: connected")
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertAgent inserts a new row with status=awaiting_qr on first sight; on
// an existing row it updates agent_name, api_key, updated_at, and
// endpoint_url_run only when the row's current value is null.
func (s *Store) UpsertAgent(ctx context.Context, userID int64, agentID, agentName, apiKey string, endpointURLRun *string) (*AgentRecord, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (user_id, agent_id, agent_name, api_key, endpoint_url_run, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (user_id, agent_id) DO UPDATE SET
			agent_name = EXCLUDED.agent_name,
			api_key = EXCLUDED.api_key,
			endpoint_url_run = COALESCE(agents.endpoint_url_run, EXCLUDED.endpoint_url_run),
			updated_at = now()
	`, userID, agentID, agentName, apiKey, endpointURLRun, StatusAwaitingQR)
	if err != nil {
		return nil, fmt.Errorf("store: upsert agent: %w", err)
	}
	return s.GetAgent(ctx, userID, agentID)
}

// GetAgent returns the row for (userID, agentID), or (nil, nil) if absent.
func (s *Store) GetAgent(ctx context.Context, userID int64, agentID string) (*AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, agent_id, agent_name, api_key, endpoint_url_run, status,
		       last_connected_at, last_disconnected_at, created_at, updated_at
		FROM agents WHERE user_id = $1 AND agent_id = $2
	`, userID, agentID)
	return scanAgent(row)
}

// GetAgentByID returns the row for agentID regardless of user, used by the
// session supervisor and the HTTP layer, which only carry agent_id.
func (s *Store) GetAgentByID(ctx context.Context, agentID string) (*AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, agent_id, agent_name, api_key, endpoint_url_run, status,
		       last_connected_at, last_disconnected_at, created_at, updated_at
		FROM agents WHERE agent_id = $1
	`, agentID)
	return scanAgent(row)
}

func scanAgent(row *sql.Row) (*AgentRecord, error) {
	var rec AgentRecord
	err := row.Scan(&rec.UserID, &rec.AgentID, &rec.AgentName, &rec.APIKey, &rec.EndpointURLRun,
		&rec.Status, &rec.LastConnectedAt, &rec.LastDisconnectedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan agent: %w", err)
	}
	return &rec, nil
}

// StatusExtras carries the optional timestamp fields set_status may touch.
type StatusExtras struct {
	SetLastConnectedAt    bool
	SetLastDisconnectedAt bool
}

// SetStatus updates status, updated_at, and optionally last_connected_at /
// last_disconnected_at to now().
func (s *Store) SetStatus(ctx context.Context, agentID, status string, extras StatusExtras) error {
	query := `UPDATE agents SET status = $1, updated_at = now()`
	if extras.SetLastConnectedAt {
		query += `, last_connected_at = now()`
	}
	if extras.SetLastDisconnectedAt {
		query += `, last_disconnected_at = now()`
	}
	query += ` WHERE agent_id = $2`
	args := []interface{}{status, agentID}

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: set status: %w", err)
	}
	return nil
}

// DeleteAgent removes the agent row. Returns false if no row existed.
func (s *Store) DeleteAgent(ctx context.Context, agentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = $1`, agentID)
	if err != nil {
		return false, fmt.Errorf("store: delete agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete agent rows affected: %w", err)
	}
	return n > 0, nil
}

// ListBootstrappable returns every row eligible for startup rehydration:
// status in {connected, awaiting_qr, disconnected}.
func (s *Store) ListBootstrappable(ctx context.Context) ([]*AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, agent_id, agent_name, api_key, endpoint_url_run, status,
		       last_connected_at, last_disconnected_at, created_at, updated_at
		FROM agents WHERE status IN ($1, $2, $3)
	`, StatusConnected, StatusAwaitingQR, StatusDisconnected)
	if err != nil {
		return nil, fmt.Errorf("store: list bootstrappable: %w", err)
	}
	defer rows.Close()

	var out []*AgentRecord
	for rows.Next() {
		var rec AgentRecord
		if err := rows.Scan(&rec.UserID, &rec.AgentID, &rec.AgentName, &rec.APIKey, &rec.EndpointURLRun,
			&rec.Status, &rec.LastConnectedAt, &rec.LastDisconnectedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan bootstrappable row: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// LatestActiveAPIKey returns the most recently updated active key for a
// user, or (nil, nil) if none exists.
func (s *Store) LatestActiveAPIKey(ctx context.Context, userID int64) (*ApiKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, access_token, is_active, updated_at
		FROM api_keys WHERE user_id = $1 AND is_active = true
		ORDER BY updated_at DESC LIMIT 1
	`, userID)

	var key ApiKey
	err := row.Scan(&key.UserID, &key.AccessToken, &key.IsActive, &key.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest active api key: %w", err)
	}
	return &key, nil
}

// SyncAPIKey copies the latest active key for userID into agentID's row.
// Called fire-and-forget by the auth middleware on a bearer mismatch.
func (s *Store) SyncAPIKey(ctx context.Context, userID int64, agentID string) error {
	key, err := s.LatestActiveAPIKey(ctx, userID)
	if err != nil {
		return err
	}
	if key == nil {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE agents SET api_key = $1, updated_at = now() WHERE user_id = $2 AND agent_id = $3
	`, key.AccessToken, userID, agentID)
	if err != nil {
		return fmt.Errorf("store: sync api key: %w", err)
	}
	return nil
}
