package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/ports"
	_ "modernc.org/sqlite"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

const grantColumns = `id, resource_id, owner_wallet, viewer_wallet, created_at, updated_at, expires_at, revoked_at`

// SQLiteStore persists resources, resource secrets and access grants
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ ports.GrantStore    = (*SQLiteStore)(nil)
	_ ports.ResourceStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens the database at path and applies the schema.
// ":memory:" gives a private database for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	memory := path == ":memory:"

	pragmas := []string{"foreign_keys(1)", "busy_timeout(5000)"}
	if !memory {
		pragmas = append(pragmas, "journal_mode(WAL)", "synchronous(NORMAL)")
	}
	dsn := path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// Every pooled connection to ":memory:" would otherwise see its own database
	if memory {
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		owner_wallet TEXT NOT NULL,
		is_public INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_resources_owner ON resources(owner_wallet, created_at DESC);

	-- One wrapped content key per private resource, never updated
	CREATE TABLE IF NOT EXISTS resource_secrets (
		resource_id TEXT PRIMARY KEY REFERENCES resources(id) ON DELETE CASCADE,
		encrypted_key TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS access_grants (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		owner_wallet TEXT NOT NULL,
		viewer_wallet TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER,
		revoked_at INTEGER,
		UNIQUE(resource_id, viewer_wallet)
	);
	CREATE INDEX IF NOT EXISTS idx_grants_owner ON access_grants(owner_wallet, updated_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateResource stores a resource and its optional secret atomically
func (s *SQLiteStore) CreateResource(ctx context.Context, resource *core.Resource, secret *core.ResourceSecret) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO resources (id, owner_wallet, is_public, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		resource.ID, resource.OwnerWallet, resource.IsPublic, toMillis(resource.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert resource: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert resource: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("resource %s: %w", resource.ID, core.ErrAlreadyExists)
	}

	if secret != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO resource_secrets (resource_id, encrypted_key, created_at) VALUES (?, ?, ?)`,
			secret.ResourceID, secret.EncryptedKey, toMillis(secret.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert resource secret: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resource: %w", err)
	}

	return nil
}

// GetResource returns a resource by id
func (s *SQLiteStore) GetResource(ctx context.Context, resourceID string) (*core.Resource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_wallet, is_public, created_at FROM resources WHERE id = ?`, resourceID)

	resource, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %s: %w", resourceID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}

	return resource, nil
}

// ListResources returns an owner's resources, newest first
func (s *SQLiteStore) ListResources(ctx context.Context, ownerWallet string, limit int) ([]core.Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_wallet, is_public, created_at FROM resources
		WHERE owner_wallet = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		ownerWallet, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	resources := []core.Resource{}
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, *resource)
	}

	return resources, rows.Err()
}

// GetSecret returns the wrapped content key of a resource
func (s *SQLiteStore) GetSecret(ctx context.Context, resourceID string) (*core.ResourceSecret, error) {
	var (
		secret    core.ResourceSecret
		createdAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT resource_id, encrypted_key, created_at FROM resource_secrets WHERE resource_id = ?`,
		resourceID).Scan(&secret.ResourceID, &secret.EncryptedKey, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("secret for %s: %w", resourceID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource secret: %w", err)
	}

	secret.CreatedAt = fromMillis(createdAt)
	return &secret, nil
}

// UpsertGrant creates or replaces the grant for (ResourceID, ViewerWallet) in
// one statement, clearing any revocation
func (s *SQLiteStore) UpsertGrant(ctx context.Context, grant *core.AccessGrant) (*core.AccessGrant, error) {
	id := grant.ID
	if id == "" {
		id = uuid.New().String()
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO access_grants (`+grantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(resource_id, viewer_wallet) DO UPDATE SET
			owner_wallet = excluded.owner_wallet,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at,
			revoked_at = NULL
		RETURNING `+grantColumns,
		id, grant.ResourceID, grant.OwnerWallet, grant.ViewerWallet,
		toMillis(grant.CreatedAt), toMillis(grant.UpdatedAt), nullMillis(grant.ExpiresAt))

	saved, err := scanGrant(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert grant: %w", err)
	}

	return saved, nil
}

// GetGrant returns the grant for a viewer on a resource
func (s *SQLiteStore) GetGrant(ctx context.Context, resourceID, viewerWallet string) (*core.AccessGrant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM access_grants WHERE resource_id = ? AND viewer_wallet = ?`,
		resourceID, viewerWallet)

	grant, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("grant: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	return grant, nil
}

// RevokeGrant sets revoked_at once; later revocations keep the first time
func (s *SQLiteStore) RevokeGrant(ctx context.Context, resourceID, viewerWallet string, at time.Time) (*core.AccessGrant, error) {
	ms := toMillis(at)
	row := s.db.QueryRowContext(ctx,
		`UPDATE access_grants SET
			updated_at = CASE WHEN revoked_at IS NULL THEN ? ELSE updated_at END,
			revoked_at = COALESCE(revoked_at, ?)
		WHERE resource_id = ? AND viewer_wallet = ?
		RETURNING `+grantColumns,
		ms, ms, resourceID, viewerWallet)

	grant, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("grant: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke grant: %w", err)
	}

	return grant, nil
}

// ListGrants returns grants issued by an owner, most recently changed first
func (s *SQLiteStore) ListGrants(ctx context.Context, filter ports.GrantFilter) ([]core.AccessGrant, error) {
	query := `SELECT ` + grantColumns + ` FROM access_grants WHERE owner_wallet = ?`
	args := []any{filter.OwnerWallet}
	if filter.ResourceID != "" {
		query += ` AND resource_id = ?`
		args = append(args, filter.ResourceID)
	}
	query += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, clampLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	grants := []core.AccessGrant{}
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, *grant)
	}

	return grants, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResource(row scanner) (*core.Resource, error) {
	var (
		resource  core.Resource
		createdAt int64
	)
	if err := row.Scan(&resource.ID, &resource.OwnerWallet, &resource.IsPublic, &createdAt); err != nil {
		return nil, err
	}
	resource.CreatedAt = fromMillis(createdAt)
	return &resource, nil
}

func scanGrant(row scanner) (*core.AccessGrant, error) {
	var (
		grant                core.AccessGrant
		createdAt, updatedAt int64
		expiresAt, revokedAt sql.NullInt64
	)
	err := row.Scan(&grant.ID, &grant.ResourceID, &grant.OwnerWallet, &grant.ViewerWallet,
		&createdAt, &updatedAt, &expiresAt, &revokedAt)
	if err != nil {
		return nil, err
	}

	grant.CreatedAt = fromMillis(createdAt)
	grant.UpdatedAt = fromMillis(updatedAt)
	grant.ExpiresAt = fromNullMillis(expiresAt)
	grant.RevokedAt = fromNullMillis(revokedAt)
	return &grant, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
