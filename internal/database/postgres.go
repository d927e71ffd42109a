package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"credential-authorizer/internal/models"
	"credential-authorizer/internal/provider"

	"go.uber.org/zap"
	"gocloud.dev/postgres"
	_ "gocloud.dev/postgres/awspostgres"
	_ "gocloud.dev/postgres/gcppostgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS oauth_clients (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	client_id     TEXT NOT NULL,
	client_secret TEXT NOT NULL DEFAULT '',
	settings      JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS credentials (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	scopes      TEXT NOT NULL DEFAULT '',
	token       BYTEA,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Repository defines the interface for database operations
type Repository interface {
	Close() error
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error

	// Credentials
	GetCredential(ctx context.Context, id string) (*models.Credential, error)
	SaveCredential(ctx context.Context, cred *models.Credential) error

	// Provider registrations
	ProviderConfig(ctx context.Context, id string) (*provider.Config, error)
}

// PostgresRepository handles database operations
type PostgresRepository struct {
	db     *sql.DB
	sealer *Sealer
	logger *zap.Logger
}

// NewRepository creates a new repository instance. Token bodies are sealed
// with sealer before they are stored.
func NewRepository(ctx context.Context, databaseURL string, sealer *Sealer, logger *zap.Logger) (Repository, error) {
	// Retry connection with exponential backoff
	var db *sql.DB
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		db, err = postgres.Open(ctx, databaseURL)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				break
			}
			db.Close()
		}
		if i < maxRetries-1 {
			waitTime := time.Duration(i+1) * time.Second
			logger.Warn("Failed to connect to database, retrying...", zap.Int("attempt", i+1), zap.Duration("wait", waitTime), zap.Error(err))
			time.Sleep(waitTime)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	return &PostgresRepository{
		db:     db,
		sealer: sealer,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// EnsureSchema creates the tables if they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		r.logger.Error("Failed to create schema", zap.Error(err))
		return err
	}
	return nil
}

// GetCredential retrieves a credential by id. It returns (nil, nil) when no
// such credential exists.
func (r *PostgresRepository) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	query := `
		SELECT id, name, provider_id, scopes, token, created_at, updated_at
		FROM credentials
		WHERE id = $1
	`

	var (
		cred   models.Credential
		scopes string
		sealed []byte
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&cred.ID,
		&cred.Name,
		&cred.ProviderID,
		&scopes,
		&sealed,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get credential", zap.String("credential_id", id), zap.Error(err))
		return nil, err
	}

	cred.Scopes = splitScopes(scopes)
	if cred.Token, err = r.sealer.Open(sealed); err != nil {
		r.logger.Error("Failed to unseal credential token", zap.String("credential_id", id), zap.Error(err))
		return nil, err
	}
	return &cred, nil
}

// SaveCredential inserts or replaces a credential. Concurrent saves of the
// same credential are last-write-wins.
func (r *PostgresRepository) SaveCredential(ctx context.Context, cred *models.Credential) error {
	sealed, err := r.sealer.Seal(cred.Token)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}

	query := `
		INSERT INTO credentials (id, name, provider_id, scopes, token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    provider_id = EXCLUDED.provider_id,
		    scopes = EXCLUDED.scopes,
		    token = EXCLUDED.token,
		    updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query,
		cred.ID,
		cred.Name,
		cred.ProviderID,
		strings.Join(cred.Scopes, " "),
		sealed,
		cred.CreatedAt,
		cred.UpdatedAt,
	); err != nil {
		r.logger.Error("Failed to save credential", zap.String("credential_id", cred.ID), zap.Error(err))
		return err
	}
	return nil
}

// ProviderConfig loads a provider registration from oauth_clients.
func (r *PostgresRepository) ProviderConfig(ctx context.Context, id string) (*provider.Config, error) {
	query := `
		SELECT id, name, client_id, client_secret, settings, created_at, updated_at
		FROM oauth_clients
		WHERE id = $1
	`

	var client models.OAuthClient
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&client.ID,
		&client.Name,
		&client.ClientID,
		&client.ClientSecret,
		&client.Settings,
		&client.CreatedAt,
		&client.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownProvider, id)
	}
	if err != nil {
		r.logger.Error("Failed to get oauth client", zap.String("provider_id", id), zap.Error(err))
		return nil, err
	}
	return ConfigFromClient(&client)
}

// ConfigFromClient builds a provider config from a stored registration.
// Settings hold the endpoint, scope and flag fields of provider.Config.
func ConfigFromClient(client *models.OAuthClient) (*provider.Config, error) {
	cfg := &provider.Config{}
	if len(client.Settings) > 0 {
		if err := json.Unmarshal(client.Settings, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: settings: %v", provider.ErrInvalidConfig, client.ID, err)
		}
	}
	cfg.ID = client.ID
	cfg.ClientID = client.ClientID
	cfg.ClientSecret = client.ClientSecret
	if client.Name != "" {
		cfg.Name = client.Name
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitScopes(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}
