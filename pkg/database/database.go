package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ip-rotator/pkg/models"
	"ip-rotator/pkg/provision"
)

// Config holds the Postgres connection settings.
type Config struct {
	User     string
	Password string
	Host     string
	Port     int
	DBName   string
	SSLMode  string
}

// DSN returns the connection string for c.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.DBName,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

type DB struct {
	*bun.DB
	logger *slog.Logger
}

// Open creates the connection pool without contacting the server.
func Open(cfg Config, logger *slog.Logger) *DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN())))
	return &DB{DB: bun.NewDB(sqldb, pgdialect.New()), logger: logger}
}

// NewDB opens the database and checks that it is reachable.
func NewDB(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	db := Open(cfg, logger)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// InitSchema creates the endpoints table if it doesn't exist
func (db *DB) InitSchema(ctx context.Context) error {
	_, err := db.NewCreateTable().
		Model((*models.Endpoint)(nil)).
		IfNotExists().
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return nil
}

// EndpointProvisioned upserts the endpoint and marks it live again.
func (db *DB) EndpointProvisioned(ctx context.Context, poolName, runID string, ep provision.Endpoint) error {
	row := &models.Endpoint{
		ID:       ep.ID,
		Region:   ep.Region,
		Address:  ep.Address,
		PoolName: poolName,
		RunID:    runID,
		Reused:   ep.Reused,
	}

	if _, err := db.upsertEndpoint(row).Exec(ctx); err != nil {
		return fmt.Errorf("error upserting endpoint: %w", err)
	}

	db.logger.Debug("Recorded endpoint", "id", ep.ID, "region", ep.Region, "run", runID)
	return nil
}

// EndpointsDeleted stamps the deletion time on the given endpoints of region.
func (db *DB) EndpointsDeleted(ctx context.Context, region string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	res, err := db.markDeleted(region, ids).Exec(ctx)
	if err != nil {
		return fmt.Errorf("error marking endpoints deleted: %w", err)
	}

	n, _ := res.RowsAffected()
	db.logger.Debug("Marked endpoints deleted", "region", region, "rows", n)
	return nil
}

// ListEndpoints returns recorded endpoints ordered by pool and region.
// Deleted endpoints are only included when all is set.
func (db *DB) ListEndpoints(ctx context.Context, all bool) ([]models.Endpoint, error) {
	var endpoints []models.Endpoint
	if err := db.selectEndpoints(&endpoints, all).Scan(ctx); err != nil {
		return nil, fmt.Errorf("error getting endpoints: %w", err)
	}
	return endpoints, nil
}

func (db *DB) upsertEndpoint(row *models.Endpoint) *bun.InsertQuery {
	return db.NewInsert().
		Model(row).
		On("CONFLICT (id, region) DO UPDATE").
		Set("address = EXCLUDED.address").
		Set("pool_name = EXCLUDED.pool_name").
		Set("run_id = EXCLUDED.run_id").
		Set("reused = EXCLUDED.reused").
		Set("deleted_at = NULL").
		Set("updated_at = CURRENT_TIMESTAMP")
}

func (db *DB) markDeleted(region string, ids []string) *bun.UpdateQuery {
	return db.NewUpdate().
		Model((*models.Endpoint)(nil)).
		Set("deleted_at = CURRENT_TIMESTAMP").
		Set("updated_at = CURRENT_TIMESTAMP").
		Where("region = ?", region).
		Where("id IN (?)", bun.In(ids)).
		Where("deleted_at IS NULL")
}

func (db *DB) selectEndpoints(dest *[]models.Endpoint, all bool) *bun.SelectQuery {
	q := db.NewSelect().
		Model(dest).
		Order("pool_name", "region", "created_at")
	if !all {
		q = q.Where("deleted_at IS NULL")
	}
	return q
}
