package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/arklim/platform-authz/internal/infra/config"
)

// authzSchema holds the permission tables; it is searched before public.
const authzSchema = "authz"

// RuleTables are the relations the rule store reads. Startup fails when any is missing.
var RuleTables = []string{
	"permissions",
	"permission_rules",
	"role_permissions",
	"role_permission_conditions",
	"user_permission_conditions",
	"routes",
	"users",
	"user_roles",
	"role_extend_data",
}

// Querier is the subset of pgxpool.Pool used by CheckRuleSchema.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// DSN renders the connection string for cfg. Credentials are escaped.
func DSN(cfg config.PostgresSettings) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}

// NewPostgresPool opens the rule store pool and verifies the permission schema is in place.
func NewPostgresPool(ctx context.Context, cfg config.PostgresSettings, log *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse rule store pool config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = make(map[string]string)
	}
	poolConfig.ConnConfig.RuntimeParams["search_path"] = authzSchema + ",public"
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "platform-authz"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect rule store: %w", err)
	}

	if err := CheckRuleSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("rule store connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
		zap.String("schema", authzSchema),
		zap.Int("rule_tables", len(RuleTables)),
		zap.Int32("max_conns", poolConfig.MaxConns),
	)

	return pool, nil
}

// CheckRuleSchema reports every rule table that does not exist in the authz schema.
func CheckRuleSchema(ctx context.Context, q Querier) error {
	qualified := make([]string, len(RuleTables))
	for i, table := range RuleTables {
		qualified[i] = authzSchema + "." + table
	}

	rows, err := q.Query(ctx,
		"SELECT t FROM unnest($1::text[]) AS t WHERE to_regclass(t) IS NULL",
		qualified,
	)
	if err != nil {
		return fmt.Errorf("check rule schema: %w", err)
	}
	missing, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("check rule schema: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("rule schema incomplete, missing tables: %s", strings.Join(missing, ", "))
	}
	return nil
}
