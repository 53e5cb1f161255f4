package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/INLOpen/atundo/compressors"
	"github.com/INLOpen/atundo/config"
	"github.com/INLOpen/atundo/core"
	"github.com/INLOpen/atundo/datasource"
	"github.com/INLOpen/atundo/executor"
	"github.com/INLOpen/atundo/hooks"
	"github.com/INLOpen/atundo/hooks/listeners"
	"github.com/INLOpen/atundo/parser"
	"github.com/INLOpen/atundo/store"
	"github.com/INLOpen/atundo/tablemeta"
	"github.com/INLOpen/atundo/undo"
	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// alertRetryThreshold is the retry count at which the alerter warns about a
// branch that keeps losing the tombstone race.
const alertRetryThreshold = 3

// openDB opens the resource database pool. Timestamps must scan as
// time.Time, so parseTime is forced on whatever the DSN says.
func openDB(cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, string, error) {
	if err := core.AssertSupportedDBType(core.ParseDBType(cfg.DBType)); err != nil {
		return nil, "", err
	}
	mcfg, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("invalid database dsn: %w", err)
	}
	mcfg.ParseTime = true

	connector, err := mysql.NewConnector(mcfg)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(config.ParseDuration(cfg.ConnMaxLifetime, 30*time.Minute, logger))
	return db, mcfg.DBName, nil
}

// newCodec builds the rollback_info codec from the undo settings.
func newCodec(cfg config.UndoConfig) (*parser.Codec, error) {
	p, err := parser.ByName(cfg.Serialization)
	if err != nil {
		return nil, err
	}
	c, err := compressors.ForName(cfg.Compression.Type)
	if err != nil {
		return nil, err
	}
	return parser.NewCodec(p, c, cfg.Compression.ThresholdBytes), nil
}

// newHooks wires the metrics and alerting listeners.
func newHooks(reg prometheus.Registerer, logger *slog.Logger) hooks.HookManager {
	hm := hooks.NewHookManager(logger)
	listeners.NewMetricsListener(reg).Register(hm)
	listeners.NewUndoAlerterListener(logger, alertRetryThreshold).Register(hm)
	return hm
}

// newManager assembles an undo manager on db.
func newManager(cfg *config.Config, db *sql.DB, schema string, tp trace.TracerProvider, hm hooks.HookManager, logger *slog.Logger) (*undo.Manager, error) {
	dbType := core.ParseDBType(cfg.Database.DBType)
	dialect, err := store.DialectFor(dbType, cfg.Undo.TableName)
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLStore(dialect, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	codec, err := newCodec(cfg.Undo)
	if err != nil {
		return nil, err
	}
	metaCache := tablemeta.NewCache(tablemeta.MySQLLoader{}, tablemeta.Options{
		ResourceID:  schema,
		Capacity:    cfg.TableMeta.CacheCapacity,
		Executor:    db,
		LoadTimeout: config.ParseDuration(cfg.TableMeta.LoadTimeout, tablemeta.DefaultLoadTimeout, logger),
		HookManager: hm,
		Logger:      logger,
	})

	return undo.NewManager(datasource.NewSQLSource(db, dbType, nil), undo.Options{
		Store:         st,
		Codec:         codec,
		TableMeta:     metaCache,
		Executors:     executor.NewDefaultFactory(cfg.Undo.DataValidation, logger),
		HookManager:   hm,
		Tracer:        tp.Tracer("github.com/INLOpen/atundo/undo"),
		Logger:        logger,
		MaxRetries:    cfg.Undo.MaxRetries,
		RetryInterval: config.ParseDuration(cfg.Undo.RetryInterval, undo.DefaultRetryInterval, logger),
	})
}
