package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/INLOpen/atundo/core"
)

// Session is one pooled connection with an open local transaction.
// Statements run through ExecContext/QueryContext participate in it.
type Session interface {
	core.Executor
	Commit() error
	// Rollback is a no-op after Commit.
	Rollback() error
	// Close returns the connection to the pool. It must be called exactly once.
	Close() error
}

// Source hands out sessions on the resource database. DBType is the dialect
// the connections speak.
type Source interface {
	DBType() core.DBType
	Begin(ctx context.Context) (Session, error)
}

// SQLSource is a Source over a *sql.DB pool.
type SQLSource struct {
	db     *sql.DB
	dbType core.DBType
	opts   *sql.TxOptions
}

var _ Source = (*SQLSource)(nil)

// NewSQLSource wraps db. opts may be nil for the driver's default isolation.
func NewSQLSource(db *sql.DB, dbType core.DBType, opts *sql.TxOptions) *SQLSource {
	return &SQLSource{db: db, dbType: dbType, opts: opts}
}

func (s *SQLSource) DBType() core.DBType { return s.dbType }

// DB returns the underlying pool.
func (s *SQLSource) DB() *sql.DB { return s.db }

// Begin pins a connection and starts a local transaction on it. The
// connection's autocommit state is owned by the transaction and restored by
// the driver when it ends.
func (s *SQLSource) Begin(ctx context.Context) (Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	tx, err := conn.BeginTx(ctx, s.opts)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("begin local transaction: %w", err)
	}
	return &sqlSession{Tx: tx, conn: conn}, nil
}

type sqlSession struct {
	*sql.Tx
	conn *sql.Conn
}

func (s *sqlSession) Rollback() error {
	if err := s.Tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (s *sqlSession) Close() error {
	// Abandoned transactions are rolled back before the connection is released.
	_ = s.Rollback()
	return s.conn.Close()
}
