package testutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/INLOpen/atundo/core"
	"github.com/INLOpen/atundo/datasource"
	"github.com/INLOpen/atundo/executor"
	"github.com/INLOpen/atundo/store"
)

// ErrNoSQL is returned by MemSession's SQL methods. Everything that runs on a
// MemSession goes through MemStore or RecordingExecutors instead.
var ErrNoSQL = errors.New("memdb: session does not execute SQL")

type rowKey struct {
	branchID int64
	xid      string
}

// MemDB is an in-memory undo log table with row locks and a unique key on
// (branch_id, xid). A locking read takes the row lock only when the row
// exists; an insert always takes it and then checks the committed rows, so two
// sessions that both saw no row race on the insert and the loser gets
// core.ErrDuplicateUndoLog once the winner commits.
type MemDB struct {
	mu     sync.Mutex
	cond   *sync.Cond
	rows   map[rowKey]*store.Record
	owners map[rowKey]*MemSession
	now    func() time.Time

	begins  int
	commits int
}

// NewMemDB returns an empty table.
func NewMemDB() *MemDB {
	db := &MemDB{
		rows:   make(map[rowKey]*store.Record),
		owners: make(map[rowKey]*MemSession),
		now:    func() time.Time { return time.Now().UTC() },
	}
	db.cond = sync.NewCond(&db.mu)
	return db
}

// SetClock overrides the timestamp source for inserted rows.
func (db *MemDB) SetClock(now func() time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.now = now
}

// Rows returns a copy of the committed rows ordered by (xid, branch_id).
func (db *MemDB) Rows() []store.Record {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]store.Record, 0, len(db.rows))
	for _, r := range db.rows {
		cp := *r
		cp.RollbackInfo = append([]byte(nil), r.RollbackInfo...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].XID != out[j].XID {
			return out[i].XID < out[j].XID
		}
		return out[i].BranchID < out[j].BranchID
	})
	return out
}

// Row returns the committed row of (branchID, xid).
func (db *MemDB) Row(branchID int64, xid string) (store.Record, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.rows[rowKey{branchID, xid}]
	if !ok {
		return store.Record{}, false
	}
	return *r, true
}

// Put commits a row directly, bypassing locks.
func (db *MemDB) Put(rec store.Record) {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := rec
	db.rows[rowKey{rec.BranchID, rec.XID}] = &cp
}

// Begins and Commits count session lifecycle calls.
func (db *MemDB) Begins() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.begins
}

func (db *MemDB) Commits() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.commits
}

// lock must be called with db.mu held.
func (db *MemDB) lock(ctx context.Context, k rowKey, s *MemSession) error {
	for {
		owner := db.owners[k]
		if owner == nil || owner == s {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		db.cond.Wait()
	}
	db.owners[k] = s
	s.locks[k] = struct{}{}
	return nil
}

// releaseLocked must be called with db.mu held.
func (db *MemDB) releaseLocked(s *MemSession) {
	for k := range s.locks {
		if db.owners[k] == s {
			delete(db.owners, k)
		}
	}
	s.locks = make(map[rowKey]struct{})
	db.cond.Broadcast()
}

// MemSource hands out MemSessions on a MemDB.
type MemSource struct {
	DB   *MemDB
	Type core.DBType
	// BeginErr, when set, fails every Begin.
	BeginErr error
	// CloseErr is returned by every session's Close after it releases.
	CloseErr error

	mu     sync.Mutex
	closed int
}

var _ datasource.Source = (*MemSource)(nil)

// NewMemSource returns a MySQL-typed source over db.
func NewMemSource(db *MemDB) *MemSource {
	return &MemSource{DB: db, Type: core.DBTypeMySQL}
}

func (s *MemSource) DBType() core.DBType { return s.Type }

func (s *MemSource) Begin(ctx context.Context) (datasource.Session, error) {
	if s.BeginErr != nil {
		return nil, s.BeginErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.DB.mu.Lock()
	s.DB.begins++
	s.DB.mu.Unlock()
	sess := s.NewSession()
	sess.counted = true
	return sess, nil
}

// NewSession opens a session without counting it as a Begin, the way a
// caller's business transaction would be opened.
func (s *MemSource) NewSession() *MemSession {
	return &MemSession{
		db:      s.DB,
		source:  s,
		pending: make(map[rowKey]*store.Record),
		locks:   make(map[rowKey]struct{}),
	}
}

// Closed reports how many sessions returned by Begin were closed.
func (s *MemSource) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MemSession is a local transaction on a MemDB. Writes are staged until
// Commit; a nil entry in pending marks a staged delete.
type MemSession struct {
	db       *MemDB
	source   *MemSource
	pending  map[rowKey]*store.Record
	locks    map[rowKey]struct{}
	onCommit []func()
	done     bool
	closed   bool
	counted  bool
}

var _ datasource.Session = (*MemSession)(nil)

func (s *MemSession) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, ErrNoSQL
}

func (s *MemSession) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, ErrNoSQL
}

// OnCommit registers fn to run when the session commits.
func (s *MemSession) OnCommit(fn func()) {
	s.onCommit = append(s.onCommit, fn)
}

func (s *MemSession) Commit() error {
	s.db.mu.Lock()
	if s.done {
		s.db.mu.Unlock()
		return sql.ErrTxDone
	}
	for k, r := range s.pending {
		if r == nil {
			delete(s.db.rows, k)
			continue
		}
		s.db.rows[k] = r
	}
	s.db.commits++
	s.done = true
	s.pending = make(map[rowKey]*store.Record)
	s.db.releaseLocked(s)
	fns := s.onCommit
	s.onCommit = nil
	s.db.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

func (s *MemSession) Rollback() error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	s.pending = make(map[rowKey]*store.Record)
	s.onCommit = nil
	s.db.releaseLocked(s)
	return nil
}

func (s *MemSession) Close() error {
	_ = s.Rollback()
	if s.closed {
		return errors.New("memdb: session closed twice")
	}
	s.closed = true
	if s.counted {
		s.source.mu.Lock()
		s.source.closed++
		s.source.mu.Unlock()
		return s.source.CloseErr
	}
	return nil
}

// visibleLocked must be called with db.mu held.
func (s *MemSession) visibleLocked(k rowKey) (*store.Record, bool) {
	if r, ok := s.pending[k]; ok {
		return r, r != nil
	}
	r, ok := s.db.rows[k]
	return r, ok
}

// MemRecord builds a committed row for MemDB.Put.
func MemRecord(branchID int64, xid string, rollbackInfo []byte, status core.LogStatus, created time.Time) store.Record {
	return store.Record{
		BranchID:     branchID,
		XID:          xid,
		RollbackInfo: rollbackInfo,
		Status:       status,
		Created:      created,
		Modified:     created,
	}
}

// MemStore implements store.Store over MemSessions. The fault hooks, when
// set, run before the operation and fail it with the returned error.
type MemStore struct {
	InsertFault func(branchID int64, xid string, status core.LogStatus) error
	DeleteFault func(branchID int64, xid string) error
}

var _ store.Store = (*MemStore)(nil)

func session(ex core.Executor) (*MemSession, error) {
	s, ok := ex.(*MemSession)
	if !ok {
		return nil, fmt.Errorf("memdb: executor %T is not a MemSession", ex)
	}
	if s.done {
		return nil, sql.ErrTxDone
	}
	return s, nil
}

func (m *MemStore) SelectForUpdate(ctx context.Context, ex core.Executor, branchID int64, xid string) ([]*store.Record, error) {
	s, err := session(ex)
	if err != nil {
		return nil, err
	}
	k := rowKey{branchID, xid}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, exists := s.visibleLocked(k); exists {
		if err := s.db.lock(ctx, k, s); err != nil {
			return nil, err
		}
	}
	r, ok := s.visibleLocked(k)
	if !ok {
		return nil, nil
	}
	cp := *r
	return []*store.Record{&cp}, nil
}

func (m *MemStore) Insert(ctx context.Context, ex core.Executor, branchID int64, xid string, rollbackInfo []byte, status core.LogStatus) error {
	if m.InsertFault != nil {
		if err := m.InsertFault(branchID, xid, status); err != nil {
			return err
		}
	}
	s, err := session(ex)
	if err != nil {
		return err
	}
	k := rowKey{branchID, xid}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.lock(ctx, k, s); err != nil {
		return err
	}
	if _, exists := s.visibleLocked(k); exists {
		return fmt.Errorf("%w: branch %d xid %s", core.ErrDuplicateUndoLog, branchID, xid)
	}
	now := s.db.now()
	s.pending[k] = &store.Record{
		BranchID:     branchID,
		XID:          xid,
		RollbackInfo: append([]byte(nil), rollbackInfo...),
		Status:       status,
		Created:      now,
		Modified:     now,
	}
	return nil
}

func (m *MemStore) Delete(ctx context.Context, ex core.Executor, branchID int64, xid string) (int64, error) {
	if m.DeleteFault != nil {
		if err := m.DeleteFault(branchID, xid); err != nil {
			return 0, err
		}
	}
	s, err := session(ex)
	if err != nil {
		return 0, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.deleteLocked(ctx, rowKey{branchID, xid})
}

// deleteLocked must be called with db.mu held.
func (s *MemSession) deleteLocked(ctx context.Context, k rowKey) (int64, error) {
	if err := s.db.lock(ctx, k, s); err != nil {
		return 0, err
	}
	if _, exists := s.visibleLocked(k); !exists {
		return 0, nil
	}
	s.pending[k] = nil
	return 1, nil
}

func (m *MemStore) BatchDelete(ctx context.Context, ex core.Executor, branchIDs []int64, xids []string) (int64, error) {
	s, err := session(ex)
	if err != nil {
		return 0, err
	}
	if len(branchIDs) == 0 || len(xids) == 0 {
		return 0, nil
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for _, b := range branchIDs {
		for _, x := range xids {
			d, err := s.deleteLocked(ctx, rowKey{b, x})
			if err != nil {
				return n, err
			}
			n += d
		}
	}
	return n, nil
}

func (m *MemStore) DeleteCreatedBefore(ctx context.Context, ex core.Executor, cutoff time.Time, limit int) (int64, error) {
	s, err := session(ex)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		return 0, fmt.Errorf("limit must be positive, got %d", limit)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var keys []rowKey
	for k, r := range s.db.rows {
		if !r.Created.After(cutoff) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return s.db.rows[keys[i]].Created.Before(s.db.rows[keys[j]].Created)
	})
	var n int64
	for _, k := range keys {
		if int(n) == limit {
			break
		}
		d, err := s.deleteLocked(ctx, k)
		if err != nil {
			return n, err
		}
		n += d
	}
	return n, nil
}

// AppliedEntry is one inverse statement a RecordingExecutors factory applied.
type AppliedEntry struct {
	Table   string
	SQLType core.SQLType
	Meta    *core.TableMeta
}

// RecordingExecutors is an executor.Factory whose executors record the entry
// they invert. On a MemSession the record lands only when the session
// commits; on any other executor it lands immediately.
type RecordingExecutors struct {
	// Fail maps a table name to the error its executor returns.
	Fail map[string]error

	mu      sync.Mutex
	applied []AppliedEntry
}

var _ executor.Factory = (*RecordingExecutors)(nil)

func (r *RecordingExecutors) UndoExecutor(dbType core.DBType, entry *core.SQLUndoLog) (executor.UndoExecutor, error) {
	if err := core.AssertSupportedDBType(dbType); err != nil {
		return nil, err
	}
	if entry.TableMeta() == nil {
		return nil, fmt.Errorf("table meta for %s not resolved", entry.TableName)
	}
	return &recordingExecutor{parent: r, entry: entry}, nil
}

// Applied returns the committed inverse applications in order.
func (r *RecordingExecutors) Applied() []AppliedEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AppliedEntry(nil), r.applied...)
}

type recordingExecutor struct {
	parent *RecordingExecutors
	entry  *core.SQLUndoLog
}

func (e *recordingExecutor) ExecuteOn(_ context.Context, ex core.Executor) error {
	if err := e.parent.Fail[e.entry.TableName]; err != nil {
		return err
	}
	applied := AppliedEntry{Table: e.entry.TableName, SQLType: e.entry.SQLType, Meta: e.entry.TableMeta()}
	record := func() {
		e.parent.mu.Lock()
		e.parent.applied = append(e.parent.applied, applied)
		e.parent.mu.Unlock()
	}
	if s, ok := ex.(*MemSession); ok {
		s.OnCommit(record)
		return nil
	}
	record()
	return nil
}
