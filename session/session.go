package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"github.com/google/uuid"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/executor"
	"github.com/syssam/tabula/mapping"
	"github.com/syssam/tabula/mutation"
	"github.com/syssam/tabula/persister"
	"github.com/syssam/tabula/query"
)

// ErrNoTx is returned by Commit and Rollback outside a transaction.
var ErrNoTx = errors.New("tabula: no transaction in progress")

type status int

const (
	managed status = iota
	pendingInsert
	removed
)

// entry is an instance tracked by the persistence context.
type entry struct {
	p        *persister.EntityPersister
	instance any
	id       any
	snapshot []any
	status   status
}

type entryKey struct {
	entity string
	id     string
}

func keyOf(p *persister.EntityPersister, id any) entryKey {
	return entryKey{entity: p.Entity().Name(), id: fmt.Sprint(id)}
}

// Session is a unit of work. A session is used by one goroutine at a
// time; any number of sessions may run concurrently.
type Session struct {
	id      string
	f       *Factory
	svc     *executor.Service
	tx      dialect.Tx
	tenant  string
	cacheTS int64
	logger  *slog.Logger

	entries map[entryKey]*entry
	order   []*entry
	inserts []*entry
	deletes []*entry
	// spaces written by the current transaction, invalidated once it ends.
	written map[string]struct{}
	closed  bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithTenant scopes cached query results to a tenant.
func WithTenant(tenant string) SessionOption {
	return func(s *Session) { s.tenant = tenant }
}

// OpenSession starts a session outside any transaction.
func (f *Factory) OpenSession(opts ...SessionOption) *Session {
	s := &Session{
		id:      uuid.NewString(),
		f:       f,
		entries: make(map[entryKey]*entry),
		written: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = f.logger.With("session", s.id)
	s.svc = executor.NewService(f.drv,
		executor.WithBatchSize(f.batchSize),
		executor.WithStatementTimeout(f.timeout),
		executor.WithLogger(s.logger),
		executor.WithMetrics(f.metrics),
	)
	s.cacheTS = f.clock.Next()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CacheTimestamp returns the timestamp query results read by the session
// are cached with.
func (s *Session) CacheTimestamp() int64 { return s.cacheTS }

// InTx reports whether a transaction is in progress.
func (s *Session) InTx() bool { return s.tx != nil }

func (s *Session) conn() dialect.ExecQuerier {
	if s.tx != nil {
		return s.tx
	}
	return s.f.drv
}

func (s *Session) check() error {
	if s.closed {
		return tabula.ErrSessionClosed
	}
	return nil
}

// Begin starts a transaction.
func (s *Session) Begin(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.tx != nil {
		return tabula.ErrTxStarted
	}
	tx, err := s.f.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("session: begin: %w", err)
	}
	s.tx = tx
	s.svc.SetConn(tx)
	s.cacheTS = s.f.clock.Next()
	s.logger.DebugContext(ctx, "transaction started")
	return nil
}

// Commit flushes the session and commits the transaction. A failed flush
// rolls the transaction back.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.tx == nil {
		return ErrNoTx
	}
	if err := s.Flush(ctx); err != nil {
		return errors.Join(err, s.Rollback(ctx))
	}
	err := s.tx.Commit()
	s.afterCompletion(ctx)
	if err != nil {
		s.clear()
		return &tabula.RollbackError{Err: fmt.Errorf("session: commit: %w", err)}
	}
	s.logger.DebugContext(ctx, "transaction committed")
	return nil
}

// Rollback discards pending work and rolls the transaction back. The
// persistence context is cleared, as tracked instances may no longer
// match the database.
func (s *Session) Rollback(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.tx == nil {
		return ErrNoTx
	}
	s.svc.Batch().AbortBatch()
	err := s.tx.Rollback()
	s.afterCompletion(ctx)
	s.clear()
	if err != nil {
		return fmt.Errorf("session: rollback: %w", err)
	}
	s.logger.DebugContext(ctx, "transaction rolled back")
	return nil
}

// afterCompletion ends the transaction and releases the spaces it locked.
func (s *Session) afterCompletion(ctx context.Context) {
	s.tx = nil
	s.svc.SetConn(s.f.drv)
	if len(s.written) > 0 && s.f.timestamps != nil {
		spaces := make([]string, 0, len(s.written))
		for space := range s.written {
			spaces = append(spaces, space)
		}
		slices.Sort(spaces)
		s.f.timestamps.Invalidate(ctx, spaces)
	}
	clear(s.written)
	s.cacheTS = s.f.clock.Next()
}

// clear forgets every tracked instance and pending action.
func (s *Session) clear() {
	clear(s.entries)
	s.order, s.inserts, s.deletes = nil, nil, nil
}

// Close ends the session, rolling back an unfinished transaction.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	var err error
	if s.tx != nil {
		err = s.Rollback(ctx)
	}
	s.clear()
	s.closed = true
	return err
}

// Persist makes v managed. Instances with a database-generated identifier
// are inserted immediately to obtain it; others are inserted at flush.
func (s *Session) Persist(ctx context.Context, v any) error {
	if err := s.check(); err != nil {
		return err
	}
	p, err := s.f.persisterOf(v)
	if err != nil {
		return err
	}
	e := p.Entity()
	acc := e.Accessor()
	state := acc.State(v)
	if ver, ok := e.Version(); ok {
		if n, _ := state[ver.Index()].(int64); n == 0 {
			state[ver.Index()] = int64(1)
			acc.SetState(v, state)
		}
	}
	if e.Identifier().IsGenerated() {
		s.writing(ctx, e.QuerySpaces())
		id, err := p.Insert(ctx, s.svc, nil, state)
		if !s.InTx() {
			s.wrote(ctx, e.QuerySpaces())
		}
		if err != nil {
			return err
		}
		acc.SetID(v, id)
		s.track(&entry{p: p, instance: v, id: id, snapshot: snapshot(e, state), status: managed})
		return nil
	}
	id := acc.ID(v)
	if mapping.IsNull(id) {
		return tabula.NewMutationError(e.Name(), "persist", errors.New("identifier is not assigned"))
	}
	if en, ok := s.entries[keyOf(p, id)]; ok && en.status != removed {
		if en.instance == v {
			return nil
		}
		return tabula.NewMutationError(e.Name(), "persist", fmt.Errorf("an instance with identifier %v is already managed", id))
	}
	en := &entry{p: p, instance: v, id: id, snapshot: snapshot(e, state), status: pendingInsert}
	s.track(en)
	s.inserts = append(s.inserts, en)
	return nil
}

func (s *Session) track(en *entry) {
	s.entries[keyOf(en.p, en.id)] = en
	s.order = append(s.order, en)
}

// Find returns the managed instance of the named entity with identifier
// id, loading it if needed. It returns a NotFoundError if there is none.
func (s *Session) Find(ctx context.Context, entity string, id any) (any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	p, ok := s.f.Persister(entity)
	if !ok {
		return nil, fmt.Errorf("session: unknown entity %q", entity)
	}
	return s.find(ctx, p, id)
}

func (s *Session) find(ctx context.Context, p *persister.EntityPersister, id any) (any, error) {
	if en, ok := s.entries[keyOf(p, id)]; ok {
		if en.status == removed {
			return nil, tabula.NewNotFoundError(p.Entity().Name(), id)
		}
		return en.instance, nil
	}
	state, err := p.Load(ctx, s.conn(), id)
	if err != nil {
		return nil, err
	}
	return s.manage(p, id, state), nil
}

// manage instantiates a loaded instance and tracks it.
func (s *Session) manage(p *persister.EntityPersister, id any, state []any) any {
	acc := p.Entity().Accessor()
	v := acc.Instantiate()
	acc.SetID(v, id)
	acc.SetState(v, state)
	s.track(&entry{p: p, instance: v, id: id, snapshot: snapshot(p.Entity(), state), status: managed})
	return v
}

// Get returns the managed T with identifier id.
func Get[T any](ctx context.Context, s *Session, id any) (*T, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	p, ok := s.f.byType[reflect.TypeFor[*T]()]
	if !ok {
		return nil, fmt.Errorf("session: %s is not a mapped entity", reflect.TypeFor[T]())
	}
	v, err := s.find(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

// Remove schedules the deletion of a managed instance.
func (s *Session) Remove(ctx context.Context, v any) error {
	if err := s.check(); err != nil {
		return err
	}
	p, err := s.f.persisterOf(v)
	if err != nil {
		return err
	}
	id := p.Entity().Accessor().ID(v)
	en, ok := s.entries[keyOf(p, id)]
	if !ok || en.instance != v {
		return tabula.NewMutationError(p.Entity().Name(), "remove", errors.New("instance is not managed"))
	}
	switch en.status {
	case removed:
		return nil
	case pendingInsert:
		s.inserts = slices.DeleteFunc(s.inserts, func(o *entry) bool { return o == en })
		s.untrack(en)
		return nil
	}
	en.status = removed
	s.deletes = append(s.deletes, en)
	return nil
}

func (s *Session) untrack(en *entry) {
	delete(s.entries, keyOf(en.p, en.id))
	s.order = slices.DeleteFunc(s.order, func(o *entry) bool { return o == en })
}

type update struct {
	en   *entry
	next []any
}

// Flush writes pending changes: inserts, then updates of dirty managed
// instances, then deletes. Written spaces are locked against cached
// results until the transaction ends; outside a transaction they are
// invalidated when the flush completes.
//
// A failed flush outside a transaction clears the session, as a failed
// transaction does on rollback: instances must be loaded again.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	updates, err := s.dirty()
	if err != nil {
		return err
	}
	if len(s.inserts) == 0 && len(updates) == 0 && len(s.deletes) == 0 {
		return nil
	}
	var spaces []string
	for _, en := range s.inserts {
		spaces = append(spaces, en.p.Entity().QuerySpaces()...)
	}
	for _, u := range updates {
		spaces = append(spaces, u.en.p.Entity().QuerySpaces()...)
	}
	for _, en := range s.deletes {
		spaces = append(spaces, en.p.Entity().QuerySpaces()...)
	}
	slices.Sort(spaces)
	spaces = slices.Compact(spaces)
	s.writing(ctx, spaces)
	err = s.execute(ctx, updates)
	if !s.InTx() {
		s.wrote(ctx, spaces)
	}
	if err != nil {
		s.svc.Batch().AbortBatch()
		if !s.InTx() {
			// Statements before the failing one are committed already.
			s.logger.WarnContext(ctx, "flush failed, clearing session", "error", err)
			s.clear()
		}
		return err
	}
	s.logger.DebugContext(ctx, "flushed", "inserts", len(s.inserts), "updates", len(updates), "deletes", len(s.deletes))
	for _, en := range s.inserts {
		en.status = managed
	}
	for _, u := range updates {
		u.en.snapshot = snapshot(u.en.p.Entity(), u.next)
	}
	for _, en := range s.deletes {
		s.untrack(en)
	}
	s.inserts, s.deletes = nil, nil
	return nil
}

func (s *Session) execute(ctx context.Context, updates []update) error {
	for _, en := range s.inserts {
		en.snapshot = snapshot(en.p.Entity(), en.p.Entity().Accessor().State(en.instance))
		if _, err := en.p.Insert(ctx, s.svc, en.id, en.snapshot); err != nil {
			return err
		}
	}
	for _, u := range updates {
		if err := u.en.p.Update(ctx, s.svc, u.en.id, u.en.snapshot, u.next, nil); err != nil {
			return err
		}
		u.en.p.Entity().Accessor().SetState(u.en.instance, u.next)
	}
	for _, en := range s.deletes {
		if err := en.p.Delete(ctx, s.svc, en.id, en.snapshot); err != nil {
			return err
		}
	}
	return s.svc.Batch().ExecuteBatch(ctx)
}

// dirty returns the managed instances whose state differs from their
// snapshot, with the next state to write. Versions are incremented.
func (s *Session) dirty() ([]update, error) {
	var updates []update
	for _, en := range s.order {
		if en.status != managed {
			continue
		}
		e := en.p.Entity()
		next := slices.Clone(e.Accessor().State(en.instance))
		if len(mutation.DirtyAttributes(en.snapshot, next)) == 0 {
			continue
		}
		if ver, ok := e.Version(); ok {
			n, ok := en.snapshot[ver.Index()].(int64)
			if !ok {
				return nil, tabula.NewMutationError(e.Name(), "update", fmt.Errorf("version %v is not an integer", en.snapshot[ver.Index()]))
			}
			next[ver.Index()] = n + 1
		}
		updates = append(updates, update{en: en, next: next})
	}
	return updates, nil
}

// writing is called before spaces are written. Inside a transaction the
// spaces are locked until it ends.
func (s *Session) writing(ctx context.Context, spaces []string) {
	if s.f.timestamps == nil || !s.InTx() {
		return
	}
	var fresh []string
	for _, space := range spaces {
		if _, ok := s.written[space]; !ok {
			s.written[space] = struct{}{}
			fresh = append(fresh, space)
		}
	}
	s.f.timestamps.PreInvalidate(ctx, fresh)
}

// wrote invalidates spaces written outside a transaction.
func (s *Session) wrote(ctx context.Context, spaces []string) {
	if s.f.timestamps != nil {
		s.f.timestamps.Invalidate(ctx, spaces)
	}
}

// List flushes pending changes and runs q. Cacheable queries are answered
// from the query cache when its result is still valid. Rows of instances
// already managed resolve to those instances.
func (s *Session) List(ctx context.Context, q *query.Query) ([]any, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	e := q.Entity()
	p, ok := s.f.Persister(e.Name())
	if !ok {
		return nil, fmt.Errorf("session: unknown entity %q", e.Name())
	}
	sel, err := query.Translate(s.f.translator, q)
	if err != nil {
		return nil, tabula.NewQueryError(e.Name(), "list", err)
	}
	rows, err := s.rows(ctx, p, q, sel)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		id, state, err := query.Decode(e, row)
		if err != nil {
			return nil, tabula.NewQueryError(e.Name(), "list", err)
		}
		if en, ok := s.entries[keyOf(p, id)]; ok {
			if en.status != removed {
				out = append(out, en.instance)
			}
			continue
		}
		out = append(out, s.manage(p, id, state))
	}
	return out, nil
}

func (s *Session) rows(ctx context.Context, p *persister.EntityPersister, q *query.Query, sel *query.Select) ([][]any, error) {
	results := s.f.results
	if !q.IsCacheable() || results == nil {
		return p.Select(ctx, s.conn(), sel)
	}
	if !s.InTx() {
		s.cacheTS = s.f.clock.Next()
	}
	key := sel.Key(s.tenant)
	if rows, ok := results.Get(ctx, key, sel.Spaces, s); ok {
		return rows, nil
	}
	rows, err := p.Select(ctx, s.conn(), sel)
	if err != nil {
		return nil, err
	}
	results.Put(ctx, key, rows, s)
	return rows, nil
}

// List runs q and returns its results as T instances.
func List[T any](ctx context.Context, s *Session, q *query.Query) ([]*T, error) {
	res, err := s.List(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(res))
	for i, v := range res {
		t, ok := v.(*T)
		if !ok {
			return nil, fmt.Errorf("session: %T is not a %s", v, reflect.TypeFor[T]())
		}
		out[i] = t
	}
	return out, nil
}

// snapshot copies state. Embedded values are rebuilt so that changes
// made in place to the instance remain detectable.
func snapshot(e *mapping.Entity, state []any) []any {
	out := slices.Clone(state)
	for _, a := range e.Attributes() {
		if a.Kind() == mapping.PartEmbedded {
			out[a.Index()] = a.Assemble(a.Disassemble(out[a.Index()]))
		}
	}
	return out
}
