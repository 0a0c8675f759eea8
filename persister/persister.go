// Package persister writes and reads the instances of one entity. A
// persister is built once at boot and shared by every session.
package persister

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/executor"
	"github.com/syssam/tabula/mapping"
	"github.com/syssam/tabula/mutation"
	"github.com/syssam/tabula/query"
)

// EntityPersister executes the mutations and loads of one entity.
type EntityPersister struct {
	entity     *mapping.Entity
	translator *sql.Translator
	builder    *mutation.Builder
	insert     *mutation.Group
	update     *mutation.Group
	delete     *mutation.Group
	dynamic    bool
	logger     *slog.Logger

	mu      sync.RWMutex
	updates map[string]*mutation.Group
}

// Option configures an EntityPersister.
type Option func(*config)

type config struct {
	lobsLast bool
	dynamic  bool
	logger   *slog.Logger
}

// WithLobsLast orders large object columns after all other columns.
func WithLobsLast(b bool) Option {
	return func(c *config) { c.lobsLast = b }
}

// WithDynamicUpdate writes only the columns of changed attributes.
// Update groups are then built per set of dirty attributes and reused.
func WithDynamicUpdate(b bool) Option {
	return func(c *config) { c.dynamic = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New builds the persister of an entity and its static mutation groups.
func New(e *mapping.Entity, tr *sql.Translator, opts ...Option) (*EntityPersister, error) {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	p := &EntityPersister{
		entity:     e,
		translator: tr,
		builder:    mutation.NewBuilder(e, tr, mutation.WithLobsLast(cfg.lobsLast)),
		dynamic:    cfg.dynamic,
		logger:     cfg.logger,
		updates:    make(map[string]*mutation.Group),
	}
	var err error
	if p.insert, err = p.builder.InsertGroup(); err != nil {
		return nil, err
	}
	if p.update, err = p.builder.UpdateGroup(nil); err != nil {
		return nil, err
	}
	if p.delete, err = p.builder.DeleteGroup(); err != nil {
		return nil, err
	}
	return p, nil
}

// Entity returns the persisted entity.
func (p *EntityPersister) Entity() *mapping.Entity { return p.entity }

// InsertGroup returns the static insert group.
func (p *EntityPersister) InsertGroup() *mutation.Group { return p.insert }

// DeleteGroup returns the static delete group.
func (p *EntityPersister) DeleteGroup() *mutation.Group { return p.delete }

// UpdateGroup returns the update group for the dirty attributes.
func (p *EntityPersister) UpdateGroup(dirty []int) (*mutation.Group, error) {
	if !p.dynamic {
		return p.update, nil
	}
	parts := make([]string, len(dirty))
	for i, d := range dirty {
		parts[i] = strconv.Itoa(d)
	}
	k := strings.Join(parts, ",")
	p.mu.RLock()
	g, ok := p.updates[k]
	p.mu.RUnlock()
	if ok {
		return g, nil
	}
	g, err := p.builder.UpdateGroup(dirty)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.updates[k] = g
	p.mu.Unlock()
	return g, nil
}

// batchKey returns the key single-statement groups batch under.
// Multi-table groups and database-generated identifiers never batch.
func (p *EntityPersister) batchKey(g *mutation.Group) executor.BatchKey {
	if g.NumberOfOperations() != 1 {
		return executor.NoBatch
	}
	if g.Type() == mapping.Insert && p.entity.Identifier().IsGenerated() {
		return executor.NoBatch
	}
	return executor.BatchKey(p.entity.Name() + "#" + g.Type().String())
}

// Insert writes a new instance. It returns the identifier, generated by
// the database for identity identifiers.
func (p *EntityPersister) Insert(ctx context.Context, svc *executor.Service, id any, state []any) (_ any, rerr error) {
	exec := svc.CreateExecutor(p.insert, p.batchKey(p.insert))
	defer func() { rerr = errors.Join(rerr, exec.Release()) }()
	b := exec.ValueBindings()
	generated := p.entity.Identifier().IsGenerated()
	if !generated {
		b.BindIdentifier(id, mutation.UsageSet)
	}
	b.BindState(state, mutation.UsageSet)
	analysis := mutation.NewInsertValuesAnalysis(p.entity, state)
	res, err := exec.Execute(ctx, analysis, mutation.InsertInclusion(analysis))
	if err != nil {
		return nil, p.wrap("insert", err)
	}
	p.logger.DebugContext(ctx, "inserted entity", "entity", p.entity.Name(), "tables", res.Executed, "batched", res.Batched)
	if !generated {
		return id, nil
	}
	if res.GeneratedID == nil {
		return nil, tabula.NewMutationError(p.entity.Name(), "insert", fmt.Errorf("no identifier generated"))
	}
	return res.GeneratedID, nil
}

// Update writes the changes from prev to next. A nil dirty slice is
// computed by comparing both states. The version, if any, is restricted
// to its value in prev.
func (p *EntityPersister) Update(ctx context.Context, svc *executor.Service, id any, prev, next []any, dirty []int) (rerr error) {
	analysis := mutation.NewUpdateValuesAnalysis(p.entity, prev, next, dirty)
	if len(analysis.DirtyAttributes()) == 0 {
		return nil
	}
	g, err := p.UpdateGroup(analysis.DirtyAttributes())
	if err != nil {
		return p.wrap("update", err)
	}
	exec := svc.CreateExecutor(g, p.batchKey(g))
	defer func() { rerr = errors.Join(rerr, exec.Release()) }()
	b := exec.ValueBindings()
	b.BindIdentifier(id, mutation.UsageRestrict)
	// Optional tables are inserted when they gain values.
	b.BindIdentifier(id, mutation.UsageSet)
	b.BindState(next, mutation.UsageSet)
	p.bindVersion(b, prev)
	res, err := exec.Execute(ctx, analysis, mutation.UpdateInclusion(analysis))
	if err != nil {
		return p.wrap("update", err)
	}
	p.logger.DebugContext(ctx, "updated entity", "entity", p.entity.Name(),
		"tables", res.Executed, "skipped", res.Skipped, "batched", res.Batched)
	return nil
}

// Delete removes an instance. state is the last known state, used for the
// version restriction.
func (p *EntityPersister) Delete(ctx context.Context, svc *executor.Service, id any, state []any) (rerr error) {
	exec := svc.CreateExecutor(p.delete, p.batchKey(p.delete))
	defer func() { rerr = errors.Join(rerr, exec.Release()) }()
	b := exec.ValueBindings()
	b.BindIdentifier(id, mutation.UsageRestrict)
	p.bindVersion(b, state)
	res, err := exec.Execute(ctx, nil, mutation.DeleteInclusion())
	if err != nil {
		return p.wrap("delete", err)
	}
	p.logger.DebugContext(ctx, "deleted entity", "entity", p.entity.Name(), "tables", res.Executed, "batched", res.Batched)
	return nil
}

func (p *EntityPersister) bindVersion(b *mutation.ValueBindings, state []any) {
	if v, ok := p.entity.Version(); ok && state != nil {
		b.BindAttribute(v.Index(), state[v.Index()], mutation.UsageRestrict)
	}
}

// Load reads the instance with identifier id. It returns a NotFoundError
// if there is none.
func (p *EntityPersister) Load(ctx context.Context, conn dialect.ExecQuerier, id any) ([]any, error) {
	s, err := query.Load(p.translator, p.entity, id)
	if err != nil {
		return nil, tabula.NewQueryError(p.entity.Name(), "load", err)
	}
	rows, err := p.Select(ctx, conn, s)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, tabula.NewNotFoundError(p.entity.Name(), id)
	}
	_, state, err := query.Decode(p.entity, rows[0])
	if err != nil {
		return nil, tabula.NewQueryError(p.entity.Name(), "load", err)
	}
	return state, nil
}

// Select executes a translated query and returns its raw rows.
func (p *EntityPersister) Select(ctx context.Context, conn dialect.ExecQuerier, s *query.Select) ([][]any, error) {
	var rows sql.Rows
	if err := conn.Query(ctx, s.SQL, s.Args, &rows); err != nil {
		return nil, tabula.NewQueryError(p.entity.Name(), "select", err)
	}
	out, err := query.ScanRows(&rows)
	if err != nil {
		return nil, tabula.NewQueryError(p.entity.Name(), "select", err)
	}
	return out, nil
}

// wrap keeps concurrency conflicts unwrapped so callers can tell them
// apart from other failures.
func (p *EntityPersister) wrap(op string, err error) error {
	if tabula.IsStaleState(err) {
		return err
	}
	return tabula.NewMutationError(p.entity.Name(), op, err)
}
