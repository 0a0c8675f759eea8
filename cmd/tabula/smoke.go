package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/tabula/config"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/internal/demo"
	"github.com/syssam/tabula/mapping"
	"github.com/syssam/tabula/query"
	"github.com/syssam/tabula/session"
)

// smoke runs sessions concurrently, each committing units of work that
// touch both tables of an order and read products through the query
// cache.
func smoke(ctx context.Context, w io.Writer, cfg config.Config, sessions, rounds int) error {
	entities, err := demo.Entities()
	if err != nil {
		return err
	}
	f, err := session.Open(cfg, entities...)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := demo.CreateSchema(ctx, f.Driver(), cfg.Dialect); err != nil {
		return err
	}
	fmt.Fprintf(w, "entities: %v\n", entityNames(entities))

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := range sessions {
		g.Go(func() error {
			s := f.OpenSession(session.WithTenant(fmt.Sprintf("worker-%d", i)))
			defer s.Close(ctx)
			for r := range rounds {
				if err := unitOfWork(ctx, s, entities[1], r); err != nil {
					return fmt.Errorf("session %s round %d: %w", s.ID(), r, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d sessions x %d rounds in %s\n", sessions, rounds, time.Since(start).Round(time.Millisecond))
	if stats, ok := f.Driver().(*sql.StatsDriver); ok {
		fmt.Fprintf(w, "sql: %s\n", stats.QueryStats().Stats())
	}
	return printMetrics(w, f.Registry())
}

func unitOfWork(ctx context.Context, s *session.Session, product *mapping.Entity, round int) error {
	if err := s.Begin(ctx); err != nil {
		return err
	}
	note := fmt.Sprintf("round %d", round)
	o := &demo.Order{
		Customer: s.ID(),
		Ship:     &demo.Address{Street: "1 Main St", City: "Springfield"},
		PlacedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if round%2 == 0 {
		o.GiftNote = &note
	}
	if err := s.Persist(ctx, o); err != nil {
		return errors.Join(err, s.Rollback(ctx))
	}
	p := &demo.Product{ID: uuid.NewString(), Name: note, Price: float64(round)}
	if err := s.Persist(ctx, p); err != nil {
		return errors.Join(err, s.Rollback(ctx))
	}
	if err := s.Commit(ctx); err != nil {
		return err
	}

	products, err := session.List[demo.Product](ctx, s,
		query.From(product).Where("price", sql.OpGTE, float64(round)).Cacheable(true))
	if err != nil {
		return err
	}
	if err := s.Begin(ctx); err != nil {
		return err
	}
	p.Price += 0.5
	if round%2 == 1 {
		o.GiftNote = &note
	} else {
		o.GiftNote = nil
	}
	if err := s.Commit(ctx); err != nil {
		return err
	}
	if len(products) == 0 {
		return fmt.Errorf("product %s not listed", p.ID)
	}
	return nil
}
