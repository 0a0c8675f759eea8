// Command tabula prints the statements generated for the sample model and
// runs concurrent sessions against a configured database.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/alecthomas/kingpin.v2"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/syssam/tabula/config"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/internal/demo"
	"github.com/syssam/tabula/mapping"
	"github.com/syssam/tabula/mutation"
	"github.com/syssam/tabula/persister"
)

var (
	app     = kingpin.New("tabula", "Multi-table entity persistence toolkit.")
	configs = app.Flag("config", "YAML configuration file, may be repeated.").Short('c').Required().ExistingFiles()

	sqlCmd = app.Command("sql", "Print the mutation statements of the sample entities.")

	smokeCmd      = app.Command("smoke", "Run concurrent sessions against the configured database.")
	smokeSessions = smokeCmd.Flag("sessions", "Number of concurrent sessions.").Short('n').Default("4").Int()
	smokeRounds   = smokeCmd.Flag("rounds", "Units of work per session.").Default("10").Int()
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))
	cfg, err := config.Load(*configs...)
	app.FatalIfError(err, "loading configuration")
	ctx := context.Background()
	switch cmd {
	case sqlCmd.FullCommand():
		err = printStatements(os.Stdout, cfg)
	case smokeCmd.FullCommand():
		err = smoke(ctx, os.Stdout, cfg, *smokeSessions, *smokeRounds)
	}
	app.FatalIfError(err, "%s", cmd)
}

func printStatements(w io.Writer, cfg config.Config) error {
	entities, err := demo.Entities()
	if err != nil {
		return err
	}
	tr := sql.NewTranslator(cfg.Dialect)
	for _, e := range entities {
		p, err := persister.New(e, tr, persister.WithLobsLast(cfg.LobsLast))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "-- %s (%s)\n", e.Name(), strings.Join(e.QuerySpaces(), ", "))
		update, err := p.UpdateGroup(nil)
		if err != nil {
			return err
		}
		for _, g := range []*mutation.Group{p.InsertGroup(), update, p.DeleteGroup()} {
			printGroup(w, g)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func printGroup(w io.Writer, g *mutation.Group) {
	for _, op := range g.Operations() {
		switch op := op.(type) {
		case *mutation.StatementOperation:
			fmt.Fprintf(w, "%s;\n", op.SQL())
		case *mutation.OptionalTableUpdate:
			ins, upd, del := op.Statements()
			fmt.Fprintf(w, "-- optional %s\n", op.Table().Name())
			for _, s := range []*mutation.StatementOperation{upd, ins, del} {
				if s != nil {
					fmt.Fprintf(w, "%s;\n", s.SQL())
				}
			}
		}
	}
}

// printMetrics writes the counters of reg sorted by name.
func printMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			name := f.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	return nil
}

func entityNames(entities []*mapping.Entity) []string {
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name()
	}
	return names
}
