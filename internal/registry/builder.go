// Package registry builds data product runtimes and holds the route->runtime
// generation map behind an atomic swap.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dphub/internal/domain"
	"dphub/internal/engine"
)

// Builder materializes declarations as DuckDB views.
type Builder struct {
	exec *engine.Executor
	log  *slog.Logger
}

// NewBuilder creates a Builder on the shared engine handle.
func NewBuilder(exec *engine.Executor, log *slog.Logger) *Builder {
	return &Builder{exec: exec, log: log}
}

// Build creates the source views and the joined entity view for one
// declaration and returns the resulting Runtime.
//
// Failure modes are distinguishable so callers can skip-and-log (batch load)
// or abort (single manifest load): a *domain.ConfigurationError for invalid
// declarations (unsupported engine, missing join predicate, missing required
// column, multiple sources without joins) and a *domain.DataUnavailableError
// when a source file does not exist under root.
//
// Key synthesis relies on DuckDB producing a deterministic row order for the
// same inputs and plan; synthesized keys are stable across rebuilds only
// while the underlying files are unchanged.
func (b *Builder) Build(ctx context.Context, decl *domain.Declaration, root string) (rt *domain.Runtime, err error) {
	if err := decl.Validate(); err != nil {
		return nil, err
	}

	prefix := "dp_" + strings.ReplaceAll(decl.ID, "-", "_")

	var created []string
	defer func() {
		if err != nil {
			b.dropViews(ctx, created)
		}
	}()

	sourceViews := make(map[string]string, len(decl.Backend.Sources))
	sourceCols := make(map[string][]string, len(decl.Backend.Sources))

	// Deterministic build order; map iteration is not.
	names := make([]string, 0, len(decl.Backend.Sources))
	for name := range decl.Backend.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		src := decl.Backend.Sources[name]
		viewName := prefix + "_" + name
		fullPath := filepath.Join(root, src.Path)

		if _, statErr := os.Stat(fullPath); statErr != nil {
			return nil, domain.ErrDataUnavailable(
				"product %q: parquet not found for source %q: %s", decl.ID, name, fullPath)
		}

		sql := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT *%s FROM read_parquet('%s')",
			engine.QuoteIdent(viewName), renameClause(src.Rename), escapeLiteral(fullPath))
		b.log.Debug("creating source view", "product", decl.ID, "source", name, "view", viewName)
		if execErr := b.exec.Exec(ctx, sql); execErr != nil {
			return nil, domain.ErrDataUnavailable(
				"product %q: loading source %q from %s: %v", decl.ID, name, fullPath, execErr)
		}
		created = append(created, viewName)
		sourceViews[name] = viewName

		cols, descErr := b.exec.Describe(ctx, "SELECT * FROM "+engine.QuoteIdent(viewName))
		if descErr != nil {
			return nil, domain.ErrDataUnavailable(
				"product %q: describing source %q: %v", decl.ID, name, descErr)
		}
		colNames := make([]string, len(cols))
		for i, c := range cols {
			colNames[i] = c.Name
		}
		sourceCols[name] = colNames
	}

	joinSQL, joinCols, err := b.foldJoins(decl, sourceViews, sourceCols)
	if err != nil {
		return nil, err
	}

	// Every non-generated entity column must exist in the join result.
	for _, col := range decl.Entity.Columns {
		if col.Generated {
			continue
		}
		if !contains(joinCols, col.Name) {
			return nil, domain.ErrConfiguration(
				"product %q: required column %q missing after joins", decl.ID, col.Name)
		}
	}

	joinedView := prefix + "_joined"
	projection, finalCols := entityProjection(decl, joinCols)
	finalSQL := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT %s FROM (%s)",
		engine.QuoteIdent(joinedView), projection, joinSQL)
	b.log.Debug("creating joined view", "product", decl.ID, "view", joinedView)
	if execErr := b.exec.Exec(ctx, finalSQL); execErr != nil {
		return nil, domain.ErrConfiguration(
			"product %q: creating joined view: %v", decl.ID, execErr)
	}
	created = append(created, joinedView)

	return &domain.Runtime{
		Declaration:   *decl,
		JoinedView:    joinedView,
		SourceViews:   sourceViews,
		SourceColumns: sourceCols,
		Columns:       finalCols,
	}, nil
}

// foldJoins walks the declared join list in order and produces a SELECT over
// the chained inner equi-joins, plus the resulting column list.
//
// Column name collisions are resolved first-wins: at every step the right
// side's columns whose names already exist in the accumulated result (the
// join keys included) are excluded from the projection, so the earliest
// source in the chain keeps the name.
func (b *Builder) foldJoins(decl *domain.Declaration, views map[string]string, cols map[string][]string) (string, []string, error) {
	if len(decl.Backend.Joins) == 0 {
		// Validate() already guarantees exactly one source here.
		for srcName, view := range views {
			return "SELECT * FROM " + engine.QuoteIdent(view), append([]string(nil), cols[srcName]...), nil
		}
		return "", nil, domain.ErrConfiguration("product %q: no sources declared", decl.ID)
	}

	base := decl.Backend.Joins[0].Left
	if _, ok := views[base]; !ok {
		return "", nil, domain.ErrConfiguration(
			"product %q: unknown join base source %q", decl.ID, base)
	}

	joined := map[string]bool{base: true}
	running := append([]string(nil), cols[base]...)
	cur := "SELECT * FROM " + engine.QuoteIdent(views[base])

	for _, j := range decl.Backend.Joins {
		if !joined[j.Left] {
			return "", nil, domain.ErrConfiguration(
				"product %q: join references source %q before it is joined (base is %q)",
				decl.ID, j.Left, base)
		}
		rightView, ok := views[j.Right]
		if !ok {
			return "", nil, domain.ErrConfiguration(
				"product %q: unknown join source %q", decl.ID, j.Right)
		}
		if joined[j.Right] {
			return "", nil, domain.ErrConfiguration(
				"product %q: source %q is joined more than once", decl.ID, j.Right)
		}

		rightCols := cols[j.Right]
		onParts := make([]string, len(j.On))
		for i, c := range j.On {
			if !contains(running, c) {
				return "", nil, domain.ErrConfiguration(
					"product %q: join column %q not present on the left side of %q x %q",
					decl.ID, c, j.Left, j.Right)
			}
			if !contains(rightCols, c) {
				return "", nil, domain.ErrConfiguration(
					"product %q: join column %q not present in source %q",
					decl.ID, c, j.Right)
			}
			onParts[i] = fmt.Sprintf("l.%s = r.%s", engine.QuoteIdent(c), engine.QuoteIdent(c))
		}

		var dups, added []string
		for _, c := range rightCols {
			if contains(running, c) {
				dups = append(dups, c)
			} else {
				added = append(added, c)
			}
		}

		proj := "l.*"
		switch {
		case len(added) == 0:
			// Right side adds no columns; the join still filters rows.
		case len(dups) == 0:
			proj += ", r.*"
		default:
			quoted := make([]string, len(dups))
			for i, c := range dups {
				quoted[i] = engine.QuoteIdent(c)
			}
			proj += ", r.* EXCLUDE (" + strings.Join(quoted, ", ") + ")"
		}

		cur = fmt.Sprintf("SELECT %s FROM (%s) AS l INNER JOIN %s AS r ON %s",
			proj, cur, engine.QuoteIdent(rightView), strings.Join(onParts, " AND "))
		running = append(running, added...)
		joined[j.Right] = true
	}

	return cur, running, nil
}

// entityProjection builds the SELECT list of the joined entity view: declared
// column types coerced in place, the key column synthesized as the stringified
// zero-based row ordinal when absent from the join result.
func entityProjection(decl *domain.Declaration, joinCols []string) (string, []string) {
	parts := make([]string, 0, len(joinCols)+1)
	finalCols := append([]string(nil), joinCols...)

	for _, name := range joinCols {
		q := engine.QuoteIdent(name)
		spec := decl.Entity.Column(name)
		if spec == nil || spec.Generated {
			parts = append(parts, q)
			continue
		}
		parts = append(parts, coerceExpr(spec.Type, q)+" AS "+q)
	}

	if !contains(joinCols, decl.Entity.KeyColumn) {
		parts = append(parts, fmt.Sprintf(
			"CAST(row_number() OVER () - 1 AS VARCHAR) AS %s",
			engine.QuoteIdent(decl.Entity.KeyColumn)))
		finalCols = append(finalCols, decl.Entity.KeyColumn)
	}

	return strings.Join(parts, ", "), finalCols
}

// coerceExpr maps a declared column type to its DuckDB cast. TRY_CAST turns
// malformed cells into NULL instead of failing the load.
func coerceExpr(t domain.ColumnType, quotedCol string) string {
	switch t {
	case domain.TypeInt:
		return "TRY_CAST(" + quotedCol + " AS BIGINT)"
	case domain.TypeFloat:
		return "TRY_CAST(" + quotedCol + " AS DOUBLE)"
	case domain.TypeDatetime:
		return "TRY_CAST(" + quotedCol + " AS TIMESTAMP)"
	default:
		return "CAST(" + quotedCol + " AS VARCHAR)"
	}
}

// dropViews removes partially created views after a failed build,
// best-effort.
func (b *Builder) dropViews(ctx context.Context, views []string) {
	for i := len(views) - 1; i >= 0; i-- {
		if err := b.exec.Exec(ctx, "DROP VIEW IF EXISTS "+engine.QuoteIdent(views[i])); err != nil {
			b.log.Warn("dropping partial view", "view", views[i], "error", err)
		}
	}
}

func renameClause(rename map[string]string) string {
	if len(rename) == 0 {
		return ""
	}
	keys := make([]string, 0, len(rename))
	for k := range rename {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = engine.QuoteIdent(k) + " AS " + engine.QuoteIdent(rename[k])
	}
	return " RENAME (" + strings.Join(pairs, ", ") + ")"
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
