package domain

// Runtime is the built, queryable materialization of one declaration:
// the entity view plus the per-source views behind it inside DuckDB.
//
// A Runtime is owned by the registry after construction and is immutable;
// rebuilding a product means constructing a new Runtime, never mutating an
// existing one.
type Runtime struct {
	Declaration Declaration

	// JoinedView is the DuckDB view serving the entity: the join result
	// with entity column coercion and key synthesis applied.
	JoinedView string

	// SourceViews maps declared source names to their DuckDB view names.
	SourceViews map[string]string

	// SourceColumns maps declared source names to their column names, as
	// loaded (renames applied). Used when a single source view is queried
	// directly.
	SourceColumns map[string][]string

	// Columns lists the entity view's column names in view order. The
	// translator uses this to drop unknown $select/$orderby columns.
	Columns []string
}

// HasColumn reports whether the entity view exposes the named column.
func (r *Runtime) HasColumn(name string) bool {
	for _, c := range r.Columns {
		if c == name {
			return true
		}
	}
	return false
}
