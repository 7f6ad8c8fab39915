package odata

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"dphub/internal/domain"
	"dphub/internal/engine"
)

// Params are the recognized OData system query options of one request.
// Top is -1 when the request did not carry $top.
type Params struct {
	Filter  string
	OrderBy string
	Select  string
	Skip    int
	Top     int
	Count   bool
	Stream  bool
}

// ParseParams extracts the supported query options from a URL query.
// Unparseable numeric values are treated as absent.
func ParseParams(q url.Values) Params {
	p := Params{
		Filter:  q.Get("$filter"),
		OrderBy: q.Get("$orderby"),
		Select:  q.Get("$select"),
		Top:     -1,
	}
	if v := q.Get("$top"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Top = n
		}
	}
	if v := q.Get("$skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Skip = n
		}
	}
	p.Count = strings.EqualFold(q.Get("$count"), "true")
	p.Stream = strings.EqualFold(q.Get("$stream"), "true")
	return p
}

// Target names the relation a query runs against: the product's entity view
// or one of its source views, with that relation's column set and the
// product's paging policy.
type Target struct {
	View    string
	Columns []string
	Decl    *domain.Declaration
}

func (t Target) hasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Translation is the SQL rendering of one entity query. When a filter was
// applied, Fallback and FallbackCount carry the same query without the
// WHERE clause so the executor can retry after a filter-induced failure.
type Translation struct {
	Query      string
	CountQuery string

	Fallback      string
	FallbackCount string

	Filter FilterOutcome
	Top    int
	Skip   int

	// Dropped lists $select/$orderby columns ignored because the target
	// does not expose them or policy does not allow them.
	Dropped []string
}

// Translate renders the query options into SQL over the target view.
// Clause order is fixed: filter, order, skip, top, projection.
//
// Unknown $select and $orderby columns are dropped rather than rejected;
// $top is clamped to the product's maximum and defaulted when absent.
func Translate(target Target, p Params) Translation {
	t := Translation{
		Filter: TranslateFilter(p.Filter),
		Top:    effectiveTop(target.Decl, p.Top),
		Skip:   p.Skip,
	}
	if t.Skip < 0 {
		t.Skip = 0
	}

	projection := t.buildProjection(target, p.Select)
	order := t.buildOrder(target, p.OrderBy)
	view := engine.QuoteIdent(target.View)

	where := ""
	if t.Filter.State == FilterApplied {
		where = " WHERE " + t.Filter.Clause
	}
	page := fmt.Sprintf(" LIMIT %d OFFSET %d", t.Top, t.Skip)

	t.Query = "SELECT " + projection + " FROM " + view + where + order + page
	t.CountQuery = "SELECT count(*) FROM " + view + where
	if where != "" {
		t.Fallback = "SELECT " + projection + " FROM " + view + order + page
		t.FallbackCount = "SELECT count(*) FROM " + view
	}
	return t
}

// effectiveTop clamps the requested page size: absent or negative values get
// the product default, larger values are capped at the product maximum.
func effectiveTop(d *domain.Declaration, requested int) int {
	if requested < 0 {
		return d.DefaultTop()
	}
	if max := d.MaxTop(); requested > max {
		return max
	}
	return requested
}

func (t *Translation) buildProjection(target Target, sel string) string {
	if strings.TrimSpace(sel) == "" {
		return "*"
	}
	var cols []string
	for _, raw := range strings.Split(sel, ",") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if !target.hasColumn(name) {
			t.Dropped = append(t.Dropped, name)
			continue
		}
		cols = append(cols, engine.QuoteIdent(name))
	}
	if len(cols) == 0 {
		return "*"
	}
	return strings.Join(cols, ", ")
}

// buildOrder renders a single-column $orderby ("col" or "col desc"). A column
// outside the target, or outside a non-empty orderable allowlist, is dropped.
func (t *Translation) buildOrder(target Target, orderBy string) string {
	fields := strings.Fields(strings.TrimSpace(orderBy))
	if len(fields) == 0 {
		return ""
	}

	col := fields[0]
	desc := len(fields) > 1 && strings.EqualFold(fields[1], "desc")

	if !target.hasColumn(col) || !allowed(target.Decl.OData.Orderable, col) {
		t.Dropped = append(t.Dropped, col)
		return ""
	}

	clause := " ORDER BY " + engine.QuoteIdent(col)
	if desc {
		clause += " DESC"
	}
	return clause
}

// allowed reports membership in an allowlist, with an empty list meaning
// everything is allowed.
func allowed(list []string, col string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == col {
			return true
		}
	}
	return false
}
