package odata

import (
	"net/url"
	"strconv"
)

// NextLink builds the @odata.nextLink URL for the page after the one just
// served. It returns "" when pagination is exhausted (skip+top >= total).
// The filter, select, and orderby options are carried forward verbatim so
// the next page is evaluated against the same query.
func NextLink(basePath string, p Params, top, skip int, total int64) string {
	if top <= 0 || int64(skip+top) >= total {
		return ""
	}

	q := url.Values{}
	q.Set("$skip", strconv.Itoa(skip+top))
	q.Set("$top", strconv.Itoa(top))
	if p.Filter != "" {
		q.Set("$filter", p.Filter)
	}
	if p.Select != "" {
		q.Set("$select", p.Select)
	}
	if p.OrderBy != "" {
		q.Set("$orderby", p.OrderBy)
	}
	if p.Count {
		q.Set("$count", "true")
	}
	if p.Stream {
		q.Set("$stream", "true")
	}
	return basePath + "?" + q.Encode()
}
