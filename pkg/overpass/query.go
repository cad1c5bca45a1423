// Package overpass synthesizes Overpass QL from a filter model and executes
// it against an Overpass interpreter.
package overpass

import (
	"fmt"
	"strings"

	"github.com/NERVsystems/overpassmap/pkg/filter"
)

// DefaultTimeout is the server-side timeout written into every query, in seconds.
const DefaultTimeout = 25

// QueryBuilder renders a filter model as an area-scoped Overpass QL query.
// Filter values are inserted verbatim; a value containing a double quote
// produces a query the interpreter will reject.
type QueryBuilder struct {
	timeout int
}

// NewQueryBuilder creates a builder with the default timeout.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{timeout: DefaultTimeout}
}

// WithTimeout sets the [timeout:N] setting. Non-positive values keep the default.
func (b *QueryBuilder) WithTimeout(seconds int) *QueryBuilder {
	if seconds > 0 {
		b.timeout = seconds
	}
	return b
}

// Build returns the query for m. The model must carry a resolved area id.
func (b *QueryBuilder) Build(m filter.Model) string {
	areaID, _ := m.AreaID()

	var q strings.Builder
	fmt.Fprintf(&q, "[out:json][timeout:%d];\n", b.timeout)
	fmt.Fprintf(&q, "area(id:%d)->.searchArea;\n", areaID)
	q.WriteString("(\n  ")
	q.WriteString(string(m.ElementType()))
	for _, c := range m.Criteria() {
		q.WriteString(Selector(c))
	}
	q.WriteString("(area.searchArea);\n);\n")
	q.WriteString("out body;\n>;\nout skel qt;")
	return q.String()
}

// Build renders m with the default timeout.
func Build(m filter.Model) string {
	return NewQueryBuilder().Build(m)
}

// Selector renders one criterion as a tag selector.
func Selector(c filter.Criterion) string {
	if c.KeyOnly() {
		return `["` + c.Key + `"]`
	}
	return `["` + c.Key + `"="` + c.Value + `"]`
}
