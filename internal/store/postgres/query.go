package postgres

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// addr renders an address the way it is stored: lower-case hex.
func addr(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// query accumulates a WHERE clause with positional arguments.
type query struct {
	sql  strings.Builder
	args []any
}

func newQuery(base string) *query {
	q := &query{}
	q.sql.WriteString(base)
	return q
}

// and appends " AND <cond>" where cond contains a single %s placeholder for
// the next positional parameter.
func (q *query) and(cond string, arg any) {
	q.args = append(q.args, arg)
	q.sql.WriteString(" AND ")
	q.sql.WriteString(fmt.Sprintf(cond, fmt.Sprintf("$%d", len(q.args))))
}

func (q *query) window(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.and(col+" >= %s", *opts.Since)
	}
	if opts.Until != nil {
		q.and(col+" <= %s", *opts.Until)
	}
}

// page appends ORDER BY and pagination.
func (q *query) page(orderBy string, opts domain.ListOpts) {
	q.sql.WriteString(" ORDER BY " + orderBy)
	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		q.sql.WriteString(fmt.Sprintf(" LIMIT $%d", len(q.args)))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		q.sql.WriteString(fmt.Sprintf(" OFFSET $%d", len(q.args)))
	}
}

func (q *query) String() string { return q.sql.String() }
