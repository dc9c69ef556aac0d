package postgres

import (
	"fmt"
	"strings"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// listQuery assembles a filtered, paged SELECT. Placeholders are numbered in
// the order conditions are added.
type listQuery struct {
	base  string
	conds []string
	args  []any
}

func newListQuery(base string) *listQuery {
	return &listQuery{base: base}
}

// where adds a condition; "?" in cond is replaced by the next placeholder.
func (q *listQuery) where(cond string, arg any) *listQuery {
	q.args = append(q.args, arg)
	q.conds = append(q.conds, strings.Replace(cond, "?", fmt.Sprintf("$%d", len(q.args)), 1))
	return q
}

// window applies opts.Since and opts.Until to a timestamp column.
func (q *listQuery) window(col string, opts domain.ListOpts) *listQuery {
	if opts.Since != nil {
		q.where(col+" >= ?", opts.Since.UTC())
	}
	if opts.Until != nil {
		q.where(col+" <= ?", opts.Until.UTC())
	}
	return q
}

// build appends the ORDER BY clause and the paging of opts.
func (q *listQuery) build(orderBy string, opts domain.ListOpts) (string, []any) {
	var sb strings.Builder
	sb.WriteString(q.base)
	for i, c := range q.conds {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString(c)
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(orderBy)

	args := q.args
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}
	return sb.String(), args
}

