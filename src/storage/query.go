package storage

import (
	"fmt"
	"strings"
)

// Query describes the filter, order and limit of a select statement
type Query interface {
	Where() string
	Order() string
	Limit() int
}

// StaticQuery is a Query with fixed clauses
type StaticQuery struct {
	where string
	order string
	limit int
}

func (q StaticQuery) Where() string {
	return q.where
}

func (q StaticQuery) Order() string {
	return q.order
}

func (q StaticQuery) Limit() int {
	return q.limit
}

func formatQuery(fields []string, table string, q Query) string {
	res := fmt.Sprintf(`SELECT %s FROM "%s"`, strings.Join(fields, ", "), table)
	if where := q.Where(); where != "" {
		res += " WHERE " + where
	}
	if order := q.Order(); order != "" {
		res += " ORDER BY " + order
	}
	if limit := q.Limit(); limit > 0 {
		res += fmt.Sprintf(" LIMIT %d", limit)
	}
	return res
}
