package option

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/partnerly/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption composes optional repository query clauses.
type QueryOption interface {
	Apply(stmt *gorm.DB) *gorm.DB
}

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

// Condition is a single field comparison appended to the WHERE clause.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type conditionOption struct {
	cond Condition
}

func (o conditionOption) Apply(stmt *gorm.DB) *gorm.DB {
	field := strings.TrimSpace(o.cond.Field)
	if field == "" {
		return stmt
	}
	return stmt.Where(fmt.Sprintf("%s %s ?", field, o.cond.Operator), o.cond.Value)
}

// ApplyOperator turns a Condition into a QueryOption.
func ApplyOperator(cond Condition) QueryOption {
	return conditionOption{cond: cond}
}

type paginationOption struct {
	page pagination.Pagination
}

func (o paginationOption) Apply(stmt *gorm.DB) *gorm.DB {
	size := o.page.Limit()
	if token := strings.TrimSpace(o.page.PageToken); token != "" {
		if cursor, err := pagination.DecodeCursor(token); err == nil && cursor != nil {
			createdAt, timeErr := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
			id, idErr := strconv.ParseInt(cursor.ID, 10, 64)
			if timeErr == nil && idErr == nil {
				stmt = stmt.Where(
					"(created_at < ?) OR (created_at = ? AND id < ?)",
					createdAt, createdAt, id,
				)
			}
		}
	}
	// fetch one extra row so callers can detect has_more
	return stmt.Limit(size + 1)
}

// ApplyPagination applies cursor-token pagination and the page-size limit.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return paginationOption{page: page}
}

// QuerySortBy declares the requested sort field against an allow-list.
type QuerySortBy struct {
	Field string
	Desc  bool
	Allow map[string]bool
}

type sortOption struct {
	sort QuerySortBy
}

func (o sortOption) Apply(stmt *gorm.DB) *gorm.DB {
	field := strings.TrimSpace(o.sort.Field)
	if field == "" || !o.sort.Allow[field] {
		field = "created_at"
	}
	direction := "asc"
	if o.sort.Desc || field == "created_at" {
		direction = "desc"
	}
	return stmt.Order(fmt.Sprintf("%s %s, id desc", field, direction))
}

// WithSortBy orders results by an allow-listed column, newest first by default.
func WithSortBy(sort QuerySortBy) QueryOption {
	return sortOption{sort: sort}
}
