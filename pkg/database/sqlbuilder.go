package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// Excluded assigns a column from the row proposed for insertion
func Excluded(column string) string {
	return fmt.Sprintf("%s = EXCLUDED.%s", column, column)
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder() *InsertBuilder {
	return &InsertBuilder{
		sqlbuilder.PostgreSQL.NewInsertBuilder(),
	}
}

// OnConflict appends an upsert clause. Assignments are raw SQL, usually
// built with Excluded.
func (b *InsertBuilder) OnConflict(columns []string, assignments ...string) *InsertBuilder {
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(columns, ", "), strings.Join(assignments, ", ")))
	return b
}

func NewUpdateBuilder() *sqlbuilder.UpdateBuilder {
	return sqlbuilder.PostgreSQL.NewUpdateBuilder()
}

func NewSelectBuilder() *sqlbuilder.SelectBuilder {
	return sqlbuilder.PostgreSQL.NewSelectBuilder()
}

// IsNoRows reports whether a query matched nothing
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
