package database

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsNoRows(t *testing.T) {
	assert.True(t, IsNoRows(sql.ErrNoRows))
	assert.True(t, IsNoRows(fmt.Errorf("get golden record: %w", sql.ErrNoRows)))
	assert.True(t, IsNoRows(pkgerrors.Wrap(sql.ErrNoRows, "get link")))

	assert.False(t, IsNoRows(nil))
	assert.False(t, IsNoRows(errors.New("sql: no rows in result set")), "only the sentinel counts")
	assert.False(t, IsNoRows(sql.ErrConnDone))
}

func TestInsertBuilder_OnConflict(t *testing.T) {
	ib := NewInsertBuilder()
	ib.InsertInto("links").Cols("record_id", "golden_id").Values("r1", "g1")
	ib.OnConflict([]string{"record_id"}, Excluded("golden_id"))

	query, args := ib.Build()
	assert.Contains(t, query, "INSERT INTO links (record_id, golden_id) VALUES ($1, $2)")
	assert.Contains(t, query, "ON CONFLICT (record_id) DO UPDATE SET golden_id = EXCLUDED.golden_id")
	assert.Equal(t, []interface{}{"r1", "g1"}, args)
}
