// Package repositories assembles the Postgres-backed stores
package repositories

import (
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/internal/repositories/goldenrecord"
	"github.com/Ramsey-B/sage/internal/repositories/link"
	"github.com/Ramsey-B/sage/internal/repositories/sourcerecord"
	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/store"
)

// NewStores wires every store to one Postgres pool
func NewStores(db database.DB, logger ectologger.Logger) store.Stores {
	return store.Stores{
		Records:    sourcerecord.NewRepository(db, logger),
		Goldens:    goldenrecord.NewRepository(db, logger),
		Links:      link.NewRepository(db, logger),
		Transactor: database.NewTransactor(db, logger),
	}
}
