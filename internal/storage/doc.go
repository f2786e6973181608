// Package storage provides SQLite-based persistence for the catalog, orders,
// payments and the event outbox.
//
// # Database Schema
//
// Tables:
//   - categories: catalog categories with kz/ru/en names
//   - products: catalog entries, price as decimal text, on-hand quantity, version
//   - orders: order header, status, total and version
//   - order_items: order lines with the unit price captured at order time
//   - payments: captured and refunded payments, one per order
//   - outbox: domain events waiting to be published
//
// # Transactions
//
// Every workflow step that touches more than one row runs in a transaction:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = tx.Rollback() }()
//
//	product, _ := tx.GetProduct(ctx, productID)
//	_ = product.ReduceStock(2)
//	if err := tx.UpdateProduct(ctx, product); err != nil {
//	    return err // ErrConflict when another writer got there first
//	}
//
//	if err := tx.Commit(); err != nil {
//	    return err
//	}
//
// Nested transactions are not supported; BeginTx on a Tx returns
// ErrNestedTransaction.
//
// # Optimistic Versioning
//
// Products and orders carry a version. UpdateProduct and UpdateOrder only
// write when the stored version matches the one that was read, and return
// ErrConflict otherwise. A busy or locked database is reported as ErrConflict
// too, so callers can retry both cases the same way.
//
// # Build Tags
//
// Pure Go build (default):
//
//   - Uses modernc.org/sqlite driver
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build ./...
//
// CGO build (sqlite_cgo tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Requires C compiler
//
//     CGO_ENABLED=1 go build -tags "sqlite_cgo" ./...
package storage
