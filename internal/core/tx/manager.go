// Package tx decouples domain services from the database driver: a service
// declares that two writes must commit together without knowing about pgx.
package tx

import "context"

// Manager runs a function inside a database transaction. fn's error rolls
// the transaction back, nil commits it. A nested call joins the transaction
// already carried by the context instead of opening a second one; the
// poster relies on this when it writes a document and its import log row.
type Manager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
