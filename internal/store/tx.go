package store

import "context"

// TxRunner executes fn within a single atomic transaction, the way the
// teacher's WithTenantContext/WithoutRLS helpers scope a pgx
// transaction's lifetime. Implementations must roll back on any
// non-nil error returned by fn, including a panic recovered upstream.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
