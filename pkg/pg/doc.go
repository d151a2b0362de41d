// Package pg wires PostgreSQL through pgx/v5.
//
// Connect opens a pool from Config (populated from PG_* environment
// variables) and retries until the database answers. Migrate applies the
// goose migrations shipped with the service. WithTx wraps a function in a
// transaction; the billing stores use it together with SELECT ... FOR UPDATE
// to serialize writes per owner.
//
// Error helpers such as IsDuplicateKeyError classify *pgconn.PgError values
// so stores can map constraint violations onto their own sentinel errors.
package pg
