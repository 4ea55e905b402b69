// Package adapters provides database adapter implementations for the
// PostgreSQL event store.
//
// The adapter pattern lets the event store work with pgxpool.Pool, sql.DB,
// and sqlx.DB connections through one DBAdapter interface. The pgx adapter
// optionally routes read queries to a replica pool.
package adapters
