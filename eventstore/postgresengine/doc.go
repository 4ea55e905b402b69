// Package postgresengine provides the PostgreSQL implementation of the
// eventstore interface.
//
// The append path uses a single conditional INSERT guarded by the
// aggregate's current maximum version, making the optimistic concurrency
// check and the write atomic without explicit locking. Successful appends
// additionally emit an advisory pg_notify message that a Listener can
// consume to react to new events with low latency.
//
// Key features:
//   - Multiple database adapter support (PGX with optional read replica, SQL, SQLX)
//   - Atomic event appending with concurrency conflict detection
//   - Advisory change notifications with reconnect and re-poll fallback
//   - Configurable table and channel names, logging, metrics and tracing
//
// Usage examples:
//
//	// Basic usage
//	db, _ := pgxpool.New(context.Background(), dsn)
//	store, _ := postgresengine.NewEventStoreFromPGXPool(db)
//
//	// With a custom table and operational logging
//	store, _ := postgresengine.NewEventStoreFromPGXPool(
//		db,
//		postgresengine.WithTableName("order_events"),
//		postgresengine.WithLogger(logger),
//	)
//
//	err := store.Append(ctx, e)
//	events, _ := store.Events(ctx, eventstore.BuildQuery().ForAggregateID(id).Finalize())
//
//	// Reacting to appended events
//	listener, _ := postgresengine.NewListener(dsn)
//	go listener.Start(ctx, func(ctx context.Context, n postgresengine.Notification) {
//		// re-read through the store; the notification is only a hint
//	})
package postgresengine
