// Package shadow stores AWS IoT device shadow responses and exposes them by key.
//
// Every accepted, rejected or delta document received for a thing is
// stored under a key of the form JSON-<n>. Keys are small integers so a
// constrained client (see package bridge) can fetch a document, or a single
// value inside it, later and in chunks. A bounded history reuses slots; the
// rotation keeps the three kinds apart so a burst of deltas never evicts
// the last accepted document.
//
// Storage is pluggable: MemoryRepository for volatile use and
// SQLiteRepository (shadow_documents table) when history must survive a
// restart.
//
// Usage:
//
//	store, err := shadow.NewStore(ctx, shadow.NewMemoryRepository(), "thermostat-01", 9)
//	listener := shadow.NewListener(core, store, 0, logger)
//	listener.SetOnNotify(func(n shadow.Notification) { ... })
//	if err := listener.Start(); err != nil { ... }
//	token, err := listener.Update(json.RawMessage(`{"reported":{"temp":21}}`))
package shadow
