// Package tiercache composes the storage tiers into ready-made cache
// managers. NewWeb stacks memory, Redis and SQLite; NewNative stacks memory,
// Badger and a file directory. Tiers that cannot be opened are kept as
// unavailable placeholders and skipped by the manager.
//
//	cfg, err := tiercache.LoadConfig()
//	if err != nil {
//		return err
//	}
//	m, err := tiercache.NewNative(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer m.Close(context.Background())
//
//	_ = m.Set(ctx, "profile:42", profile)
package tiercache
