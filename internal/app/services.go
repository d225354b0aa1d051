package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/Financial-Management-System/FMS-sub000/internal/config"
	"github.com/Financial-Management-System/FMS-sub000/internal/gcsuploader"
	"github.com/Financial-Management-System/FMS-sub000/internal/recurrence"
	"github.com/Financial-Management-System/FMS-sub000/internal/runlock"
	"github.com/Financial-Management-System/FMS-sub000/internal/storage"
	"github.com/rs/zerolog"
)

// Services bundles the long-lived dependencies built from one Config.
type Services struct {
	Store  storage.Store
	Locker runlock.Locker
	Runner *recurrence.Runner

	// Archiver is nil when no archive bucket is configured.
	Archiver ReportArchiver

	closers []func() error
}

// Open builds the store, run lock, runner and report archiver for cfg.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Services, error) {
	s := &Services{}

	store, err := OpenStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("Open: storage: %w", err)
	}
	s.Store = store
	s.closers = append(s.closers, store.Close)

	locker, closeLocker, err := OpenLocker(cfg.Lock, log)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("Open: lock: %w", err)
	}
	s.Locker = locker
	s.closers = append(s.closers, closeLocker)

	if cfg.Archive.Bucket != "" {
		client, err := gcsuploader.NewClient(ctx)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("Open: archive: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		s.Archiver = gcsuploader.NewArchiver(client, cfg.Archive.Bucket, cfg.Archive.Prefix, log)
		log.Info().Str("bucket", cfg.Archive.Bucket).Str("prefix", cfg.Archive.Prefix).Msg("Run reports will be archived")
	}

	s.Runner = recurrence.NewRunner(store, log, recurrence.WithLocker(locker, cfg.Lock.TTLOrDefault()))
	return s, nil
}

// Close releases everything Open acquired, in reverse order.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
