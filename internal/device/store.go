package device

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// identityShards is the number of lock shards for same-identity upsert
// serialization. Must be a power of two.
const identityShards = 64

// Store is the registry store: the durable, queryable repository of merged
// device records, keyed by identity.
//
// It wraps a Repository and adds the merge rules that the raw persistence
// layer does not know about:
//
//   - name preservation: a stored meaningful name is never overwritten by
//     an empty or placeholder candidate (ResolveName)
//   - transport immutability: an identity is never re-typed
//   - last-seen stamping: ingestion time, not the event's observation time
//
// Upserts for the same identity are serialized through identity-sharded
// locks so the read-modify-write cycle cannot lose updates to a racing
// writer. Upserts for different identities run concurrently (modulo shard
// collisions, which only cost throughput, never correctness).
//
// All public methods are thread-safe.
type Store struct {
	repo   Repository
	locks  [identityShards]sync.Mutex
	logger Logger

	// now is the merge-time clock, replaceable in tests.
	now func() time.Time
}

// NewStore creates a registry store on top of the given repository.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:   repo,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// setClock replaces the merge-time clock. Test hook.
func (s *Store) setClock(now func() time.Time) {
	s.now = now
}

// shardFor maps an identity to its lock shard.
func (s *Store) shardFor(identity string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(identity)) //nolint:errcheck // fnv never errors
	return &s.locks[h.Sum32()&(identityShards-1)]
}

// RecordSighting merges one sighting into the persisted record for its
// identity.
//
// First sighting of an identity creates the record and fixes its transport.
// Subsequent sightings refresh last-seen (stamped "now", not the event's
// observed-at), refresh RSSI/address when the sighting carries them, apply
// the name-preservation policy, and accumulate attributes additively.
//
// Returns ErrEmptyIdentity for sightings with no identity and
// ErrInvalidTransport when a known identity is sighted on a different
// transport (adapters keying correctly never trigger this).
func (s *Store) RecordSighting(ctx context.Context, sighting Sighting) error {
	if sighting.Identity == "" {
		return ErrEmptyIdentity
	}
	if !sighting.Transport.Valid() {
		return ErrInvalidTransport
	}

	lock := s.shardFor(sighting.Identity)
	lock.Lock()
	defer lock.Unlock()

	now := s.now().UTC()

	existing, err := s.repo.GetByIdentity(ctx, sighting.Identity)
	switch {
	case err == nil:
		// Existing record: transport is immutable.
		if existing.Transport != sighting.Transport {
			return fmt.Errorf("%w: identity %q is %s, sighted on %s",
				ErrInvalidTransport, sighting.Identity, existing.Transport, sighting.Transport)
		}
		rec := s.mergeSighting(existing, sighting, now)
		if err := s.repo.Save(ctx, rec); err != nil {
			return fmt.Errorf("updating record: %w", err)
		}
	case errors.Is(err, ErrRecordNotFound):
		rec := s.newRecord(sighting, now)
		if err := s.repo.Save(ctx, rec); err != nil {
			return fmt.Errorf("creating record: %w", err)
		}
		s.logger.Debug("record created", "identity", rec.Identity, "transport", rec.Transport.String())
	default:
		return fmt.Errorf("loading record: %w", err)
	}

	return nil
}

// newRecord builds the initial record for a first sighting.
func (s *Store) newRecord(sighting Sighting, now time.Time) *Record {
	rec := &Record{
		Identity:  sighting.Identity,
		Name:      ResolveName(sighting.Name, nil),
		Transport: sighting.Transport,
		LastSeen:  now,
		FirstSeen: now,
	}
	if sighting.Transport == TransportRadio {
		rec.RSSI = sighting.RSSI
	}
	if sighting.Address != "" {
		addr := sighting.Address
		rec.Address = &addr
	}
	if len(sighting.Attributes) > 0 {
		rec.Attributes = make(map[string]string, len(sighting.Attributes))
		for k, v := range sighting.Attributes {
			rec.Attributes[k] = v
		}
	}
	return rec
}

// mergeSighting applies one sighting to an existing record.
func (s *Store) mergeSighting(existing *Record, sighting Sighting, now time.Time) *Record {
	rec := existing.Clone()
	rec.Name = ResolveName(sighting.Name, existing.Name)
	rec.LastSeen = now
	if sighting.Transport == TransportRadio {
		rec.RSSI = sighting.RSSI
	}
	if sighting.Address != "" {
		addr := sighting.Address
		rec.Address = &addr
	}
	if len(sighting.Attributes) > 0 {
		if rec.Attributes == nil {
			rec.Attributes = make(map[string]string, len(sighting.Attributes))
		}
		// New keys overwrite, absent keys are preserved.
		for k, v := range sighting.Attributes {
			rec.Attributes[k] = v
		}
	}
	return rec
}

// Get retrieves the record for an identity.
// Returns ErrRecordNotFound if the identity does not exist.
func (s *Store) Get(ctx context.Context, identity string) (*Record, error) {
	return s.repo.GetByIdentity(ctx, identity)
}

// Fetch retrieves records matching the filter, sorted and capped.
// A fetch started after an upsert returns reflects that upsert.
func (s *Store) Fetch(ctx context.Context, f Filter, order SortOrder, limit int) ([]Record, error) {
	return s.repo.Fetch(ctx, f, order, limit)
}

// Delete removes the record for an identity. Deleting an absent identity
// is not an error.
func (s *Store) Delete(ctx context.Context, identity string) error {
	if err := s.repo.Delete(ctx, identity); err != nil {
		return err
	}
	s.logger.Info("record deleted", "identity", identity)
	return nil
}

// DeleteWhere removes all records matching the filter and returns the
// removed identities.
func (s *Store) DeleteWhere(ctx context.Context, f Filter) ([]string, error) {
	identities, err := s.repo.DeleteWhere(ctx, f)
	if err != nil {
		return nil, err
	}
	s.logger.Info("records deleted", "count", len(identities))
	return identities, nil
}
