package history

import (
	"context"
	"sync"
	"time"

	"github.com/nearbyscan/nearby-core/internal/device"
)

// Defaults.
const (
	// DefaultTextDebounce coalesces keystroke-speed search text updates
	// into one query.
	DefaultTextDebounce = 250 * time.Millisecond

	// DefaultQueryTimeout bounds one registry query.
	DefaultQueryTimeout = 5 * time.Second

	// structuredCoalesce collapses a back-to-back burst of structured
	// filter changes (transport, date bounds) into one query.
	structuredCoalesce = time.Millisecond
)

// Registry is the store surface the history service queries.
// *device.Store satisfies it.
type Registry interface {
	Fetch(ctx context.Context, f device.Filter, order device.SortOrder, limit int) ([]device.Record, error)
	Delete(ctx context.Context, identity string) error
	DeleteWhere(ctx context.Context, f device.Filter) ([]string, error)
}

// Logger is the logging interface used by the service.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Service maintains a filtered, most-recent-first view over the device
// registry. Filter inputs arrive independently (search text, transport,
// date window) and each change requeries the registry; search text is
// debounced so keystroke bursts collapse into one query, and structured
// changes made in the same burst coalesce into one query as well.
//
// Queries run asynchronously. A generation counter discards results of a
// query that was superseded while in flight, so the published item list
// always reflects the newest filter state. A failed query publishes an
// empty list rather than stale rows.
type Service struct {
	registry Registry
	logger   Logger

	debounce time.Duration
	timeout  time.Duration
	limit    int

	mu        sync.Mutex
	text      string
	transport *device.Transport
	from      *time.Time
	to        *time.Time

	items       []device.Record
	gen         uint64
	textTimer   *time.Timer
	reloadTimer *time.Timer
	onChange    func([]device.Record)
	closed      bool
}

// Options configures a Service.
type Options struct {
	// Registry to query. Required.
	Registry Registry

	// TextDebounce overrides DefaultTextDebounce when positive.
	TextDebounce time.Duration

	// QueryTimeout overrides DefaultQueryTimeout when positive.
	QueryTimeout time.Duration

	// Limit caps fetched rows; zero means unlimited.
	Limit int

	// Logger may be nil.
	Logger Logger
}

// NewService creates a history view with empty filters. The initial item
// list is empty until the first Reload (or filter change) completes.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	debounce := opts.TextDebounce
	if debounce <= 0 {
		debounce = DefaultTextDebounce
	}
	timeout := opts.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Service{
		registry: opts.Registry,
		logger:   logger,
		debounce: debounce,
		timeout:  timeout,
		limit:    opts.Limit,
	}
}

// OnChange registers a callback invoked with the new item list after each
// completed (non-superseded) query. The callback runs on the query
// goroutine and must not call back into the service's setters
// synchronously while doing slow work.
func (s *Service) OnChange(fn func([]device.Record)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Items returns the current item list. The slice is shared with the
// service's last published snapshot; callers must not mutate it.
func (s *Service) Items() []device.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items
}

// SetSearchText updates the free-text filter. The requery is debounced:
// only the latest text within the debounce window triggers a query.
func (s *Service) SetSearchText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.text == text {
		return
	}
	s.text = text

	if s.textTimer != nil {
		s.textTimer.Stop()
	}
	s.textTimer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.reloadLocked()
	})
}

// SetTransportFilter restricts the view to one transport; nil clears the
// restriction. Requeries promptly, coalescing with other structured
// changes made in the same burst.
func (s *Service) SetTransportFilter(transport *device.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.transport = transport
	s.scheduleReloadLocked()
}

// SetDateFrom restricts the view to records seen at or after t; nil
// clears the bound. Requeries promptly, coalescing with other structured
// changes made in the same burst.
func (s *Service) SetDateFrom(t *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.from = t
	s.scheduleReloadLocked()
}

// SetDateTo restricts the view to records seen at or before t; nil clears
// the bound. Requeries promptly, coalescing with other structured changes
// made in the same burst.
func (s *Service) SetDateTo(t *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.to = t
	s.scheduleReloadLocked()
}

// Reload requeries with the current filters, bypassing the debounce.
func (s *Service) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.reloadLocked()
}

// Delete removes one record from the registry and requeries. Deleting an
// absent identity is not an error.
func (s *Service) Delete(ctx context.Context, identity string) error {
	if err := s.registry.Delete(ctx, identity); err != nil {
		return err
	}
	s.Reload()
	return nil
}

// DeleteAll removes every record matching transport (nil means all
// transports), requeries, and returns the removed identities.
func (s *Service) DeleteAll(ctx context.Context, transport *device.Transport) ([]string, error) {
	identities, err := s.registry.DeleteWhere(ctx, device.Filter{Transport: transport})
	if err != nil {
		return nil, err
	}
	s.Reload()
	return identities, nil
}

// Close stops pending debounce timers. In-flight queries finish but their
// results are discarded.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.textTimer != nil {
		s.textTimer.Stop()
		s.textTimer = nil
	}
	if s.reloadTimer != nil {
		s.reloadTimer.Stop()
		s.reloadTimer = nil
	}
	s.gen++
}

// filterLocked assembles the conjunctive filter from current inputs.
// Caller holds the lock.
func (s *Service) filterLocked() device.Filter {
	return device.Filter{
		Transport:  s.transport,
		Text:       s.text,
		SeenAfter:  s.from,
		SeenBefore: s.to,
	}
}

// scheduleReloadLocked arms a short timer that requeries once for a
// whole burst of structured filter changes. A change arriving while the
// timer is pending folds into the already-scheduled query, which reads
// the filter state at fire time. Caller holds the lock.
func (s *Service) scheduleReloadLocked() {
	if s.reloadTimer != nil {
		return
	}
	s.reloadTimer = time.AfterFunc(structuredCoalesce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.reloadTimer = nil
		if s.closed {
			return
		}
		s.reloadLocked()
	})
}

// reloadLocked launches an asynchronous query for the current filter
// state. Caller holds the lock.
func (s *Service) reloadLocked() {
	s.gen++
	gen := s.gen
	filter := s.filterLocked()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		items, err := s.registry.Fetch(ctx, filter, device.SortLastSeenDesc, s.limit)
		if err != nil {
			s.logger.Error("history query failed, showing empty results", "error", err)
			items = nil
		}
		if items == nil {
			items = []device.Record{}
		}

		s.mu.Lock()
		if s.gen != gen || s.closed {
			// A newer filter state superseded this query.
			s.mu.Unlock()
			return
		}
		s.items = items
		fn := s.onChange
		s.mu.Unlock()

		if fn != nil {
			fn(items)
		}
	}()
}
