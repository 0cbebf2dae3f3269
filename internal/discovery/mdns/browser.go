package mdns

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/nearbyscan/nearby-core/internal/device"
	"github.com/nearbyscan/nearby-core/internal/discovery"
)

const (
	// DefaultResolveTimeout bounds address/TXT resolution for one peer.
	DefaultResolveTimeout = 5 * time.Second

	// defaultDomain is the mDNS domain browsed when none is configured.
	defaultDomain = "local."

	eventBuffer = 64
)

// DefaultServices are the service types browsed when the configuration
// names none. They cover the common household surface: printers, casting
// targets, file shares, AirPlay endpoints and HTTP uis.
var DefaultServices = []string{
	"_http._tcp",
	"_ipp._tcp",
	"_googlecast._tcp",
	"_airplay._tcp",
	"_smb._tcp",
	"_workstation._tcp",
}

// Browser is the network transport driver. It browses a set of DNS-SD
// service types over multicast DNS and translates resolved entries into
// discovery events. A goodbye announcement (zero TTL) becomes a departure
// event for the peer's identity.
type Browser struct {
	services       []string
	domain         string
	resolveTimeout time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	events  chan discovery.Event
	wg      sync.WaitGroup
}

// NewBrowser creates a browser over the given service types. Empty slices
// fall back to DefaultServices and the local domain.
func NewBrowser(services []string, domain string) *Browser {
	if len(services) == 0 {
		services = DefaultServices
	}
	if domain == "" {
		domain = defaultDomain
	}
	return &Browser{
		services:       services,
		domain:         domain,
		resolveTimeout: DefaultResolveTimeout,
	}
}

// SetResolveTimeout bounds the address re-resolution attempted for peers
// whose announcements carry no address records. Non-positive values keep
// the default.
func (b *Browser) SetResolveTimeout(d time.Duration) {
	if d > 0 {
		b.resolveTimeout = d
	}
}

// Transport reports the network transport.
func (b *Browser) Transport() device.Transport {
	return device.TransportNetwork
}

// Running reports whether a browse session is in progress.
func (b *Browser) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Events returns the current session's event stream. Closed when the
// session ends.
func (b *Browser) Events() <-chan discovery.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events
}

// Start begins browsing every configured service type concurrently, for
// at most timeout. Each service type gets its own resolver; all feed the
// shared event stream.
func (b *Browser) Start(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return discovery.ErrAlreadyRunning
	}

	if timeout <= 0 {
		timeout = discovery.DefaultScanTimeout
	}
	browseCtx, cancel := context.WithTimeout(ctx, timeout)

	b.running = true
	b.cancel = cancel
	b.events = make(chan discovery.Event, eventBuffer)
	events := b.events
	b.mu.Unlock()

	started := 0
	var firstErr error
	for _, service := range b.services {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		entries := make(chan *zeroconf.ServiceEntry)
		if err := resolver.Browse(browseCtx, service, b.domain, entries); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		started++
		b.wg.Add(1)
		go func(service string, entries <-chan *zeroconf.ServiceEntry) {
			defer b.wg.Done()
			for entry := range entries {
				ev := eventFromEntry(service, entry)
				select {
				case events <- ev:
				case <-browseCtx.Done():
					return
				}
				if entry.TTL != 0 && len(entry.AddrIPv4) == 0 && len(entry.AddrIPv6) == 0 {
					// Responder omitted address records; try a bounded
					// re-resolution so the peer still gets an address.
					b.wg.Add(1)
					go b.resolveAddresses(browseCtx, service, entry, events)
				}
			}
		}(service, entries)
	}

	if started == 0 {
		cancel()
		b.mu.Lock()
		b.running = false
		b.cancel = nil
		b.mu.Unlock()
		close(events)
		return fmt.Errorf("%w: mdns browse: %v", discovery.ErrTransportUnavailable, firstErr)
	}

	go func() {
		<-browseCtx.Done()
		b.wg.Wait()

		b.mu.Lock()
		b.running = false
		b.cancel = nil
		b.mu.Unlock()
		close(events)
	}()

	return nil
}

// resolveAddresses runs a one-shot lookup for a peer whose browse entry
// carried no addresses. The lookup is bounded by the resolve timeout and
// cancelled with the session; a resolved entry re-enters the stream as an
// ordinary sighting for the merge path to enrich.
func (b *Browser) resolveAddresses(ctx context.Context, service string, entry *zeroconf.ServiceEntry, events chan<- discovery.Event) {
	defer b.wg.Done()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, b.resolveTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Lookup(lookupCtx, entry.Instance, service, b.domain, entries); err != nil {
		return
	}

	for resolved := range entries {
		if len(resolved.AddrIPv4) == 0 && len(resolved.AddrIPv6) == 0 {
			continue
		}
		select {
		case events <- eventFromEntry(service, resolved):
		case <-lookupCtx.Done():
		}
		return
	}
}

// Stop ends the current browse session. Idempotent.
func (b *Browser) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// eventFromEntry translates one resolved service entry. A zero TTL is a
// goodbye packet: the peer is leaving the network.
func eventFromEntry(service string, entry *zeroconf.ServiceEntry) discovery.Event {
	identity := peerIdentity(entry)
	if entry.TTL == 0 {
		return discovery.Event{
			Kind:     discovery.EventDeparture,
			Identity: identity,
		}
	}

	sighting := device.Sighting{
		Identity:   identity,
		Name:       strings.TrimSpace(entry.Instance),
		Transport:  device.TransportNetwork,
		ObservedAt: time.Now().UTC(),
		Attributes: map[string]string{
			"mdns.service": service,
			"mdns.port":    strconv.Itoa(entry.Port),
		},
	}
	if len(entry.AddrIPv4) > 0 {
		sighting.Address = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		sighting.Address = entry.AddrIPv6[0].String()
	}
	for _, txt := range entry.Text {
		key, value, found := strings.Cut(txt, "=")
		if !found || key == "" {
			continue
		}
		sighting.Attributes["txt."+key] = value
	}
	return discovery.Event{Kind: discovery.EventSighting, Sighting: sighting}
}

// peerIdentity derives a stable identity for a service entry. The host
// name survives service renames and multiple advertised services, so it
// is preferred; instance plus service type is the fallback when the
// responder omits it.
func peerIdentity(entry *zeroconf.ServiceEntry) string {
	host := strings.TrimSuffix(strings.TrimSpace(entry.HostName), ".")
	if host != "" {
		return strings.ToLower(host)
	}
	return strings.ToLower(entry.Instance + "." + entry.Service)
}
