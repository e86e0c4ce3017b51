// SPDX-License-Identifier: GPL-3.0-or-later

package dnsmorph

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// Registry defaults, used when the corresponding [RegistryConfig]
// field is zero.
const (
	DefaultQueryTimeout  = 3 * time.Second
	DefaultSweepInterval = 250 * time.Millisecond
)

// Errors returned by the [*Registry] operations.
var (
	// ErrDuplicateQuery means a live pending query already exists
	// for the same transaction ID and client endpoint. Client
	// retransmissions are dropped rather than tracked twice.
	ErrDuplicateQuery = errors.New("dnsmorph: duplicate query")

	// ErrUnknownQuery means no live pending query matches the
	// dispatched resolution. The query may have expired already.
	ErrUnknownQuery = errors.New("dnsmorph: unknown query")
)

// Transport is the return path to clients. Each call writes one
// complete synthesized message as a single atomic unit.
//
// A [*net.UDPConn] satisfies this interface.
type Transport interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
}

// Finalization is the tagged terminal outcome of a settled query,
// returned to the registry's caller so it can log or account for it.
type Finalization struct {
	// Client is the return-path token of the settled query.
	Client net.Addr

	// State is [StateCompleted] or [StateExpired].
	State State

	// Response holds the synthesized message for completed queries
	// and is nil for expired ones, which are dropped silently.
	Response []byte
}

// RegistryConfig configures a [*Registry].
type RegistryConfig struct {
	// Timeout is how long a query may stay pending before the sweep
	// expires it. Zero means [DefaultQueryTimeout].
	Timeout time.Duration

	// SweepInterval is the period of the [*Registry.Run] sweep
	// loop. Zero means [DefaultSweepInterval].
	SweepInterval time.Duration

	// AnswerTTL overrides the TTL of synthesized answer records.
	// Zero means [DefaultAnswerTTL].
	AnswerTTL uint32
}

// Registry owns the live set of pending queries. It admits new
// queries, routes upstream resolutions to the matching instance,
// writes completed responses to the transport, and periodically
// expires queries that never got an answer.
//
// All methods are safe for concurrent use.
type Registry struct {
	transport Transport
	timeout   time.Duration
	interval  time.Duration
	ttl       uint32

	mu      sync.Mutex
	pending map[queryKey]*PendingQuery
}

// queryKey identifies a live query: DNS transaction ID plus client
// endpoint. Two clients may use the same ID concurrently.
type queryKey struct {
	id     uint16
	client string
}

// NewRegistry constructs a [*Registry] writing completed responses
// to the given transport.
func NewRegistry(transport Transport, config RegistryConfig) *Registry {
	if config.Timeout <= 0 {
		config.Timeout = DefaultQueryTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	return &Registry{
		transport: transport,
		timeout:   config.Timeout,
		interval:  config.SweepInterval,
		ttl:       config.AnswerTTL,
		pending:   make(map[queryKey]*PendingQuery),
	}
}

// Admit validates the request, constructs a [*PendingQuery] for it
// and starts tracking it.
//
// Returns [ErrMalformedRequest] for requests [NewPendingQuery]
// rejects and [ErrDuplicateQuery] when an equivalent query is
// already live; in both cases nothing is tracked.
func (r *Registry) Admit(request []byte, client net.Addr, spliceOffset uint32) (*PendingQuery, error) {
	query, err := NewPendingQuery(request, client, spliceOffset, r.ttl)
	if err != nil {
		return nil, err
	}
	key := queryKey{id: query.ID(), client: client.String()}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[key]; exists {
		return nil, ErrDuplicateQuery
	}
	r.pending[key] = query
	return query, nil
}

// Dispatch routes an upstream resolution to the matching pending
// query, settles it, and, for a completed query, writes the
// synthesized message to the transport.
//
// An empty address list settles the query as expired. A resolution
// for a query that raced with the sweep and lost reports
// [ErrAlreadySettled]; one for an unknown key reports
// [ErrUnknownQuery]. Either way the caller has no work left to do.
func (r *Registry) Dispatch(id uint16, client net.Addr, addresses []uint32) (Finalization, error) {
	key := queryKey{id: id, client: client.String()}

	r.mu.Lock()
	query := r.pending[key]
	r.mu.Unlock()
	if query == nil {
		return Finalization{}, ErrUnknownQuery
	}

	resp, err := query.Complete(addresses)
	if err != nil {
		// The settled loser of a race stays tracked for the sweep
		// to collect; a failed resolution is deallocated here.
		if errors.Is(err, ErrNoAddressesResolved) {
			r.remove(key)
			return Finalization{Client: client, State: StateExpired}, err
		}
		return Finalization{}, err
	}

	r.remove(key)
	if _, err := r.transport.WriteTo(resp, client); err != nil {
		return Finalization{}, err
	}
	return Finalization{Client: client, State: StateCompleted, Response: resp}, nil
}

// Sweep expires every pending query older than the registry timeout
// at the injected now, deallocates the expired instances, and
// returns their finalizations. Expired queries emit nothing to the
// client.
func (r *Registry) Sweep(now time.Time) []Finalization {
	r.mu.Lock()
	// Settling under the registry lock is fine: the transition is a
	// bounded in-memory operation (see [*PendingQuery.Expire]).
	var finished []Finalization
	for key, query := range r.pending {
		settled := query.Expire(now, r.timeout)
		if settled || query.Settled() {
			delete(r.pending, key)
		}
		if settled {
			finished = append(finished, Finalization{Client: query.Client(), State: StateExpired})
		}
	}
	r.mu.Unlock()
	return finished
}

// Run sweeps the registry every sweep interval until the context is
// done. The onExpire callback, when non-nil, receives each expired
// query's finalization.
func (r *Registry) Run(ctx context.Context, onExpire func(Finalization)) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, fin := range r.Sweep(now) {
				if onExpire != nil {
					onExpire(fin)
				}
			}
		}
	}
}

// PendingCount returns the number of live pending queries.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) remove(key queryKey) {
	r.mu.Lock()
	delete(r.pending, key)
	r.mu.Unlock()
}
