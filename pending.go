// SPDX-License-Identifier: GPL-3.0-or-later

package dnsmorph

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"time"
)

// State is the lifecycle state of a [*PendingQuery].
type State uint8

const (
	// StatePending means no terminal outcome has been reached yet.
	StatePending State = iota

	// StateCompleted means a response was synthesized and emitted.
	StateCompleted

	// StateExpired means the query ended without a response: either
	// the timeout sweep caught it or resolution produced no
	// addresses. Nothing is sent to the client.
	StateExpired
)

// String implements the [fmt.Stringer] interface.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Errors returned by the [*PendingQuery] lifecycle operations.
var (
	// ErrMalformedRequest means the request buffer is shorter than
	// the fixed header or the splice offset falls outside it. The
	// query is never admitted.
	ErrMalformedRequest = errors.New("dnsmorph: malformed request")

	// ErrAlreadySettled means the query already reached its terminal
	// state. This is the benign outcome of a race between a late
	// upstream answer and the timeout sweep, not a failure.
	ErrAlreadySettled = errors.New("dnsmorph: query already settled")

	// ErrNoAddressesResolved means Complete was invoked with an
	// empty address list. The query settles as expired.
	ErrNoAddressesResolved = errors.New("dnsmorph: no addresses resolved")
)

// PendingQuery tracks one outstanding client lookup.
//
// A query is created by [NewPendingQuery], settled exactly once by
// the first of [*PendingQuery.Complete] and [*PendingQuery.Expire],
// and discarded by its owner once the terminal outcome has been
// delivered. Concurrent settlement attempts are safe: exactly one
// wins and at most one response message is ever produced.
type PendingQuery struct {
	request      []byte
	client       net.Addr
	createdAt    time.Time
	spliceOffset uint32
	ttl          uint32

	mu      sync.Mutex
	settled bool
	state   State
}

// NewPendingQuery validates the raw request and constructs a pending
// query for it.
//
// request is the verbatim client message as received off the wire.
// client is the opaque return-path token owned by the transport.
// spliceOffset is the precomputed end-of-question boundary; see
// [ParseQuestion]. A ttl of zero selects [DefaultAnswerTTL].
//
// Returns [ErrMalformedRequest] when the request is shorter than the
// fixed header or the splice offset falls outside (0, len(request)].
func NewPendingQuery(request []byte, client net.Addr, spliceOffset uint32, ttl uint32) (*PendingQuery, error) {
	if len(request) < headerSize {
		return nil, ErrMalformedRequest
	}
	if spliceOffset == 0 || int(spliceOffset) > len(request) {
		return nil, ErrMalformedRequest
	}
	query := &PendingQuery{
		request:      request,
		client:       client,
		createdAt:    time.Now(),
		spliceOffset: spliceOffset,
		ttl:          answerTTL(ttl),
		state:        StatePending,
	}
	return query, nil
}

// Complete delivers the upstream resolution and synthesizes the
// response message, settling the query as [StateCompleted].
//
// The addresses are IPv4 addresses in host order; insertion order is
// preserved and used as truncation priority. With an empty list the
// query settles as [StateExpired] instead and Complete returns
// [ErrNoAddressesResolved]: resolution failed, nothing is emitted.
//
// Calling Complete on an already settled query is a no-op reporting
// [ErrAlreadySettled]; the previously emitted message is unaffected.
func (q *PendingQuery) Complete(addresses []uint32) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// 1. only the first settlement attempt may proceed
	if q.settled {
		return nil, ErrAlreadySettled
	}

	// 2. an empty resolution is a failure, not a success
	if len(addresses) < 1 {
		q.settled = true
		q.state = StateExpired
		return nil, ErrNoAddressesResolved
	}

	// 3. synthesize the response; on morph failure the query stays
	// pending and the sweep will eventually expire it
	var (
		resp []byte
		err  error
	)
	if len(addresses) == 1 {
		resp, err = MorphToSingleAddressResponse(q.request, addresses[0], q.spliceOffset, q.ttl)
	} else {
		resp, err = MorphToMultiAddressResponse(q.request, addresses, q.spliceOffset, q.ttl)
	}
	if err != nil {
		return nil, err
	}

	// 4. settle and emit exactly once
	q.settled = true
	q.state = StateCompleted
	return resp, nil
}

// Expire settles the query as [StateExpired] when it has been
// pending for at least timeout at the injected now.
//
// The registry sweep supplies now rather than the instance reading a
// clock, which keeps expiry deterministic and testable. Expire
// reports whether this call performed the transition: false means
// the query is already settled or not old enough yet.
func (q *PendingQuery) Expire(now time.Time, timeout time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.settled || now.Sub(q.createdAt) < timeout {
		return false
	}
	q.settled = true
	q.state = StateExpired
	return true
}

// Settled reports whether the query reached a terminal state.
func (q *PendingQuery) Settled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.settled
}

// State returns the current lifecycle state.
func (q *PendingQuery) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Client returns the return-path token the query was created with.
func (q *PendingQuery) Client() net.Addr {
	return q.client
}

// CreatedAt returns the admission timestamp.
func (q *PendingQuery) CreatedAt() time.Time {
	return q.createdAt
}

// ID returns the DNS transaction ID of the original request.
func (q *PendingQuery) ID() uint16 {
	return binary.BigEndian.Uint16(q.request[0:2])
}
