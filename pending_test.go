// SPDX-License-Identifier: GPL-3.0-or-later

package dnsmorph

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(192, 0, 2, 7), Port: 53535}
}

func TestNewPendingQueryRejects(t *testing.T) {
	tests := []struct {
		name         string
		request      []byte
		spliceOffset uint32
	}{
		{"ShortRequest", make([]byte, 5), 5},
		{"EmptyRequest", nil, 0},
		{"ZeroSpliceOffset", make([]byte, 29), 0},
		{"SpliceOffsetBeyondBuffer", make([]byte, 29), 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := NewPendingQuery(tt.request, testClient(), tt.spliceOffset, 0)
			require.ErrorIs(t, err, ErrMalformedRequest)
			require.Nil(t, query)
		})
	}
}

func TestPendingQueryCompleteSingle(t *testing.T) {
	raw := newRawRequest(t, "example.com.")
	query, err := NewPendingQuery(raw, testClient(), 29, 0)
	require.NoError(t, err)
	require.Equal(t, StatePending, query.State())
	require.False(t, query.Settled())
	require.Equal(t, uint16(0x1234), query.ID())

	resp, err := query.Complete([]uint32{0x0A0A0A0A})
	require.NoError(t, err)
	require.Len(t, resp, 45)
	require.Equal(t, StateCompleted, query.State())
	require.True(t, query.Settled())
}

func TestPendingQueryCompleteMulti(t *testing.T) {
	raw := newRawRequest(t, "example.com.")
	query, err := NewPendingQuery(raw, testClient(), 29, 0)
	require.NoError(t, err)

	resp, err := query.Complete([]uint32{0x0A0A0A0A, 0x0B0B0B0B})
	require.NoError(t, err)
	require.Len(t, resp, 29+2*16)
	require.Equal(t, StateCompleted, query.State())
}

func TestPendingQueryCompleteNoAddresses(t *testing.T) {
	raw := newRawRequest(t, "example.com.")
	query, err := NewPendingQuery(raw, testClient(), 29, 0)
	require.NoError(t, err)

	resp, err := query.Complete(nil)
	require.ErrorIs(t, err, ErrNoAddressesResolved)
	require.Nil(t, resp)
	require.Equal(t, StateExpired, query.State())
	require.True(t, query.Settled())
}

func TestPendingQueryCompleteIdempotent(t *testing.T) {
	raw := newRawRequest(t, "example.com.")
	query, err := NewPendingQuery(raw, testClient(), 29, 0)
	require.NoError(t, err)

	first, err := query.Complete([]uint32{0x0A0A0A0A})
	require.NoError(t, err)
	expected := append([]byte{}, first...)

	second, err := query.Complete([]uint32{0x0B0B0B0B})
	require.ErrorIs(t, err, ErrAlreadySettled)
	require.Nil(t, second)
	require.Equal(t, StateCompleted, query.State())
	require.Equal(t, expected, first)
}

func TestPendingQueryExpireBoundary(t *testing.T) {
	const timeout = 2 * time.Second
	raw := newRawRequest(t, "example.com.")
	query, err := NewPendingQuery(raw, testClient(), 29, 0)
	require.NoError(t, err)

	// One nanosecond short of the threshold: still pending.
	require.False(t, query.Expire(query.CreatedAt().Add(timeout-time.Nanosecond), timeout))
	require.Equal(t, StatePending, query.State())

	// Exactly at the threshold: expired.
	require.True(t, query.Expire(query.CreatedAt().Add(timeout), timeout))
	require.Equal(t, StateExpired, query.State())

	// Further calls are no-ops.
	require.False(t, query.Expire(query.CreatedAt().Add(10*timeout), timeout))
}

func TestPendingQueryCompleteAfterExpire(t *testing.T) {
	raw := newRawRequest(t, "example.com.")
	query, err := NewPendingQuery(raw, testClient(), 29, 0)
	require.NoError(t, err)

	require.True(t, query.Expire(query.CreatedAt().Add(time.Second), time.Second))

	resp, err := query.Complete([]uint32{0x0A0A0A0A})
	require.ErrorIs(t, err, ErrAlreadySettled)
	require.Nil(t, resp)
	require.Equal(t, StateExpired, query.State())
}

// Concurrent completions and expirations must produce exactly one
// settlement and at most one response message.
func TestPendingQueryExactlyOnce(t *testing.T) {
	for range 100 {
		raw := newRawRequest(t, "example.com.")
		query, err := NewPendingQuery(raw, testClient(), 29, 0)
		require.NoError(t, err)

		const attempts = 8
		var wg sync.WaitGroup
		responses := make(chan []byte, attempts)
		expirations := make(chan struct{}, attempts)

		for i := range attempts {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					if resp, err := query.Complete([]uint32{0x0A0A0A0A}); err == nil {
						responses <- resp
					}
					return
				}
				if query.Expire(query.CreatedAt().Add(time.Second), time.Second) {
					expirations <- struct{}{}
				}
			}(i)
		}
		wg.Wait()
		close(responses)
		close(expirations)

		require.Equal(t, 1, len(responses)+len(expirations))
		require.True(t, query.Settled())
		require.NotEqual(t, StatePending, query.State())
	}
}
