// SPDX-License-Identifier: GPL-3.0-or-later

// Package forward relays raw client requests to a configured
// upstream resolver and extracts the resolved IPv4 addresses from
// its answer.
package forward

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/proxy"
)

// DefaultTimeout bounds a single upstream exchange when the caller's
// context carries no earlier deadline.
const DefaultTimeout = 3 * time.Second

// maxResponseSize is the read buffer for upstream answers and is
// consistent with the EDNS(0) size advertised by modern stubs.
const maxResponseSize = 1232

// Forwarder exchanges raw DNS messages with one upstream resolver
// over UDP. The zero value is not usable; construct with [New].
type Forwarder struct {
	// ContextDialer dials the upstream socket. Defaults to a plain
	// [*net.Dialer] and may be replaced to route through a proxy.
	proxy.ContextDialer

	// Upstream is the resolver address as host:port.
	Upstream string

	// Timeout bounds a single exchange. Zero means [DefaultTimeout].
	Timeout time.Duration
}

// New returns a [*Forwarder] for the given upstream address.
func New(upstream string) *Forwarder {
	return &Forwarder{
		ContextDialer: &net.Dialer{},
		Upstream:      upstream,
		Timeout:       DefaultTimeout,
	}
}

// Resolve relays the verbatim request bytes upstream and returns the
// IPv4 addresses from the validated answer, in response order, along
// with the smallest answer TTL in seconds.
//
// The request bytes are sent unmodified, so the upstream sees the
// client's own transaction ID and flags. The response is validated
// against the request before any address is extracted; see
// [ValidateResponse] and [ExtractAddresses] for the errors.
func (f *Forwarder) Resolve(ctx context.Context, request []byte) ([]uint32, uint32, error) {
	// 1. unpack the request so we can validate the answer against it
	query := new(dns.Msg)
	if err := query.Unpack(request); err != nil {
		return nil, 0, err
	}

	// 2. perform the exchange
	raw, err := f.exchange(ctx, request)
	if err != nil {
		return nil, 0, err
	}

	// 3. unpack and validate the response
	resp := new(dns.Msg)
	if err := resp.Unpack(raw); err != nil {
		return nil, 0, ErrCannotUnmarshalMessage
	}
	q0, err := ValidateResponse(query, resp)
	if err != nil {
		return nil, 0, err
	}
	if err := ResponseErrorFromRCODE(resp); err != nil {
		return nil, 0, err
	}

	// 4. extract the addresses
	return ExtractAddresses(q0, resp)
}

func (f *Forwarder) exchange(ctx context.Context, request []byte) ([]byte, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := f.DialContext(ctx, "udp", f.Upstream)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(request); err != nil {
		return nil, err
	}
	buffer := make([]byte, maxResponseSize)
	count, err := conn.Read(buffer)
	if err != nil {
		return nil, err
	}
	return buffer[:count], nil
}
