// SPDX-License-Identifier: GPL-3.0-or-later

package forward

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/miekg/dns"
)

// These error messages use the same suffixes used by the Go standard
// library.
var (
	// ErrCannotUnmarshalMessage indicates that we cannot unmarshal
	// the upstream DNS message.
	ErrCannotUnmarshalMessage = errors.New("cannot unmarshal DNS message")

	// ErrInvalidResponse means that the response is not a response
	// message or does not contain a single question matching the query.
	ErrInvalidResponse = errors.New("invalid DNS response")

	// ErrInvalidQuery means that the query does not contain a single
	// question.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrNoName indicates that the upstream response code is NXDOMAIN.
	ErrNoName = errors.New("no such host")

	// ErrServerMisbehaving indicates that the upstream response code
	// is neither 0, nor NXDOMAIN, nor SERVFAIL.
	ErrServerMisbehaving = errors.New("server misbehaving")

	// ErrServerTemporarilyMisbehaving indicates that the upstream
	// answered SERVFAIL.
	//
	// The error message is the same as [ErrServerMisbehaving] for
	// compatibility with the Go standard library, which assigns the
	// same error string to both errors.
	ErrServerTemporarilyMisbehaving = errors.New("server misbehaving")

	// ErrNoData indicates that there is no pertinent answer in the
	// response.
	ErrNoData = errors.New("no answer from DNS server")
)

// ValidateResponse validates an upstream response for a given query.
// On success it returns the single validated question from the query.
func ValidateResponse(query, resp *dns.Msg) (dns.Question, error) {
	// 1. make sure the message is actually a response
	if !resp.Response {
		return dns.Question{}, ErrInvalidResponse
	}

	// 2. make sure the response ID matches the query ID
	if resp.Id != query.Id {
		return dns.Question{}, ErrInvalidResponse
	}

	// 3. make sure the query and the response contain a question
	if len(query.Question) != 1 {
		return dns.Question{}, ErrInvalidQuery
	}
	if len(resp.Question) != 1 {
		return dns.Question{}, ErrInvalidResponse
	}
	resp0 := resp.Question[0]
	query0 := query.Question[0]

	// 4. make sure the question is the one we asked
	if !equalASCIIName(resp0.Name, query0.Name) {
		return dns.Question{}, ErrInvalidResponse
	}
	if resp0.Qclass != query0.Qclass {
		return dns.Question{}, ErrInvalidResponse
	}
	if resp0.Qtype != query0.Qtype {
		return dns.Question{}, ErrInvalidResponse
	}
	return query0, nil
}

// ResponseErrorFromRCODE maps an RCODE inside a valid response to an
// error using a suffix compatible with the error strings returned by
// [*net.Resolver]. A zero RCODE maps to nil.
//
// Before invoking this function, make sure the response is valid for
// the request by calling [ValidateResponse].
func ResponseErrorFromRCODE(resp *dns.Msg) error {
	// 1. handle NXDOMAIN by mapping it to EAI_NONAME
	if resp.Rcode == dns.RcodeNameError {
		return ErrNoName
	}

	// 2. handle the case of lame referral by mapping it to EAI_NODATA
	if resp.Rcode == dns.RcodeSuccess &&
		!resp.Authoritative &&
		!resp.RecursionAvailable &&
		len(resp.Answer) == 0 {
		return ErrNoData
	}

	// 3. handle any other error by mapping to EAI_FAIL
	if resp.Rcode != dns.RcodeSuccess {
		if resp.Rcode == dns.RcodeServerFailure {
			return ErrServerTemporarilyMisbehaving
		}
		return ErrServerMisbehaving
	}
	return nil
}

// ExtractAddresses extracts the IPv4 addresses answering the given
// question, following CNAME chains the way a recursive response may
// preface the answer with them (RFC 1034 section 4.3.1).
//
// Addresses are returned in response order as host-order uint32
// values, together with the smallest TTL among the extracted A
// records. Responses with no usable A record yield [ErrNoData].
func ExtractAddresses(q0 dns.Question, resp *dns.Msg) ([]uint32, uint32, error) {
	// 1. build the set of names the CNAME chain makes valid,
	// starting from the query name. Names in the response may not
	// be canonicalized, so compare case-insensitively.
	validNames := make(map[string]bool)
	validNames[dns.CanonicalName(q0.Name)] = true

	currentName := q0.Name
	for _, answer := range resp.Answer {
		if cname, ok := answer.(*dns.CNAME); ok {
			header := cname.Header()
			if equalASCIIName(currentName, header.Name) && header.Class == q0.Qclass {
				currentName = dns.CanonicalName(cname.Target)
				validNames[currentName] = true
			}
		}
	}

	// 2. collect A records whose owner is part of the chain
	var (
		addresses []uint32
		minTTL    uint32 = math.MaxUint32
	)
	for _, answer := range resp.Answer {
		record, ok := answer.(*dns.A)
		if !ok {
			continue
		}
		header := record.Header()
		if !validNames[dns.CanonicalName(header.Name)] {
			continue
		}
		if header.Class != q0.Qclass {
			continue
		}
		ipv4 := record.A.To4()
		if ipv4 == nil {
			continue
		}
		addresses = append(addresses, binary.BigEndian.Uint32(ipv4))
		minTTL = min(minTTL, header.Ttl)
	}

	// 3. handle the case of no valid answers
	if len(addresses) < 1 {
		return nil, 0, ErrNoData
	}
	return addresses, minTTL, nil
}

// SPDX-License-Identifier: BSD-3-Clause
//
// Borrowed from Go src/net package.
func equalASCIIName(x, y string) bool {
	if len(x) != len(y) {
		return false
	}
	for i := 0; i < len(x); i++ {
		a := x[i]
		b := y[i]
		if 'A' <= a && a <= 'Z' {
			a += 0x20
		}
		if 'A' <= b && b <= 'Z' {
			b += 0x20
		}
		if a != b {
			return false
		}
	}
	return true
}
