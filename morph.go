// SPDX-License-Identifier: GPL-3.0-or-later

package dnsmorph

import (
	"encoding/binary"
	"errors"
)

const (
	// DefaultAnswerTTL is the TTL written into synthesized answer
	// records when the caller does not override it. The value is a
	// deliberate fingerprint of this resolver and is not derived
	// from any standard; keep it configurable, do not round it.
	DefaultAnswerTTL = 13337

	// MaxUDPPayloadSize is the conventional ceiling for a DNS
	// response carried in a single unfragmented UDP datagram.
	MaxUDPPayloadSize = 512

	// headerSize is the fixed DNS header size.
	headerSize = 12

	// answerRecordSize is the wire size of one synthesized A record:
	// a two-byte compressed name, TYPE, CLASS, TTL, RDLENGTH and
	// four bytes of RDATA.
	answerRecordSize = 16
)

// FLAGS field masks, big-endian view of bytes 2-3 of the header.
const (
	flagQR     = 0x8000
	flagOpcode = 0x7800
	flagTC     = 0x0200
	flagRD     = 0x0100
	flagRA     = 0x0080
)

// Errors returned by the morph operations.
var (
	// ErrInvalidSpliceOffset means the splice offset does not mark a
	// plausible end-of-question boundary inside the request buffer.
	ErrInvalidSpliceOffset = errors.New("dnsmorph: invalid splice offset")

	// ErrNoAddresses means the multi-address morph was invoked with
	// an empty address list.
	ErrNoAddresses = errors.New("dnsmorph: no addresses given")

	// ErrResponseTooLarge means a single-address response would not
	// fit within [MaxUDPPayloadSize]. This cannot happen for any
	// realistic question size and is rejected rather than truncated.
	ErrResponseTooLarge = errors.New("dnsmorph: response exceeds UDP payload size")
)

// MorphToSingleAddressResponse rewrites the raw wire-format request
// into a response carrying a single A record.
//
// The caller passes exclusive ownership of request for the duration
// of the call. spliceOffset is the byte index immediately after the
// question section; anything beyond it is discarded. address is an
// IPv4 address in host order; it is serialized big-endian. A ttl of
// zero selects [DefaultAnswerTTL].
//
// On success the returned message is exactly spliceOffset+16 bytes
// long. On error the request buffer is left untouched.
func MorphToSingleAddressResponse(request []byte, address uint32, spliceOffset uint32, ttl uint32) ([]byte, error) {
	// 1. validate the boundary before touching anything
	if err := checkSpliceOffset(request, spliceOffset); err != nil {
		return nil, err
	}
	if int(spliceOffset)+answerRecordSize > MaxUDPPayloadSize {
		return nil, ErrResponseTooLarge
	}

	// 2. rewrite the header in place and drop trailing sections
	resp := morphHeader(request, spliceOffset, 1, false)

	// 3. append the answer record
	resp = appendAnswerRecord(resp, address, answerTTL(ttl))
	return resp, nil
}

// MorphToMultiAddressResponse rewrites the raw wire-format request
// into a response carrying one A record per address, in input order.
//
// When not all addresses fit within [MaxUDPPayloadSize], the list is
// truncated to the first N that fit and the TC flag is set. The
// remaining semantics match [MorphToSingleAddressResponse].
func MorphToMultiAddressResponse(request []byte, addresses []uint32, spliceOffset uint32, ttl uint32) ([]byte, error) {
	// 1. validate before mutating
	if err := checkSpliceOffset(request, spliceOffset); err != nil {
		return nil, err
	}
	if len(addresses) < 1 {
		return nil, ErrNoAddresses
	}

	// 2. determine how many records fit under the payload ceiling
	maxFit := (MaxUDPPayloadSize - int(spliceOffset)) / answerRecordSize
	maxFit = max(maxFit, 0)
	count := min(len(addresses), maxFit)
	truncated := len(addresses) > maxFit

	// 3. rewrite the header and append the records that fit
	resp := morphHeader(request, spliceOffset, uint16(count), truncated)
	for _, address := range addresses[:count] {
		resp = appendAnswerRecord(resp, address, answerTTL(ttl))
	}
	return resp, nil
}

func checkSpliceOffset(request []byte, spliceOffset uint32) error {
	// The boundary sits after the question section, so it can never
	// fall inside the fixed header we are about to rewrite.
	if spliceOffset < headerSize || int(spliceOffset) > len(request) {
		return ErrInvalidSpliceOffset
	}
	return nil
}

func answerTTL(ttl uint32) uint32 {
	if ttl == 0 {
		ttl = DefaultAnswerTTL
	}
	return ttl
}

// morphHeader truncates the buffer at the splice offset and turns the
// header into a response header: QR set, OPCODE and RD preserved,
// RA set, AA/Z/RCODE cleared, TC per truncated, ANCOUNT as given,
// NSCOUNT and ARCOUNT cleared. QDCOUNT is left as received.
func morphHeader(request []byte, spliceOffset uint32, ancount uint16, truncated bool) []byte {
	resp := request[:spliceOffset]

	flags := binary.BigEndian.Uint16(resp[2:4])
	flags = flagQR | (flags & flagOpcode) | (flags & flagRD) | flagRA
	if truncated {
		flags |= flagTC
	}
	binary.BigEndian.PutUint16(resp[2:4], flags)

	binary.BigEndian.PutUint16(resp[6:8], ancount)  // ANCOUNT
	binary.BigEndian.PutUint16(resp[8:10], 0)       // NSCOUNT
	binary.BigEndian.PutUint16(resp[10:12], 0)      // ARCOUNT
	return resp
}

// appendAnswerRecord appends one A record whose NAME is a compressed
// back-reference to the question name at byte offset 12.
func appendAnswerRecord(resp []byte, address uint32, ttl uint32) []byte {
	var record [answerRecordSize]byte
	record[0], record[1] = 0xC0, 0x0C // NAME: pointer to offset 12
	record[2], record[3] = 0x00, 0x01 // TYPE: A
	record[4], record[5] = 0x00, 0x01 // CLASS: IN
	binary.BigEndian.PutUint32(record[6:10], ttl)
	record[10], record[11] = 0x00, 0x04 // RDLENGTH
	binary.BigEndian.PutUint32(record[12:16], address)
	return append(resp, record[:]...)
}
