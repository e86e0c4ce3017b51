// SPDX-License-Identifier: GPL-3.0-or-later

package dnsmorph

import (
	"encoding/binary"
	"strings"
)

const maxLabelSize = 63

// Question is the single question of a client request.
type Question struct {
	// Name is the queried name as a dotted, rooted string.
	Name string

	// Type is the query type.
	Type uint16

	// Class is the query class.
	Class uint16

	// SpliceOffset is the byte index immediately after the question
	// section, where synthesized answer records are appended.
	SpliceOffset uint32
}

// ParseQuestion extracts the question section from a raw request.
//
// Only single-question messages are handled, matching normal client
// behavior: a QDCOUNT other than one is rejected. Returns
// [ErrMalformedRequest] when the buffer is shorter than the fixed
// header or the question section is truncated or malformed.
func ParseQuestion(request []byte) (Question, error) {
	// 1. the fixed header must be complete and carry one question
	if len(request) < headerSize {
		return Question{}, ErrMalformedRequest
	}
	if qdcount := binary.BigEndian.Uint16(request[4:6]); qdcount != 1 {
		return Question{}, ErrMalformedRequest
	}

	// 2. walk the QNAME labels
	var labels []string
	offset := headerSize
	for {
		if offset >= len(request) {
			return Question{}, ErrMalformedRequest
		}
		size := int(request[offset])
		if size == 0 {
			offset++
			break
		}
		// A compression pointer cannot occur in the first name of a
		// message; there is nothing earlier to point at.
		if size > maxLabelSize {
			return Question{}, ErrMalformedRequest
		}
		if offset+1+size > len(request) {
			return Question{}, ErrMalformedRequest
		}
		labels = append(labels, string(request[offset+1:offset+1+size]))
		offset += 1 + size
	}

	// 3. QTYPE and QCLASS follow the name
	if offset+4 > len(request) {
		return Question{}, ErrMalformedRequest
	}
	question := Question{
		Name:         strings.Join(labels, ".") + ".",
		Type:         binary.BigEndian.Uint16(request[offset : offset+2]),
		Class:        binary.BigEndian.Uint16(request[offset+2 : offset+4]),
		SpliceOffset: uint32(offset + 4),
	}
	return question, nil
}
