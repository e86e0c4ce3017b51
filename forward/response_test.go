// SPDX-License-Identifier: GPL-3.0-or-later

package forward

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestValidateResponse(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(*dns.Msg, *dns.Msg)
		expected error
	}{
		{
			name: "ValidResponse",
			modify: func(query, resp *dns.Msg) {
				// No modification needed, valid response.
			},
			expected: nil,
		},

		{
			name: "InvalidResponseID",
			modify: func(query, resp *dns.Msg) {
				resp.Id = query.Id + 1
			},
			expected: ErrInvalidResponse,
		},

		{
			name: "InvalidResponseNotAResponse",
			modify: func(query, resp *dns.Msg) {
				resp.Response = false
			},
			expected: ErrInvalidResponse,
		},

		{
			name: "InvalidQueryNoQuestion",
			modify: func(query, resp *dns.Msg) {
				query.Question = nil
			},
			expected: ErrInvalidQuery,
		},

		{
			name: "InvalidResponseNoQuestion",
			modify: func(query, resp *dns.Msg) {
				resp.Question = nil
			},
			expected: ErrInvalidResponse,
		},

		{
			name: "InvalidResponseQuestionName",
			modify: func(query, resp *dns.Msg) {
				resp.Question[0].Name = "invalid.com."
			},
			expected: ErrInvalidResponse,
		},

		{
			name: "InvalidResponseQuestionClass",
			modify: func(query, resp *dns.Msg) {
				resp.Question[0].Qclass = dns.ClassCHAOS
			},
			expected: ErrInvalidResponse,
		},

		{
			name: "InvalidResponseQuestionType",
			modify: func(query, resp *dns.Msg) {
				resp.Question[0].Qtype = dns.TypeAAAA
			},
			expected: ErrInvalidResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query := new(dns.Msg)
			query.SetQuestion("example.com.", dns.TypeA)

			resp := new(dns.Msg)
			resp.SetReply(query)

			tt.modify(query, resp)

			q0, err := ValidateResponse(query, resp)
			if tt.expected != nil {
				require.ErrorIs(t, err, tt.expected)
				return
			}
			require.NoError(t, err)
			require.Equal(t, query.Question[0], q0)
		})
	}
}

func TestResponseErrorFromRCODE(t *testing.T) {
	tests := []struct {
		name     string
		rcode    int
		expected error
	}{
		{"NameError", dns.RcodeNameError, ErrNoName},
		{"ServerFailure", dns.RcodeServerFailure, ErrServerTemporarilyMisbehaving},
		{"LameReferral", dns.RcodeSuccess, ErrNoData},
		{"Success", dns.RcodeSuccess, nil},
		{"Refused", dns.RcodeRefused, ErrServerMisbehaving},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := new(dns.Msg)
			resp.Rcode = tt.rcode

			switch tt.name {
			case "LameReferral":
				resp.Authoritative = false
				resp.RecursionAvailable = false
				resp.Answer = nil

			case "Success":
				resp.Authoritative = true
				resp.RecursionAvailable = true
				resp.Answer = []dns.RR{newARecord("example.com.", net.IPv4(127, 0, 0, 1), 60)}
			}

			err := ResponseErrorFromRCODE(resp)
			if tt.expected != nil {
				require.ErrorIs(t, err, tt.expected)
				return
			}
			require.NoError(t, err)
		})
	}
}

func newARecord(name string, ip net.IP, ttl uint32) *dns.A {
	return &dns.A{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		A: ip,
	}
}

func newCNAMERecord(name, target string) *dns.CNAME {
	return &dns.CNAME{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypeCNAME,
			Class:  dns.ClassINET,
			Ttl:    60,
		},
		Target: target,
	}
}

func TestExtractAddresses(t *testing.T) {
	makeQuestion := func(name string) dns.Question {
		return dns.Question{Name: name, Qtype: dns.TypeA, Qclass: dns.ClassINET}
	}

	tests := []struct {
		name      string
		question  dns.Question
		answers   []dns.RR
		addresses []uint32
		minTTL    uint32
		err       error
	}{
		{
			name:     "DirectAnswers",
			question: makeQuestion("example.com."),
			answers: []dns.RR{
				newARecord("example.com.", net.IPv4(10, 10, 10, 10), 300),
				newARecord("example.com.", net.IPv4(10, 10, 10, 11), 120),
			},
			addresses: []uint32{0x0A0A0A0A, 0x0A0A0A0B},
			minTTL:    120,
		},

		{
			name:     "CNAMEChain",
			question: makeQuestion("example.co.uk."),
			answers: []dns.RR{
				newCNAMERecord("example.co.uk.", "example.com."),
				newCNAMERecord("example.com.", "example.org."),
				newARecord("example.org.", net.IPv4(127, 0, 0, 1), 600),
			},
			addresses: []uint32{0x7F000001},
			minTTL:    600,
		},

		{
			name:     "CNAMEChainMixedCase",
			question: makeQuestion("Example.CO.UK."),
			answers: []dns.RR{
				newCNAMERecord("eXample.co.uk.", "ExamPle.com."),
				newCNAMERecord("example.COM.", "Example.ORG."),
				newARecord("eXaMpLe.org.", net.IPv4(127, 0, 0, 1), 600),
			},
			addresses: []uint32{0x7F000001},
			minTTL:    600,
		},

		{
			name:     "NoAnswers",
			question: makeQuestion("example.com."),
			answers:  nil,
			err:      ErrNoData,
		},

		{
			name:     "MismatchedName",
			question: makeQuestion("example.com."),
			answers: []dns.RR{
				newARecord("example.org.", net.IPv4(127, 0, 0, 1), 60),
			},
			err: ErrNoData,
		},

		{
			name:     "MismatchedClass",
			question: makeQuestion("example.com."),
			answers: []dns.RR{
				&dns.A{
					Hdr: dns.RR_Header{
						Name:   "example.com.",
						Rrtype: dns.TypeA,
						Class:  dns.ClassCHAOS,
						Ttl:    60,
					},
					A: net.IPv4(127, 0, 0, 1),
				},
			},
			err: ErrNoData,
		},

		{
			name:     "AAAAOnly",
			question: makeQuestion("example.com."),
			answers: []dns.RR{
				&dns.AAAA{
					Hdr: dns.RR_Header{
						Name:   "example.com.",
						Rrtype: dns.TypeAAAA,
						Class:  dns.ClassINET,
						Ttl:    60,
					},
					AAAA: net.ParseIP("2001:db8::1"),
				},
			},
			err: ErrNoData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := new(dns.Msg)
			resp.Answer = tt.answers

			addresses, minTTL, err := ExtractAddresses(tt.question, resp)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				require.Nil(t, addresses)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.addresses, addresses)
			require.Equal(t, tt.minTTL, minTTL)
		})
	}
}

func TestEqualASCIIName(t *testing.T) {
	tests := []struct {
		name     string
		x        string
		y        string
		expected bool
	}{
		{"EqualNames", "example.com.", "example.com.", true},
		{"EqualNamesDifferentCase", "Example.COM.", "exaMple.com.", true},
		{"DifferentNames", "example.com.", "example.org.", false},
		{"DifferentLengths", "example.com.", "example.co.uk.", false},
		{"OnlyPrefixMatch", "example.co.", "example.co.uk.", false},
		{"EmptyStrings", "", "", true},
		{"OneEmptyString", "example.com.", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, equalASCIIName(tt.x, tt.y))
		})
	}
}
