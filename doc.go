// SPDX-License-Identifier: GPL-3.0-or-later

// Package dnsmorph implements the query lifecycle and response
// synthesis core of a local caching/proxying DNS resolver.
//
// [MorphToSingleAddressResponse] and [MorphToMultiAddressResponse]
// rewrite a raw wire-format request in place into a valid DNS
// response carrying resolved IPv4 addresses. [NewPendingQuery] and
// [*PendingQuery] track one in-flight client lookup and guarantee a
// single terminal outcome for it. [NewRegistry] and [*Registry] hold
// the live set of pending queries, route upstream resolutions to the
// matching instance, and periodically expire queries that never got
// an answer.
//
// This package works on raw message bytes and does not parse beyond
// the fixed header and the single question. The upstream exchange
// lives in [github.com/friendlydns/dnsmorph/forward] and the UDP
// front end in [github.com/friendlydns/dnsmorph/server].
package dnsmorph
