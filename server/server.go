// SPDX-License-Identifier: GPL-3.0-or-later

// Package server is the UDP front end of the resolver: it reads
// client requests, answers cache hits immediately, and drives the
// pending-query registry for everything else.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/friendlydns/dnsmorph"
	"github.com/friendlydns/dnsmorph/cache"
	"github.com/friendlydns/dnsmorph/forward"
	"github.com/friendlydns/dnsmorph/stats"
)

// Config configures a [*Server].
type Config struct {
	// ListenAddr is the UDP address to serve on, host:port.
	ListenAddr string

	// Upstream is the resolver requests are forwarded to, host:port.
	Upstream string

	// QueryTimeout is how long a query may stay pending. Zero means
	// [dnsmorph.DefaultQueryTimeout].
	QueryTimeout time.Duration

	// SweepInterval is the expiry sweep period. Zero means
	// [dnsmorph.DefaultSweepInterval].
	SweepInterval time.Duration

	// AnswerTTL overrides the TTL of synthesized answers. Zero
	// means [dnsmorph.DefaultAnswerTTL].
	AnswerTTL uint32
}

// Server serves DNS over UDP.
type Server struct {
	config    Config
	conn      *net.UDPConn
	registry  *dnsmorph.Registry
	cache     *cache.Cache
	forwarder *forward.Forwarder
	stats     *stats.Stats
	cancel    context.CancelFunc
	shutdown  chan struct{}
}

// New creates a server wired to the given cache, forwarder and stats
// collector.
func New(config Config, addressCache *cache.Cache, forwarder *forward.Forwarder, collector *stats.Stats) *Server {
	return &Server{
		config:    config,
		cache:     addressCache,
		forwarder: forwarder,
		stats:     collector,
		shutdown:  make(chan struct{}),
	}
}

// Start binds the UDP socket and spawns the read loop and the
// registry sweep loop.
func (s *Server) Start() error {
	addr, err := net.ResolveUDPAddr("udp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.conn = conn
	s.registry = dnsmorph.NewRegistry(conn, dnsmorph.RegistryConfig{
		Timeout:       s.config.QueryTimeout,
		SweepInterval: s.config.SweepInterval,
		AnswerTTL:     s.config.AnswerTTL,
	})
	log.Printf("dns server listening on %s, forwarding to %s", conn.LocalAddr(), s.config.Upstream)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.registry.Run(ctx, func(dnsmorph.Finalization) {
		s.stats.RecordExpired()
	})
	go s.readLoop()
	return nil
}

// Stop shuts the server down and closes the socket.
func (s *Server) Stop() {
	close(s.shutdown)
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	log.Println("dns server stopped")
}

// LocalAddr returns the bound socket address, valid after Start.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// PendingCount implements the status API state reporter.
func (s *Server) PendingCount() int {
	if s.registry == nil {
		return 0
	}
	return s.registry.PendingCount()
}

// CacheEntries implements the status API state reporter.
func (s *Server) CacheEntries() int { return s.cache.Entries() }

// CacheHitRatio implements the status API state reporter.
func (s *Server) CacheHitRatio() float64 { return s.cache.HitRatio() }

func (s *Server) readLoop() {
	buffer := make([]byte, dnsmorph.MaxUDPPayloadSize)
	for {
		select {
		case <-s.shutdown:
			return
		default:
			s.conn.SetReadDeadline(time.Now().Add(time.Second))
			count, client, err := s.conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				select {
				case <-s.shutdown:
					return
				default:
					log.Printf("read error: %v", err)
					continue
				}
			}
			request := append([]byte(nil), buffer[:count]...)
			go s.handle(request, client)
		}
	}
}

// handle runs the full lifecycle of one client request.
func (s *Server) handle(request []byte, client *net.UDPAddr) {
	started := time.Now()
	s.stats.RecordQuery()

	// 1. locate the question; unusable requests are dropped, the
	// client will retry or give up on its own
	question, err := dnsmorph.ParseQuestion(request)
	if err != nil {
		s.stats.RecordMalformed()
		return
	}

	// 2. cache hit: synthesize the answer right away, no pending
	// query needed
	if addresses := s.cache.Get(question.Name); len(addresses) > 0 {
		resp, err := dnsmorph.MorphToMultiAddressResponse(
			request, addresses, question.SpliceOffset, s.config.AnswerTTL)
		if err != nil {
			log.Printf("synthesize from cache: %v", err)
			return
		}
		if _, err := s.conn.WriteToUDP(resp, client); err != nil {
			log.Printf("write response: %v", err)
			return
		}
		s.stats.RecordCacheHit(time.Since(started))
		return
	}

	// 3. cache miss: track the query and ask upstream
	query, err := s.registry.Admit(request, client, question.SpliceOffset)
	if err != nil {
		switch {
		case errors.Is(err, dnsmorph.ErrDuplicateQuery):
			s.stats.RecordDuplicate()
		default:
			s.stats.RecordMalformed()
		}
		return
	}
	s.resolve(query, question, request, client, started)
}

// resolve forwards the request upstream and dispatches the outcome
// back through the registry. A failed resolution dispatches an empty
// address list, which settles the query as expired so the sweep does
// not have to wait for it.
func (s *Server) resolve(query *dnsmorph.PendingQuery, question dnsmorph.Question, request []byte, client *net.UDPAddr, started time.Time) {
	addresses, ttl, err := s.forwarder.Resolve(context.Background(), request)
	if err != nil {
		// Dispatching no addresses settles the query as expired. If
		// the sweep won the race it already accounted for it.
		if _, derr := s.registry.Dispatch(query.ID(), client, nil); errors.Is(derr, dnsmorph.ErrNoAddressesResolved) {
			s.stats.RecordExpired()
		}
		log.Printf("upstream %s: %v", question.Name, err)
		return
	}

	s.cache.Set(question.Name, addresses, time.Duration(ttl)*time.Second)

	if _, err := s.registry.Dispatch(query.ID(), client, addresses); err != nil {
		// The timeout sweep beat us to it; the expiry is already
		// accounted for.
		return
	}
	s.stats.RecordCompleted(time.Since(started))
}
