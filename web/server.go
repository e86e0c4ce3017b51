// SPDX-License-Identifier: GPL-3.0-or-later

// Package web exposes the resolver's runtime state over a small
// JSON HTTP API.
package web

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/friendlydns/dnsmorph/stats"
)

// StateReporter supplies the live engine state the API reports on.
type StateReporter interface {
	// PendingCount returns the number of in-flight queries.
	PendingCount() int

	// CacheEntries returns the number of cached names.
	CacheEntries() int

	// CacheHitRatio returns the cache hit ratio as a percentage.
	CacheHitRatio() float64
}

// Server is the status API server.
type Server struct {
	app   *fiber.App
	stats *stats.Stats
	state StateReporter
}

// NewServer creates the status API over the given collectors.
func NewServer(stats *stats.Stats, state StateReporter) *Server {
	server := &Server{
		app:   fiber.New(fiber.Config{DisableStartupMessage: true}),
		stats: stats,
		state: state,
	}
	server.app.Get("/api/stats", server.handleStats)
	server.app.Get("/api/state", server.handleState)
	return server
}

// Listen serves the API on addr until [*Server.Shutdown].
func (s *Server) Listen(addr string) error {
	log.Printf("status API listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying fiber application, used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.stats.GetSnapshot())
}

// stateResponse is the payload of GET /api/state.
type stateResponse struct {
	PendingQueries int     `json:"pending_queries"`
	CacheEntries   int     `json:"cache_entries"`
	CacheHitRatio  float64 `json:"cache_hit_ratio"`
}

func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(stateResponse{
		PendingQueries: s.state.PendingCount(),
		CacheEntries:   s.state.CacheEntries(),
		CacheHitRatio:  s.state.CacheHitRatio(),
	})
}
