// SPDX-License-Identifier: GPL-3.0-or-later

// Command dnsmorphd is a local caching/proxying DNS resolver.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/friendlydns/dnsmorph/cache"
	"github.com/friendlydns/dnsmorph/forward"
	"github.com/friendlydns/dnsmorph/server"
	"github.com/friendlydns/dnsmorph/stats"
	"github.com/friendlydns/dnsmorph/web"
)

func main() {
	listenAddr := flag.String("listen", getEnv("DNSMORPH_LISTEN", "127.0.0.1:5353"), "UDP address to serve DNS on")
	upstream := flag.String("upstream", getEnv("DNSMORPH_UPSTREAM", "9.9.9.9:53"), "upstream resolver address")
	statusAddr := flag.String("status", getEnv("DNSMORPH_STATUS", ""), "status API address (empty disables it)")
	queryTimeout := flag.Duration("timeout", 3*time.Second, "how long a query may wait for the upstream")
	sweepInterval := flag.Duration("sweep", 250*time.Millisecond, "expiry sweep period")
	answerTTL := flag.Uint("ttl", 0, "TTL for synthesized answers (0 uses the built-in default)")
	flag.Parse()

	collector := stats.New()
	addressCache := cache.New()
	forwarder := forward.New(*upstream)
	forwarder.Timeout = *queryTimeout

	dnsServer := server.New(server.Config{
		ListenAddr:    *listenAddr,
		Upstream:      *upstream,
		QueryTimeout:  *queryTimeout,
		SweepInterval: *sweepInterval,
		AnswerTTL:     uint32(*answerTTL),
	}, addressCache, forwarder, collector)
	if err := dnsServer.Start(); err != nil {
		log.Fatalf("start dns server: %v", err)
	}

	var statusServer *web.Server
	if *statusAddr != "" {
		statusServer = web.NewServer(collector, dnsServer)
		go func() {
			if err := statusServer.Listen(*statusAddr); err != nil {
				log.Printf("status API: %v", err)
			}
		}()
	}

	// Periodically drop expired cache entries alongside the
	// registry's own sweep.
	cleanTicker := time.NewTicker(time.Minute)
	defer cleanTicker.Stop()
	go func() {
		for range cleanTicker.C {
			addressCache.Clean(time.Now())
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("shutting down")
	if statusServer != nil {
		statusServer.Shutdown()
	}
	dnsServer.Stop()
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
