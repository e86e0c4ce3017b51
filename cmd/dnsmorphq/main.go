// SPDX-License-Identifier: GPL-3.0-or-later

// Command dnsmorphq sends a single A query to a resolver and prints
// the answer, which is handy for poking at a running dnsmorphd.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

func main() {
	server := flag.String("server", "127.0.0.1:5353", "resolver address to query")
	timeout := flag.Duration("timeout", 5*time.Second, "query timeout")
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: dnsmorphq [-server host:port] name")
	}

	// IDNA encode the domain name and make it fully qualified.
	punyName, err := idna.Lookup.ToASCII(flag.Arg(0))
	if err != nil {
		log.Fatalf("invalid name %q: %v", flag.Arg(0), err)
	}
	if !dns.IsFqdn(punyName) {
		punyName = dns.Fqdn(punyName)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(punyName, dns.TypeA)

	client := &dns.Client{Timeout: *timeout}
	resp, rtt, err := client.Exchange(msg, *server)
	if err != nil {
		log.Fatalf("exchange: %v", err)
	}
	fmt.Printf("%s\n;; query time: %s\n", resp.String(), rtt)
}
