// SPDX-License-Identifier: GPL-3.0-or-later

// Package stats collects counters for the resolver front end.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds resolver statistics. All methods are safe for
// concurrent use.
type Stats struct {
	totalQueries atomic.Int64
	malformed    atomic.Int64
	duplicates   atomic.Int64
	cacheHits    atomic.Int64
	completed    atomic.Int64
	expired      atomic.Int64

	mu            sync.Mutex
	responseTimes []time.Duration
	maxTimes      int
}

// New creates a new stats collector keeping a bounded window of
// recent response times.
func New() *Stats {
	return &Stats{
		responseTimes: make([]time.Duration, 0, 1000),
		maxTimes:      1000,
	}
}

// RecordQuery records one inbound client query.
func (s *Stats) RecordQuery() { s.totalQueries.Add(1) }

// RecordMalformed records a request rejected before admission.
func (s *Stats) RecordMalformed() { s.malformed.Add(1) }

// RecordDuplicate records a dropped client retransmission.
func (s *Stats) RecordDuplicate() { s.duplicates.Add(1) }

// RecordCacheHit records a query answered straight from the cache.
func (s *Stats) RecordCacheHit(duration time.Duration) {
	s.cacheHits.Add(1)
	s.recordTime(duration)
}

// RecordCompleted records a query settled with a synthesized response.
func (s *Stats) RecordCompleted(duration time.Duration) {
	s.completed.Add(1)
	s.recordTime(duration)
}

// RecordExpired records a query that timed out without a response.
func (s *Stats) RecordExpired() { s.expired.Add(1) }

func (s *Stats) recordTime(duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseTimes = append(s.responseTimes, duration)
	if len(s.responseTimes) > s.maxTimes {
		s.responseTimes = s.responseTimes[len(s.responseTimes)-s.maxTimes:]
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalQueries int64             `json:"total_queries"`
	Malformed    int64             `json:"malformed"`
	Duplicates   int64             `json:"duplicates"`
	CacheHits    int64             `json:"cache_hits"`
	Completed    int64             `json:"completed"`
	Expired      int64             `json:"expired"`
	ResponseTime ResponseTimeStats `json:"response_time"`
}

// ResponseTimeStats summarizes the recent response time window.
type ResponseTimeStats struct {
	Min   string `json:"min"`
	Max   string `json:"max"`
	Avg   string `json:"avg"`
	Count int    `json:"count"`
}

// GetSnapshot returns a snapshot of current statistics.
func (s *Stats) GetSnapshot() Snapshot {
	snapshot := Snapshot{
		TotalQueries: s.totalQueries.Load(),
		Malformed:    s.malformed.Load(),
		Duplicates:   s.duplicates.Load(),
		CacheHits:    s.cacheHits.Load(),
		Completed:    s.completed.Load(),
		Expired:      s.expired.Load(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responseTimes) > 0 {
		var sum time.Duration
		minTime := s.responseTimes[0]
		maxTime := s.responseTimes[0]
		for _, rt := range s.responseTimes {
			sum += rt
			if rt < minTime {
				minTime = rt
			}
			if rt > maxTime {
				maxTime = rt
			}
		}
		snapshot.ResponseTime = ResponseTimeStats{
			Min:   minTime.String(),
			Max:   maxTime.String(),
			Avg:   (sum / time.Duration(len(s.responseTimes))).String(),
			Count: len(s.responseTimes),
		}
	}
	return snapshot
}
