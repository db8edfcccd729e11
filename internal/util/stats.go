package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide relay counter set.
var Stats = &stats{}

type stats struct {
	TotalConns  atomic.Int64 // cumulative count of accepted connections
	ClosedConns atomic.Int64 // cumulative count of closed connections
	Relayed     atomic.Int64 // frames enqueued to a peer
	BytesRelay  atomic.Int64 // bytes enqueued to a peer
	Malformed   atomic.Int64 // inbound frames rejected by the parser
	Dropped     atomic.Int64 // frames lost to a full send queue
	Rejected    atomic.Int64 // connections refused (room full)
}

func (s *stats) AddConn()         { s.TotalConns.Add(1) }
func (s *stats) RemoveConn()      { s.ClosedConns.Add(1) }
func (s *stats) AddRelayed(n int) { s.Relayed.Add(1); s.BytesRelay.Add(int64(n)) }
func (s *stats) AddMalformed()    { s.Malformed.Add(1) }
func (s *stats) AddDropped()      { s.Dropped.Add(1) }
func (s *stats) AddRejected()     { s.Rejected.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs relay statistics every
// interval. Nothing is logged for an interval without activity. It stops
// when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := takeSnapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur.delta(prev), interval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	total, closed, relayed, bytes, malformed, dropped int64
}

func takeSnapshot() snapshot {
	return snapshot{
		total:     Stats.TotalConns.Load(),
		closed:    Stats.ClosedConns.Load(),
		relayed:   Stats.Relayed.Load(),
		bytes:     Stats.BytesRelay.Load(),
		malformed: Stats.Malformed.Load(),
		dropped:   Stats.Dropped.Load(),
	}
}

func (s snapshot) delta(prev snapshot) snapshot {
	return snapshot{
		total:     s.total - prev.total,
		closed:    s.closed - prev.closed,
		relayed:   s.relayed - prev.relayed,
		bytes:     s.bytes - prev.bytes,
		malformed: s.malformed - prev.malformed,
		dropped:   s.dropped - prev.dropped,
	}
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one interval's delta for the logger.
func formatStats(d snapshot, interval time.Duration) string {
	rate := float64(d.bytes) / interval.Seconds()
	return fmt.Sprintf("Relay: %s/s | Msg: %3d | Conn: %2d↑ %2d↓ | Bad: %d | Drop: %d",
		formatBytes(rate),
		d.relayed,
		d.total,
		d.closed,
		d.malformed,
		d.dropped,
	)
}
