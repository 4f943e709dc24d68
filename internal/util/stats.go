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

// Stats is the process-wide signaling/chat counter.
var Stats = &stats{}

type stats struct {
	SignalsSent atomic.Int64 // relay frames written
	SignalsRecv atomic.Int64 // relay frames accepted for this identity
	Fallbacks   atomic.Int64 // manual codes surfaced because the relay was down
	ChatSent    atomic.Int64 // chat messages written to a data channel
	ChatRecv    atomic.Int64 // chat messages delivered to the application
}

func (s *stats) AddSignalSent() { s.SignalsSent.Add(1) }
func (s *stats) AddSignalRecv() { s.SignalsRecv.Add(1) }
func (s *stats) AddFallback()   { s.Fallbacks.Add(1) }
func (s *stats) AddChatSent()   { s.ChatSent.Add(1) }
func (s *stats) AddChatRecv()   { s.ChatRecv.Add(1) }

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	signalsSent, signalsRecv, fallbacks, chatSent, chatRecv int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		signalsSent: s.SignalsSent.Load(),
		signalsRecv: s.SignalsRecv.Load(),
		fallbacks:   s.Fallbacks.Load(),
		chatSent:    s.ChatSent.Load(),
		chatRecv:    s.ChatRecv.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs counter deltas every
// interval, skipping quiet periods. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := Stats.snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(prev, cur))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns the per-interval deltas for display in the logger.
func formatStats(prev, cur snapshot) string {
	return fmt.Sprintf("Signal: %2d↑ %2d↓ | Chat: %2d↑ %2d↓ | Fallback: %2d",
		cur.signalsSent-prev.signalsSent,
		cur.signalsRecv-prev.signalsRecv,
		cur.chatSent-prev.chatSent,
		cur.chatRecv-prev.chatRecv,
		cur.fallbacks-prev.fallbacks,
	)
}
