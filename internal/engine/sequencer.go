package engine

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"

	"trade_sim/internal/book"
	"trade_sim/internal/domain"
	"trade_sim/internal/event"
	"trade_sim/internal/infra"
)

// Sequencer is the single writer of one order book. Handle must be called
// from one goroutine at a time, which the feed dispatcher guarantees.
type Sequencer struct {
	store *book.Store
	perf  *infra.PerfTracker

	// Boundary: asks the feed for a full snapshot after a crossed book
	onResync func()

	dumpPath string
	logger   *slog.Logger
}

// NewSequencer creates a sequencer applying messages to store and recording
// processing latency into perf.
func NewSequencer(store *book.Store, perf *infra.PerfTracker) *Sequencer {
	return &Sequencer{
		store:  store,
		perf:   perf,
		logger: slog.Default().With("module", "sequencer", "exchange", store.Exchange(), "symbol", store.Symbol()),
	}
}

// OnResync registers the callback invoked when the book needs a full snapshot.
func (s *Sequencer) OnResync(f func()) { s.onResync = f }

// SetDumpPath enables a JSON state dump when Handle panics.
func (s *Sequencer) SetDumpPath(path string) { s.dumpPath = path }

// Handle applies one message. Rejections are logged and counted, never fatal.
func (s *Sequencer) Handle(msg *event.BookMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r), slog.Int64("seq", msg.Sequence))
			if s.dumpPath != "" {
				s.DumpState(s.dumpPath)
			}
		}
	}()

	received := msg.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}

	err := s.store.Apply(msg)
	s.perf.Observe(time.Since(received))
	if err == nil {
		return
	}
	s.perf.RecordRejected()

	var iv *domain.InvariantViolation
	switch {
	case errors.As(err, &iv):
		s.logger.Warn("Crossed book rejected, requesting resync",
			slog.Int64("seq", iv.Sequence),
			slog.Float64("best_bid", iv.BestBid),
			slog.Float64("best_ask", iv.BestAsk),
		)
		if s.onResync != nil {
			s.onResync()
		}
	case errors.Is(err, domain.ErrStaleSequence), errors.Is(err, domain.ErrAwaitingSnapshot):
		s.logger.Debug("Update dropped", slog.Any("error", err))
	default:
		s.logger.Warn("Update rejected", slog.Any("error", err))
	}
}

// DumpState writes the current book to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	s.logger.Info("Dumping book state...", slog.String("file", filename))

	snap := s.store.Snapshot()
	data := struct {
		Exchange    string              `json:"exchange"`
		Symbol      string              `json:"symbol"`
		NeedsResync bool                `json:"needs_resync"`
		Sequence    int64               `json:"sequence"`
		Bids        []domain.PriceLevel `json:"bids"`
		Asks        []domain.PriceLevel `json:"asks"`
		Perf        infra.PerfSnapshot  `json:"perf"`
	}{
		Exchange:    s.store.Exchange(),
		Symbol:      s.store.Symbol(),
		NeedsResync: s.store.NeedsResync(),
		Perf:        s.perf.Snapshot(),
	}
	if snap != nil {
		data.Sequence, data.Bids, data.Asks = snap.Sequence, snap.Bids, snap.Asks
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	err = os.WriteFile(filename, b, 0644)
	if err != nil {
		s.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
