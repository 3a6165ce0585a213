package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"trade_sim/internal/book"
	"trade_sim/internal/cost"
	"trade_sim/internal/domain"
	"trade_sim/internal/engine"
	"trade_sim/internal/infra"
	"trade_sim/internal/infra/feed"
)

// FeedConnection is a streaming source of book messages for one (exchange, symbol).
type FeedConnection interface {
	Start(ctx context.Context, exchange, symbol string) error
	Stop()
	OnMessage(h feed.Handler)
	OnStateChange(f feed.StateFunc)
	RequestResync()
	State() domain.ConnState
	Dropped() uint64
}

// FeedFactory creates a fresh, unstarted feed.
type FeedFactory func() FeedConnection

// State is the simulator lifecycle state.
type State int32

const (
	StateActive State = iota
	StateSwitching
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateSwitching:
		return "SWITCHING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrClosed is returned by SwitchSymbol after Close.
var ErrClosed = errors.New("simulator closed")

// Options configures a Simulator.
type Options struct {
	NewFeed     FeedFactory
	Fees        *domain.FeeSchedule
	Book        book.Options
	Cost        cost.Params
	StatsWindow int
	// DumpDir, when set, receives a book state dump if processing panics.
	DumpDir string
}

// pipeline is one feed wired to one book. It is replaced whole on switch.
type pipeline struct {
	exchange string
	symbol   string
	feed     FeedConnection
	store    *book.Store
	perf     *infra.PerfTracker
}

// Simulator wires a feed to an order book and answers cost queries.
// Queries never take a lock shared with the book writer.
type Simulator struct {
	opts   Options
	engine *cost.Engine
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	switchMu sync.Mutex // serializes SwitchSymbol and Close
	state    atomic.Int32
	current  atomic.Pointer[pipeline]
}

// New creates a simulator with no active symbol. Call SwitchSymbol to start streaming.
func New(opts Options) *Simulator {
	if opts.StatsWindow <= 0 {
		opts.StatsWindow = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Simulator{
		opts:   opts,
		engine: cost.NewEngine(opts.Fees, opts.Cost),
		logger: slog.Default().With("module", "simulator"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// State returns the lifecycle state.
func (s *Simulator) State() State { return State(s.state.Load()) }

// SwitchSymbol stops the current feed, discards its book and starts a fresh
// pair for (exchange, symbol). Queries made while it runs get ErrNotReady;
// once it returns no query observes the previous symbol. Unknown exchanges or
// symbols are returned as non-retriable errors and leave no active symbol.
func (s *Simulator) SwitchSymbol(ctx context.Context, exchange, symbol string) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	if s.State() == StateClosed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state.Store(int32(StateSwitching))
	defer s.state.CompareAndSwap(int32(StateSwitching), int32(StateActive))

	if old := s.current.Swap(nil); old != nil {
		old.feed.Stop()
		s.logger.Info("Symbol deactivated", slog.String("exchange", old.exchange), slog.String("symbol", old.symbol))
	}

	p := s.newPipeline(exchange, symbol)
	if err := p.feed.Start(s.ctx, exchange, symbol); err != nil {
		p.feed.Stop()
		return fmt.Errorf("switch to %s/%s: %w", exchange, symbol, err)
	}
	s.current.Store(p)

	s.logger.Info("Symbol activated", slog.String("exchange", exchange), slog.String("symbol", symbol))
	return nil
}

func (s *Simulator) newPipeline(exchange, symbol string) *pipeline {
	store := book.NewStore(exchange, symbol, s.opts.Book)
	perf := infra.NewPerfTracker(s.opts.StatsWindow)
	seq := engine.NewSequencer(store, perf)
	if s.opts.DumpDir != "" {
		seq.SetDumpPath(filepath.Join(s.opts.DumpDir, fmt.Sprintf("panic_dump_%s_%s.json", exchange, symbol)))
	}

	f := s.opts.NewFeed()
	logger := s.logger.With("exchange", exchange, "symbol", symbol)
	f.OnMessage(seq.Handle)
	f.OnStateChange(func(st domain.ConnState) {
		logger.Info("Connection state changed", slog.String("state", st.String()))
	})
	seq.OnResync(f.RequestResync)

	return &pipeline{exchange: exchange, symbol: symbol, feed: f, store: store, perf: perf}
}

// active returns the live pipeline or the reason there is none.
func (s *Simulator) active() (*pipeline, error) {
	switch s.State() {
	case StateSwitching:
		return nil, domain.ErrNotReady
	case StateClosed:
		return nil, ErrClosed
	}
	p := s.current.Load()
	if p == nil {
		return nil, domain.ErrNoMarketData
	}
	return p, nil
}

// GetSnapshot returns the latest book snapshot of the active symbol.
func (s *Simulator) GetSnapshot() (*book.Snapshot, error) {
	p, err := s.active()
	if err != nil {
		return nil, err
	}
	snap := p.store.Snapshot()
	if snap == nil {
		return nil, domain.ErrNoMarketData
	}
	return snap, nil
}

// RunSimulation estimates the cost of req against the current book.
// Invalid requests are rejected before market data is consulted.
func (s *Simulator) RunSimulation(req domain.SimulationRequest) (domain.SimulationResult, error) {
	if err := req.Validate(); err != nil {
		return domain.SimulationResult{}, err
	}
	snap, err := s.GetSnapshot()
	if err != nil {
		return domain.SimulationResult{}, err
	}
	return s.engine.Estimate(req, snap, time.Now().UTC())
}

// GetPerformanceStats reports processing latency and feed health of the active symbol.
func (s *Simulator) GetPerformanceStats() domain.PerformanceStats {
	p := s.current.Load()
	if p == nil {
		return domain.PerformanceStats{ConnectionState: domain.ConnDisconnected}
	}
	perf := p.perf.Snapshot()
	return domain.PerformanceStats{
		AvgProcessingTimeMs: durationMs(perf.AvgLatency),
		MaxProcessingTimeMs: durationMs(perf.MaxLatency),
		MinProcessingTimeMs: durationMs(perf.MinLatency),
		MessageCount:        perf.Messages,
		RejectedCount:       perf.Rejected,
		DroppedMessageCount: p.feed.Dropped(),
		ConnectionState:     p.feed.State(),
		Exchange:            p.exchange,
		Symbol:              p.symbol,
	}
}

// Close stops the active feed. The simulator cannot be reused.
func (s *Simulator) Close() {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	if State(s.state.Swap(int32(StateClosed))) == StateClosed {
		return
	}
	if p := s.current.Swap(nil); p != nil {
		p.feed.Stop()
	}
	s.cancel()
	s.logger.Info("Simulator closed")
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
