package book

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/event"
)

// Options sizes a Store.
type Options struct {
	MaxLevels   int // per side; 0 keeps every level
	HistorySize int // PriceSample ring capacity
}

// Store is the single-writer order book for one (exchange, symbol).
// Apply must be called by one logical writer; Snapshot and the query
// methods are safe from any goroutine and never block the writer.
type Store struct {
	exchange string
	symbol   string
	opts     Options

	current atomic.Pointer[Snapshot]
	resync  atomic.Bool

	writeMu sync.Mutex // serializes Apply even if a caller misbehaves
	history *history
	epoch   uint64 // connection epoch of the published book, guarded by writeMu
}

// NewStore creates an empty store awaiting its first full snapshot.
func NewStore(exchange, symbol string, opts Options) *Store {
	s := &Store{
		exchange: exchange,
		symbol:   symbol,
		opts:     opts,
		history:  newHistory(opts.HistorySize),
	}
	s.resync.Store(true)
	return s
}

// Exchange returns the exchange this store tracks.
func (s *Store) Exchange() string { return s.exchange }

// Symbol returns the symbol this store tracks.
func (s *Store) Symbol() string { return s.symbol }

// Snapshot returns the latest published snapshot, or nil before the first
// accepted full snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// NeedsResync reports whether deltas are being refused until a full snapshot arrives.
func (s *Store) NeedsResync() bool {
	return s.resync.Load()
}

// LiquidityAtLevel walks the current snapshot. See Snapshot.LiquidityAtLevel.
func (s *Store) LiquidityAtLevel(usdAmount float64, side domain.Side) Liquidity {
	return s.Snapshot().LiquidityAtLevel(usdAmount, side)
}

// Volatility over the newest window samples of the current snapshot.
func (s *Store) Volatility(window int) float64 {
	return s.Snapshot().Volatility(window)
}

// Apply validates msg and, when accepted, atomically publishes a new snapshot.
//
// Rejections leave the published snapshot untouched:
//   - sequence not newer than the current one (ErrStaleSequence)
//   - delta before any full snapshot or after a crossed book (ErrAwaitingSnapshot)
//   - resulting bestBid >= bestAsk (*domain.InvariantViolation); deltas are
//     then refused until a full snapshot resyncs the book
//
// Messages from an older connection epoch than the published book are stale.
// A full snapshot from a newer epoch is accepted whatever its sequence, since
// a reconnected source may restart numbering. Within one epoch a snapshot
// must still be newer than the book.
func (s *Store) Apply(msg *event.BookMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.current.Load()
	awaiting := s.resync.Load()

	seq := msg.Sequence
	if !msg.HasSequence {
		seq = 1
		if cur != nil {
			seq = cur.Sequence + 1
		}
	}

	if msg.Kind == event.KindDelta && (awaiting || cur == nil) {
		return fmt.Errorf("seq %d: %w", seq, domain.ErrAwaitingSnapshot)
	}
	if cur != nil && msg.Epoch < s.epoch {
		return fmt.Errorf("epoch %d < %d: %w", msg.Epoch, s.epoch, domain.ErrStaleSequence)
	}
	newConn := cur != nil && msg.Epoch > s.epoch
	if cur != nil && seq <= cur.Sequence && !(newConn && msg.Kind == event.KindSnapshot) {
		return fmt.Errorf("seq %d <= %d: %w", seq, cur.Sequence, domain.ErrStaleSequence)
	}

	var bids, asks []domain.PriceLevel
	changed := true
	switch msg.Kind {
	case event.KindSnapshot:
		var err error
		if bids, err = buildLadder(msg.Bids, true, s.opts.MaxLevels); err != nil {
			return err
		}
		if asks, err = buildLadder(msg.Asks, false, s.opts.MaxLevels); err != nil {
			return err
		}
	case event.KindDelta:
		var bidChanged, askChanged bool
		bids, bidChanged = applyDelta(cur.Bids, msg.Bids, true, s.opts.MaxLevels)
		asks, askChanged = applyDelta(cur.Asks, msg.Asks, false, s.opts.MaxLevels)
		changed = bidChanged || askChanged
	default:
		return domain.NewProtocolError(fmt.Sprintf("unknown message kind %d", msg.Kind), nil)
	}

	if len(bids) > 0 && len(asks) > 0 && bids[0].Price >= asks[0].Price {
		s.resync.Store(true)
		return &domain.InvariantViolation{Sequence: seq, BestBid: bids[0].Price, BestAsk: asks[0].Price}
	}

	ts := receiveTime(msg)
	next := &Snapshot{
		Exchange:  s.exchange,
		Symbol:    s.symbol,
		Bids:      bids,
		Asks:      asks,
		Sequence:  seq,
		Timestamp: ts,
	}

	if changed && len(bids) > 0 && len(asks) > 0 {
		mid := (bids[0].Price + asks[0].Price) / 2
		s.history.push(PriceSample{
			Timestamp:    ts,
			Mid:          mid,
			Spread:       asks[0].Price - bids[0].Price,
			NearDepthUSD: nearTouchUSD(bids, mid, true) + nearTouchUSD(asks, mid, false),
		})
	}
	next.history = s.history.view()

	s.current.Store(next)
	s.epoch = msg.Epoch
	if msg.Kind == event.KindSnapshot {
		s.resync.Store(false)
	}
	return nil
}

// applyDelta returns cur unchanged (shared) when the delta is a no-op.
func applyDelta(cur, levels []domain.PriceLevel, desc bool, maxLevels int) ([]domain.PriceLevel, bool) {
	if len(levels) == 0 {
		return cur, false
	}
	out := cloneLadder(cur, len(levels))
	changed := false
	for _, lvl := range levels {
		var c bool
		out, c = applyLevel(out, lvl, desc)
		changed = changed || c
	}
	if !changed {
		return cur, false
	}
	return trim(out, maxLevels), true
}

func nearTouchUSD(ladder []domain.PriceLevel, mid float64, desc bool) float64 {
	band := mid * nearTouchBand
	var sum float64
	for _, lvl := range ladder {
		if desc && lvl.Price < mid-band || !desc && lvl.Price > mid+band {
			break
		}
		sum += lvl.Notional()
	}
	return sum
}

func receiveTime(msg *event.BookMessage) time.Time {
	if msg.TimestampMs > 0 {
		return time.UnixMilli(msg.TimestampMs).UTC()
	}
	if !msg.ReceivedAt.IsZero() {
		return msg.ReceivedAt
	}
	return time.Now().UTC()
}
