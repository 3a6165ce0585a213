// Package feed streams normalized order book messages from a websocket source.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"trade_sim/internal/domain"
	"trade_sim/internal/event"
	"trade_sim/internal/infra"
)

// Handler consumes one decoded message. It runs on the dispatcher goroutine,
// in arrival order, and must not retain msg after returning.
type Handler func(msg *event.BookMessage)

// StateFunc observes connectivity transitions.
type StateFunc func(state domain.ConnState)

// Resolver maps (exchange, symbol) to a websocket URL.
type Resolver func(exchange, symbol string) (string, error)

// Options configures a Connection. Zero durations fall back to defaults.
type Options struct {
	Resolve          Resolver
	QueueSize        int
	SendTimeout      time.Duration
	DrainGrace       time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	Backoff          *infra.Backoff

	// ErrorBudget malformed messages per ErrorWindow are tolerated; beyond
	// that the connection is recycled.
	ErrorBudget int
	ErrorWindow time.Duration

	Header http.Header
}

// OptionsFromConfig builds Options from the feed settings.
func OptionsFromConfig(cfg *infra.Config) Options {
	f := cfg.Feed
	return Options{
		Resolve:          cfg.Endpoint,
		QueueSize:        f.QueueSize,
		SendTimeout:      f.SendTimeout(),
		DrainGrace:       f.DrainGrace(),
		HandshakeTimeout: f.HandshakeTimeout(),
		ReadTimeout:      f.ReadTimeout(),
		PingInterval:     f.PingInterval(),
		Backoff:          f.NewBackoff(),
		ErrorBudget:      f.ProtocolErrors.Budget,
		ErrorWindow:      time.Duration(f.ProtocolErrors.WindowMS) * time.Millisecond,
	}
}

func (o *Options) withDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 50 * time.Millisecond
	}
	if o.DrainGrace <= 0 {
		o.DrainGrace = 500 * time.Millisecond
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.Backoff == nil {
		o.Backoff = infra.NewBackoff(time.Second, 30*time.Second, 0.2)
	}
	if o.ErrorBudget <= 0 {
		o.ErrorBudget = 20
	}
	if o.ErrorWindow <= 0 {
		o.ErrorWindow = 10 * time.Second
	}
}

var errResync = errors.New("resync requested")

// Connection is a resilient websocket feed for one (exchange, symbol).
//
// A reader goroutine dials, decodes and enqueues messages into a bounded
// queue; a dispatcher goroutine hands them to the Handler. When the queue
// stays full for SendTimeout the message is dropped and counted. On
// disconnect the reader retries with exponential backoff until Stop.
type Connection struct {
	opts   Options
	logger *slog.Logger

	handler Handler
	onState StateFunc

	exchange string
	symbol   string
	url      string

	queue   chan *event.BookMessage
	abort   chan struct{} // closed when the drain grace expires
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	stop    sync.Once

	mu    sync.Mutex
	conn  *websocket.Conn
	epoch uint64 // successful connects so far, guarded by mu

	state     atomic.Int32
	dropped   atomic.Uint64
	malformed atomic.Uint64
	resync    atomic.Bool
	limiter   *rate.Limiter

	errMu sync.Mutex
	err   error
}

// New creates an idle connection.
func New(opts Options) *Connection {
	opts.withDefaults()
	return &Connection{
		opts:    opts,
		logger:  slog.Default().With("module", "feed"),
		queue:   make(chan *event.BookMessage, opts.QueueSize),
		abort:   make(chan struct{}),
		limiter: rate.NewLimiter(rate.Every(opts.ErrorWindow/time.Duration(opts.ErrorBudget)), opts.ErrorBudget),
	}
}

// OnMessage registers the downstream consumer. Call before Start.
func (c *Connection) OnMessage(h Handler) { c.handler = h }

// OnStateChange registers a connectivity observer. Call before Start.
func (c *Connection) OnStateChange(f StateFunc) { c.onState = f }

// State returns the current connectivity state.
func (c *Connection) State() domain.ConnState { return domain.ConnState(c.state.Load()) }

// Dropped returns the number of messages dropped under backpressure or discarded at Stop.
func (c *Connection) Dropped() uint64 { return c.dropped.Load() }

// Malformed returns the number of payloads that failed schema validation.
func (c *Connection) Malformed() uint64 { return c.malformed.Load() }

// Err returns the error that ended the retry loop, if any.
func (c *Connection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Start resolves the endpoint and makes the first connection attempt.
// Unknown exchanges or symbols, locally or as a 4xx handshake rejection by
// the source, are returned as non-retriable errors. Transient failures are
// retried in the background.
func (c *Connection) Start(ctx context.Context, exchange, symbol string) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("feed already started")
	}
	url, err := c.opts.Resolve(exchange, symbol)
	if err != nil {
		return err
	}
	c.exchange, c.symbol, c.url = exchange, symbol, url
	c.logger = c.logger.With("exchange", exchange, "symbol", symbol)

	ctx, c.cancel = context.WithCancel(ctx)

	failures := 0
	if err := c.connect(ctx); err != nil {
		if !domain.IsRetriable(err) {
			c.cancel()
			close(c.queue)
			return err
		}
		c.logger.Warn("Feed connection failed", slog.Any("error", err), slog.Int("retry", failures))
		failures = 1
	}

	c.wg.Add(2)
	go c.connectionLoop(ctx, failures)
	go c.dispatchLoop()
	return nil
}

// Stop closes the connection and cancels any pending retry. Queued messages
// keep being delivered for up to DrainGrace; the rest are discarded.
func (c *Connection) Stop() {
	c.stop.Do(func() {
		if !c.started.Load() || c.cancel == nil {
			return
		}
		c.cancel()
		c.closeConnection()
		grace := time.AfterFunc(c.opts.DrainGrace, func() { close(c.abort) })
		c.wg.Wait()
		grace.Stop()
		c.setState(domain.ConnDisconnected)
		c.logger.Info("Feed stopped", slog.Uint64("dropped", c.Dropped()))
	})
}

// RequestResync drops the current connection so the source resends a full
// snapshot on the next subscribe. The reconnect skips the backoff delay.
func (c *Connection) RequestResync() {
	c.resync.Store(true)
	c.closeConnection()
}

// connectionLoop handles reconnection with exponential backoff.
func (c *Connection) connectionLoop(ctx context.Context, failures int) {
	defer c.wg.Done()
	defer close(c.queue)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Feed panic recovered", slog.Any("panic", r))
		}
	}()

	for {
		if failures > 0 {
			delay := c.retryDelay(failures)
			c.logger.Info("Feed reconnecting", slog.Duration("delay", delay), slog.Int("retry", failures))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			return
		}

		if c.currentConn() == nil {
			if err := c.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				if !domain.IsRetriable(err) {
					c.logger.Error("Feed rejected by source, giving up", slog.Any("error", err))
					c.setErr(err)
					return
				}
				c.logger.Warn("Feed connection failed", slog.Any("error", err), slog.Int("retry", failures))
				failures++
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}

		// Connection successful, reset retry counter
		failures = 0
		err := c.readLoop(ctx)
		c.closeConnection()
		if ctx.Err() != nil {
			return
		}
		if c.resync.Swap(false) || errors.Is(err, errResync) {
			continue
		}
		c.logger.Warn("Feed disconnected", slog.Any("error", err))
		failures = 1
	}
}

// retryDelay is the wait before the next attempt after failures consecutive
// failures: min(base*2^failures, cap) with jitter.
func (c *Connection) retryDelay(failures int) time.Duration {
	return c.opts.Backoff.Delay(failures)
}

// connect dials the endpoint and publishes the connection.
func (c *Connection) connect(ctx context.Context) error {
	c.setState(domain.ConnConnecting)
	session := uuid.NewString()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, c.url, c.opts.Header)
	if err != nil {
		c.setState(domain.ConnDisconnected)
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return domain.NewFatalNetworkError("handshake",
				fmt.Errorf("%w: %s/%s rejected with HTTP %d", domain.ErrUnknownSymbol, c.exchange, c.symbol, resp.StatusCode))
		}
		return domain.NewNetworkError("dial", fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err))
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})

	// Stop may have run between the dial and here; it will not see this socket.
	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		conn.Close()
		c.setState(domain.ConnDisconnected)
		return err
	}
	c.conn = conn
	c.epoch++
	c.mu.Unlock()
	c.setState(domain.ConnConnected)

	c.logger.Info("Feed connected", slog.String("session", session), slog.String("url", c.url))
	return nil
}

// readLoop reads until the connection fails or ctx ends.
func (c *Connection) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn, epoch := c.conn, c.epoch
	c.mu.Unlock()
	if conn == nil {
		return errResync
	}

	// Unblocks ReadMessage when ctx ends.
	stopClose := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopClose()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.pingLoop(pingCtx, conn)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if c.resync.Load() {
				return errResync
			}
			return domain.NewNetworkError("read", err)
		}
		received := time.Now()

		msg := event.AcquireBookMessage()
		if err := event.Decode(payload, msg); err != nil {
			event.ReleaseBookMessage(msg)
			c.malformed.Add(1)
			c.logger.Debug("Feed message skipped", slog.Any("error", err))
			if !c.limiter.Allow() {
				c.logger.Warn("Feed protocol error budget exhausted, reconnecting",
					slog.Uint64("malformed", c.malformed.Load()))
				return domain.NewNetworkError("read", domain.NewProtocolError("error budget exhausted", err))
			}
			continue
		}
		msg.Exchange, msg.Symbol, msg.Epoch, msg.ReceivedAt = c.exchange, c.symbol, epoch, received

		if !c.enqueue(ctx, msg) && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// enqueue waits at most SendTimeout for queue space.
func (c *Connection) enqueue(ctx context.Context, msg *event.BookMessage) bool {
	select {
	case c.queue <- msg:
		return true
	default:
	}

	timer := time.NewTimer(c.opts.SendTimeout)
	defer timer.Stop()
	select {
	case c.queue <- msg:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}
	event.ReleaseBookMessage(msg)
	if n := c.dropped.Add(1); n&(n-1) == 0 {
		// Log at powers of two to avoid flooding.
		c.logger.Warn("Feed queue full, dropping data", slog.Uint64("dropped", n))
	}
	return false
}

// dispatchLoop delivers queued messages in order until the queue closes or
// the drain grace expires.
func (c *Connection) dispatchLoop() {
	defer c.wg.Done()
	for {
		// Expiry wins over pending messages.
		select {
		case <-c.abort:
			c.discard()
			return
		default:
		}

		select {
		case msg, ok := <-c.queue:
			if !ok {
				return
			}
			c.deliver(msg)
		case <-c.abort:
			c.discard()
			return
		}
	}
}

// discard releases everything left in the queue once it is closed.
func (c *Connection) discard() {
	discarded := 0
	for msg := range c.queue {
		event.ReleaseBookMessage(msg)
		discarded++
	}
	c.dropped.Add(uint64(discarded))
	if discarded > 0 {
		c.logger.Warn("Feed drain grace expired", slog.Int("discarded", discarded))
	}
}

func (c *Connection) deliver(msg *event.BookMessage) {
	defer event.ReleaseBookMessage(msg)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Feed handler panic recovered", slog.Any("panic", r))
		}
	}()
	if c.handler != nil {
		c.handler(msg)
	}
}

func (c *Connection) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Feed pingLoop panic recovered", slog.Any("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// WriteControl may run concurrently with ReadMessage.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.HandshakeTimeout)); err != nil {
				c.logger.Warn("Feed ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (c *Connection) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// closeConnection safely closes the websocket connection.
func (c *Connection) closeConnection() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
		c.setState(domain.ConnDisconnected)
	}
}

func (c *Connection) setState(s domain.ConnState) {
	if domain.ConnState(c.state.Swap(int32(s))) == s {
		return
	}
	c.logger.Debug("Feed state changed", slog.String("state", s.String()))
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Connection) setErr(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
}
