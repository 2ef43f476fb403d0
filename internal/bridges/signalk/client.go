package signalk

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for the stream connection.
const (
	// defaultConnectTimeout is the maximum time to wait for the upgrade.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout is the timeout for individual write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultPingInterval is how often protocol-level pings are sent.
	defaultPingInterval = 30 * time.Second

	// defaultPongTimeout is how long after a ping a pong may arrive.
	defaultPongTimeout = 10 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection attempts.
	defaultReconnectInterval = 1 * time.Second

	// maxReconnectInterval is the maximum delay between reconnection attempts.
	maxReconnectInterval = time.Minute

	// maxFrameSize caps inbound stream frames (1MB). A busy server's
	// largest legitimate frames are metadata bursts well under this.
	maxFrameSize = 1024 * 1024
)

// StreamConfig holds stream connection configuration.
type StreamConfig struct {
	// URL is the WebSocket stream endpoint, including any subscribe
	// query parameter ("ws://host:3000/signalk/v1/stream?subscribe=self").
	URL string

	// Token is an optional bearer token sent on the upgrade request.
	Token string

	// ConnectTimeout is the maximum time to wait for the upgrade.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 1 second.
	ReconnectInterval time.Duration

	// ReconnectMax caps the reconnection backoff. Default: 1 minute.
	ReconnectMax time.Duration

	// MaxAttempts limits consecutive reconnection attempts; 0 retries
	// forever.
	MaxAttempts int

	// PingInterval is how often pings are sent. Default: 30 seconds.
	PingInterval time.Duration

	// PongTimeout is how long after a ping a pong may arrive.
	// Default: 10 seconds.
	PongTimeout time.Duration
}

// StreamStats holds operational statistics.
type StreamStats struct {
	DeltasRx        uint64
	PutsTx          uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool // True if currently attempting to reconnect
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Streamer is the interface the bridge uses for testability.
// This allows mocking the stream client in tests.
type Streamer interface {
	Put(ctx context.Context, path string, value any) error
	SetOnDelta(callback func(*Delta))
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(error))
	IsConnected() bool
	Stats() StreamStats
	Close() error
}

// Ensure Client implements Streamer.
var _ Streamer = (*Client)(nil)

// Client maintains the WebSocket stream to a SignalK server.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The delta callback is invoked on the single read goroutine, so
//     deltas reach the stores in arrival order. Keep handlers fast.
//
// Auto-Reconnection:
//   - When the stream drops, the client automatically attempts to reconnect.
//   - Uses exponential backoff starting at ReconnectInterval (default 1s)
//     up to ReconnectMax (default 1min).
//   - The OnConnect callback runs before any frame from the new
//     connection is dispatched, so stores can be reset first.
//   - Reconnection stops only when Close() is called or MaxAttempts is
//     exhausted.
type Client struct {
	cfg StreamConfig

	// Connection state
	conn      *websocket.Conn
	connMu    sync.RWMutex
	connected bool

	// writeMu serializes writes; the websocket allows one concurrent writer.
	writeMu sync.Mutex

	// Reconnection state
	reconnecting   atomic.Bool  // True while reconnection is in progress
	reconnectCount atomic.Int32 // Number of consecutive reconnection attempts

	// Callbacks
	onDelta      func(*Delta)
	onConnect    func()
	onDisconnect func(error)
	callbackMu   sync.RWMutex

	// Pending PUT requests awaiting a response, keyed by request ID.
	pending   map[string]chan PutResponse
	pendingMu sync.Mutex

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	deltasRx        atomic.Uint64
	putsTx          atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64 // Successful reconnections
	lastActivity    atomic.Int64  // Unix timestamp
}

// Connect establishes the stream connection to a SignalK server.
//
// After the upgrade succeeds, it starts a goroutine to receive frames
// and another to send protocol-level pings. The server's hello frame is
// consumed by the read loop and logged.
//
// Parameters:
//   - ctx: Context for cancellation (used for the initial upgrade)
//   - cfg: Stream configuration
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If the upgrade fails
func Connect(ctx context.Context, cfg StreamConfig) (*Client, error) {
	// Apply defaults
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = maxReconnectInterval
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout == 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: stream URL is required", ErrConnectionFailed)
	}

	client := &Client{
		cfg:     cfg,
		pending: make(map[string]chan PutResponse),
		done:    newCloseOnce(),
	}

	conn, err := client.dial(ctx)
	if err != nil {
		return nil, err
	}

	client.installConn(conn)
	client.lastActivity.Store(time.Now().Unix())

	client.wg.Add(1)
	go client.readLoop()

	client.wg.Add(1)
	go client.pingLoop()

	return client, nil
}

// dial performs the WebSocket upgrade with timeout and optional auth.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}

	var header http.Header
	if c.cfg.Token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + c.cfg.Token}}
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: status %d: %w", ErrConnectionFailed, c.cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, c.cfg.URL, err)
	}
	return conn, nil
}

// installConn wires deadlines and handlers onto a fresh connection and
// marks the client connected.
func (c *Client) installConn(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)
	deadline := c.cfg.PingInterval + c.cfg.PongTimeout
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()
}

// currentConn returns the active connection, or nil when disconnected.
func (c *Client) currentConn() *websocket.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if !c.connected {
		return nil
	}
	return c.conn
}

// readLoop continuously reads frames from the stream.
// On connection loss, it automatically attempts reconnection with
// exponential backoff.
func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		conn := c.currentConn()
		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.handleDisconnect(err)
			if !c.reconnect() {
				return
			}
			continue
		}

		// Any inbound frame proves the connection is alive.
		//nolint:errcheck // Best-effort deadline reset
		conn.SetReadDeadline(time.Now().Add(c.cfg.PingInterval + c.cfg.PongTimeout))
		c.lastActivity.Store(time.Now().Unix())

		c.dispatchFrame(data)
	}
}

// dispatchFrame routes one inbound frame: PUT response, delta, or hello.
// Runs on the read goroutine; deltas therefore apply in arrival order.
func (c *Client) dispatchFrame(data []byte) {
	if isPutResponse(data) {
		c.resolvePut(data)
		return
	}

	if delta, err := ParseDelta(data); err == nil {
		c.deltasRx.Add(1)
		c.invokeOnDelta(delta)
		return
	}

	if hello, ok := ParseHello(data); ok {
		c.logInfo("stream hello",
			"server", hello.Name,
			"version", hello.Version,
			"self", hello.Self)
		return
	}

	c.errorsTotal.Add(1)
	c.logDebug("unrecognised stream frame", "size", len(data))
}

// invokeOnDelta calls the delta callback with panic recovery.
func (c *Client) invokeOnDelta(delta *Delta) {
	c.callbackMu.RLock()
	callback := c.onDelta
	c.callbackMu.RUnlock()

	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.errorsTotal.Add(1)
			c.logError("delta callback panic", fmt.Errorf("%v", r))
		}
	}()
	callback(delta)
}

// pingLoop sends protocol-level pings so half-dead connections are
// detected even when the subscription is quiet.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done.Done():
			return
		case <-ticker.C:
			conn := c.currentConn()
			if conn == nil {
				continue
			}
			c.writeMu.Lock()
			//nolint:errcheck // Best-effort deadline; ping failure surfaces in the read loop
			conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
			//nolint:errcheck // Ping failure surfaces as a read error
			conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
		}
	}
}

// handleDisconnect handles connection loss and notifies the callback.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if !wasConnected {
		return
	}

	c.errorsTotal.Add(1)
	c.logInfo("stream lost, will attempt reconnection", "error", err.Error())

	c.failPending(ErrNotConnected)

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// reconnect attempts to re-establish the stream with exponential backoff.
// Returns true if reconnection succeeded, false if shutdown was signalled
// or the attempt budget ran out.
func (c *Client) reconnect() bool {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return c.waitForReconnection()
	}
	defer c.reconnecting.Store(false)

	backoff := c.cfg.ReconnectInterval

	for {
		if c.isClosed() {
			return false
		}

		attempt := c.reconnectCount.Add(1)
		if c.cfg.MaxAttempts > 0 && int(attempt) > c.cfg.MaxAttempts {
			c.logError("reconnection attempts exhausted", fmt.Errorf("gave up after %d attempts", c.cfg.MaxAttempts))
			return false
		}
		c.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		c.closeOldConnection()

		conn, err := c.dial(context.Background())
		if err != nil {
			backoff = c.handleReconnectFailure(err, backoff)
			if backoff == 0 {
				return false // Shutdown signalled
			}
			continue
		}

		c.installConn(conn)
		c.finalizeReconnection()
		return true
	}
}

// waitForReconnection waits for another goroutine to complete reconnection.
func (c *Client) waitForReconnection() bool {
	for c.reconnecting.Load() && !c.isClosed() {
		time.Sleep(100 * time.Millisecond)
	}
	return !c.isClosed() && c.IsConnected()
}

// closeOldConnection closes the existing connection if any.
func (c *Client) closeOldConnection() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// handleReconnectFailure handles a failed reconnection attempt.
// Returns the new backoff duration, or 0 if shutdown was signalled.
func (c *Client) handleReconnectFailure(err error, backoff time.Duration) time.Duration {
	c.logError("reconnect failed", err)
	c.errorsTotal.Add(1)

	select {
	case <-c.done.Done():
		return 0 // Signal shutdown
	case <-time.After(backoff):
	}

	// Exponential backoff with cap
	newBackoff := time.Duration(float64(backoff) * 1.5)
	if newBackoff > c.cfg.ReconnectMax {
		newBackoff = c.cfg.ReconnectMax
	}
	return newBackoff
}

// finalizeReconnection resets counters and runs the connect callback.
// The callback runs here, before the read loop resumes, so stores reset
// before any frame from the new connection is dispatched.
func (c *Client) finalizeReconnection() {
	c.reconnectCount.Store(0)
	c.reconnectsTotal.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close gracefully closes the stream.
//
// It signals the read loop to stop, fails any pending PUT requests, and
// closes the underlying connection. Safe to call multiple times.
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	conn := c.conn
	c.connMu.Unlock()

	c.failPending(ErrNotConnected)

	// Closing the connection unblocks any pending read.
	if conn != nil {
		conn.Close()
	}

	c.wg.Wait()

	c.logInfo("stream closed")
	return nil
}

// SetOnDelta sets the callback for received delta messages.
//
// The callback is invoked on the read goroutine in arrival order.
// Panics in the callback are recovered and logged.
func (c *Client) SetOnDelta(callback func(*Delta)) {
	c.callbackMu.Lock()
	c.onDelta = callback
	c.callbackMu.Unlock()
}

// SetOnConnect sets the callback invoked after each successful
// reconnection, before any frame from the new connection is dispatched.
// It does not fire for the initial connection made by Connect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets the callback invoked when the stream drops.
func (c *Client) SetOnDisconnect(callback func(error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if the stream is up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() StreamStats {
	return StreamStats{
		DeltasRx:        c.deltasRx.Load(),
		PutsTx:          c.putsTx.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

// HealthCheck verifies the stream is up.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logDebug logs a debug message if logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
