package solana

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrClientClosed is returned by a closed LogsClient.
var ErrClientClosed = errors.New("websocket client closed")

// WSConfig configures the logs subscription client.
type WSConfig struct {
	Commitment        string        // processed, confirmed or finalized
	ReconnectDelay    time.Duration // first delay before a reconnect attempt
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	SubscribeTimeout  time.Duration // wait for the subscription id
	BufferSize        int           // notifications buffered per subscription
}

// DefaultWSConfig returns the default client configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		Commitment:        "confirmed",
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		BufferSize:        10_000,
	}
}

type subscribeResult struct {
	id  int64
	err error
}

// LogsClient streams logsSubscribe notifications over a websocket and
// resubscribes every active filter after a reconnect.
type LogsClient struct {
	endpoint string
	cfg      WSConfig
	logger   *zap.SugaredLogger

	connMu sync.Mutex
	conn   *websocket.Conn

	closed       atomic.Bool
	reconnecting atomic.Bool
	reconnects   atomic.Int64
	requestID    atomic.Uint64

	subsMu  sync.RWMutex
	subs    map[int64]chan LogNotification
	filters map[int64]LogsFilter

	pendingMu sync.Mutex
	pending   map[uint64]chan subscribeResult

	done chan struct{}
	wg   sync.WaitGroup
}

var _ LogStream = (*LogsClient)(nil)

// NewLogsClient dials endpoint and starts the read and ping loops.
func NewLogsClient(ctx context.Context, endpoint string, cfg WSConfig, logger *zap.SugaredLogger) (*LogsClient, error) {
	def := DefaultWSConfig()
	if cfg.Commitment == "" {
		cfg.Commitment = def.Commitment
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = max(def.MaxReconnectDelay, cfg.ReconnectDelay)
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = def.SubscribeTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	c := &LogsClient{
		endpoint: endpoint,
		cfg:      cfg,
		logger:   logger,
		subs:     make(map[int64]chan LogNotification),
		filters:  make(map[int64]LogsFilter),
		pending:  make(map[uint64]chan subscribeResult),
		done:     make(chan struct{}),
	}
	if err := c.dial(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Reconnects returns the number of successful reconnects.
func (c *LogsClient) Reconnects() int64 {
	return c.reconnects.Load()
}

func (c *LogsClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "websocket dial")
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed.Load() {
		conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	return nil
}

// SubscribeLogs subscribes to logs matching filter. Notifications are never
// dropped: a full buffer blocks the reader until the consumer catches up.
func (c *LogsClient) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error) {
	id, err := c.subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}

	ch := make(chan LogNotification, c.cfg.BufferSize)
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if c.closed.Load() {
		close(ch)
		return nil, ErrClientClosed
	}
	c.subs[id] = ch
	c.filters[id] = filter
	return ch, nil
}

// subscribe sends logsSubscribe and waits for the subscription id.
func (c *LogsClient) subscribe(ctx context.Context, filter LogsFilter) (int64, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}

	var mentions map[string]interface{}
	if len(filter.Mentions) > 0 {
		mentions = map[string]interface{}{"mentions": filter.Mentions}
	} else {
		mentions = map[string]interface{}{"all": nil}
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params:  []interface{}{mentions, map[string]string{"commitment": c.cfg.Commitment}},
	}

	resultCh := make(chan subscribeResult, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = resultCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return 0, errors.Wrap(err, "write logsSubscribe")
	}

	timer := time.NewTimer(c.cfg.SubscribeTimeout)
	defer timer.Stop()
	select {
	case res := <-resultCh:
		return res.id, res.err
	case <-timer.C:
		return 0, errors.Errorf("logsSubscribe: no confirmation after %s", c.cfg.SubscribeTimeout)
	case <-c.done:
		return 0, ErrClientClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *LogsClient) write(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// Close closes the connection and every subscription channel.
func (c *LogsClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.subsMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
		delete(c.filters, id)
	}
	c.subsMu.Unlock()
	return nil
}

func (c *LogsClient) readLoop() {
	defer c.wg.Done()

	delay := c.cfg.ReconnectDelay
	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.sleep(100 * time.Millisecond) {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if !c.reconnecting.Swap(true) {
				c.logger.Warnw("websocket read failed, reconnecting", "error", err, "delay", delay)
				c.wg.Add(1)
				go c.reconnect(conn, delay)
				delay = min(delay*2, c.cfg.MaxReconnectDelay)
			}
			if !c.sleep(100 * time.Millisecond) {
				return
			}
			continue
		}

		delay = c.cfg.ReconnectDelay
		c.handleMessage(message)
	}
}

// sleep waits for d and reports false if the client closed meanwhile.
func (c *LogsClient) sleep(d time.Duration) bool {
	select {
	case <-c.done:
		return false
	case <-time.After(d):
		return true
	}
}

// reconnect replaces stale, retrying the dial with a doubling delay until it
// succeeds or the client is closed.
func (c *LogsClient) reconnect(stale *websocket.Conn, delay time.Duration) {
	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	if !c.sleep(delay) {
		return
	}

	c.connMu.Lock()
	if c.conn == stale {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.dial(ctx)
		cancel()
		if err == nil {
			break
		}
		if errors.Is(err, ErrClientClosed) {
			return
		}
		delay = min(delay*2, c.cfg.MaxReconnectDelay)
		c.logger.Warnw("websocket reconnect failed", "attempt", attempt, "retry_in", delay, "error", err)
		if !c.sleep(delay) {
			return
		}
	}
	c.reconnects.Add(1)
	c.logger.Infow("websocket reconnected", "endpoint", c.endpoint)
	c.resubscribeAll()
}

// resubscribeAll moves every active channel onto a fresh subscription id.
func (c *LogsClient) resubscribeAll() {
	c.subsMu.RLock()
	filters := make(map[int64]LogsFilter, len(c.filters))
	for id, f := range c.filters {
		filters[id] = f
	}
	c.subsMu.RUnlock()

	for oldID, filter := range filters {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SubscribeTimeout)
		newID, err := c.subscribe(ctx, filter)
		cancel()
		if err != nil {
			c.logger.Warnw("resubscribe failed", "subscription", oldID, "error", err)
			continue
		}

		c.subsMu.Lock()
		if ch, ok := c.subs[oldID]; ok {
			delete(c.subs, oldID)
			delete(c.filters, oldID)
			c.subs[newID] = ch
			c.filters[newID] = filter
		}
		c.subsMu.Unlock()
	}
}

func (c *LogsClient) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debugw("unparseable websocket message", "error", err)
		return
	}

	switch {
	case msg.Method == "logsNotification":
		c.handleLogsNotification(msg.Params)
	case msg.ID != 0:
		c.resolvePending(msg)
	}
}

func (c *LogsClient) resolvePending(msg wsMessage) {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.ID]
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	var res subscribeResult
	switch {
	case msg.Error != nil:
		res.err = msg.Error
		c.logger.Warnw("websocket error response", "code", msg.Error.Code, "message", msg.Error.Message)
	default:
		if err := json.Unmarshal(msg.Result, &res.id); err != nil {
			res.err = errors.Wrap(err, "decode subscription id")
		}
	}
	select {
	case ch <- res:
	default:
	}
}

func (c *LogsClient) handleLogsNotification(params *wsNotificationParams) {
	if params == nil {
		return
	}

	value := params.Result.Value
	n := LogNotification{
		Signature: value.Signature,
		Logs:      value.Logs,
		Err:       value.Err,
	}
	if params.Result.Context != nil {
		n.Slot = params.Result.Context.Slot
	}

	c.subsMu.RLock()
	ch, ok := c.subs[params.Subscription]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	select {
	case ch <- n:
	case <-c.done:
	}
}

func (c *LogsClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
				// A dead connection surfaces as a read error.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// wsMessage is any server frame: a response carries ID, a notification Method.
type wsMessage struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      uint64                `json:"id,omitempty"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Error   *RPCError             `json:"error,omitempty"`
	Method  string                `json:"method,omitempty"`
	Params  *wsNotificationParams `json:"params,omitempty"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot uint64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}
