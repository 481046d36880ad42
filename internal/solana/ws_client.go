package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff between attempts.
	MaxReconnectDelay time.Duration
	// MaxReconnectAttempts bounds consecutive failed reconnects before the
	// client gives up and surfaces a fatal error. A successful reconnect
	// resets the counter.
	MaxReconnectAttempts int
	// PingInterval is the keep-alive ping cadence.
	PingInterval time.Duration
	// ReadTimeout is the per-message read deadline.
	ReadTimeout time.Duration
	// WriteTimeout is the per-message write deadline.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// Commitment for account subscriptions.
	Commitment string
	// OnReconnect is called after each reconnect attempt starts; attempt is
	// 1-based. Optional.
	OnReconnect func(attempt int)
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:       1 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		PingInterval:         30 * time.Second,
		ReadTimeout:          60 * time.Second,
		WriteTimeout:         10 * time.Second,
		SubscribeTimeout:     30 * time.Second,
		Commitment:           DefaultCommitment,
	}
}

// WSClientImpl implements WSClient using gorilla/websocket. One connection
// carries every account subscription; notifications from all of them funnel
// into a single shared channel.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// watch maps pubkey to subscription id; subs is the reverse map used to
	// route notifications.
	watch   map[string]int64
	subs    map[int64]string
	watchMu sync.RWMutex

	// pendingReqs maps request id to the waiter awaiting its result.
	pendingReqs   map[uint64]pendingReq
	pendingReqsMu sync.Mutex

	notifCh chan AccountNotification
	fatalCh chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWSClient connects to the endpoint and starts the read and ping loops.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Commitment == "" {
		cfg.Commitment = DefaultCommitment
	}

	c := &WSClientImpl{
		endpoint:    endpoint,
		config:      cfg,
		watch:       make(map[string]int64),
		subs:        make(map[int64]string),
		pendingReqs: make(map[uint64]pendingReq),
		notifCh:     make(chan AccountNotification, 10000),
		fatalCh:     make(chan error, 1),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes the WebSocket connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Watch subscribes to account updates for the given pubkeys. Already-watched
// pubkeys are skipped. The subID mapping is registered by the read loop
// before it dispatches any later frame, so no notification can slip past.
func (c *WSClientImpl) Watch(ctx context.Context, pubkeys ...string) error {
	for _, pk := range pubkeys {
		c.watchMu.RLock()
		_, exists := c.watch[pk]
		c.watchMu.RUnlock()
		if exists {
			continue
		}

		if _, err := c.subscribeAccount(ctx, pk); err != nil {
			return fmt.Errorf("watch %s: %w", pk, err)
		}
	}
	return nil
}

// Unwatch cancels the subscriptions for the given pubkeys. Unknown pubkeys
// are skipped.
func (c *WSClientImpl) Unwatch(ctx context.Context, pubkeys ...string) error {
	for _, pk := range pubkeys {
		c.watchMu.Lock()
		subID, exists := c.watch[pk]
		if exists {
			delete(c.watch, pk)
			delete(c.subs, subID)
		}
		c.watchMu.Unlock()
		if !exists {
			continue
		}

		// Mapping is already gone, so a failed unsubscribe only leaves a
		// dangling server-side subscription whose notifications we drop.
		if err := c.unsubscribeAccount(ctx, subID); err != nil {
			return fmt.Errorf("unwatch %s: %w", pk, err)
		}
	}
	return nil
}

// Watched returns the current watch set.
func (c *WSClientImpl) Watched() []string {
	c.watchMu.RLock()
	defer c.watchMu.RUnlock()
	out := make([]string, 0, len(c.watch))
	for pk := range c.watch {
		out = append(out, pk)
	}
	return out
}

// Notifications returns the shared account update channel.
func (c *WSClientImpl) Notifications() <-chan AccountNotification {
	return c.notifCh
}

// Fatal returns the channel surfacing reconnect exhaustion.
func (c *WSClientImpl) Fatal() <-chan error {
	return c.fatalCh
}

// Close closes the WebSocket connection and all channels.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.pendingReqsMu.Lock()
	for id, pr := range c.pendingReqs {
		close(pr.ch)
		delete(c.pendingReqs, id)
	}
	c.pendingReqsMu.Unlock()

	c.wg.Wait()
	close(c.notifCh)
	return nil
}

// subscribeAccount issues accountSubscribe and waits for the subscription id.
func (c *WSClientImpl) subscribeAccount(ctx context.Context, pubkey string) (int64, error) {
	raw, err := c.request(ctx, "accountSubscribe", []interface{}{
		pubkey,
		map[string]string{"encoding": "base64", "commitment": c.config.Commitment},
	}, pubkey)
	if err != nil {
		return 0, err
	}
	var subID int64
	if err := json.Unmarshal(raw, &subID); err != nil {
		return 0, fmt.Errorf("decode subscription id: %w", err)
	}
	return subID, nil
}

// unsubscribeAccount issues accountUnsubscribe for a subscription id.
func (c *WSClientImpl) unsubscribeAccount(ctx context.Context, subID int64) error {
	raw, err := c.request(ctx, "accountUnsubscribe", []interface{}{subID}, "")
	if err != nil {
		return err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return fmt.Errorf("decode unsubscribe result: %w", err)
	}
	if !ok {
		return fmt.Errorf("unsubscribe %d rejected", subID)
	}
	return nil
}

// request writes one JSON-RPC request and waits for its response. A non-empty
// subscribe pubkey tells the read loop to register the subscription mapping
// the moment the confirmation arrives.
func (c *WSClientImpl) request(ctx context.Context, method string, params []interface{}, subscribe string) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{JSONRPC: "2.0", ID: reqID, Method: method, Params: params}

	resultCh := make(chan wsResult, 1)
	c.pendingReqsMu.Lock()
	c.pendingReqs[reqID] = pendingReq{ch: resultCh, pubkey: subscribe}
	c.pendingReqsMu.Unlock()

	cleanup := func() {
		c.pendingReqsMu.Lock()
		delete(c.pendingReqs, reqID)
		c.pendingReqsMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		cleanup()
		return nil, fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case res, ok := <-resultCh:
		if !ok {
			return nil, fmt.Errorf("client closed")
		}
		if res.err != nil {
			return nil, fmt.Errorf("%s: %w", method, res.err)
		}
		return res.raw, nil
	case <-time.After(c.config.SubscribeTimeout):
		cleanup()
		return nil, fmt.Errorf("%s timeout after %v", method, c.config.SubscribeTimeout)
	case <-c.done:
		return nil, fmt.Errorf("client closed")
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

// wsResult carries one request's outcome from the read loop to its waiter.
type wsResult struct {
	raw json.RawMessage
	err error
}

// pendingReq is one in-flight request. pubkey is set for accountSubscribe so
// the read loop can register the subscription before dispatching more frames.
type pendingReq struct {
	ch     chan wsResult
	pubkey string
}

// readLoop reads messages and dispatches them; on read errors it reconnects
// with exponential backoff, surfacing a fatal error once the attempt budget
// is exhausted.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if !c.reconnect() {
				return
			}
			continue
		}

		c.handleMessage(message)
	}
}

// reconnect re-dials and resubscribes the whole watch set. Returns false
// once the attempt budget is exhausted, after surfacing the fatal error.
func (c *WSClientImpl) reconnect() bool {
	delay := c.config.ReconnectDelay

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	for attempt := 1; attempt <= c.config.MaxReconnectAttempts; attempt++ {
		if c.config.OnReconnect != nil {
			c.config.OnReconnect(attempt)
		}

		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.connect(ctx)
		cancel()
		if err != nil {
			continue
		}

		if err := c.resubscribeAll(); err != nil {
			// Resubscribe failure means the fresh connection is already
			// broken; burn an attempt and retry.
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()
			continue
		}
		return true
	}

	c.surfaceFatal(fmt.Errorf("websocket reconnect exhausted after %d attempts", c.config.MaxReconnectAttempts))
	return false
}

// resubscribeAll re-issues accountSubscribe for every watched pubkey and
// swaps in the new subscription ids.
func (c *WSClientImpl) resubscribeAll() error {
	c.watchMu.RLock()
	pubkeys := make([]string, 0, len(c.watch))
	for pk := range c.watch {
		pubkeys = append(pubkeys, pk)
	}
	c.watchMu.RUnlock()

	for _, pk := range pubkeys {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.SubscribeTimeout)
		subID, err := c.subscribeAccountDirect(ctx, pk)
		cancel()
		if err != nil {
			return fmt.Errorf("resubscribe %s: %w", pk, err)
		}

		c.registerSub(pk, subID)
	}
	return nil
}

// registerSub records a pubkey's subscription id, replacing any stale one.
func (c *WSClientImpl) registerSub(pubkey string, subID int64) {
	c.watchMu.Lock()
	if old, ok := c.watch[pubkey]; ok {
		delete(c.subs, old)
	}
	c.watch[pubkey] = subID
	c.subs[subID] = pubkey
	c.watchMu.Unlock()
}

// subscribeAccountDirect performs a subscribe with its own reader: used
// during reconnect while readLoop is parked inside reconnect() and cannot
// dispatch responses.
func (c *WSClientImpl) subscribeAccountDirect(ctx context.Context, pubkey string) (int64, error) {
	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "accountSubscribe",
		Params: []interface{}{
			pubkey,
			map[string]string{"encoding": "base64", "commitment": c.config.Commitment},
		},
	}

	c.connMu.Lock()
	conn := c.conn
	if conn == nil {
		c.connMu.Unlock()
		return 0, fmt.Errorf("not connected")
	}
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := conn.WriteJSON(req)
	c.connMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.SubscribeTimeout)
	}

	// Read inline until our confirmation shows up; notifications that
	// arrive in between are dispatched as usual.
	for {
		conn.SetReadDeadline(deadline)
		_, message, err := conn.ReadMessage()
		if err != nil {
			return 0, fmt.Errorf("read subscribe response: %w", err)
		}

		var resp struct {
			ID     uint64          `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(message, &resp); err == nil && resp.ID == reqID {
			if resp.Error != nil {
				return 0, fmt.Errorf("subscribe error %d: %s", resp.Error.Code, resp.Error.Message)
			}
			var subID int64
			if err := json.Unmarshal(resp.Result, &subID); err != nil {
				return 0, fmt.Errorf("decode subscription id: %w", err)
			}
			return subID, nil
		}

		c.handleMessage(message)
	}
}

// surfaceFatal delivers the terminal error once.
func (c *WSClientImpl) surfaceFatal(err error) {
	select {
	case c.fatalCh <- err:
	default:
	}
}

// handleMessage routes one inbound frame: request responses go to their
// pending channel, account notifications to the shared stream.
func (c *WSClientImpl) handleMessage(message []byte) {
	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "accountNotification" {
		c.handleAccountNotification(&notif)
		return
	}

	var resp struct {
		ID     uint64          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(message, &resp); err != nil || resp.ID == 0 {
		return
	}

	c.pendingReqsMu.Lock()
	pr, ok := c.pendingReqs[resp.ID]
	if ok {
		delete(c.pendingReqs, resp.ID)
	}
	c.pendingReqsMu.Unlock()
	if !ok {
		return
	}

	if resp.Error != nil {
		pr.ch <- wsResult{err: fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)}
		return
	}

	if pr.pubkey != "" {
		var subID int64
		if err := json.Unmarshal(resp.Result, &subID); err != nil {
			pr.ch <- wsResult{err: fmt.Errorf("decode subscription id: %w", err)}
			return
		}
		c.registerSub(pr.pubkey, subID)
	}
	pr.ch <- wsResult{raw: resp.Result}
}

// handleAccountNotification dispatches one account update.
func (c *WSClientImpl) handleAccountNotification(notif *wsNotification) {
	if notif.Params == nil {
		return
	}

	subID := notif.Params.Subscription
	c.watchMu.RLock()
	pubkey, ok := c.subs[subID]
	c.watchMu.RUnlock()
	if !ok {
		return // unsubscribed or superseded by a reconnect
	}

	value := notif.Params.Result.Value
	update := AccountNotification{
		Pubkey:   pubkey,
		Lamports: value.Lamports,
		Owner:    value.Owner,
	}
	if notif.Params.Result.Context != nil {
		update.Slot = notif.Params.Result.Context.Slot
	}
	if len(value.Data) >= 1 {
		if decoded, err := base64.StdEncoding.DecodeString(value.Data[0]); err == nil {
			update.Data = decoded
		}
	}

	// Block until the consumer takes it; never drop events.
	select {
	case c.notifCh <- update:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext     `json:"context"`
	Value   wsAccountValue `json:"value"`
}

type wsContext struct {
	Slot uint64 `json:"slot"`
}

type wsAccountValue struct {
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Data       []string `json:"data"` // [base64_data, encoding]
	Executable bool     `json:"executable"`
	RentEpoch  uint64   `json:"rentEpoch"`
}

// Verify interface compliance at compile time.
var _ WSClient = (*WSClientImpl)(nil)
