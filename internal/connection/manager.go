package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/buffer"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/model"
)

const (
	// deliveryQueueCapacity is the initial size of the handler delivery queue.
	deliveryQueueCapacity = 256

	// handlerCloseGrace bounds how long Close waits for queued events while a
	// handler is running, since that handler may be the caller.
	handlerCloseGrace = 500 * time.Millisecond
)

// Manager owns the controller connection, request correlation and
// subscriptions. All methods are safe for concurrent use.
type Manager struct {
	cfg    ManagerConfig
	wsURL  string
	logger *slog.Logger

	// newClient builds the transport for each connection attempt.
	newClient func(cfg ClientConfig, logger *slog.Logger) Client

	ctx    context.Context // Lifetime of the manager; reconnect dials use it
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	client         Client
	connDone       chan struct{} // Closed when the current connection is torn down
	gen            uint64        // Connection attempt counter
	seq            int64         // Next SequenceId
	pending        map[int64]*pendingCall
	subs           map[string]ChangeHandler
	backoff        *Backoff
	reconnectTimer *time.Timer
	reconnects     int

	events      *buffer.Growable[delivery]
	deliverDone chan struct{}
	delivered   atomic.Int64
	dropped     atomic.Int64
	inHandler   atomic.Bool
}

// pendingCall is a single-use continuation for one request.
type pendingCall struct {
	done chan callResult // buffered(1), written exactly once
}

type callResult struct {
	value json.RawMessage
	err   error
}

type delivery struct {
	handler ChangeHandler
	change  model.ValueChange
}

// NewManager creates a Connection Manager for the controller at cfg.URL.
// It does not connect; call Connect.
func NewManager(cfg ManagerConfig, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	wsURL, err := WebSocketURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:       cfg,
		wsURL:     wsURL,
		logger:    logger.With("component", "connection"),
		newClient: NewClient,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDisconnected,
		seq:       1,
		pending:   make(map[int64]*pendingCall),
		subs:      make(map[string]ChangeHandler),
		backoff: NewBackoff(BackoffConfig{
			Initial: cfg.ReconnectBaseDelay,
			Max:     cfg.ReconnectMaxDelay,
			Jitter:  cfg.ReconnectJitter,
		}),
		events:      buffer.NewGrowable[delivery](deliveryQueueCapacity),
		deliverDone: make(chan struct{}),
	}

	go m.deliverLoop()

	return m, nil
}

// URL returns the derived WebSocket endpoint.
func (m *Manager) URL() string {
	return m.wsURL
}

// Connect opens the connection. It is a no-op while Open or Connecting.
// A failed attempt leaves the manager Disconnected with a reconnect scheduled,
// except for a missing token, which no retry can fix.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateOpen, StateConnecting:
		m.mu.Unlock()
		return nil
	case StateClosing, StateClosed:
		m.mu.Unlock()
		return ErrClosed
	}

	m.resetConnectionStateLocked(ErrConnectionReset)
	m.stopReconnectTimerLocked()
	m.state = StateConnecting
	m.gen++
	gen := m.gen

	clientCfg := m.cfg.Client
	clientCfg.URL = m.wsURL
	clientCfg.Token = m.cfg.Token
	c := m.newClient(clientCfg, m.logger)
	m.mu.Unlock()

	m.logger.Debug("connecting", "url", m.wsURL, "attempt", m.backoff.Attempts())

	err := c.Connect(ctx)

	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		// Close ran while dialing.
		m.mu.Unlock()
		if err == nil {
			c.Close()
		}
		return ErrClosed
	}

	if err != nil {
		m.state = StateDisconnected
		if !errors.Is(err, ErrMissingToken) {
			m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
		return fmt.Errorf("connect %s: %w", m.wsURL, err)
	}

	m.client = c
	m.connDone = make(chan struct{})
	m.state = StateOpen
	m.backoff.Reset()
	m.resubscribeAllLocked()
	done := m.connDone
	m.mu.Unlock()

	go m.readLoop(c, gen, done)

	m.logger.Info("connected", "url", m.wsURL)
	return nil
}

// Call sends method with args and waits for the matching Callback reply,
// returning its first argument. It fails with ErrNotConnected, without
// sending anything, unless the connection is Open. ctx is the only deadline;
// a call in flight when the connection drops fails with ErrConnectionReset.
func (m *Manager) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	m.mu.Lock()
	id, pc, err := m.sendLocked(method, args)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case res := <-pc.done:
		return res.value, res.err
	case <-ctx.Done():
		m.mu.Lock()
		if m.pending[id] == pc {
			delete(m.pending, id)
		}
		m.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Subscribe registers handler for instanceID, replacing any previous one.
// While Open it also registers the instance with the controller right away.
func (m *Manager) Subscribe(instanceID string, handler ChangeHandler) error {
	if instanceID == "" || handler == nil {
		return ErrInvalidSubscription
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.subs[instanceID] = handler
	if m.state == StateOpen {
		m.callAsyncLocked(MethodRegisterValuesChanged, registerArgs(true, []string{instanceID}))
	}
	return nil
}

// Unsubscribe removes the subscription for instanceID. While Open it also
// deregisters the instance, best effort.
func (m *Manager) Unsubscribe(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[instanceID]; !ok {
		return
	}
	delete(m.subs, instanceID)
	if m.state == StateOpen {
		m.callAsyncLocked(MethodRegisterValuesChanged, registerArgs(false, []string{instanceID}))
	}
}

// Subscriptions returns the subscribed instance ids, sorted.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptionIDsLocked()
}

// Close shuts the manager down for good: the reconnect timer is cancelled,
// outstanding calls fail with ErrClosed and queued events are delivered
// before it returns. While a handler is running Close waits at most
// handlerCloseGrace for the queue, so a handler may call it.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosing || m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosing
	m.stopReconnectTimerLocked()
	m.cancel()

	c := m.client
	m.client = nil
	if m.connDone != nil {
		close(m.connDone)
		m.connDone = nil
	}
	m.resetConnectionStateLocked(ErrClosed)
	m.mu.Unlock()

	var err error
	if c != nil {
		err = c.Close()
	}

	m.events.Close()
	if m.inHandler.Load() {
		select {
		case <-m.deliverDone:
		case <-time.After(handlerCloseGrace):
			m.logger.Debug("close called during handler, not waiting for delivery queue")
		}
	} else {
		<-m.deliverDone
	}

	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()

	m.logger.Info("connection manager closed")
	return err
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ManagerStats{
		State:           m.state,
		Subscriptions:   len(m.subs),
		Pending:         len(m.pending),
		Reconnects:      m.reconnects,
		EventsDelivered: m.delivered.Load(),
		EventsDropped:   m.dropped.Load(),
		EventsQueued:    m.events.Len(),
	}
}

// resubscribeAll re-registers every subscription in one call.
func (m *Manager) resubscribeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resubscribeAllLocked()
}

// resubscribeAllLocked issues one RegisterValuesChanged for all subscriptions,
// or nothing when there are none. Caller holds mu.
func (m *Manager) resubscribeAllLocked() {
	ids := m.subscriptionIDsLocked()
	if len(ids) == 0 {
		return
	}
	m.logger.Info("restoring subscriptions", "count", len(ids))
	m.callAsyncLocked(MethodRegisterValuesChanged, registerArgs(true, ids))
}

// resetConnectionStateLocked restarts sequence ids at 1 and fails every
// pending call with reason. Subscriptions are kept. Caller holds mu.
func (m *Manager) resetConnectionStateLocked(reason error) {
	m.seq = 1
	if len(m.pending) == 0 {
		return
	}
	for _, pc := range m.pending {
		pc.done <- callResult{err: reason}
	}
	m.logger.Debug("rejected pending calls", "count", len(m.pending), "reason", reason)
	m.pending = make(map[int64]*pendingCall)
}

// sendLocked allocates a sequence id, registers the pending entry and writes
// the frame. Caller holds mu, so frames leave in invocation order.
func (m *Manager) sendLocked(method string, args []any) (int64, *pendingCall, error) {
	if m.state != StateOpen || m.client == nil {
		return 0, nil, ErrNotConnected
	}

	id := m.seq
	frame, err := encodeCall(method, id, args)
	if err != nil {
		return 0, nil, fmt.Errorf("encode %s: %w", method, err)
	}

	pc := &pendingCall{done: make(chan callResult, 1)}
	m.pending[id] = pc
	m.seq++

	if err := m.client.Send(frame); err != nil {
		delete(m.pending, id)
		return 0, nil, fmt.Errorf("send %s: %w", method, err)
	}
	return id, pc, nil
}

// callAsyncLocked sends a call whose outcome is only logged. Caller holds mu.
func (m *Manager) callAsyncLocked(method string, args []any) {
	id, pc, err := m.sendLocked(method, args)
	if err != nil {
		m.logger.Warn("call failed", "method", method, "error", err)
		return
	}
	go func() {
		res := <-pc.done
		if res.err != nil {
			m.logger.Warn("call failed", "method", method, "seq", id, "error", res.err)
			return
		}
		m.logger.Debug("call completed", "method", method, "seq", id)
	}()
}

func (m *Manager) subscriptionIDsLocked() []string {
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// readLoop dispatches frames of one connection until it is torn down.
// Frames received before a transport error are dispatched before the
// connection is reset.
func (m *Manager) readLoop(c Client, gen uint64, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case err := <-c.Errors():
			m.drainMessages(c)
			m.handleConnectionLost(gen, err)
			return
		case msg := <-c.Messages():
			m.dispatch(msg)
		}
	}
}

// drainMessages dispatches every frame already queued by c.
func (m *Manager) drainMessages(c Client) {
	for {
		select {
		case msg, ok := <-c.Messages():
			if !ok {
				return
			}
			m.dispatch(msg)
		default:
			return
		}
	}
}

func (m *Manager) dispatch(msg TimestampedMessage) {
	frame, err := decodeFrame(msg.Data)
	if err != nil {
		m.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	switch frame.Type {
	case frameCallback:
		m.handleCallback(frame.Payload)
	case frameEvent:
		m.handleEvent(frame.Payload, msg.ReceivedAt)
	case frameConnected:
		m.logger.Debug("controller acknowledged connection")
	default:
		m.logger.Warn("dropping unrecognized frame", "type", frame.Type)
	}
}

func (m *Manager) handleCallback(payload json.RawMessage) {
	var cb callbackPayload
	if err := json.Unmarshal(payload, &cb); err != nil {
		m.logger.Warn("dropping malformed callback", "error", err)
		return
	}
	if cb.SequenceID == nil {
		m.logger.Warn("dropping callback without sequence id", "method", cb.MethodName)
		return
	}
	id := *cb.SequenceID

	m.mu.Lock()
	pc, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("ignoring reply for unknown sequence id", "seq", id, "method", cb.MethodName)
		return
	}

	value, err := decodeCallbackResult(cb.Args)
	pc.done <- callResult{value: value, err: err}
}

func (m *Manager) handleEvent(payload json.RawMessage, receivedAt time.Time) {
	var ev eventPayload
	if err := json.Unmarshal(payload, &ev); err != nil {
		m.logger.Warn("dropping malformed event", "error", err)
		return
	}
	if ev.MethodName != methodValuesChanged {
		m.logger.Debug("dropping unhandled event", "method", ev.MethodName)
		return
	}

	changes, skipped, err := parseValuesChanged(ev.Args, receivedAt)
	if err != nil {
		m.logger.Warn("dropping malformed ValuesChanged", "error", err)
		return
	}
	for _, k := range skipped {
		m.logger.Debug("skipping ValuesChanged key", "key", k)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, change := range changes {
		handler, ok := m.subs[change.InstanceID]
		if !ok {
			m.dropped.Add(1)
			continue
		}
		if !m.events.Send(delivery{handler: handler, change: change}) {
			// Queue closed by Close.
			m.dropped.Add(1)
		}
	}
}

// handleConnectionLost tears down connection gen and schedules a reconnect.
func (m *Manager) handleConnectionLost(gen uint64, cause error) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateOpen {
		m.mu.Unlock()
		return
	}

	m.state = StateDisconnected
	c := m.client
	m.client = nil
	close(m.connDone)
	m.connDone = nil
	m.resetConnectionStateLocked(ErrConnectionReset)
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.logger.Warn("connection lost", "error", cause)
	c.Close()
}

// scheduleReconnectLocked arms the reconnect timer. Caller holds mu.
func (m *Manager) scheduleReconnectLocked() {
	if m.state == StateClosing || m.state == StateClosed {
		return
	}
	if limit := m.cfg.MaxReconnectAttempts; limit > 0 && m.backoff.Attempts() >= limit {
		m.logger.Error("giving up reconnecting", "attempts", m.backoff.Attempts())
		return
	}

	delay := m.backoff.Next()
	m.reconnects++
	m.stopReconnectTimerLocked()
	m.reconnectTimer = time.AfterFunc(delay, m.reconnect)

	m.logger.Info("reconnect scheduled", "delay", delay, "attempt", m.backoff.Attempts())
}

func (m *Manager) reconnect() {
	if err := m.Connect(m.ctx); err != nil && !errors.Is(err, ErrClosed) {
		m.logger.Warn("reconnect failed", "error", err)
	}
}

func (m *Manager) stopReconnectTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// deliverLoop runs handlers one at a time, in arrival order.
func (m *Manager) deliverLoop() {
	defer close(m.deliverDone)
	for {
		d, ok := m.events.Receive()
		if !ok {
			return
		}
		m.invoke(d)
	}
}

func (m *Manager) invoke(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("subscription handler panicked",
				"instance", d.change.InstanceID,
				"property", d.change.Property,
				"panic", r,
			)
		}
	}()
	m.inHandler.Store(true)
	defer m.inHandler.Store(false)
	d.handler(d.change)
	m.delivered.Add(1)
}
