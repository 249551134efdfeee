package wsrpc

import (
	"encoding/binary"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultKeepaliveTimeout is the default cadence between pings.
	DefaultKeepaliveTimeout = 30 * time.Second
	// DefaultClientTimeout is the default pong round-trip deadline.
	DefaultClientTimeout = 10 * time.Second
)

var (
	keepaliveConfigMu      sync.RWMutex
	globalKeepaliveTimeout = DefaultKeepaliveTimeout
	globalClientTimeout    = DefaultClientTimeout
)

// Configure sets the class-wide ping cadence and pong deadline (spec.md
// §6's configure(keepalive_timeout, client_timeout)). Only Sessions opened
// after this call observe the new values.
func Configure(keepaliveTimeout, clientTimeout time.Duration) {
	keepaliveConfigMu.Lock()
	defer keepaliveConfigMu.Unlock()
	globalKeepaliveTimeout = keepaliveTimeout
	globalClientTimeout = clientTimeout
}

func currentKeepaliveConfig() (keepalive, client time.Duration) {
	keepaliveConfigMu.RLock()
	defer keepaliveConfigMu.RUnlock()
	return globalKeepaliveTimeout, globalClientTimeout
}

// KeepAlive schedules a periodic ping and closes its session if the
// matching pong doesn't arrive within clientTimeout.
type KeepAlive struct {
	session *Session
	logger  *zap.Logger

	keepaliveTimeout time.Duration
	clientTimeout    time.Duration

	mu           sync.Mutex
	timer        *time.Timer
	pingInflight map[uint64]time.Time
	stopped      bool
}

func newKeepAlive(session *Session, logger *zap.Logger, keepaliveTimeout, clientTimeout time.Duration) *KeepAlive {
	return &KeepAlive{
		session:          session,
		logger:           logger,
		keepaliveTimeout: keepaliveTimeout,
		clientTimeout:    clientTimeout,
		pingInflight:     make(map[uint64]time.Time),
	}
}

// start schedules the first ping.
func (k *KeepAlive) start() {
	k.scheduleNext()
}

func (k *KeepAlive) scheduleNext() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stopped {
		return
	}
	k.timer = time.AfterFunc(k.keepaliveTimeout, k.sendPing)
}

func (k *KeepAlive) sendPing() {
	k.mu.Lock()
	if k.stopped {
		k.mu.Unlock()
		return
	}
	seq := uint64(time.Now().UnixMilli())
	k.pingInflight[seq] = time.Now()
	k.mu.Unlock()

	if k.session.transport != nil && k.session.transport.SupportsControlPing() {
		var token [8]byte
		binary.BigEndian.PutUint64(token[:], seq)
		if err := k.session.transport.SendPing(token); err != nil {
			k.logger.Warn("send ping failed", zap.String("session_id", k.session.ID), zap.Error(err))
		}
	} else {
		k.sendFallbackPing(seq)
	}

	time.AfterFunc(k.clientTimeout, func() { k.checkTimeout(seq) })
}

// sendFallbackPing issues the application-level RPC ping for transports
// without WebSocket control-frame support, per spec.md §4.5/§6.
func (k *KeepAlive) sendFallbackPing(seq uint64) {
	k.session.Call("ping", map[string]any{"seq": float64(seq) / 1000.0}, func(_ any, err error) {
		if err != nil {
			return
		}
		k.onPong(seq)
	})
}

func (k *KeepAlive) checkTimeout(seq uint64) {
	k.mu.Lock()
	_, stillPending := k.pingInflight[seq]
	k.mu.Unlock()
	if stillPending {
		k.logger.Warn("ping timeout, closing session", zap.String("session_id", k.session.ID))
		k.session.closeWithReason(KindPingTimeout, "ping/pong round trip exceeded client_timeout")
	}
}

// onPong records a pong (or an RPC ping callback, which tolerates both a
// {seq} object and a bare "pong" reply per spec.md §6) and reschedules the
// next ping if the round trip was within budget.
func (k *KeepAlive) onPong(seq uint64) {
	k.mu.Lock()
	sentAt, ok := k.pingInflight[seq]
	if ok {
		delete(k.pingInflight, seq)
	}
	k.mu.Unlock()
	if !ok {
		return
	}

	delta := time.Since(sentAt)
	if delta > k.clientTimeout {
		k.session.closeWithReason(KindPingTimeout, "pong round trip exceeded client_timeout")
		return
	}
	k.scheduleNext()
}

func (k *KeepAlive) stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopped = true
	if k.timer != nil {
		k.timer.Stop()
	}
}
