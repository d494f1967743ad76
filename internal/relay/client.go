package relay

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the relay client's connection lifecycle state (spec §4.4).
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateIndependent
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateIndependent:
		return "independent"
	default:
		return "unknown"
	}
}

// TemplateHandler is invoked with a template payload received from the
// primary, while the client is not in independent mode.
type TemplateHandler func(payload []byte)

// Client is the relay side of the protocol: it dials the primary, sends
// periodic heartbeats, and drops into independent mode when the primary
// falls silent past failoverTimeout.
type Client struct {
	primaryAddr     string
	region          string
	failoverTimeout time.Duration
	log             *logrus.Logger
	onTemplate      TemplateHandler

	state         atomic.Int32
	lastHeartbeat atomicTime

	mu   sync.Mutex
	conn net.Conn

	wg sync.WaitGroup
}

// NewClient constructs a relay Client. failoverTimeout defaults to
// HeartbeatTimeout seconds if zero or negative. log may be nil.
func NewClient(primaryAddr, region string, failoverTimeout time.Duration, onTemplate TemplateHandler, log *logrus.Logger) *Client {
	if failoverTimeout <= 0 {
		failoverTimeout = HeartbeatTimeout * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if onTemplate == nil {
		onTemplate = func([]byte) {}
	}
	c := &Client{
		primaryAddr:     primaryAddr,
		region:          region,
		failoverTimeout: failoverTimeout,
		log:             log,
		onTemplate:      onTemplate,
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// State returns the client's current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// IsIndependent reports whether the client has failed over.
func (c *Client) IsIndependent() bool { return c.State() == StateIndependent }

// Run drives the receiver and heartbeat-monitor loops until ctx is
// canceled. It blocks until both loops have exited.
func (c *Client) Run(ctx context.Context) {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.receiveLoop(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.heartbeatMonitor(ctx)
	}()
	c.wg.Wait()
}

func (c *Client) receiveLoop(ctx context.Context) {
	var dialer net.Dialer
	for {
		select {
		case <-ctx.Done():
			c.closeConn()
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			// Independent mode persists until a reconnect succeeds.
			if c.State() != StateIndependent {
				c.state.Store(int32(StateConnecting))
			}
			dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			newConn, err := dialer.DialContext(dialCtx, "tcp", c.primaryAddr)
			cancel()
			if err != nil {
				c.log.WithError(err).Warn("relay: cannot connect to primary, retrying")
				select {
				case <-ctx.Done():
					return
				case <-time.After(3 * time.Second):
				}
				continue
			}

			tuneTCPConn(newConn, c.log)

			if err := WriteFrame(newConn, MsgRegister, []byte(c.region)); err != nil {
				c.log.WithError(err).Warn("relay: registration failed")
				_ = newConn.Close()
				continue
			}

			c.mu.Lock()
			c.conn = newConn
			c.mu.Unlock()
			c.lastHeartbeat.Store(time.Now())

			wasIndependent := c.State() == StateIndependent
			c.state.Store(int32(StateConnected))
			if wasIndependent {
				c.log.Info("relay: recovered from independent mode")
			} else {
				c.log.WithField("region", c.region).Info("relay: connected and registered with primary")
			}
			conn = newConn
		}

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		frame, err := ReadFrame(conn)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			c.log.WithError(err).Warn("relay: lost connection to primary")
			c.closeConn()
			continue
		}

		switch frame.Type {
		case MsgHeartbeat:
			c.lastHeartbeat.Store(time.Now())
		case MsgTemplate:
			c.lastHeartbeat.Store(time.Now())
			if c.State() != StateIndependent {
				c.onTemplate(frame.Payload)
			}
		case MsgConfigSync:
			c.lastHeartbeat.Store(time.Now())
		default:
			c.log.WithField("type", frame.Type).Warn("relay: unknown message type from primary")
		}
	}
}

func (c *Client) heartbeatMonitor(ctx context.Context) {
	// Tick at the heartbeat interval, or at the failover timeout when that
	// is shorter, so silence is noticed within one timeout of expiring.
	interval := HeartbeatInterval * time.Second
	if c.failoverTimeout < interval {
		interval = c.failoverTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn != nil && c.State() == StateConnected {
				_ = WriteFrame(conn, MsgHeartbeat, nil)
			}

			if c.State() == StateConnected {
				elapsed := time.Since(c.lastHeartbeat.Load())
				if elapsed > c.failoverTimeout {
					c.log.WithField("elapsed", elapsed).Warn("relay: primary unreachable, switching to independent mode")
					c.state.Store(int32(StateIndependent))
					c.closeConn()
				}
			}
		}
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// SendBlockFound reports a solved block back to the primary. It is a
// no-op (returning an error) while disconnected or in independent mode.
func (c *Client) SendBlockFound(payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	return WriteFrame(conn, MsgBlockFound, payload)
}
