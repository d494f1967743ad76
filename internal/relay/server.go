package relay

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TemplateSource returns the current block template JSON. Server does not
// call it: a relay receives only the templates passed to PushTemplate
// after it has connected.
type TemplateSource func() []byte

// OnBlockFound is invoked when a relay reports a solved block. region is
// the relay's self-reported region tag from its REGISTER frame.
type OnBlockFound func(region string, payload []byte)

type peer struct {
	id            string
	conn          net.Conn
	region        atomicString
	lastHeartbeat atomicTime
	done          chan struct{}
	active        bool
}

// Server is the primary side of the relay protocol: it accepts relay
// connections, pushes templates, forwards block-found reports, and
// reaps peers that stop heartbeating. Peers live in a fixed-size table
// of MaxPeers reusable slots rather than a dynamic registry, keeping the
// primary-side accept/broadcast paths branch-predictable regardless of
// churn.
type Server struct {
	log          *logrus.Logger
	onBlockFound OnBlockFound

	mu    sync.Mutex
	peers [MaxPeers]*peer

	wg sync.WaitGroup
}

// NewServer constructs a relay Server. log and onBlockFound may be nil.
func NewServer(log *logrus.Logger, onBlockFound OnBlockFound) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if onBlockFound == nil {
		onBlockFound = func(string, []byte) {}
	}
	return &Server{
		log:          log,
		onBlockFound: onBlockFound,
	}
}

// acquireSlot claims the first free (nil) peer-table slot for p and
// returns its index, or -1 if the table is full.
func (s *Server) acquireSlot(p *peer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.peers {
		if s.peers[i] == nil {
			p.active = true
			s.peers[i] = p
			return i
		}
	}
	return -1
}

func (s *Server) releaseSlot(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.peers {
		if p != nil && p.id == id {
			p.active = false
			s.peers[i] = nil
			return
		}
	}
}

func (s *Server) snapshotPeers() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, MaxPeers)
	for _, p := range s.peers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Serve accepts connections on ln until ctx is canceled, spawning one
// handler goroutine per relay. It blocks until shutdown completes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.heartbeatLoop(ctx)
	}()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return
			default:
				s.log.WithError(err).Warn("relay: accept failed")
				continue
			}
		}

		tuneTCPConn(conn, s.log)

		p := &peer{id: uuid.NewString(), conn: conn, done: make(chan struct{})}
		p.region.Store("unknown")
		p.lastHeartbeat.Store(time.Now())

		if s.acquireSlot(p) < 0 {
			s.log.Warn("relay: max peers reached, rejecting connection")
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handlePeer(ctx, p)
		}()
	}
}

func (s *Server) handlePeer(ctx context.Context, p *peer) {
	s.log.WithField("remote", p.conn.RemoteAddr()).Info("relay: peer connected")
	defer func() {
		s.releaseSlot(p.id)
		close(p.done)
		_ = p.conn.Close()
		s.log.WithField("region", p.region.Load()).Info("relay: peer disconnected")
	}()

	for {
		if deadline, ok := ctx.Deadline(); ok {
			_ = p.conn.SetReadDeadline(deadline)
		} else {
			_ = p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		}

		frame, err := ReadFrame(p.conn)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-ctx.Done():
					return
				default:
					continue
				}
			}
			return
		}

		switch frame.Type {
		case MsgHeartbeat:
			p.lastHeartbeat.Store(time.Now())
		case MsgRegister:
			if len(frame.Payload) > 0 && len(frame.Payload) < 32 {
				p.region.Store(string(frame.Payload))
				s.log.WithField("region", p.region.Load()).Info("relay: peer registered")
			}
			p.lastHeartbeat.Store(time.Now())
		case MsgBlockFound:
			s.onBlockFound(p.region.Load(), frame.Payload)
		default:
			s.log.WithField("type", frame.Type).Warn("relay: unknown message type from peer")
		}
	}
}

// PushTemplate sends a new block template to every connected peer.
func (s *Server) PushTemplate(payload []byte) {
	for _, p := range s.snapshotPeers() {
		if err := WriteFrame(p.conn, MsgTemplate, payload); err != nil {
			s.log.WithError(err).WithField("region", p.region.Load()).Warn("relay: template push failed")
		}
	}
}

// PeerCount returns the number of currently connected relays.
func (s *Server) PeerCount() int {
	return len(s.snapshotPeers())
}

func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendHeartbeats()
		}
	}
}

func (s *Server) sendHeartbeats() {
	cutoff := time.Duration(HeartbeatInterval*3) * time.Second
	for _, p := range s.snapshotPeers() {
		if err := WriteFrame(p.conn, MsgHeartbeat, nil); err != nil {
			s.log.WithField("region", p.region.Load()).Warn("relay: heartbeat send failed")
			_ = p.conn.Close()
			continue
		}
		if time.Since(p.lastHeartbeat.Load()) > cutoff {
			s.log.WithField("region", p.region.Load()).Warn("relay: peer timed out, closing")
			_ = p.conn.Close()
		}
	}
}
