// Package eventring moves serialized event records off hot validation
// paths and onto a Unix datagram socket via a dedicated drainer goroutine.
//
// The producer side (Push) performs no allocations and no syscalls: it
// claims a slot with an atomic fetch-add, CASes the slot from empty to
// writing, copies the payload, and publishes with a release store. The
// drainer is the only goroutine that transitions slots back to empty, so
// there is never more than one writer per slot at a time.
package eventring

import (
	"context"
	"errors"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// Size must be a power of two so index masking works.
	Size       = 4096
	mask       = Size - 1
	maxPayload = 4096
	batchMax   = 64

	flushInterval = 100 * time.Microsecond
)

type slotState = uint32

const (
	slotEmpty slotState = iota
	slotWriting
	slotReady
)

type slot struct {
	state atomic.Uint32
	len   int
	data  [maxPayload]byte
}

// Ring is a fixed-capacity SPMC-ish event queue: many producers call
// Push concurrently, a single drainer goroutine empties it.
type Ring struct {
	slots [Size]slot

	writePos atomic.Uint64
	readPos  atomic.Uint64

	eventsQueued  atomic.Uint64
	eventsSent    atomic.Uint64
	eventsDropped atomic.Uint64
	batchCount    atomic.Uint64

	log *logrus.Logger
}

// New constructs an empty ring. log may be nil, in which case a
// standard logrus.Logger is used.
func New(log *logrus.Logger) *Ring {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ring{log: log}
}

// Push enqueues an event (hot path). It never blocks and never
// allocates. Payloads longer than maxPayload-1 bytes are truncated.
// Returns false if the ring is full (the claimed slot is still READY
// from a slow drainer); the caller should treat this as a dropped event,
// not an error to retry.
func (r *Ring) Push(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	if len(payload) >= maxPayload {
		payload = payload[:maxPayload-1]
	}

	pos := r.writePos.Add(1) - 1
	s := &r.slots[pos&mask]

	if !s.state.CompareAndSwap(slotEmpty, slotWriting) {
		r.eventsDropped.Add(1)
		return false
	}

	n := copy(s.data[:], payload)
	s.len = n
	s.state.Store(slotReady)
	r.eventsQueued.Add(1)
	return true
}

// Stats is a snapshot of the ring's counters.
type Stats struct {
	Queued  uint64
	Sent    uint64
	Dropped uint64
	Batches uint64
}

func (r *Ring) Stats() Stats {
	return Stats{
		Queued:  r.eventsQueued.Load(),
		Sent:    r.eventsSent.Load(),
		Dropped: r.eventsDropped.Load(),
		Batches: r.batchCount.Load(),
	}
}

// Run drives the drainer loop until ctx is canceled, then performs one
// final drain before returning. conn may be nil for tests that only care
// about slot bookkeeping (payloads are discarded in that case).
func (r *Ring) Run(ctx context.Context, conn *net.UnixConn) {
	for {
		select {
		case <-ctx.Done():
			r.drainBatch(conn)
			return
		default:
		}

		if n := r.drainBatch(conn); n == 0 {
			select {
			case <-ctx.Done():
				r.drainBatch(conn)
				return
			case <-time.After(flushInterval):
			}
		}
	}
}

// drainBatch collects up to batchMax consecutive READY slots starting at
// readPos, sends each as its own datagram, and advances readPos. It
// returns the number of slots drained.
func (r *Ring) drainBatch(conn *net.UnixConn) int {
	readPos := r.readPos.Load()

	type claimed struct {
		idx uint64
		buf []byte
	}
	var batch [batchMax]claimed
	count := 0

	for count < batchMax {
		idx := (readPos + uint64(count)) & mask
		s := &r.slots[idx]
		if s.state.Load() != slotReady {
			break
		}
		batch[count] = claimed{idx: idx, buf: append([]byte(nil), s.data[:s.len]...)}
		count++
	}

	if count == 0 {
		return 0
	}

	var sendErr error
	for i := 0; i < count; i++ {
		if conn != nil {
			if _, err := conn.Write(batch[i].buf); err != nil {
				if !isRecoverableSendErr(err) {
					sendErr = err
				}
			}
		}
		r.slots[batch[i].idx].state.Store(slotEmpty)
	}

	if sendErr != nil {
		r.log.WithError(sendErr).Warn("eventring: send error in batch")
	}

	r.readPos.Add(uint64(count))
	r.eventsSent.Add(uint64(count))
	r.batchCount.Add(1)
	return count
}

// isRecoverableSendErr reports whether err is one of the transient
// conditions spec §4.1 says must be swallowed silently: the peer isn't
// listening yet, isn't listening at all, or the kernel send buffer is
// momentarily full. Anything else is logged once per batch.
func isRecoverableSendErr(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ENOENT),
		errors.Is(err, os.ErrDeadlineExceeded):
		return true
	default:
		return false
	}
}
