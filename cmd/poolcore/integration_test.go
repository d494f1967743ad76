package main

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tbg/tbgpool/internal/eventring"
	"github.com/tbg/tbgpool/internal/metrics"
	"github.com/tbg/tbgpool/internal/ratelimit"
	"github.com/tbg/tbgpool/internal/relay"
)

// TestEventRingDeliversPushesInOrderOverUnixSocket exercises scenario (a):
// two pushes drain to a receiving Unix datagram socket in order.
func TestEventRingDeliversPushesInOrderOverUnixSocket(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "events.sock")

	addr := &net.UnixAddr{Name: sockPath, Net: "unixgram"}
	server, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer server.Close()
	defer os.Remove(sockPath)

	client, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		t.Fatalf("dial unixgram: %v", err)
	}
	defer client.Close()

	ring := eventring.New(nil)
	if !ring.Push([]byte("hello")) {
		t.Fatal("push hello failed")
	}
	if !ring.Push([]byte("world")) {
		t.Fatal("push world failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ring.Run(ctx, client)

	buf := make([]byte, 4096)
	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := server.Read(buf)
	if err != nil {
		t.Fatalf("read first datagram: %v", err)
	}
	if got := string(buf[:n]); got != "hello" {
		t.Fatalf("first datagram = %q, want %q", got, "hello")
	}

	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = server.Read(buf)
	if err != nil {
		t.Fatalf("read second datagram: %v", err)
	}
	if got := string(buf[:n]); got != "world" {
		t.Fatalf("second datagram = %q, want %q", got, "world")
	}
}

// TestRateLimiterGlobalConnectionCapAndReuse exercises scenario (b): a
// global cap of 5 connections across 10 distinct IPs, then freeing one
// slot lets an eleventh IP in.
func TestRateLimiterGlobalConnectionCapAndReuse(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	cfg.GlobalMaxConnections = 5
	l := ratelimit.New(cfg, nil)

	now := time.Now()
	accepted := 0
	for i := 1; i <= 10; i++ {
		ip := ipFor(i)
		if l.ConnectAt(ip, now) {
			accepted++
		}
	}
	if accepted != 5 {
		t.Fatalf("accepted = %d, want 5", accepted)
	}

	l.Disconnect(ipFor(1))
	if !l.ConnectAt(ipFor(11), now) {
		t.Fatal("11th IP should connect after a slot frees up")
	}
}

func ipFor(i int) string {
	return "10.0.0." + strconv.Itoa(i)
}

// TestRelayClientDeliversTemplateFromMockPrimary exercises scenario (c): a
// mock primary sends a TEMPLATE frame and the relay client's callback
// receives the payload.
func TestRelayClientDeliversTemplateFromMockPrimary(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		if _, err := relay.ReadFrame(conn); err != nil {
			return
		}
		accepted <- conn
	}()

	received := make(chan []byte, 1)
	c := relay.NewClient(ln.Addr().String(), "us-east", 5*time.Second, func(payload []byte) {
		received <- payload
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("primary never saw a connection")
	}
	defer conn.Close()

	if err := relay.WriteFrame(conn, relay.MsgTemplate, []byte(`{"job":1}`)); err != nil {
		t.Fatalf("write template frame: %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != `{"job":1}` {
			t.Fatalf("payload = %q, want %q", payload, `{"job":1}`)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("template callback never fired")
	}
}

// TestMetricsServerExposesScriptedCounterSequence exercises scenario (d):
// start the metrics server, drive a scripted counter sequence, and assert
// the exposition body carries the exact rendered lines.
func TestMetricsServerExposesScriptedCounterSequence(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:19100")
	if err != nil {
		t.Skipf("port 19100 unavailable in this environment: %v", err)
	}
	defer ln.Close()

	m := metrics.New()
	go m.Serve(ln)

	m.IncSharesValid()
	m.IncSharesValid()
	m.IncSharesValid()
	m.IncSharesInvalid()
	m.AddDiffAccepted(350)
	m.SetBitcoinHeight(850000)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	reader := bufio.NewReader(conn)
	var body strings.Builder
	for {
		line, err := reader.ReadString('\n')
		body.WriteString(line)
		if err != nil {
			break
		}
	}

	want := []string{
		"ckpool_shares_valid_total 3\n",
		"ckpool_shares_invalid_total 1\n",
		"ckpool_total_diff_accepted_total 350\n",
		"ckpool_bitcoin_height 850000\n",
	}
	got := body.String()
	for _, w := range want {
		if !strings.Contains(got, w) {
			t.Errorf("response body missing line %q:\n%s", w, got)
		}
	}
}
