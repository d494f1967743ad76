package relay

import (
	"net"

	"github.com/sirupsen/logrus"
)

// tuneTCPConn enables SO_KEEPALIVE and TCP_NODELAY on newly established
// relay connections (spec §4.4): the protocol is small, latency-sensitive
// frames over a long-lived stream, so Nagle's algorithm and a dead peer
// going undetected both hurt more than they help.
func tuneTCPConn(conn net.Conn, log *logrus.Logger) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tc.SetKeepAlive(true); err != nil && log != nil {
		log.WithError(err).Warn("relay: SetKeepAlive failed")
	}
	if err := tc.SetNoDelay(true); err != nil && log != nil {
		log.WithError(err).Warn("relay: SetNoDelay failed")
	}
}
