package transport

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DialTimeout bounds how long TCP connection establishment waits before
// giving up, per the specification's transport-selection contract.
const DialTimeout = 10 * time.Second

// DialTCP connects to host:port and returns a framed Stream. Closing the
// returned Stream closes the underlying socket, unblocking any Read
// currently parked on it.
func DialTCP(ctx context.Context, host string, port int) (Stream, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connecting to assistant CLI at %s: %w", address, err)
	}
	return newFramedStream(conn, conn, conn), nil
}

var portAnnouncement = regexp.MustCompile(`listening on port (\d+)`)

// ParsePortAnnouncement extracts a child-announced TCP port from a single
// line of stderr/stdout output, used when the managed child is started
// with useStdio=false and must announce its own listening port.
func ParsePortAnnouncement(line string) (int, bool) {
	m := portAnnouncement.FindStringSubmatch(line)
	if len(m) < 2 {
		return 0, false
	}
	port, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return port, true
}

// ParseCLIURL parses the three accepted cliUrl forms: "PORT", "HOST:PORT",
// or "scheme://HOST:PORT" (scheme is accepted and ignored). Host defaults
// to "localhost"; port must fall in 1..65535.
func ParseCLIURL(raw string) (host string, port int, err error) {
	s := raw
	if idx := strings.Index(s, "://"); idx >= 0 {
		s = s[idx+3:]
	}

	host = "localhost"
	portStr := s
	if colon := strings.LastIndex(s, ":"); colon >= 0 {
		host = s[:colon]
		portStr = s[colon+1:]
		if host == "" {
			host = "localhost"
		}
	}

	n, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("parsing cliUrl %q: invalid port %q", raw, portStr)
	}
	if n < 1 || n > 65535 {
		return "", 0, fmt.Errorf("parsing cliUrl %q: port %d out of range 1..65535", raw, n)
	}
	return host, n, nil
}
