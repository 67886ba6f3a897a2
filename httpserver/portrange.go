package httpserver

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrNoPortAvailable is returned when every port in a PortRange is busy.
var ErrNoPortAvailable = errors.New("no available port in range")

// PortRange is an inclusive range of TCP ports a listener may bind to.
type PortRange struct {
	Low  int
	High int
}

// EphemeralRange is the IANA dynamic/private port range. Binding inside it
// keeps the API server away from well-known service ports.
var EphemeralRange = PortRange{Low: 49152, High: 65535}

// Validate reports whether the range is usable.
func (r PortRange) Validate() error {
	if r.Low <= 0 || r.High <= 0 || r.High > 65535 || r.Low > r.High {
		return fmt.Errorf("invalid port range: min %d, max %d", r.Low, r.High)
	}
	return nil
}

// Contains reports whether port lies inside the range.
func (r PortRange) Contains(port int) bool {
	return port >= r.Low && port <= r.High
}

// String returns the range in "low-high" form.
func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.Low, r.High)
}

// Listen binds a TCP listener on host to the first free port of the range.
// Candidates are tried in order starting at Low. The bound listener is
// returned as-is so the port cannot be taken between the probe and the
// server start.
func (r PortRange) Listen(host string) (net.Listener, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for port := r.Low; port <= r.High; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return l, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w [%s] on %q: last error: %v", ErrNoPortAvailable, r, host, lastErr)
}

// PortOf returns the TCP port of a listener address, or 0 if it has none.
func PortOf(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
