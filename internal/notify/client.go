package notify

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"

	"pushsub-go/internal/models"
)

var ErrRestrictedAddress = errors.New("push endpoint resolves to a local or private address")

// NewHTTPClient returns the client used to reach push services. Its dialer
// refuses addresses rejected by models.RestrictedAddr once DNS has resolved.
func NewHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   refuseRestricted,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	return &http.Client{Timeout: timeout, Transport: transport}
}

func refuseRestricted(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("parse dial address %q: %w", address, err)
	}
	if models.RestrictedAddr(ap.Addr()) {
		return fmt.Errorf("%w: %s", ErrRestrictedAddress, ap.Addr())
	}
	return nil
}
