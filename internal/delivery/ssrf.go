package delivery

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"syscall"

	"webhook-delivery/internal/common/errors"
)

// TargetGuard rejects delivery targets that resolve to non-globally-routable
// addresses before any network call is made. Disabled guards accept every
// target (local development against loopback endpoints).
type TargetGuard struct {
	enabled bool
	lookup  func(ctx context.Context, host string) ([]net.IP, error)
}

func NewTargetGuard(enabled bool) *TargetGuard {
	return &TargetGuard{
		enabled: enabled,
		lookup: func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, len(addrs))
			for i, a := range addrs {
				ips[i] = a.IP
			}
			return ips, nil
		},
	}
}

// CheckTarget validates the target URL pre-dial: scheme, host presence, and
// every resolved address. A blocked target is a configuration failure, not
// a retryable one.
func (g *TargetGuard) CheckTarget(ctx context.Context, rawURL string) error {
	target, err := url.Parse(rawURL)
	if err != nil {
		return errors.ValidationError(fmt.Sprintf("invalid target url: %v", err))
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return errors.ValidationError(fmt.Sprintf("target scheme %q is not allowed", target.Scheme))
	}
	host := target.Hostname()
	if host == "" {
		return errors.ValidationError("target url has no host")
	}
	if !g.enabled {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return g.checkIP(ip)
	}

	ips, err := g.lookup(ctx, host)
	if err != nil {
		return errors.ConnectionError(fmt.Sprintf("failed to resolve target host %q", host), err)
	}
	if len(ips) == 0 {
		return errors.ConnectionError(fmt.Sprintf("target host %q resolved to no addresses", host), nil)
	}
	for _, ip := range ips {
		if err := g.checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// DialControl guards the actual dial against DNS rebinding: the address
// checked here is the one the connection will use. Wire it into the
// dialer's Control hook.
func (g *TargetGuard) DialControl(network, address string, _ syscall.RawConn) error {
	if !g.enabled {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return errors.ValidationError(fmt.Sprintf("invalid dial address %q", address))
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return errors.ValidationError(fmt.Sprintf("dial address %q is not an ip", address))
	}
	return g.checkIP(ip)
}

func (g *TargetGuard) checkIP(ip net.IP) error {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return errors.ValidationError(fmt.Sprintf("target address %s is not globally routable", ip))
	}
	return nil
}
