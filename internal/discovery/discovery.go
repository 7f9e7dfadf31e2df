// Package discovery advertises the hub on the local network over mDNS and
// finds advertised hubs.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"
)

const domain = "local."

// ErrNotFound is returned by Browse when no hub answered before ctx ended.
var ErrNotFound = errors.New("discovery: no hub found")

// InstanceName returns instance, or a host-derived name when it is empty.
func InstanceName(instance string) string {
	if instance != "" {
		return instance
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return "peggiator-" + host
}

// Advertise registers the service and keeps it registered until ctx ends.
func Advertise(ctx context.Context, instance, service string, port int, tls bool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	scheme := "ws"
	if tls {
		scheme = "wss"
	}
	server, err := zeroconf.Register(
		InstanceName(instance),
		service,
		domain,
		port,
		[]string{"txtv=1", "path=/ws", "scheme=" + scheme},
		nil,
	)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}
	logger.Info("mDNS service registered", "service", service, "port", port)

	<-ctx.Done()
	server.Shutdown()
	logger.Info("mDNS service withdrawn", "service", service)
	return nil
}

// Entry is one discovered hub.
type Entry struct {
	Instance string
	URL      string
}

// Browse returns the first hub advertising service.
func Browse(ctx context.Context, service string) (Entry, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Entry{}, fmt.Errorf("init mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return Entry{}, fmt.Errorf("browse mDNS: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return Entry{}, ErrNotFound
		case e, ok := <-entries:
			if !ok {
				return Entry{}, ErrNotFound
			}
			if entry, ok := toEntry(e); ok {
				return entry, nil
			}
		}
	}
}

func toEntry(e *zeroconf.ServiceEntry) (Entry, bool) {
	if e == nil {
		return Entry{}, false
	}
	var ip net.IP
	switch {
	case len(e.AddrIPv4) > 0:
		ip = e.AddrIPv4[0]
	case len(e.AddrIPv6) > 0:
		ip = e.AddrIPv6[0]
	default:
		return Entry{}, false
	}
	txt := parseTXT(e.Text)
	scheme := txt["scheme"]
	if scheme == "" {
		scheme = "ws"
	}
	path := txt["path"]
	if path == "" {
		path = "/ws"
	}
	return Entry{
		Instance: e.Instance,
		URL:      scheme + "://" + net.JoinHostPort(ip.String(), strconv.Itoa(e.Port)) + path,
	}, true
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		for i := 0; i < len(r); i++ {
			if r[i] == '=' {
				out[r[:i]] = r[i+1:]
				break
			}
		}
	}
	return out
}
