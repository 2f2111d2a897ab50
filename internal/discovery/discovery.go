// Package discovery advertises sync servers on the local network over mDNS
// and lets agents find them.
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

var ErrNotFound = errors.New("no server found")

// Advertise registers the server under service on port until ctx is
// cancelled.
func Advertise(ctx context.Context, service string, port int, logger *slog.Logger) error {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("collabgrid-%s", host),
		service,
		domain,
		port,
		[]string{"path=/ws"},
		nil,
	)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}
	defer server.Shutdown()
	logger.Info("mDNS service registered", "service", service, "port", port)

	<-ctx.Done()
	return nil
}

// Endpoint is a discovered server.
type Endpoint struct {
	Instance string
	Host     string
	Port     int
	Path     string
}

// URL returns the websocket URL of the endpoint.
func (e Endpoint) URL() string {
	return "ws://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) + e.Path
}

// Find browses for service until the first server answers or ctx ends.
func Find(ctx context.Context, service string, logger *slog.Logger) (Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Endpoint{}, fmt.Errorf("initialize mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return Endpoint{}, fmt.Errorf("browse for mDNS services: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return Endpoint{}, fmt.Errorf("%w: %s", ErrNotFound, service)
		case entry, ok := <-entries:
			if !ok {
				return Endpoint{}, fmt.Errorf("%w: %s", ErrNotFound, service)
			}
			ep, ok := endpointOf(entry)
			if !ok {
				continue
			}
			logger.Info("mDNS discovered server", "instance", ep.Instance, "url", ep.URL())
			return ep, nil
		}
	}
}

func endpointOf(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	ep := Endpoint{Instance: entry.Instance, Port: entry.Port, Path: pathOf(entry.Text)}
	switch {
	case len(entry.AddrIPv4) > 0:
		ep.Host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		ep.Host = entry.AddrIPv6[0].String()
	default:
		return Endpoint{}, false
	}
	return ep, true
}

func pathOf(txt []string) string {
	for _, kv := range txt {
		if len(kv) > 5 && kv[:5] == "path=" {
			return kv[5:]
		}
	}
	return "/ws"
}
