// Package discovery announces pairline-server on the local network and
// finds it from the client.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/BioHazard786/Pairline/internal/version"
	"github.com/brutella/dnssd"
)

const (
	ServiceType = "_pairline._tcp"
	Domain      = "local"
)

var ErrNotFound = errors.New("no pairline server found on the local network")

// Service is an announced or discovered server.
type Service struct {
	Name string
	Host string
	Port int
}

// Addr returns host:port.
func (s Service) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Announce advertises a server on port until ctx is done.
func Announce(ctx context.Context, name string, port int) error {
	cfg := dnssd.Config{
		Name:   name,
		Type:   ServiceType,
		Domain: Domain,
		Port:   port,
		Text:   map[string]string{"version": version.Version},
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("failed to create mDNS responder: %w", err)
	}

	if _, err = rp.Add(service); err != nil {
		return fmt.Errorf("failed to add mDNS service: %w", err)
	}

	slog.Info("announcing server", "name", name, "type", ServiceType, "port", port)
	if err = rp.Respond(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return fmt.Errorf("failed to respond to mDNS queries: %w", err)
	}
	return nil
}

// Find returns the first server that answers before ctx is done.
func Find(ctx context.Context) (Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan Service, 1)
	add := func(e dnssd.BrowseEntry) {
		if len(e.IPs) == 0 {
			return
		}
		svc := Service{Name: e.Name, Host: preferIPv4(e.IPs).String(), Port: e.Port}
		select {
		case found <- svc:
		default:
		}
	}
	remove := func(dnssd.BrowseEntry) {}

	errc := make(chan error, 1)
	go func() {
		errc <- dnssd.LookupType(ctx, fmt.Sprintf("%s.%s.", ServiceType, Domain), add, remove)
	}()

	select {
	case svc := <-found:
		slog.Debug("server discovered", "name", svc.Name, "addr", svc.Addr())
		return svc, nil
	case <-ctx.Done():
		return Service{}, ErrNotFound
	case err := <-errc:
		if err != nil && ctx.Err() == nil {
			return Service{}, fmt.Errorf("mDNS lookup failed: %w", err)
		}
		return Service{}, ErrNotFound
	}
}

func preferIPv4(ips []net.IP) net.IP {
	for _, ip := range ips {
		if ip.To4() != nil {
			return ip
		}
	}
	return ips[0]
}
