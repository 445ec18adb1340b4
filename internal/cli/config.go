package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BioHazard786/Pairline/internal/config"
	"github.com/BioHazard786/Pairline/internal/discovery"
	"github.com/BioHazard786/Pairline/internal/ui"
)

const discoverTimeout = 3 * time.Second

func baseOptions() config.Options {
	return config.Options{Domain: flagDomain, Insecure: flagInsecure}
}

// loadConfig resolves the configuration and, with --discover, replaces the
// domain with a server found on the LAN.
func loadConfig(ctx context.Context, opts config.Options) (*config.Config, error) {
	if flagDiscover {
		sp := ui.NewConnectionSpinner("Looking for a server on the local network...")
		sp.Start()

		dctx, cancel := context.WithTimeout(ctx, discoverTimeout)
		svc, err := discovery.Find(dctx)
		cancel()
		if err != nil {
			sp.Error("No server found on the local network")
			if errors.Is(err, discovery.ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("discovery failed: %w", err)
		}
		sp.Success(fmt.Sprintf("Found %s at %s", svc.Name, svc.Addr()))

		opts.Domain = svc.Addr()
		opts.Insecure = true
	}

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}
