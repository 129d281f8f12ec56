package main

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arohanajit/ringpool/internal/cluster"
	"github.com/arohanajit/ringpool/internal/config"
	"github.com/arohanajit/ringpool/internal/metrics"
	"github.com/arohanajit/ringpool/internal/pool"
	"github.com/arohanajit/ringpool/internal/transport/grpcconn"
	"github.com/arohanajit/ringpool/internal/transport/httpconn"
)

const describeTimeout = 5 * time.Second

// components holds everything built from the configuration that needs
// closing on shutdown
type components struct {
	pool    *pool.Pool
	closers []func() error
}

func (c *components) Close() error {
	var errs error
	if c.pool != nil {
		errs = multierr.Append(errs, c.pool.Close())
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, c.closers[i]())
	}
	return errs
}

// buildDescriber returns the ring source selected by the configuration.
// seeds is consulted on every describe so that discovered nodes can serve
// the ring too.
func buildDescriber(cfg *config.PoolConfig, seeds func() []cluster.Node, c *components) (cluster.RingDescriber, error) {
	switch cfg.RingSource {
	case config.RingSourceStatic:
		nodes, err := cfg.SeedNodes()
		if err != nil {
			return nil, err
		}
		return &cluster.StaticDescriber{Ranges: cluster.SingleRangeRing(nodes...)}, nil
	case config.RingSourceHTTP:
		return cluster.NewHTTPDescriber(seeds, &http.Client{Timeout: describeTimeout}), nil
	case config.RingSourceEtcd:
		client, err := cluster.DialEtcd(cfg.EtcdEndpointList())
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, client.Close)
		return cluster.NewEtcdDescriber(client, cfg.EtcdPrefix), nil
	default:
		return nil, fmt.Errorf("unknown ring source %q", cfg.RingSource)
	}
}

// buildHealthChecker returns nil when probing is disabled
func buildHealthChecker(protocol string, c *components) (cluster.HealthChecker, error) {
	switch protocol {
	case "", "http":
		return cluster.NewHTTPHealthChecker(&http.Client{Timeout: describeTimeout}), nil
	case "grpc":
		hc := grpcconn.NewHealthChecker("")
		c.closers = append(c.closers, hc.Close)
		return hc, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown health protocol %q", protocol)
	}
}

// buildPool wires a pool from the configuration
func buildPool(cfg *config.PoolConfig, m *metrics.PoolMetrics, logger *zap.Logger) (*components, error) {
	settings, err := cfg.PoolSettings()
	if err != nil {
		return nil, err
	}

	c := &components{}
	var p *pool.Pool
	seeds := func() []cluster.Node {
		if p != nil {
			if nodes := p.Nodes(); len(nodes) > 0 {
				return nodes
			}
		}
		return settings.Seeds
	}

	describer, err := buildDescriber(cfg, seeds, c)
	if err != nil {
		return nil, multierr.Append(err, c.Close())
	}
	checker, err := buildHealthChecker(healthFlag, c)
	if err != nil {
		return nil, multierr.Append(err, c.Close())
	}

	opts := []pool.Option{
		pool.WithLogger(logger),
		pool.WithMetrics(m),
		pool.WithDescriber(describer),
	}
	if checker != nil {
		opts = append(opts, pool.WithHealthChecker(checker))
	}

	p, err = pool.New(settings, httpconn.NewDialer(), opts...)
	if err != nil {
		return nil, multierr.Append(err, c.Close())
	}
	c.pool = p
	return c, nil
}
