package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arohanajit/ringpool/internal/cluster"
	"github.com/arohanajit/ringpool/internal/pool"
)

// Ring sources
const (
	RingSourceStatic = "static"
	RingSourceHTTP   = "http"
	RingSourceEtcd   = "etcd"
)

// PoolConfig holds all configuration settings for the client pool
type PoolConfig struct {
	// Membership settings
	Seeds        string `json:"seeds"` // Comma-separated host:port list
	AutoDiscover bool   `json:"auto_discover"`

	// Container settings
	MaxConnections int           `json:"max_connections"`
	MaxIdle        int           `json:"max_idle"`
	QueuePolicy    string        `json:"queue_policy"` // block or fail
	AcquireTimeout time.Duration `json:"acquire_timeout"`

	// Retry settings
	MaxRetries           int           `json:"max_retries"`
	MaxBackoffRetries    int           `json:"max_backoff_retries"`
	MaxConnectionRetries int           `json:"max_connection_retries"`
	BackoffBase          time.Duration `json:"backoff_base"`
	BackoffCap           time.Duration `json:"backoff_cap"`
	BackoffJitter        float64       `json:"backoff_jitter"`

	// Health settings
	BlacklistCoolDown time.Duration `json:"blacklist_cool_down"`
	ProbeInterval     time.Duration `json:"probe_interval"`

	// Timeouts
	AttemptTimeout time.Duration `json:"attempt_timeout"`
	CallTimeout    time.Duration `json:"call_timeout"`

	// Topology settings
	RefreshInterval      time.Duration `json:"refresh_interval"`
	RefreshAfterFailures int           `json:"refresh_after_failures"`
	RingSource           string        `json:"ring_source"` // static, http or etcd
	EtcdEndpoints        string        `json:"etcd_endpoints"`
	EtcdPrefix           string        `json:"etcd_prefix"`

	// Admin API
	AdminAddr string `json:"admin_addr"`
}

// DefaultPoolConfig returns a PoolConfig with default values
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Seeds:                "",
		AutoDiscover:         true,
		MaxConnections:       30,
		MaxIdle:              10,
		QueuePolicy:          "block",
		AcquireTimeout:       500 * time.Millisecond,
		MaxRetries:           3,
		MaxBackoffRetries:    5,
		MaxConnectionRetries: 8,
		BackoffBase:          50 * time.Millisecond,
		BackoffCap:           5 * time.Second,
		BackoffJitter:        0.2,
		BlacklistCoolDown:    2 * time.Minute,
		ProbeInterval:        10 * time.Second,
		AttemptTimeout:       2 * time.Second,
		CallTimeout:          10 * time.Second,
		RefreshInterval:      30 * time.Second,
		RefreshAfterFailures: 3,
		RingSource:           RingSourceHTTP,
		EtcdEndpoints:        "localhost:2379",
		EtcdPrefix:           "/services/ringpool/ring/",
		AdminAddr:            ":8090",
	}
}

// LoadPoolConfig loads configuration from environment variables. Values
// that fail to parse keep their default.
func LoadPoolConfig() *PoolConfig {
	config := DefaultPoolConfig()

	envString("RINGPOOL_SEEDS", &config.Seeds)
	envBool("RINGPOOL_AUTODISCOVER", &config.AutoDiscover)

	envInt("RINGPOOL_MAX_CONNECTIONS", &config.MaxConnections)
	envInt("RINGPOOL_MAX_IDLE", &config.MaxIdle)
	envString("RINGPOOL_QUEUE_POLICY", &config.QueuePolicy)
	envDuration("RINGPOOL_ACQUIRE_TIMEOUT", &config.AcquireTimeout)

	envInt("RINGPOOL_MAX_RETRIES", &config.MaxRetries)
	envInt("RINGPOOL_MAX_BACKOFF_RETRIES", &config.MaxBackoffRetries)
	envInt("RINGPOOL_MAX_CONNECTION_RETRIES", &config.MaxConnectionRetries)
	envDuration("RINGPOOL_BACKOFF_BASE", &config.BackoffBase)
	envDuration("RINGPOOL_BACKOFF_CAP", &config.BackoffCap)
	if jitter := os.Getenv("RINGPOOL_BACKOFF_JITTER"); jitter != "" {
		if j, err := strconv.ParseFloat(jitter, 64); err == nil {
			config.BackoffJitter = j
		}
	}

	envDuration("RINGPOOL_BLACKLIST_COOLDOWN", &config.BlacklistCoolDown)
	envDuration("RINGPOOL_PROBE_INTERVAL", &config.ProbeInterval)
	envDuration("RINGPOOL_ATTEMPT_TIMEOUT", &config.AttemptTimeout)
	envDuration("RINGPOOL_CALL_TIMEOUT", &config.CallTimeout)

	envDuration("RINGPOOL_REFRESH_INTERVAL", &config.RefreshInterval)
	envInt("RINGPOOL_REFRESH_AFTER_FAILURES", &config.RefreshAfterFailures)
	envString("RINGPOOL_RING_SOURCE", &config.RingSource)
	envString("RINGPOOL_ETCD_ENDPOINTS", &config.EtcdEndpoints)
	envString("RINGPOOL_ETCD_PREFIX", &config.EtcdPrefix)

	envString("RINGPOOL_ADMIN_ADDR", &config.AdminAddr)

	return config
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate normalizes the configuration and rejects settings the pool
// cannot run with
func (c *PoolConfig) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive, got %d", c.MaxConnections)
	}
	// Keeping more idle connections than the cap is never useful
	if c.MaxIdle > c.MaxConnections || c.MaxIdle <= 0 {
		c.MaxIdle = c.MaxConnections
	}

	if _, err := pool.ParseQueuePolicy(c.QueuePolicy); err != nil {
		return err
	}

	if c.BackoffJitter < 0 {
		c.BackoffJitter = 0
	}
	if c.BackoffJitter > 1 {
		c.BackoffJitter = 1
	}
	if c.BackoffCap < c.BackoffBase {
		c.BackoffCap = c.BackoffBase
	}

	if c.CallTimeout > 0 && c.AttemptTimeout > c.CallTimeout {
		c.AttemptTimeout = c.CallTimeout
	}

	c.RingSource = strings.ToLower(strings.TrimSpace(c.RingSource))
	switch c.RingSource {
	case RingSourceStatic, RingSourceHTTP:
	case RingSourceEtcd:
		if len(c.EtcdEndpointList()) == 0 {
			return fmt.Errorf("ring source etcd needs at least one endpoint")
		}
	default:
		return fmt.Errorf("unknown ring source %q", c.RingSource)
	}

	if _, err := cluster.ParseNodes(c.Seeds); err != nil {
		return fmt.Errorf("invalid seeds: %w", err)
	}
	return nil
}

// SeedNodes parses the seed list
func (c *PoolConfig) SeedNodes() ([]cluster.Node, error) {
	return cluster.ParseNodes(c.Seeds)
}

// EtcdEndpointList splits the etcd endpoints
func (c *PoolConfig) EtcdEndpointList() []string {
	var out []string
	for _, ep := range strings.Split(c.EtcdEndpoints, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			out = append(out, ep)
		}
	}
	return out
}

// PoolSettings converts the configuration into the router settings
func (c *PoolConfig) PoolSettings() (pool.Config, error) {
	seeds, err := c.SeedNodes()
	if err != nil {
		return pool.Config{}, err
	}
	policy, err := pool.ParseQueuePolicy(c.QueuePolicy)
	if err != nil {
		return pool.Config{}, err
	}

	return pool.Config{
		Seeds: seeds,
		Container: pool.ContainerConfig{
			MaxConnections: c.MaxConnections,
			MaxIdle:        c.MaxIdle,
			QueuePolicy:    policy,
			AcquireTimeout: c.AcquireTimeout,
			AttemptTimeout: c.AttemptTimeout,
		},
		Retry: pool.RetryConfig{
			MaxRetries:           c.MaxRetries,
			MaxBackoffRetries:    c.MaxBackoffRetries,
			MaxConnectionRetries: c.MaxConnectionRetries,
			Backoff: pool.Backoff{
				Base:   c.BackoffBase,
				Cap:    c.BackoffCap,
				Jitter: c.BackoffJitter,
			},
			RefreshAfterFailures: c.RefreshAfterFailures,
		},
		BlacklistCoolDown: c.BlacklistCoolDown,
		CallTimeout:       c.CallTimeout,
		RefreshInterval:   c.RefreshInterval,
		ProbeInterval:     c.ProbeInterval,
		AutoDiscover:      c.AutoDiscover,
	}, nil
}
