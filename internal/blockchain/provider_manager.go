package blockchain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/cassiomorais/chainpay/internal/infrastructure/observability"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// RPCClient is the JSON-RPC surface used for verification.
// *ethclient.Client satisfies it.
type RPCClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Dialer opens a client for an endpoint URL.
type Dialer func(ctx context.Context, url string) (RPCClient, error)

// EthDialer dials endpoints with go-ethereum's ethclient.
func EthDialer(ctx context.Context, url string) (RPCClient, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Provider is a healthy endpoint handed out to callers.
type Provider struct {
	Network string
	URL     string
	Client  RPCClient
}

type ProviderManagerConfig struct {
	Cooldown       time.Duration
	HealthCacheTTL time.Duration
	ProbeTimeout   time.Duration
	Dialer         Dialer
	Clock          func() time.Time
}

type endpoint struct {
	url         string
	client      RPCClient
	lastFailure time.Time
	lastHealthy time.Time
}

// ProviderManager hands out RPC endpoints per network in priority order,
// skipping endpoints that failed within the cooldown window. Health state is
// process-local.
type ProviderManager struct {
	mu       sync.Mutex
	networks map[string][]*endpoint

	cooldown     time.Duration
	healthTTL    time.Duration
	probeTimeout time.Duration
	dial         Dialer
	now          func() time.Time

	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewProviderManager(cfg ProviderManagerConfig, logger zerolog.Logger, metrics *observability.Metrics) *ProviderManager {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 15 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = EthDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &ProviderManager{
		networks:     make(map[string][]*endpoint),
		cooldown:     cfg.Cooldown,
		healthTTL:    cfg.HealthCacheTTL,
		probeTimeout: cfg.ProbeTimeout,
		dial:         cfg.Dialer,
		now:          cfg.Clock,
		logger:       logger.With().Str("component", "provider-manager").Logger(),
		metrics:      metrics,
	}
}

// AddProviders appends urls to network's endpoint list in the given
// priority order. Blank URLs are ignored.
func (m *ProviderManager) AddProviders(ctx context.Context, network string, urls []string) error {
	network = strings.ToLower(network)

	var added []*endpoint
	var errs []error
	attempted := false
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		attempted = true
		client, err := m.dial(ctx, u)
		if err != nil {
			errs = append(errs, fmt.Errorf("dial %s provider %s: %w", network, redact(u), err))
			continue
		}
		added = append(added, &endpoint{url: u, client: client})
	}

	// A network stays known even when none of its URLs dialed, so lookups
	// report an outage rather than an unsupported network.
	if attempted {
		m.mu.Lock()
		m.networks[network] = append(m.networks[network], added...)
		m.mu.Unlock()
	}

	m.logger.Info().Str("network", network).Int("providers", len(added)).Msg("RPC providers registered")
	return errors.Join(errs...)
}

// GetProvider returns the highest-priority endpoint that is not cooling
// down and answers a liveness probe.
func (m *ProviderManager) GetProvider(ctx context.Context, network string) (*Provider, error) {
	network = strings.ToLower(network)

	m.mu.Lock()
	registered, known := m.networks[network]
	eps := append([]*endpoint(nil), registered...)
	m.mu.Unlock()

	if !known {
		return nil, fmt.Errorf("%w: no RPC providers configured for %s", domainErrors.ErrUnsupportedNetwork, network)
	}
	if len(eps) == 0 {
		return nil, fmt.Errorf("%w for network %s: no endpoint could be dialed", domainErrors.ErrAllProvidersFailed, network)
	}

	for _, ep := range eps {
		switch m.state(ep) {
		case stateCoolingDown:
			continue
		case stateHealthy:
			return &Provider{Network: network, URL: ep.url, Client: ep.client}, nil
		}

		_, err := callWithTimeout(ctx, "eth_blockNumber", m.probeTimeout, ep.client.BlockNumber)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.markFailed(network, ep, err)
			continue
		}
		m.markHealthy(ep)
		return &Provider{Network: network, URL: ep.url, Client: ep.client}, nil
	}

	return nil, fmt.Errorf("%w for network %s", domainErrors.ErrAllProvidersFailed, network)
}

// ReportFailure puts the endpoint into cooldown after a failed call.
func (m *ProviderManager) ReportFailure(network, url string, cause error) {
	network = strings.ToLower(network)

	m.mu.Lock()
	eps := m.networks[network]
	m.mu.Unlock()

	for _, ep := range eps {
		if ep.url == url {
			m.markFailed(network, ep, cause)
			return
		}
	}
}

// Networks returns the networks that have at least one endpoint.
func (m *ProviderManager) Networks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.networks))
	for n, eps := range m.networks {
		if len(eps) > 0 {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func (m *ProviderManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, eps := range m.networks {
		for _, ep := range eps {
			ep.client.Close()
		}
	}
	m.networks = make(map[string][]*endpoint)
}

type endpointState int

const (
	stateUnknown endpointState = iota
	stateHealthy
	stateCoolingDown
)

func (m *ProviderManager) state(ep *endpoint) endpointState {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !ep.lastFailure.IsZero() && now.Sub(ep.lastFailure) < m.cooldown {
		return stateCoolingDown
	}
	if m.healthTTL > 0 && !ep.lastHealthy.IsZero() && now.Sub(ep.lastHealthy) < m.healthTTL {
		return stateHealthy
	}
	return stateUnknown
}

func (m *ProviderManager) markHealthy(ep *endpoint) {
	m.mu.Lock()
	ep.lastFailure = time.Time{}
	ep.lastHealthy = m.now()
	m.mu.Unlock()
}

func (m *ProviderManager) markFailed(network string, ep *endpoint, cause error) {
	m.mu.Lock()
	ep.lastFailure = m.now()
	ep.lastHealthy = time.Time{}
	m.mu.Unlock()

	m.metrics.RecordProviderFailure(network)
	m.logger.Warn().Err(cause).Str("network", network).Str("provider", redact(ep.url)).
		Dur("cooldown", m.cooldown).Msg("RPC provider marked unhealthy")
}

// redact drops path and query from an endpoint URL; hosted RPC URLs carry API keys there.
func redact(url string) string {
	scheme := ""
	rest := url
	if i := strings.Index(url, "://"); i >= 0 {
		scheme, rest = url[:i+3], url[i+3:]
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	return scheme + rest
}
