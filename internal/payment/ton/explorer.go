package ton

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/net/proxy"

	"vipgate/internal/metrics"
)

// TxLimit: сколько последних транзакций кошелька просматриваем.
const TxLimit = 50

// Explorer: источник транзакций кошелька.
type Explorer interface {
	Name() string
	Transactions(ctx context.Context, address string) ([]Transaction, error)
}

// explorerClient: общий HTTP-клиент эксплореров: circuit breaker и необязательный SOCKS5.
type explorerClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	logger     zerolog.Logger
}

func newExplorerClient(name, baseURL, proxyAddr string, logger zerolog.Logger) *explorerClient {
	logger = logger.With().Str("explorer", name).Logger()
	c := &explorerClient{
		name:    name,
		baseURL: baseURL,
		logger:  logger,
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("TON: circuit breaker state changed")
		},
	})

	c.httpClient = newHTTPClient(proxyAddr, logger)
	return c
}

func newHTTPClient(proxyAddr string, logger zerolog.Logger) *http.Client {
	if proxyAddr == "" {
		return &http.Client{Timeout: 15 * time.Second}
	}

	dialer, err := proxy.FromURL(&url.URL{Scheme: "socks5h", Host: proxyAddr}, proxy.Direct)
	if err != nil {
		logger.Error().Err(err).Msg("TON: failed to create SOCKS5 dialer, using direct connection")
		return &http.Client{Timeout: 15 * time.Second}
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: 15 * time.Second}
}

func (c *explorerClient) Name() string {
	return c.name
}

// get выполняет GET через circuit breaker и возвращает тело ответа.
func (c *explorerClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.ExplorerRequestDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	}()

	result, err := c.cb.Execute(func() (interface{}, error) {
		reqURL := c.baseURL + path
		if len(query) > 0 {
			reqURL += "?" + query.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
		}
		return body, nil
	})
	if err != nil {
		metrics.ExplorerRequestsTotal.WithLabelValues(c.name, "error").Inc()
		return nil, err
	}

	metrics.ExplorerRequestsTotal.WithLabelValues(c.name, "ok").Inc()
	return result.([]byte), nil
}
