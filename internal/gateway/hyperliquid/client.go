// Package hyperliquid implements exchange.Gateway against the Hyperliquid
// perpetuals REST API.
package hyperliquid

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"hlfleet/internal/gateway/exchange"
	"hlfleet/internal/logger"
	"hlfleet/internal/metrics"
	"hlfleet/internal/pkg/circuit"
	"hlfleet/internal/precision"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	MainnetURL = "https://api.hyperliquid.xyz"
	TestnetURL = "https://api.hyperliquid-testnet.xyz"

	// marketSlippage bounds the IOC limit used to close at market.
	marketSlippage = 0.05
)

type Config struct {
	Name              string
	BaseURL           string
	Mainnet           bool
	PrivateKey        *ecdsa.PrivateKey
	AccountAddress    string
	VaultAddress      string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	BreakerThreshold  int
	BreakerCooldown   time.Duration
}

// Client is bound to a single account. It is safe for concurrent use by the
// engine loops of that account.
type Client struct {
	baseURL    string
	mainnet    bool
	key        *ecdsa.PrivateKey
	user       common.Address
	vault      *common.Address
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuit.Breaker
	log        logger.Scope

	mu        sync.Mutex
	lastNonce int64
	assets    map[string]int
	decimals  map[string]int
	table     *precision.Table
	nowFn     func() time.Time
}

var _ exchange.Gateway = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("hyperliquid: private key is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = TestnetURL
		if cfg.Mainnet {
			base = MainnetURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	signer := crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey)
	user := signer
	if addr := strings.TrimSpace(cfg.AccountAddress); addr != "" {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("hyperliquid: invalid account address %q", addr)
		}
		user = common.HexToAddress(addr)
	}
	var vault *common.Address
	if addr := strings.TrimSpace(cfg.VaultAddress); addr != "" {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("hyperliquid: invalid vault address %q", addr)
		}
		v := common.HexToAddress(addr)
		vault = &v
		user = v
	}
	name := cfg.Name
	if name == "" {
		name = "hyperliquid"
	}
	breaker := circuit.New(name, cfg.BreakerThreshold, cfg.BreakerCooldown)
	log := logger.Scoped(name)
	breaker.OnStateChange(func(_ string, from, to circuit.State) {
		log.Warnf("gateway circuit %s -> %s", from, to)
		metrics.SetBreakerState(name, int(to))
	})
	metrics.SetBreakerState(name, int(circuit.StateClosed))
	return &Client{
		baseURL:    base,
		mainnet:    cfg.Mainnet,
		key:        cfg.PrivateKey,
		user:       user,
		vault:      vault,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		breaker:    breaker,
		log:        log,
		nowFn:      time.Now,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Address is the account whose state the client reads.
func (c *Client) Address() string {
	return c.user.Hex()
}

// Breaker exposes the circuit breaker so callers can observe its state.
func (c *Client) Breaker() *circuit.Breaker {
	return c.breaker
}

func (c *Client) info(ctx context.Context, payload map[string]any) (gjson.Result, error) {
	body, err := c.post(ctx, "/info", payload)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(body), nil
}

// exchange signs action and posts it. The returned result is the parsed
// "response" object of a successful call.
func (c *Client) exchange(ctx context.Context, symbol string, action any) (gjson.Result, error) {
	nonce := c.nextNonce()
	sig, err := signL1Action(c.key, action, c.vault, nonce, c.mainnet)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("sign action: %w", err)
	}
	req := exchangeRequest{Action: action, Nonce: nonce, Signature: sig}
	if c.vault != nil {
		addr := strings.ToLower(c.vault.Hex())
		req.VaultAddress = &addr
	}
	body, err := c.post(ctx, "/exchange", req)
	if err != nil {
		return gjson.Result{}, err
	}
	res := gjson.ParseBytes(body)
	if res.Get("status").String() != "ok" {
		reason := res.Get("response").String()
		if reason == "" {
			reason = strings.TrimSpace(string(body))
		}
		return gjson.Result{}, &exchange.RejectionError{Symbol: symbol, Reason: reason}
	}
	return res.Get("response"), nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	var out []byte
	err = c.breaker.Do(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("call %s: %w", path, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return fmt.Errorf("read %s response: %w", path, err)
		}
		if resp.StatusCode >= 300 {
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && path == "/exchange" {
				return &exchange.RejectionError{Reason: fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(data)))}
			}
			return fmt.Errorf("%s returned %s: %s", path, resp.Status, strings.TrimSpace(string(data)))
		}
		out = data
		return nil
	}, countable)
	if errors.Is(err, circuit.ErrOpen) {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, err
}

// countable keeps venue rejections and caller cancellation from tripping
// the breaker.
func countable(err error) bool {
	if exchange.IsRejection(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func (c *Client) nextNonce() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.nowFn().UnixMilli()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}
