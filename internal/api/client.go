package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"oraculo/internal/domain"
	"oraculo/internal/pricing"
	"oraculo/internal/protocol"
)

// Default client configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0
)

// Client calls the HTTP API, signing mutating requests with its key.
type Client struct {
	baseURL     string
	key         ed25519.PrivateKey
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	now         func() time.Time
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithKey sets the signing key. Without one, mutating calls fail.
func WithKey(key ed25519.PrivateKey) ClientOption {
	return func(c *Client) {
		c.key = key
	}
}

// WithClock sets the clock used for request timestamps.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Signer returns the address of the client's key.
func (c *Client) Signer() (domain.Address, bool) {
	if c.key == nil {
		return domain.Address{}, false
	}
	return AddressOf(c.key.Public().(ed25519.PublicKey)), true
}

var errNoKey = errors.New("api: client has no signing key")

// do sends a request with retries and exponential backoff. Transport
// errors, 429 and 5xx are retried; other responses are final. A signed
// request is signed once and every attempt carries the same nonce, so an
// attempt that reached the server before its response was lost cannot be
// applied twice: the retry fails with ErrReplayedRequest instead.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	signed := method != http.MethodGet
	if signed && c.key == nil {
		return errNoKey
	}

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var auth http.Header
	if signed {
		ts, nonce := c.now().Unix(), uuid.NewString()
		auth = http.Header{}
		auth.Set(HeaderSigner, AddressOf(c.key.Public().(ed25519.PublicKey)).String())
		auth.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		auth.Set(HeaderNonce, nonce)
		auth.Set(HeaderSignature, SignRequest(c.key, method, path, ts, nonce, body))
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range auth {
			req.Header[k] = v
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode >= 300 {
			apiErr := &APIError{Status: resp.StatusCode}
			var eb errorBody
			if json.Unmarshal(respBody, &eb) == nil && eb.Error != "" {
				apiErr.Code, apiErr.Kind, apiErr.Message = eb.Code, eb.Kind, eb.Error
			} else {
				apiErr.Message = strings.TrimSpace(string(respBody))
			}
			if apiErr.retryable() {
				lastErr = apiErr
				continue
			}
			return apiErr
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, in, out)
}

// InitializeConfig creates the deployment config with the client as
// authority.
func (c *Client) InitializeConfig(ctx context.Context, p protocol.InitConfigParams) (*domain.Config, error) {
	var out domain.Config
	if err := c.post(ctx, "/v1/config", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateConfig changes protocol parameters.
func (c *Client) UpdateConfig(ctx context.Context, u protocol.ConfigUpdate) (*domain.Config, error) {
	var out domain.Config
	if err := c.do(ctx, http.MethodPatch, "/v1/config", nil, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetConfig returns the deployment config.
func (c *Client) GetConfig(ctx context.Context) (*domain.Config, error) {
	var out domain.Config
	if err := c.get(ctx, "/v1/config", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InitializeMint creates a mint with the client as mint authority.
func (c *Client) InitializeMint(ctx context.Context, symbol string, decimals uint8) (*domain.Mint, error) {
	var out domain.Mint
	if err := c.post(ctx, "/v1/mints", InitializeMintRequest{Symbol: symbol, Decimals: decimals}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MintTo mints amount of mint to recipient.
func (c *Client) MintTo(ctx context.Context, mint, recipient domain.Address, amount uint64) (*domain.TokenAccount, error) {
	var out domain.TokenAccount
	if err := c.post(ctx, "/v1/mints/"+mint.String()+"/mint-to", MintToRequest{Recipient: recipient, Amount: amount}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns owner's balance of mint.
func (c *Client) Balance(ctx context.Context, owner, mint domain.Address) (uint64, error) {
	var out BalanceResponse
	err := c.get(ctx, "/v1/balances/"+owner.String()+"/"+mint.String(), nil, &out)
	return out.Balance, err
}

// CreateMarket opens a market funded by the client.
func (c *Client) CreateMarket(ctx context.Context, p protocol.CreateMarketParams) (*domain.Market, error) {
	var out domain.Market
	if err := c.post(ctx, "/v1/markets", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMarkets lists markets, newest first.
func (c *Client) ListMarkets(ctx context.Context, f protocol.MarketFilter) ([]*domain.Market, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Category != "" {
		q.Set("category", string(f.Category))
	}
	if f.Creator != nil {
		q.Set("creator", f.Creator.String())
	}
	var out []*domain.Market
	return out, c.get(ctx, "/v1/markets", q, &out)
}

// GetMarket returns a market.
func (c *Client) GetMarket(ctx context.Context, market domain.Address) (*domain.Market, error) {
	var out domain.Market
	if err := c.get(ctx, "/v1/markets/"+market.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quote prices a market, and a prospective bet when side and amount are
// set.
func (c *Client) Quote(ctx context.Context, market domain.Address, side domain.Side, amount uint64) (*pricing.Quote, error) {
	q := url.Values{}
	if side != "" {
		q.Set("side", string(side))
	}
	if amount > 0 {
		q.Set("amount", strconv.FormatUint(amount, 10))
	}
	var out pricing.Quote
	if err := c.get(ctx, "/v1/markets/"+market.String()+"/quote", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns a market's price points within [from, to] and its
// activity stats. Zero bounds use the server defaults.
func (c *Client) History(ctx context.Context, market domain.Address, from, to int64) (*HistoryResponse, error) {
	q := url.Values{}
	if from != 0 {
		q.Set("from", strconv.FormatInt(from, 10))
	}
	if to != 0 {
		q.Set("to", strconv.FormatInt(to, 10))
	}
	var out HistoryResponse
	if err := c.get(ctx, "/v1/markets/"+market.String()+"/history", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPosition returns owner's position in market.
func (c *Client) GetPosition(ctx context.Context, market, owner domain.Address) (*protocol.PositionView, error) {
	var out protocol.PositionView
	if err := c.get(ctx, "/v1/markets/"+market.String()+"/positions/"+owner.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlaceBet buys shares of side.
func (c *Client) PlaceBet(ctx context.Context, market domain.Address, side domain.Side, amount uint64) (*protocol.BetResult, error) {
	var out protocol.BetResult
	if err := c.post(ctx, "/v1/markets/"+market.String()+"/bets", PlaceBetRequest{Side: side, Amount: amount}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProposeOutcome opens a resolution proposal on an ended market.
func (c *Client) ProposeOutcome(ctx context.Context, market domain.Address, outcome bool, evidence string) (*domain.Proposal, error) {
	var out domain.Proposal
	if err := c.post(ctx, "/v1/markets/"+market.String()+"/proposals", ProposeOutcomeRequest{Outcome: outcome, Evidence: evidence}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProposals returns a market's proposals.
func (c *Client) ListProposals(ctx context.Context, market domain.Address) ([]*domain.Proposal, error) {
	var out []*domain.Proposal
	return out, c.get(ctx, "/v1/markets/"+market.String()+"/proposals", nil, &out)
}

// Redeem burns winning shares and returns the payout.
func (c *Client) Redeem(ctx context.Context, market domain.Address, shares uint64) (uint64, error) {
	var out AmountResponse
	err := c.post(ctx, "/v1/markets/"+market.String()+"/redeem", RedeemRequest{Shares: shares}, &out)
	return out.Amount, err
}

// CancelMarket cancels an active market.
func (c *Client) CancelMarket(ctx context.Context, market domain.Address) (*domain.Market, error) {
	var out domain.Market
	if err := c.post(ctx, "/v1/markets/"+market.String()+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClaimRefund returns the client's deposits on a cancelled market.
func (c *Client) ClaimRefund(ctx context.Context, market domain.Address) (uint64, error) {
	var out AmountResponse
	err := c.post(ctx, "/v1/markets/"+market.String()+"/refund", nil, &out)
	return out.Amount, err
}

// GetProposal returns a proposal.
func (c *Client) GetProposal(ctx context.Context, proposal domain.Address) (*domain.Proposal, error) {
	var out domain.Proposal
	if err := c.get(ctx, "/v1/proposals/"+proposal.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CastVote votes on a proposal with the client's governance balance.
func (c *Client) CastVote(ctx context.Context, proposal domain.Address, support bool) (*domain.VoteRecord, error) {
	var out domain.VoteRecord
	if err := c.post(ctx, "/v1/proposals/"+proposal.String()+"/votes", CastVoteRequest{Support: support}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVote returns voter's vote on proposal.
func (c *Client) GetVote(ctx context.Context, proposal, voter domain.Address) (*domain.VoteRecord, error) {
	var out domain.VoteRecord
	if err := c.get(ctx, "/v1/proposals/"+proposal.String()+"/votes/"+voter.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteResolution finalizes a proposal whose voting closed.
func (c *Client) ExecuteResolution(ctx context.Context, proposal domain.Address) (*protocol.Resolution, error) {
	var out protocol.Resolution
	if err := c.post(ctx, "/v1/proposals/"+proposal.String()+"/execute", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WithdrawVote returns the client's escrowed vote weight.
func (c *Client) WithdrawVote(ctx context.Context, proposal domain.Address) (uint64, error) {
	var out AmountResponse
	err := c.post(ctx, "/v1/proposals/"+proposal.String()+"/withdraw", nil, &out)
	return out.Amount, err
}
