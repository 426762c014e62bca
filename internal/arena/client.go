// Package arena is the HTTP client for the remote game service: account
// lookup, challenge actions, game actions, and the ndjson streams the event
// pump and game workers consume.
package arena

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pkt.systems/pslog"
	"pkt.systems/seatd/internal/challenge"
	"pkt.systems/seatd/internal/clock"
	"pkt.systems/seatd/internal/svcfields"
)

// Defaults for the arena client configuration.
const (
	DefaultBaseURL = "https://lichess.org"
	DefaultTimeout = 15 * time.Second

	moveRetryDelay = time.Second
	maxMoveRetries = 5

	errorBodyLimit = 2048
)

// ErrRateLimited marks a request the service refused with HTTP 429.
var ErrRateLimited = errors.New("arena: rate limited")

// StatusError is a non-2xx response to a plain (non-streaming) call.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("arena: unexpected status %d: %s", e.Status, e.Body)
}

// Config carries the arena client's tunables.
type Config struct {
	// BaseURL is the service root, without a trailing slash. Defaults to the
	// public instance.
	BaseURL string
	// Token is the bearer token of the bot account.
	Token string
	// Timeout bounds plain calls. Streaming calls are bounded by their
	// context instead.
	Timeout time.Duration
	Logger  pslog.Logger
	Clock   clock.Clock
	// Transport overrides the underlying round tripper; tests mostly leave
	// it nil and point BaseURL at a local server.
	Transport http.RoundTripper
}

// Client talks to the remote game service on behalf of one bot account.
type Client struct {
	base   string
	token  string
	logger pslog.Logger
	clk    clock.Clock
	httpc  *http.Client
	stream *http.Client

	// Set once by Login before any concurrent use.
	username  string
	userAgent string
}

// NewClient assembles a client. Call Login before issuing other requests.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	instrumented := otelhttp.NewTransport(transport)
	return &Client{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		logger:    svcfields.WithSubsystem(cfg.Logger, "arena"),
		clk:       cfg.Clock,
		httpc:     &http.Client{Transport: instrumented, Timeout: cfg.Timeout},
		stream:    &http.Client{Transport: instrumented},
		userAgent: "seatd",
	}
}

// Login fetches the authenticated account and pins the user agent to it.
// Must complete before the client is shared across goroutines.
func (c *Client) Login(ctx context.Context) (Account, error) {
	var account Account
	if err := c.getJSON(ctx, "/api/account", nil, &account); err != nil {
		return Account{}, fmt.Errorf("fetch account: %w", err)
	}
	c.username = account.Username
	c.userAgent = "seatd user:" + account.Username
	c.logger.Info("seatd.arena.login",
		"username", account.Username,
		"title", account.Title)
	return account, nil
}

// Username returns the logged-in account name, empty before Login.
func (c *Client) Username() string { return c.username }

// AcceptChallenge accepts an inbound challenge.
func (c *Client) AcceptChallenge(ctx context.Context, challengeID string) error {
	return c.post(ctx, "/api/challenge/"+challengeID+"/accept", nil)
}

// DeclineChallenge declines an inbound challenge with a reason.
func (c *Client) DeclineChallenge(ctx context.Context, challengeID string, reason challenge.DeclineReason) error {
	form := url.Values{"reason": {string(reason)}}
	return c.post(ctx, "/api/challenge/"+challengeID+"/decline", form)
}

// CancelChallenge cancels an outbound challenge that was not answered.
func (c *Client) CancelChallenge(ctx context.Context, challengeID string) error {
	return c.post(ctx, "/api/challenge/"+challengeID+"/cancel", nil)
}

// AbortGame aborts a game that has not effectively started.
func (c *Client) AbortGame(ctx context.Context, gameID string) error {
	return c.post(ctx, "/api/bot/game/"+gameID+"/abort", nil)
}

// ResignGame resigns a running game.
func (c *Client) ResignGame(ctx context.Context, gameID string) error {
	return c.post(ctx, "/api/bot/game/"+gameID+"/resign", nil)
}

// SendMove plays a move. Transport failures are retried; the service
// rejecting the move is final.
func (c *Client) SendMove(ctx context.Context, gameID, uciMove string, offerDraw bool) error {
	path := fmt.Sprintf("/api/bot/game/%s/move/%s?offeringDraw=%t", gameID, uciMove, offerDraw)
	var err error
	for attempt := 0; attempt < maxMoveRetries; attempt++ {
		err = c.post(ctx, path, nil)
		var statusErr *StatusError
		if err == nil || errors.As(err, &statusErr) || errors.Is(err, ErrRateLimited) {
			return err
		}
		c.logger.Warn("seatd.arena.move.retry",
			"game_id", gameID,
			"move", uciMove,
			"attempt", attempt+1,
			"error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clk.After(moveRetryDelay):
		}
	}
	return err
}

// SendChat posts a chat message into a game room.
func (c *Client) SendChat(ctx context.Context, gameID, room, text string) error {
	form := url.Values{"room": {room}, "text": {text}}
	return c.post(ctx, "/api/bot/game/"+gameID+"/chat", form)
}

// Performance returns the account's rating figure in one category.
func (c *Client) Performance(ctx context.Context, username, perfType string) (Glicko, error) {
	var payload struct {
		Perf struct {
			Glicko Glicko `json:"glicko"`
		} `json:"perf"`
	}
	path := "/api/user/" + username + "/perf/" + perfType
	if err := c.getJSON(ctx, path, nil, &payload); err != nil {
		return Glicko{}, fmt.Errorf("fetch performance: %w", err)
	}
	return payload.Perf.Glicko, nil
}

// UpgradeAccount converts the account to a bot account. One-time setup.
func (c *Client) UpgradeAccount(ctx context.Context) error {
	return c.post(ctx, "/api/bot/account/upgrade", nil)
}

func (c *Client) post(ctx context.Context, path string, form url.Values) error {
	var body io.Reader
	contentType := ""
	if len(form) > 0 {
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", c.userAgent)
	requestID := xid.New().String()
	req.Header.Set("X-Request-Id", requestID)
	c.logger.Trace("seatd.arena.request",
		"method", method,
		"path", path,
		"request_id", requestID)
	return req, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))
		return ErrRateLimited
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
