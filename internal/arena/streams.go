package arena

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"pkt.systems/seatd/internal/challenge"
)

// scanBufferSize bounds a single ndjson line; gameFull payloads with long
// move lists can run well past bufio's default.
const scanBufferSize = 1 << 20

// StreamEvents opens the account event stream and decodes it line by line.
// The channel closes when the stream ends or fails; reconnecting is the
// caller's concern.
func (c *Client) StreamEvents(ctx context.Context) (<-chan Event, error) {
	resp, err := c.openStream(ctx, "/api/stream/event", nil)
	if err != nil {
		return nil, err
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := newLineScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				c.logger.Warn("seatd.arena.events.bad_line", "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.logger.Warn("seatd.arena.events.stream_ended", "error", err)
		}
	}()
	return out, nil
}

// StreamGame opens the per-game stream. Keep-alive blank lines are surfaced
// as GamePing updates so the consumer can detect an idle opponent.
func (c *Client) StreamGame(ctx context.Context, gameID string) (<-chan GameUpdate, error) {
	resp, err := c.openStream(ctx, "/api/bot/game/stream/"+gameID, nil)
	if err != nil {
		return nil, err
	}
	out := make(chan GameUpdate)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := newLineScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			update := GameUpdate{Type: GamePing}
			if line != "" {
				if err := json.Unmarshal([]byte(line), &update); err != nil {
					c.logger.Warn("seatd.arena.game.bad_line",
						"game_id", gameID,
						"error", err)
					continue
				}
				update.Raw = json.RawMessage(line)
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			c.logger.Warn("seatd.arena.game.stream_ended",
				"game_id", gameID,
				"error", err)
		}
	}()
	return out, nil
}

// OnlineBots lists the currently online bot accounts, own account and
// disabled accounts excluded.
func (c *Client) OnlineBots(ctx context.Context) ([]BotUser, error) {
	resp, err := c.openStream(ctx, "/api/bot/online", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var bots []BotUser
	scanner := newLineScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var bot BotUser
		if err := json.Unmarshal([]byte(line), &bot); err != nil {
			c.logger.Warn("seatd.arena.bots.bad_line", "error", err)
			continue
		}
		if bot.Disabled || bot.Username == c.username {
			continue
		}
		bots = append(bots, bot)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return bots, nil
}

// CreateChallenge issues an outbound challenge and relays the creation
// stream. The keepAliveStream form holds the request open until the
// opponent answers or the timeout passes; a broken connection is reported
// as a timed-out update, matching how an unanswered challenge behaves.
func (c *Client) CreateChallenge(ctx context.Context, req challenge.Request) <-chan challenge.StreamUpdate {
	out := make(chan challenge.StreamUpdate, 1)

	form := url.Values{
		"rated":           {strconv.FormatBool(req.Rated)},
		"clock.limit":     {strconv.Itoa(req.InitialTime)},
		"clock.increment": {strconv.Itoa(req.Increment)},
		"color":           {string(req.Color)},
		"variant":         {req.Variant},
		"keepAliveStream": {"true"},
	}
	cancel := context.CancelFunc(func() {})
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/challenge/"+req.Opponent, strings.NewReader(form.Encode()))
	if err != nil {
		cancel()
		out <- challenge.StreamUpdate{TimedOut: true}
		close(out)
		return out
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		cancel()
		out <- challenge.StreamUpdate{TimedOut: true}
		close(out)
		return out
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		cancel()
		out <- challenge.StreamUpdate{RateLimited: true}
		close(out)
		return out
	}

	go func() {
		defer close(out)
		defer cancel()
		defer resp.Body.Close()
		scanner := newLineScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var payload struct {
				Challenge struct {
					ID string `json:"id"`
				} `json:"challenge"`
				Done  string `json:"done"`
				Error string `json:"error"`
			}
			if err := json.Unmarshal([]byte(line), &payload); err != nil {
				c.logger.Warn("seatd.arena.challenge.bad_line",
					"opponent", req.Opponent,
					"error", err)
				continue
			}
			update := challenge.StreamUpdate{
				ChallengeID: payload.Challenge.ID,
				Accepted:    payload.Done == "accepted",
				Declined:    payload.Done == "declined",
				Error:       payload.Error,
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- challenge.StreamUpdate{TimedOut: true}:
			default:
			}
		}
	}()
	return out
}

func (c *Client) openStream(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufferSize)
	return scanner
}
