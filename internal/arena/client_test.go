package arena

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"pkt.systems/pslog"
	"pkt.systems/seatd/internal/challenge"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL: srv.URL,
		Token:   "secret-token",
		Logger:  pslog.NoopLogger(),
	})
	return c, srv
}

func TestLoginSetsIdentity(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/account" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("authorization = %q", got)
		}
		w.Write([]byte(`{"id":"seatbot","username":"SeatBot","title":"BOT"}`))
	}))

	account, err := c.Login(context.Background())
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if account.Username != "SeatBot" {
		t.Fatalf("username = %q", account.Username)
	}
	if c.Username() != "SeatBot" {
		t.Fatalf("client username = %q", c.Username())
	}
	if c.userAgent != "seatd user:SeatBot" {
		t.Fatalf("user agent = %q", c.userAgent)
	}
}

func TestAcceptChallengePostsToChallengePath(t *testing.T) {
	var gotPath, gotMethod string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
	}))

	if err := c.AcceptChallenge(context.Background(), "ch42"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/challenge/ch42/accept" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
}

func TestDeclineChallengeSendsReason(t *testing.T) {
	var gotReason string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotReason = r.PostFormValue("reason")
	}))

	if err := c.DeclineChallenge(context.Background(), "ch1", challenge.DeclineTooFast); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if gotReason != "tooFast" {
		t.Fatalf("reason = %q", gotReason)
	}
}

func TestRateLimitedStatusIsDistinct(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := c.AbortGame(context.Background(), "g1")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestStatusErrorCarriesBody(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"No such challenge"}`, http.StatusNotFound)
	}))

	err := c.CancelChallenge(context.Background(), "gone")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if statusErr.Status != http.StatusNotFound {
		t.Fatalf("status = %d", statusErr.Status)
	}
}

func TestSendMoveDoesNotRetryServiceRejection(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "invalid move", http.StatusBadRequest)
	}))

	err := c.SendMove(context.Background(), "g1", "e2e4", false)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on a definitive rejection)", calls)
	}
}

func TestPerformanceDecodesGlicko(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/user/SeatBot/perf/blitz" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"perf":{"glicko":{"rating":2145.5,"deviation":45.2,"provisional":true}}}`))
	}))

	glicko, err := c.Performance(context.Background(), "SeatBot", "blitz")
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if glicko.Rating != 2145.5 || glicko.Deviation != 45.2 || !glicko.Provisional {
		t.Fatalf("glicko = %+v", glicko)
	}
}

func TestStreamEventsDecodesChallengeAndGameEvents(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type":"challenge","challenge":{"id":"ch1","challenger":{"name":"Rival","title":"BOT","rating":2000},"rated":true,"speed":"blitz","variant":{"key":"standard"},"timeControl":{"type":"clock","limit":180,"increment":2,"show":"3+2"}}}` + "\n"))
		w.Write([]byte("\n"))
		w.Write([]byte(`{"type":"gameStart","game":{"id":"g7"}}` + "\n"))
	}))

	events, err := c.StreamEvents(context.Background())
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2 (blank keep-alive skipped)", len(got))
	}
	if got[0].Type != EventChallenge || got[0].Challenge.ID != "ch1" {
		t.Fatalf("first event = %+v", got[0])
	}
	if got[0].Challenge.Challenger.Name != "Rival" || got[0].Challenge.TimeControl.Limit != 180 {
		t.Fatalf("challenge payload = %+v", got[0].Challenge)
	}
	if got[1].Type != EventGameStart || got[1].Game.ID != "g7" {
		t.Fatalf("second event = %+v", got[1])
	}
}

func TestStreamGameSurfacesPings(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/bot/game/stream/g1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"type":"gameFull","state":{"moves":"","status":"started"}}` + "\n"))
		w.Write([]byte("\n"))
		w.Write([]byte(`{"type":"gameState","moves":"e2e4","status":"started"}` + "\n"))
	}))

	updates, err := c.StreamGame(context.Background(), "g1")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var got []GameUpdate
	for u := range updates {
		got = append(got, u)
	}
	if len(got) != 3 {
		t.Fatalf("got %d updates, want 3", len(got))
	}
	if got[0].Type != GameUpdateFull || got[0].State.Status != StatusStarted {
		t.Fatalf("first update = %+v", got[0])
	}
	if got[1].Type != GamePing {
		t.Fatalf("blank line should become a ping, got %+v", got[1])
	}
	if got[2].Type != GameUpdateState || got[2].Moves != "e2e4" {
		t.Fatalf("third update = %+v", got[2])
	}
}

func TestOnlineBotsFiltersOwnAndDisabled(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"username":"SeatBot","perfs":{"blitz":{"rating":2100}}}` + "\n"))
		w.Write([]byte(`{"username":"Banned","disabled":true,"perfs":{}}` + "\n"))
		w.Write([]byte(`{"username":"Rival","perfs":{"blitz":{"rating":2050}}}` + "\n"))
	}))
	c.username = "SeatBot"

	bots, err := c.OnlineBots(context.Background())
	if err != nil {
		t.Fatalf("online bots: %v", err)
	}
	if len(bots) != 1 || bots[0].Username != "Rival" {
		t.Fatalf("bots = %+v, want only Rival", bots)
	}
	if bots[0].Perfs["blitz"].Rating != 2050 {
		t.Fatalf("rating = %d", bots[0].Perfs["blitz"].Rating)
	}
}

func TestCreateChallengeRelaysStream(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.PostFormValue("keepAliveStream"); got != "true" {
			t.Errorf("keepAliveStream = %q", got)
		}
		if got := r.PostFormValue("clock.limit"); got != "180" {
			t.Errorf("clock.limit = %q", got)
		}
		w.Write([]byte(`{"challenge":{"id":"ch9"}}` + "\n"))
		w.Write([]byte(`{"done":"accepted"}` + "\n"))
	}))

	var got []challenge.StreamUpdate
	for u := range c.CreateChallenge(context.Background(), challenge.Request{
		Opponent:    "Rival",
		InitialTime: 180,
		Increment:   2,
		Rated:       true,
		Color:       challenge.ColorWhite,
		Variant:     "standard",
	}) {
		got = append(got, u)
	}
	if len(got) != 2 {
		t.Fatalf("got %d updates, want 2", len(got))
	}
	if got[0].ChallengeID != "ch9" {
		t.Fatalf("first update = %+v", got[0])
	}
	if !got[1].Accepted {
		t.Fatalf("second update = %+v", got[1])
	}
}

func TestCreateChallengeRateLimit(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	var got []challenge.StreamUpdate
	for u := range c.CreateChallenge(context.Background(), challenge.Request{Opponent: "Rival"}) {
		got = append(got, u)
	}
	if len(got) != 1 || !got[0].RateLimited {
		t.Fatalf("updates = %+v, want single rate-limited", got)
	}
}

func TestCreateChallengeConnectionFailureTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := NewClient(Config{BaseURL: srv.URL, Logger: pslog.NoopLogger()})
	srv.Close()

	var got []challenge.StreamUpdate
	for u := range c.CreateChallenge(context.Background(), challenge.Request{Opponent: "Rival"}) {
		got = append(got, u)
	}
	if len(got) != 1 || !got[0].TimedOut {
		t.Fatalf("updates = %+v, want single timed-out", got)
	}
}
