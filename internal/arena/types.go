package arena

import "encoding/json"

// Account is the authenticated bot account as reported by the service.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Title    string `json:"title"`
}

// Glicko is a single rating figure with its deviation.
type Glicko struct {
	Rating      float64 `json:"rating"`
	Deviation   float64 `json:"deviation"`
	Provisional bool    `json:"provisional"`
}

// PerfRating is one entry of a user's per-category rating map.
type PerfRating struct {
	Rating int `json:"rating"`
}

// BotUser is one row of the online-bot listing.
type BotUser struct {
	Username string                `json:"username"`
	Title    string                `json:"title"`
	Disabled bool                  `json:"disabled"`
	Perfs    map[string]PerfRating `json:"perfs"`
}

// Event stream payloads. The account stream multiplexes challenge and game
// lifecycle notifications; Type selects which pointer is populated.
const (
	EventChallenge         = "challenge"
	EventChallengeCanceled = "challengeCanceled"
	EventChallengeDeclined = "challengeDeclined"
	EventGameStart         = "gameStart"
	EventGameFinish        = "gameFinish"
)

// Event is one account-stream notification.
type Event struct {
	Type      string          `json:"type"`
	Challenge *ChallengeEvent `json:"challenge,omitempty"`
	Game      *GameEvent      `json:"game,omitempty"`
}

// ChallengeEvent describes an inbound or cancelled challenge.
type ChallengeEvent struct {
	ID          string      `json:"id"`
	Challenger  EventPlayer `json:"challenger"`
	Rated       bool        `json:"rated"`
	Speed       string      `json:"speed"`
	Variant     KeyedName   `json:"variant"`
	TimeControl TimeControl `json:"timeControl"`
}

// EventPlayer identifies the counterparty of a challenge.
type EventPlayer struct {
	Name   string `json:"name"`
	Title  string `json:"title"`
	Rating int    `json:"rating"`
}

// KeyedName is the service's {key, name} pair for enumerated values.
type KeyedName struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// TimeControl is a challenge's clock setting.
type TimeControl struct {
	Type      string `json:"type"`
	Limit     int    `json:"limit"`
	Increment int    `json:"increment"`
	Show      string `json:"show"`
}

// GameEvent carries the game id of a start or finish notification.
type GameEvent struct {
	ID string `json:"id"`
}

// Game stream payloads. An empty keep-alive line is surfaced as a
// GamePing update so consumers can track stream liveness.
const (
	GameUpdateFull  = "gameFull"
	GameUpdateState = "gameState"
	GameUpdateChat  = "chatLine"
	GamePing        = "ping"
)

// GameUpdate is one game-stream item. Raw retains the full payload for
// consumers that need fields beyond the decoded common set.
type GameUpdate struct {
	Type  string          `json:"type"`
	State *GameState      `json:"state,omitempty"`
	Raw   json.RawMessage `json:"-"`

	// gameState fields, populated when Type is GameUpdateState.
	Moves  string `json:"moves,omitempty"`
	Status string `json:"status,omitempty"`
	Winner string `json:"winner,omitempty"`

	// chatLine fields, populated when Type is GameUpdateChat.
	Username string `json:"username,omitempty"`
	Room     string `json:"room,omitempty"`
	Text     string `json:"text,omitempty"`
}

// GameState is the nested state block of a gameFull update.
type GameState struct {
	Moves  string `json:"moves"`
	Status string `json:"status"`
	Winner string `json:"winner"`
}

// Game status values the worker cares about.
const (
	StatusStarted = "started"
	StatusAborted = "aborted"
)
