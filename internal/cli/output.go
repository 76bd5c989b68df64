package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter writing to w
func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(o.w, string(data))
	} else {
		fmt.Fprintf(o.w, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Fprintln(o.w, string(data))
	} else {
		fmt.Fprintln(o.w, msg)
	}
}

// PrintRelayMessage outputs one frame received from the relay
func (o *Output) PrintRelayMessage(at time.Time, data []byte) {
	if o.format == "json" {
		// One compact envelope per line
		fmt.Fprintln(o.w, strings.TrimSpace(string(data)))
		return
	}

	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		fmt.Fprintf(o.w, "[%s] (unparsed) %s\n", at.Format(time.TimeOnly), data)
		return
	}

	payload := string(env.Payload)
	if len(payload) > 200 {
		payload = payload[:200] + "..."
	}
	fmt.Fprintf(o.w, "[%s] %s: %s\n", at.Format(time.TimeOnly), env.Type, payload)
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case Session:
		o.printSession(v)
	case JoinResult:
		o.printJoinResult(v)
	case PlayerList:
		o.printPlayers(v)
	case LoadGameResult:
		o.printLoadGameResult(v)
	case TokenResult:
		o.printTokenResult(v)
	case HealthResult:
		o.printHealthResult(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// Player response type (matches API)
type Player struct {
	ID               string     `json:"id"`
	DisplayName      string     `json:"displayName"`
	AvatarURL        *string    `json:"avatarUrl"`
	ConnectionStatus string     `json:"connectionStatus"`
	CreatedAt        time.Time  `json:"createdAt"`
	LeftAt           *time.Time `json:"leftAt,omitempty"`
}

// PlayerList is the players endpoint response
type PlayerList []Player

// Session response type
type Session struct {
	ID            string     `json:"id"`
	SessionCode   string     `json:"sessionCode"`
	Status        string     `json:"status"`
	HostID        string     `json:"hostId"`
	GameID        *string    `json:"gameId"`
	GameVersionID *string    `json:"gameVersionId"`
	MaxPlayers    int        `json:"maxPlayers"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	EndedAt       *time.Time `json:"endedAt"`
	Players       []Player   `json:"players"`
}

// SessionSummary is the session part of a join response
type SessionSummary struct {
	ID          string `json:"id"`
	SessionCode string `json:"sessionCode"`
	Status      string `json:"status"`
	HostID      string `json:"hostId"`
}

// JoinResult is the join endpoint response
type JoinResult struct {
	Player  Player         `json:"player"`
	Session SessionSummary `json:"session"`
}

// LoadGameResult is the load game endpoint response
type LoadGameResult struct {
	SessionID     string `json:"sessionId"`
	GameID        string `json:"gameId"`
	GameVersionID string `json:"gameVersionId"`
	Status        string `json:"status"`
}

// TokenResult is a locally minted host token
type TokenResult struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HealthResult response type
type HealthResult struct {
	Status  string `json:"status"`
	Storage string `json:"storage,omitempty"`
}

func (o *Output) printSession(s Session) {
	fmt.Fprintf(o.w, "Session: %s\n", s.ID)
	fmt.Fprintf(o.w, "Code:    %s\n", s.SessionCode)
	fmt.Fprintf(o.w, "Status:  %s\n", s.Status)
	fmt.Fprintf(o.w, "Host:    %s\n", s.HostID)
	if s.GameID != nil {
		version := ""
		if s.GameVersionID != nil {
			version = *s.GameVersionID
		}
		fmt.Fprintf(o.w, "Game:    %s (%s)\n", *s.GameID, version)
	}
	fmt.Fprintf(o.w, "Players: %d/%d\n", len(s.Players), s.MaxPlayers)
	if len(s.Players) > 0 {
		o.printPlayers(s.Players)
	}
}

func (o *Output) printJoinResult(r JoinResult) {
	fmt.Fprintf(o.w, "Joined session %s as %s\n", r.Session.SessionCode, r.Player.DisplayName)
	fmt.Fprintf(o.w, "Player ID:  %s\n", r.Player.ID)
	fmt.Fprintf(o.w, "Session ID: %s\n", r.Session.ID)
}

func (o *Output) printPlayers(players []Player) {
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tNAME\tSTATUS\tJOINED")
	for _, p := range players {
		status := p.ConnectionStatus
		if p.LeftAt != nil {
			status += " (left)"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", p.ID, p.DisplayName, status, p.CreatedAt.Format(time.DateTime))
	}
	_ = tw.Flush()
}

func (o *Output) printLoadGameResult(r LoadGameResult) {
	fmt.Fprintf(o.w, "Loaded game %s (version %s) into session %s\n", r.GameID, r.GameVersionID, r.SessionID)
	fmt.Fprintf(o.w, "Status: %s\n", r.Status)
}

func (o *Output) printTokenResult(r TokenResult) {
	fmt.Fprintln(o.w, r.Token)
}

func (o *Output) printHealthResult(r HealthResult) {
	fmt.Fprintf(o.w, "Status: %s\n", r.Status)
}
