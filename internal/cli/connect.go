package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newConnectCmd() *cobra.Command {
	var (
		role     string
		playerID string
	)

	cmd := &cobra.Command{
		Use:   "connect <session-id>",
		Short: "Attach to a session's relay as the host or a player",
		Long: `Open the session's websocket and relay messages interactively.

Every message received is printed. Each line typed on stdin is sent:
  - a line starting with '{' is sent verbatim as a relay envelope
  - as a player, any other line is sent as player_input with that input type
  - as the host, any other line is sent as game_state_update; valid JSON is
    used as the payload, anything else as a string

Hosts authenticate with the access token; players need --player-id from a join.
Press Ctrl+C or close stdin to disconnect.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{"role": {role}}
			switch role {
			case "host":
				if cfg.Token == "" {
					return errors.New("a host token is required (--token, PARTYCTL_TOKEN or token file)")
				}
				query.Set("token", cfg.Token)
			case "player":
				if playerID == "" {
					return errors.New("--player-id is required for players")
				}
				query.Set("playerId", playerID)
			default:
				return fmt.Errorf("invalid role %q: must be host or player", role)
			}

			wsURL, err := client.WebsocketURL(fmt.Sprintf("/api/v1/sessions/%s/ws", url.PathEscape(args[0])), query)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return relaySession(ctx, wsURL, role, cmd.InOrStdin(), NewOutput(cfg.Output, cmd.OutOrStdout()))
		},
	}

	cmd.Flags().StringVar(&role, "role", "player", "Connection role: host or player")
	cmd.Flags().StringVar(&playerID, "player-id", "", "Player id returned by 'session join'")

	return cmd
}

// relaySession pumps stdin lines to the socket and socket messages to out
func relaySession(ctx context.Context, wsURL, role string, in io.Reader, out *Output) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, resp, err := websocket.Dial(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connection rejected: HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("connection failed: %w", err)
	}
	defer conn.CloseNow()

	// The stdin scanner cannot be interrupted, so it feeds a channel instead of joining the group
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	// Set once we start the close handshake; errors after that are expected
	var hungUp atomic.Bool

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			_, data, err := conn.Read(gctx)
			if err != nil {
				return err
			}
			out.PrintRelayMessage(time.Now(), data)
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case line, ok := <-lines:
				if !ok {
					select {
					case err := <-scanErr:
						if err != nil {
							return err
						}
					default:
					}
					hungUp.Store(true)
					_ = conn.Close(websocket.StatusNormalClosure, "bye")
					return nil
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				frame, err := encodeLine(role, line)
				if err != nil {
					out.PrintError(err)
					continue
				}
				if err := conn.Write(gctx, websocket.MessageText, frame); err != nil {
					return err
				}
			}
		}
	})

	err = g.Wait()
	switch {
	case err == nil || ctx.Err() != nil || hungUp.Load():
		return nil
	case websocket.CloseStatus(err) != -1:
		if cfg.Verbose {
			out.PrintMessage(fmt.Sprintf("Disconnected (%d)", websocket.CloseStatus(err)))
		}
		return nil
	default:
		return err
	}
}

// encodeLine turns an input line into a relay frame for the role
func encodeLine(role, line string) ([]byte, error) {
	if strings.HasPrefix(line, "{") {
		if !json.Valid([]byte(line)) {
			return nil, fmt.Errorf("invalid JSON: %s", line)
		}
		return []byte(line), nil
	}

	if role == "player" {
		return json.Marshal(map[string]any{
			"type":    "player_input",
			"payload": map[string]any{"inputType": line},
		})
	}

	var payload any = line
	if json.Valid([]byte(line)) {
		payload = json.RawMessage(line)
	}
	return json.Marshal(map[string]any{
		"type":    "game_state_update",
		"payload": payload,
	})
}
