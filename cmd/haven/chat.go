package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	havenlog "github.com/vovakirdan/haven/internal/log"
	"github.com/vovakirdan/haven/internal/proto"
)

type chatOptions struct {
	server   string
	email    string
	password string
	name     string
	peer     string
	register bool
	logLevel string
}

func newChatCmd() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with one peer from the terminal",
		Long: "Signs in, opens the chatroom shared with --peer and prints every new message.\n" +
			"Type a line and press Enter to send. /who lists the directory, /quit exits.\n" +
			"A line that fails to send is kept; press Enter on an empty line to retry it.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "server base URL")
	flags.StringVar(&opts.email, "email", "", "account email")
	flags.StringVar(&opts.password, "password", "", "account password")
	flags.StringVar(&opts.name, "name", "", "display name used with --register")
	flags.StringVar(&opts.peer, "peer", "", "uid of the person to chat with")
	flags.BoolVar(&opts.register, "register", false, "create the account first (and verify it)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "client log level")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

// chatClient is the terminal side of one connection.
type chatClient struct {
	conn *websocket.Conn
	out  io.Writer
	log  *zerolog.Logger

	mu      sync.Mutex
	nextRef int
	pending map[string]string // ref -> unacknowledged line
	unsent  string
	seen    map[string]struct{}
	room    string
}

func runChat(ctx context.Context, opts chatOptions, in io.Reader, out io.Writer) error {
	logger := havenlog.NewWithWriter(os.Stderr, opts.logLevel)

	session, err := authenticate(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "signed in as %s\n", session.UID)

	wsURL, err := websocketURL(opts.server, session.Token)
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	c := &chatClient{
		conn:    conn,
		out:     out,
		log:     logger,
		pending: make(map[string]string),
		seen:    make(map[string]struct{}),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if opts.peer != "" {
		if err := c.write(ctx, proto.InboundTypeOpenChatroom, proto.OpenChatroomData{Peer: opts.peer}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, "no --peer given; showing the directory")
		if err := c.write(ctx, proto.InboundTypeOpenDirectory, nil); err != nil {
			return err
		}
	}

	go func() {
		defer cancel()
		c.readLoop(ctx)
	}()

	c.inputLoop(ctx, in)
	return nil
}

func (c *chatClient) write(ctx context.Context, typ string, data any) error {
	_, err := c.writeRef(ctx, typ, data)
	return err
}

func (c *chatClient) writeRef(ctx context.Context, typ string, data any) (string, error) {
	c.mu.Lock()
	c.nextRef++
	ref := strconv.Itoa(c.nextRef)
	c.mu.Unlock()

	in := proto.Inbound{Type: typ, Ref: ref}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("marshal %s: %w", typ, err)
		}
		in.Data = payload
	}
	if err := wsjson.Write(ctx, c.conn, in); err != nil {
		return "", fmt.Errorf("send %s: %w", typ, err)
	}
	return ref, nil
}

func (c *chatClient) inputLoop(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !c.handleLine(ctx, line) {
				return
			}
		}
	}
}

// handleLine reports false when the user asked to quit.
func (c *chatClient) handleLine(ctx context.Context, line string) bool {
	text := strings.TrimSpace(line)
	switch text {
	case "/quit":
		_ = c.write(ctx, proto.InboundTypeSignOut, nil)
		return false
	case "/who":
		if err := c.write(ctx, proto.InboundTypeOpenDirectory, nil); err != nil {
			c.log.Warn().Err(err).Msg("open directory")
		}
		return true
	case "":
		c.mu.Lock()
		text, c.unsent = c.unsent, ""
		c.mu.Unlock()
		if text == "" {
			return true
		}
	}

	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room == "" {
		fmt.Fprintln(c.out, "! no chatroom open yet")
		c.keep(text)
		return true
	}

	ref, err := c.writeRef(ctx, proto.InboundTypeSend, proto.SendData{ChatroomID: room, Text: text})
	if err != nil {
		fmt.Fprintf(c.out, "! not sent (%v); press Enter to retry\n", err)
		c.keep(text)
		return true
	}
	c.mu.Lock()
	c.pending[ref] = text
	c.mu.Unlock()
	return true
}

func (c *chatClient) keep(text string) {
	c.mu.Lock()
	c.unsent = text
	c.mu.Unlock()
}

func (c *chatClient) readLoop(ctx context.Context) {
	for {
		var msg struct {
			proto.Outbound
			Data json.RawMessage `json:"data"`
		}
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			c.log.Error().Err(err).Msg("read error")
			return
		}
		c.handleOutbound(msg.Outbound, msg.Data)
	}
}

func (c *chatClient) handleOutbound(msg proto.Outbound, data json.RawMessage) {
	switch msg.Type {
	case proto.OutboundTypeSnapshot:
		switch msg.Kind {
		case proto.KindChatroom:
			var snap proto.ChatroomSnapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				c.log.Warn().Err(err).Msg("unmarshal chatroom snapshot")
				return
			}
			c.printNew(snap)
		case proto.KindDirectory:
			var entries []proto.DirectoryEntry
			if err := json.Unmarshal(data, &entries); err != nil {
				c.log.Warn().Err(err).Msg("unmarshal directory snapshot")
				return
			}
			fmt.Fprintf(c.out, "-- directory (%d) --\n", len(entries))
			for _, e := range entries {
				fmt.Fprintf(c.out, "   %s  %s\n", e.UID, e.DisplayName)
			}
		}
	case proto.OutboundTypeAck:
		c.mu.Lock()
		delete(c.pending, msg.Ref)
		c.mu.Unlock()
	case proto.OutboundTypeError:
		c.mu.Lock()
		line, wasSend := c.pending[msg.Ref]
		delete(c.pending, msg.Ref)
		if wasSend {
			c.unsent = line
		}
		c.mu.Unlock()
		if msg.Error != nil {
			fmt.Fprintf(c.out, "! %s: %s\n", msg.Error.Code, msg.Error.Msg)
		}
		if wasSend {
			fmt.Fprintln(c.out, "! message kept; press Enter to retry")
		}
	case proto.OutboundTypeSubError:
		if msg.Error != nil {
			fmt.Fprintf(c.out, "! %s unavailable: %s\n", msg.Kind, msg.Error.Msg)
		}
	case proto.OutboundTypeClosed:
		fmt.Fprintf(c.out, "-- %s closed --\n", msg.Kind)
	case proto.OutboundTypeSession:
		var s proto.SessionData
		if err := json.Unmarshal(data, &s); err == nil && !s.SignedIn {
			fmt.Fprintln(c.out, "-- signed out --")
		}
	}
}

// printNew prints messages of snap that were not printed before. Snapshots
// always carry the whole log.
func (c *chatClient) printNew(snap proto.ChatroomSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == "" {
		c.room = snap.ChatroomID
		fmt.Fprintf(c.out, "-- chatroom %s --\n", snap.ChatroomID)
	}
	for _, m := range snap.Messages {
		if _, ok := c.seen[m.ID]; ok {
			continue
		}
		c.seen[m.ID] = struct{}{}
		fmt.Fprintf(c.out, "[%s] %s\n", m.DisplayName, m.Text)
	}
}

type authResponse struct {
	Token             string `json:"token"`
	UID               string `json:"uid"`
	VerificationToken string `json:"verification_token"`
	Error             string `json:"error"`
}

// authenticate logs in, registering and verifying the account first when asked.
func authenticate(ctx context.Context, opts chatOptions) (authResponse, error) {
	if opts.register {
		reg, err := postJSON(ctx, opts.server+"/api/auth/register", map[string]string{
			"email":        opts.email,
			"password":     opts.password,
			"display_name": opts.name,
		})
		if err != nil {
			return authResponse{}, fmt.Errorf("register: %w", err)
		}
		if _, err := postJSON(ctx, opts.server+"/api/auth/verify", map[string]string{
			"token": reg.VerificationToken,
		}); err != nil {
			return authResponse{}, fmt.Errorf("verify: %w", err)
		}
	}

	resp, err := postJSON(ctx, opts.server+"/api/auth/login", map[string]string{
		"email":    opts.email,
		"password": opts.password,
	})
	if err != nil {
		return authResponse{}, fmt.Errorf("login: %w", err)
	}
	return resp, nil
}

func postJSON(ctx context.Context, endpoint string, body any) (authResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return authResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return authResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return authResponse{}, err
	}
	defer resp.Body.Close()

	var out authResponse
	if resp.StatusCode == http.StatusNoContent {
		return out, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return authResponse{}, fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	if resp.StatusCode >= 300 {
		return authResponse{}, fmt.Errorf("%s: %s", resp.Status, out.Error)
	}
	return out, nil
}

func websocketURL(server, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{
		"token":    {token},
		"protocol": {strconv.Itoa(proto.ProtocolVersion)},
	}.Encode()
	return u.String(), nil
}
