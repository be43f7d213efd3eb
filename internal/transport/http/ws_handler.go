package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/haven/internal/auth"
	"github.com/vovakirdan/haven/internal/config"
	"github.com/vovakirdan/haven/internal/core"
	"github.com/vovakirdan/haven/internal/proto"
	"github.com/vovakirdan/haven/internal/store"
)

// ErrCodeUnsupportedVersion is sent when the client asks for another protocol version.
const ErrCodeUnsupportedVersion = "unsupported_version"

const outboundBuffer = 64

// WSHandler upgrades HTTP connections and hosts one core.Client per connection.
type WSHandler struct {
	authService     *auth.Service
	store           store.Store
	maxMessageBytes int64
	log             *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		authService:     authService,
		store:           st,
		maxMessageBytes: cfg.MaxMessageBytes,
		log:             logger,
	}
}

// wsConn is the state of one accepted connection.
type wsConn struct {
	conn   *websocket.Conn
	client *core.Client
	out    chan proto.Outbound
	log    *zerolog.Logger

	// issued holds every subscription id handed out on this connection.
	// Only the read loop touches it.
	issued map[string]struct{}

	ctx context.Context
	wg  sync.WaitGroup
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	query := r.URL.Query()
	token := query.Get("token")
	if token != "" {
		if _, err := h.authService.ValidateToken(token); err != nil {
			h.log.Debug().Err(err).Msg("ws rejected invalid token")
			stdhttp.Error(w, "invalid token", stdhttp.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if v := query.Get("protocol"); v != "" && v != strconv.Itoa(proto.ProtocolVersion) {
		_ = wsjson.Write(ctx, conn, proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: ErrCodeUnsupportedVersion, Msg: "unsupported protocol version " + v},
		})
		conn.Close(websocket.StatusPolicyViolation, "unsupported protocol version")
		return
	}

	clientID := uuid.NewString()
	connLog := h.log.With().Str("client_id", clientID).Logger()

	client := core.NewClient(clientID, h.store, &connLog)
	provider := auth.NewProvider(h.authService, &connLog)
	client.Gate.Attach(provider)

	wc := &wsConn{
		conn:   conn,
		client: client,
		out:    make(chan proto.Outbound, outboundBuffer),
		log:    &connLog,
		ctx:    ctx,
		issued: make(map[string]struct{}),
	}
	defer func() {
		cancel()
		client.Close()
		provider.Close()
		wc.wg.Wait()
		connLog.Debug().Msg("ws client released")
	}()

	if token != "" {
		if err := provider.Restore(ctx, token); err != nil {
			connLog.Warn().Err(err).Msg("restore session failed")
			conn.Close(websocket.StatusPolicyViolation, "session restore failed")
			return
		}
	}
	cancelSession := client.Gate.Subscribe(wc.onSessionChange)
	defer cancelSession()
	wc.send(sessionOutbound(client.Gate.Current()))

	connLog.Info().Bool("signed_in", token != "").Msg("ws connected")

	errCh := make(chan error, 2)
	go func() {
		errCh <- wc.readLoop(ctx)
	}()
	go func() {
		errCh <- wc.writeLoop(ctx)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			connLog.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	connLog.Info().Msg("ws disconnected")
	conn.Close(status, reason)
}

func (wc *wsConn) readLoop(ctx context.Context) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, wc.conn, &inbound); err != nil {
			return err
		}
		wc.handle(ctx, inbound)
	}
}

func (wc *wsConn) writeLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-wc.out:
			if err := wsjson.Write(ctx, wc.conn, msg); err != nil {
				wc.log.Error().Err(err).Str("type", msg.Type).Msg("write ws outbound")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// send queues msg for the writer. It reports false once the connection is going away.
func (wc *wsConn) send(msg proto.Outbound) bool {
	select {
	case wc.out <- msg:
		return true
	case <-wc.ctx.Done():
		return false
	}
}

func (wc *wsConn) onSessionChange(change core.SessionChange) {
	if change.Current == nil {
		wc.send(sessionOutbound(core.Session{}, false))
		return
	}
	wc.send(sessionOutbound(*change.Current, true))
}

func (wc *wsConn) handle(ctx context.Context, in proto.Inbound) {
	switch in.Type {
	case proto.InboundTypeOpenDirectory:
		sub := wc.client.Directory.Open()
		wc.issued[sub.ID()] = struct{}{}
		wc.send(proto.Outbound{Type: proto.OutboundTypeAck, Ref: in.Ref, ID: sub.ID(), Kind: proto.KindDirectory})
		startPump(wc, sub, proto.KindDirectory, func(entries []core.DirectoryEntry) any {
			return directoryEntries(entries)
		})

	case proto.InboundTypeOpenChatroom:
		var data proto.OpenChatroomData
		if err := decode(in, &data); err != nil {
			wc.send(errorOutbound(in.Ref, err))
			return
		}
		id, err := wc.chatroomFor(data)
		if err != nil {
			wc.send(errorOutbound(in.Ref, err))
			return
		}
		sub, err := wc.client.Messages.Open(id)
		if err != nil {
			wc.send(errorOutbound(in.Ref, err))
			return
		}
		wc.issued[sub.ID()] = struct{}{}
		wc.send(proto.Outbound{Type: proto.OutboundTypeAck, Ref: in.Ref, ID: sub.ID(), Kind: proto.KindChatroom})
		startPump(wc, sub, proto.KindChatroom, func(messages []core.Message) any {
			return chatroomSnapshot(id, messages)
		})

	case proto.InboundTypeClose:
		var data proto.CloseData
		if err := decode(in, &data); err != nil {
			wc.send(errorOutbound(in.Ref, err))
			return
		}
		if _, ok := wc.issued[data.Sub]; !ok {
			wc.send(errorOutbound(in.Ref, core.UnknownSubscription(data.Sub)))
			return
		}
		// Already closed, by the client or by a sign-out, is still a success.
		wc.client.Subs.Close(data.Sub)
		wc.send(proto.Outbound{Type: proto.OutboundTypeAck, Ref: in.Ref, ID: data.Sub})

	case proto.InboundTypeSend:
		var data proto.SendData
		if err := decode(in, &data); err != nil {
			wc.send(errorOutbound(in.Ref, err))
			return
		}
		id, err := wc.client.Messages.Append(ctx, core.ChatroomID(data.ChatroomID), data.Text)
		if err != nil {
			wc.send(errorOutbound(in.Ref, err))
			return
		}
		wc.send(proto.Outbound{Type: proto.OutboundTypeAck, Ref: in.Ref, ID: string(id)})

	case proto.InboundTypeSignOut:
		if err := wc.client.Gate.SignOut(ctx); err != nil {
			wc.log.Warn().Err(err).Msg("sign out failed")
			wc.send(errorOutbound(in.Ref, err))
			return
		}
		wc.send(proto.Outbound{Type: proto.OutboundTypeAck, Ref: in.Ref})

	default:
		wc.send(errorOutbound(in.Ref, core.BadRequest("unknown message type "+strconv.Quote(in.Type))))
	}
}

func (wc *wsConn) chatroomFor(data proto.OpenChatroomData) (core.ChatroomID, error) {
	if data.ChatroomID != "" {
		return core.ChatroomID(data.ChatroomID), nil
	}
	if data.Peer == "" {
		return "", core.BadRequest("peer or chatroom_id is required")
	}
	sess, ok := wc.client.Gate.Current()
	if !ok {
		return "", core.ErrNotAuthenticated
	}
	return core.ResolveChatroomID(sess.ParticipantID, core.ParticipantID(data.Peer))
}

// startPump forwards every update of sub to the connection until sub closes.
func startPump[T any](wc *wsConn, sub *core.Subscription[T], kind string, render func(T) any) {
	wc.wg.Add(1)
	go func() {
		defer wc.wg.Done()
		for u := range sub.Updates() {
			msg := proto.Outbound{Sub: sub.ID(), Kind: kind}
			if u.Err != nil {
				msg.Type = proto.OutboundTypeSubError
				msg.Error = &proto.Error{Code: core.ErrCodeUnreachable, Msg: u.Err.Error()}
			} else {
				msg.Type = proto.OutboundTypeSnapshot
				msg.Data = render(u.Snapshot)
			}
			if !wc.send(msg) {
				return
			}
		}
		wc.send(proto.Outbound{Type: proto.OutboundTypeClosed, Sub: sub.ID(), Kind: kind})
	}()
}

func decode(in proto.Inbound, v any) error {
	if len(in.Data) == 0 {
		return core.BadRequest(in.Type + " requires data")
	}
	if err := json.Unmarshal(in.Data, v); err != nil {
		return core.BadRequest("invalid " + in.Type + " data")
	}
	return nil
}

func sessionOutbound(sess core.Session, ok bool) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeSession, Data: sessionData(sess, ok)}
}
