package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/codesync/internal/auth"
	"github.com/vovakirdan/codesync/internal/config"
	"github.com/vovakirdan/codesync/internal/core"
	"github.com/vovakirdan/codesync/internal/proto"
	"github.com/vovakirdan/codesync/internal/utils"
)

const writeTimeout = 10 * time.Second

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub *core.Hub
	cfg *config.Config
	jwt *auth.JWTConfig
	log *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, cfg *config.Config, jwtConfig *auth.JWTConfig, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, cfg: cfg, jwt: jwtConfig, log: logger}
}

// wsLink lets the liveness sweeper ping and drop a connection.
type wsLink struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func (l *wsLink) Ping(ctx context.Context) error {
	return l.conn.Ping(ctx)
}

func (l *wsLink) Terminate(string) {
	l.cancel()
	_ = l.conn.CloseNow()
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	claims, authErr := h.authenticate(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()

	if authErr != nil {
		h.reject(r.Context(), conn, authErr)
		return
	}

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := core.NewClient(utils.NewID(), r.URL.Query().Get("clientId"), &wsLink{conn: conn, cancel: cancel}, h.cfg.SendBuffer)
	logCtx := h.log.With().Str("conn_id", client.ID).Str("client_id", client.Tag)
	if claims != nil {
		logCtx = logCtx.Str("subject", claims.Subject)
	}
	logger := logCtx.Logger()

	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)
	logger.Info().Msg("ws connection opened")

	limiter := newRateLimiter(h.cfg.RateLimitPerMinute)
	limiter.startReset(ctx.Done())

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, limiter, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &logger)
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
			logger.Warn().Err(err).Msg("ws connection closed with error")
		}
	}
	logger.Info().Int("status", int(status)).Msg("ws connection closed")

	_ = conn.Close(status, reason)
}

// authenticate returns the token claims, or an error when a valid token is
// required but missing. Without jwt_required tokens are not inspected.
func (h *WSHandler) authenticate(r *stdhttp.Request) (*auth.Claims, error) {
	if !h.cfg.JWTRequired {
		return nil, nil
	}
	token, err := auth.TokenFromRequest(r)
	if err != nil {
		return nil, err
	}
	return auth.ValidateToken(h.jwt, token)
}

// reject tells the peer why it is being turned away and closes the socket.
// The message keeps the Unauthorized prefix that clients match on.
func (h *WSHandler) reject(ctx context.Context, conn *websocket.Conn, cause error) {
	h.log.Debug().Err(cause).Msg("rejecting unauthenticated ws connection")

	msg := errorMessage("", proto.CodeUnauthorized, fmt.Sprintf("%s: %v", proto.UnauthorizedPrefix, cause))
	if err := h.write(ctx, conn, msg); err != nil {
		h.log.Debug().Err(err).Msg("write unauthorized error")
	}
	_ = conn.Close(websocket.StatusPolicyViolation, proto.UnauthorizedPrefix)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, limiter *rateLimiter, logger *zerolog.Logger) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("read ws inbound")
			}
			return err
		}

		msg, err := proto.Decode(data)
		if err != nil {
			logger.Warn().Err(err).Int("bytes", len(data)).Msg("discarding malformed message")
			continue
		}

		if !limiter.allow() {
			if err := h.write(ctx, conn, errorMessage(msg.RoomID, proto.CodeRateLimited, "rate limit exceeded")); err != nil {
				return err
			}
			continue
		}

		cmd, ok := inboundToCommand(msg)
		if !ok {
			logger.Warn().Str("type", msg.Type).Msg("ignoring unknown message type")
			continue
		}
		h.hub.Handle(ctx, client, cmd)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := h.write(ctx, conn, outboundFromEvent(event)); err != nil {
				logger.Error().Err(err).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, msg proto.Message) error {
	data, err := proto.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
