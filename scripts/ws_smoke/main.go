package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/codesync/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	room := flag.String("room", "smoke", "room to join")
	content := flag.String("content", "package main\n", "buffer content to push")
	token := flag.String("token", "", "JWT for servers started with jwt.required")
	timeout := flag.Duration("timeout", 5*time.Second, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	target := *addr
	if *token != "" {
		u, err := url.Parse(target)
		if err != nil {
			return fmt.Errorf("parse addr: %w", err)
		}
		q := u.Query()
		q.Set("token", *token)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	writer, err := dial(ctx, target, "smoke-writer")
	if err != nil {
		return err
	}
	defer writer.Close(websocket.StatusNormalClosure, "bye")

	reader, err := dial(ctx, target, "smoke-reader")
	if err != nil {
		return err
	}
	defer reader.Close(websocket.StatusNormalClosure, "bye")

	for _, conn := range []*websocket.Conn{writer, reader} {
		if err := wsjson.Write(ctx, conn, proto.Message{Type: proto.TypeJoin, RoomID: *room}); err != nil {
			return fmt.Errorf("send join: %w", err)
		}
		if _, err := expect(ctx, conn, proto.TypeJoinConfirm); err != nil {
			return err
		}
	}

	update := proto.Message{Type: proto.TypeUpdate, RoomID: *room, Content: *content, ClientID: "smoke-writer"}
	if err := wsjson.Write(ctx, writer, update); err != nil {
		return fmt.Errorf("send update: %w", err)
	}

	got, err := expect(ctx, reader, proto.TypeUpdate)
	if err != nil {
		return err
	}
	if got.Content != *content {
		return fmt.Errorf("reader got %q, want %q", got.Content, *content)
	}
	fmt.Printf("ok: update relayed in room %s from %s (%d bytes)\n", got.RoomID, got.SenderID, len(got.Content))
	return nil
}

func dial(ctx context.Context, target, clientID string) (*websocket.Conn, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	q := u.Query()
	q.Set("clientId", clientID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", clientID, err)
	}
	if _, err := expect(ctx, conn, proto.TypeWelcome); err != nil {
		return nil, err
	}
	return conn, nil
}

// expect reads until a message of type want arrives. Error messages abort.
func expect(ctx context.Context, conn *websocket.Conn, want string) (proto.Message, error) {
	for {
		var msg proto.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return proto.Message{}, fmt.Errorf("timed out waiting for %s", want)
			}
			return proto.Message{}, fmt.Errorf("read: %w", err)
		}
		if msg.Type == proto.TypeError {
			return proto.Message{}, fmt.Errorf("server error %s: %s", msg.Code, msg.Message)
		}
		if msg.Type == want {
			return msg, nil
		}
	}
}
