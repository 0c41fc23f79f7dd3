package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vovakirdan/codesync/collab"
	applog "github.com/vovakirdan/codesync/internal/log"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_edit: %v", err)
		os.Exit(1)
	}
}

// run mirrors one room in the terminal. Every line typed replaces the whole
// buffer; an empty line prints the current content.
func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	room := flag.String("room", "scratch", "room to edit")
	token := flag.String("token", "", "JWT for servers started with jwt.required")
	level := flag.String("log-level", "warn", "client log level")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := collab.DefaultConfig()
	cfg.URL = *addr
	cfg.Token = *token
	cfg.Logger = applog.New(*level, "console")

	m, err := collab.NewManager(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	m.AddStatusHandler(func(s collab.Status) {
		fmt.Printf("* %s\n", s)
		if s == collab.StatusUnauthorized || s == collab.StatusFailed {
			stop()
		}
	})

	buf := collab.BufferFunc(func(content string) {
		fmt.Printf("[%s] %s\n", *room, content)
	})
	session := collab.NewSession(m, *room, buf, collab.SessionOptions{
		OnError: func(msg collab.Message) {
			fmt.Printf("! %s: %s\n", msg.Code, msg.Message)
		},
	})
	defer session.Close()

	fmt.Printf("Editing room %s on %s as %s\n", *room, *addr, m.ClientID())
	fmt.Println("Each line replaces the buffer. Empty line shows it. Ctrl+C to exit.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				session.RequestContent()
				continue
			}
			session.LocalChange(line)
		}
	}
}
