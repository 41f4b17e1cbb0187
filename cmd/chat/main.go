// Package main is a terminal client that chats with a Locrit over the
// streaming chat channel.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locrit/platform/internal/chat"
	"github.com/locrit/platform/internal/config"
	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/internal/store"
	"github.com/locrit/platform/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	locrit := flag.String("locrit", "", "name of the Locrit to chat with")
	session := flag.String("session", "", "chat session ID (random when empty)")
	url := flag.String("url", cfg.LocritWSURL, "websocket URL of the Locrit backend")
	flag.Parse()

	if *locrit == "" {
		return errors.New("-locrit is required")
	}
	if *session == "" {
		*session = uuid.NewString()
	}

	// logs go to stderr at warn so they do not interleave with the transcript
	log, err := logger.New("warn")
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	cyan.Printf("Chatting with %s\n", *locrit)
	green.Print("    ▶ ")
	fmt.Printf("Backend: %s\n", *url)
	green.Print("    ▶ ")
	fmt.Printf("Session: %s\n", *session)
	fmt.Println("    Type /quit to leave.")
	fmt.Println()

	rec := chat.NewReconciler(chat.View{LocritName: *locrit, SessionID: *session}, nil, log)

	if cfg.StoreBackend == config.StoreSQLite {
		st, err := store.NewSQLiteStore(cfg.SQLitePath, log)
		if err != nil {
			return fmt.Errorf("opening chat history: %w", err)
		}
		defer st.Close()

		if err := rec.LoadHistory(ctx, st); err != nil {
			log.Warn("could not load chat history", zap.Error(err))
		}
		rec.Persist(st)
	}

	p := newPrinter(*locrit)
	for _, m := range rec.Messages() {
		p.history(m)
	}
	rec.OnUpdate(p.update)

	ch, err := chat.Dial(ctx, *url, rec, log)
	if err != nil {
		return err
	}
	defer ch.Close()
	rec.Attach(ch)

	if err := rec.Join(ctx); err != nil {
		return fmt.Errorf("joining chat: %w", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch.Done():
			return errors.New("connection to the Locrit backend was lost")
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return nil
			}
			rec.SetInput(line)
			// send failures are already rendered as system messages
			if err := rec.BeginExchange(ctx, rec.Input()); errors.Is(err, chat.ErrExchangeInFlight) {
				color.Yellow("(still answering, please wait)")
			}
		}
	}
}

// printer renders reconciler updates as a running transcript.
type printer struct {
	mu      sync.Mutex
	name    string
	current string
	locrit  *color.Color
	system  *color.Color
	notice  *color.Color
}

func newPrinter(name string) *printer {
	return &printer{
		name:   name,
		locrit: color.New(color.FgCyan, color.Bold),
		system: color.New(color.FgRed),
		notice: color.New(color.FgYellow),
	}
}

func (p *printer) history(m model.ChatMessage) {
	switch m.Sender {
	case model.SenderUser:
		fmt.Printf("you: %s\n", m.Content)
	case model.SenderSystem:
		p.system.Println(m.Content)
	default:
		p.locrit.Printf("%s: ", p.name)
		fmt.Println(m.Content)
	}
}

func (p *printer) update(u chat.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch u.Kind {
	case chat.UpdateMessage:
		if u.Message.Sender == model.SenderLocrit {
			p.locrit.Printf("%s: ", p.name)
			p.current = u.Message.ID
		}
	case chat.UpdateChunk:
		if u.Message.ID != p.current {
			if p.current != "" {
				fmt.Println()
			}
			p.locrit.Printf("%s: ", p.name)
			p.current = u.Message.ID
		}
		fmt.Print(u.Delta)
	case chat.UpdateComplete:
		fmt.Println()
		p.current = ""
	case chat.UpdateError:
		if p.current != "" {
			fmt.Println()
			p.current = ""
		}
		p.system.Println(u.Message.Content)
	case chat.UpdateNotice:
		if p.current != "" {
			fmt.Println()
		}
		p.notice.Println(u.Message.Content)
		if p.current != "" {
			p.locrit.Printf("%s: ", p.name)
		}
	}
}
