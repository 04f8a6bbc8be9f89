// Command callsim places one call against a running frontdesk server from
// the terminal. Credentials and the customer session come from the server's
// console API; the transport connection is made locally and the transcript
// is printed as it arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/frontdesk/internal/apiclient"
	"github.com/MrWong99/frontdesk/internal/call"
	"github.com/MrWong99/frontdesk/internal/callclock"
	"github.com/MrWong99/frontdesk/internal/transcript"
	"github.com/MrWong99/frontdesk/pkg/transport/ws"
	"github.com/MrWong99/frontdesk/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	server := flag.String("server", "http://localhost:8080", "frontdesk server base URL")
	phone := flag.String("phone", "", "customer phone number (empty for an anonymous call)")
	name := flag.String("name", "", "customer name")
	timeout := flag.Duration("connect-timeout", 15*time.Second, "transport connect timeout")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	console, err := apiclient.NewConsole(apiclient.Config{BaseURL: *server})
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finished := make(chan types.ConnectionState, 1)
	m, err := call.New(call.Config{
		ID:             "callsim",
		Credentials:    console,
		Transport:      ws.New(),
		Registrar:      console,
		ConnectTimeout: *timeout,
		Transcript: transcript.NewEngine(transcript.WithOnAppend(func(e types.TranscriptEntry) {
			fmt.Printf("[%s] %-8s %s\n", e.Timestamp.Format("15:04:05"), e.Speaker, e.Text)
		})),
		Clock: callclock.New(callclock.WithOnTick(func(s int64) {
			if s%15 == 0 {
				fmt.Printf("── %s ──\n", callclock.Format(s))
			}
		})),
		Observer: func(t call.Transition) {
			fmt.Printf("* %s → %s\n", t.From, t.To)
			if t.To == types.StateEnded || t.To == types.StateError {
				select {
				case finished <- t.To:
				default:
				}
			}
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "callsim: %v\n", err)
		return 1
	}

	var info *types.CustomerInfo
	if *phone != "" {
		info = &types.CustomerInfo{Phone: *phone, Name: *name}
	}
	if err := m.Start(ctx, info); err != nil {
		if errors.Is(err, types.ErrCallEnded) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "callsim: start: %v\n", err)
		return 1
	}
	fmt.Println("connected, press Ctrl+C to hang up")

	code := 0
	select {
	case <-ctx.Done():
	case s := <-finished:
		if s == types.StateError {
			fmt.Fprintf(os.Stderr, "callsim: call failed: %v\n", m.Err())
			code = 1
		}
	}

	endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.End(endCtx)
	fmt.Printf("call ended after %s with %d transcript entries\n", callclock.Format(m.LastDuration()), m.Transcript().Len())
	return code
}
