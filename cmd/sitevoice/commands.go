package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/teslashibe/go-sitevoice/pkg/session"
)

const helpText = `Commands:
  start        start a voice session
  end          end the session
  mute         toggle the microphone
  say <text>   send a typed question (plain text works too)
  status       show the session status
  quit         exit`

func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}

// handle runs one command line and reports whether to quit.
func (a *app) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, rest, _ := strings.Cut(line, " ")

	switch strings.ToLower(cmd) {
	case "start":
		// Failures are shown by the printer through the snapshot.
		a.session.Start(ctx)
	case "end":
		a.session.End()
	case "mute":
		if err := a.session.ToggleMute(); err != nil {
			fmt.Println("mute:", err)
		}
	case "status":
		snap := a.session.Snapshot()
		fmt.Printf("status=%s kind=%s muted=%v published=%v\n",
			snap.Status, snap.Kind, snap.Microphone.Muted, snap.Microphone.Published)
		for _, w := range snap.Warnings {
			fmt.Println("warning:", w)
		}
	case "quit", "exit":
		return true
	case "help", "?":
		fmt.Println(helpText)
	case "say":
		a.say(ctx, rest)
	default:
		a.say(ctx, line)
	}
	return false
}

func (a *app) say(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if err := a.session.SubmitUserUtterance(ctx, text); err != nil {
		fmt.Println("say:", err)
	}
}

// printer writes new transcript entries and status changes.
type printer struct {
	w io.Writer

	mu     sync.Mutex
	lastID uint64
	status session.Status
	errMsg string
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, status: session.StatusDisconnected}
}

func (p *printer) print(snap session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.Status != p.status {
		fmt.Fprintf(p.w, "[%s]\n", snap.Status)
		p.status = snap.Status
	}
	for _, e := range snap.Transcript {
		if e.ID <= p.lastID {
			continue
		}
		fmt.Fprintf(p.w, "%s %-9s %s\n", e.Time.Format("15:04:05"), e.Speaker+":", e.Text)
		p.lastID = e.ID
	}
	if len(snap.Transcript) == 0 {
		p.lastID = 0
	}
	if snap.ErrorMessage != p.errMsg {
		if snap.ErrorMessage != "" {
			fmt.Fprintln(p.w, "error:", snap.ErrorMessage)
		}
		p.errMsg = snap.ErrorMessage
	}
}
