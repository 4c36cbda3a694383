// Command jcodectl is a thin NDJSON client for jcoded: it opens a
// session, sends one message per non-empty stdin line, and prints
// streamed text deltas and tool activity to stdout.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/1jehuang/jcode-sub000/internal/ipc"
)

var sessionID = flag.String("session", "", "session id to attach to (a new one is generated if empty)")

func main() {
	flag.Parse()

	session := *sessionID
	if session == "" {
		session = "session_" + uuid.New().String()
	}

	c := ipc.NewClient()
	if err := c.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "jcodectl: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.Send(&ipc.Request{Type: ipc.ReqSubscribe, SessionID: session}); err != nil {
		fmt.Fprintf(os.Stderr, "jcodectl: subscribe: %v\n", err)
		os.Exit(1)
	}

	events := c.Events()
	go printEvents(events)

	fmt.Printf("attached to %s, type a message and press enter\n", session)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		if err := c.Send(&ipc.Request{Type: ipc.ReqMessage, SessionID: session, Text: text}); err != nil {
			fmt.Fprintf(os.Stderr, "jcodectl: send: %v\n", err)
			return
		}
	}
}

func printEvents(events <-chan ipc.ServerEvent) {
	for ev := range events {
		switch ev.Type {
		case ipc.EvtTextDelta:
			fmt.Print(ev.Text)
		case ipc.EvtToolStart:
			fmt.Printf("\n[tool %s]\n", ev.ToolName)
		case ipc.EvtDone:
			fmt.Println()
		case ipc.EvtError:
			fmt.Fprintf(os.Stderr, "\n[error] %s\n", ev.Error)
		}
	}
}
