// Command bot is a small websocket client for poking at a running server:
// it handshakes, optionally fires a command, and prints what comes back.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"warefleet.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "client name")
		observer = flag.Bool("observer", false, "connect read-only")
		op       = flag.String("op", "", "command to send after the handshake (e.g. START, RESET)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Capabilities: protocol.HelloCapabilities{
			EventBuffer: 256,
			Observer:    *observer,
		},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	if *op != "" {
		cmd := protocol.CommandMsg{
			Type:            protocol.TypeCommand,
			ProtocolVersion: protocol.Version,
			ReqID:           uuid.NewString(),
			Op:              *op,
		}
		if err := conn.WriteJSON(cmd); err != nil {
			logger.Fatalf("send CMD: %v", err)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var m protocol.WelcomeMsg
			if json.Unmarshal(msg, &m) == nil {
				logger.Printf("WELCOME session=%s run=%s world=%dx%d @%dhz",
					m.SessionID, m.RunID, m.World.Width, m.World.Height, m.World.TickRateHz)
			}
		case protocol.TypeAck:
			var m protocol.AckMsg
			if json.Unmarshal(msg, &m) == nil {
				logger.Printf("ACK req=%s accepted=%v code=%s %s", m.ReqID, m.Accepted, m.Code, m.Message)
			}
		case protocol.TypeState:
			var m protocol.StateMsg
			if json.Unmarshal(msg, &m) == nil {
				logger.Printf("STATE tick=%d robots=%d items=%d delivered=%d running=%v",
					m.Tick, len(m.Robots), len(m.Items), m.Delivered, m.Running)
			}
		case protocol.TypeEventBatch:
			var m protocol.EventBatchMsg
			if json.Unmarshal(msg, &m) == nil {
				for _, ev := range m.Events {
					logger.Printf("EVENT tick=%d %s %v", ev.Tick, ev.Type, ev.Payload)
				}
			}
		}
	}
}
