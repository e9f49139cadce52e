// Package ws exposes the simulation over a websocket: clients handshake with
// HELLO/WELCOME, send control commands that are funneled onto the world's
// tick goroutine, and receive per-tick event batches plus periodic state
// frames.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"warefleet.ai/internal/protocol"
	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/world"
)

type Server struct {
	cmds   chan<- func(*world.World)
	runID  string
	params protocol.WorldParams
	log    *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id       string
	observer bool
	out      chan []byte
}

// send drops the frame when the client cannot keep up; the tick loop never
// blocks on a slow consumer.
func (s *session) send(b []byte) {
	select {
	case s.out <- b:
	default:
	}
}

func NewServer(cmds chan<- func(*world.World), runID string, params protocol.WorldParams, logger *log.Logger) *Server {
	return &Server{
		cmds:   cmds,
		runID:  runID,
		params: params,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]*session{},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sess.id)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeCommand {
				continue
			}
			var cmd protocol.CommandMsg
			if err := json.Unmarshal(msg, &cmd); err != nil {
				continue
			}
			s.dispatch(sess, cmd)
		}
	}
}

// dispatch validates a command and funnels it onto the world goroutine. The
// ACK is built there, where the world may be touched safely.
func (s *Server) dispatch(sess *session, cmd protocol.CommandMsg) {
	if cmd.ProtocolVersion != protocol.Version {
		sess.send(marshalAck(cmd.ReqID, false, protocol.ErrProtoVersion, "unsupported protocol_version", 0))
		return
	}
	if sess.observer {
		sess.send(marshalAck(cmd.ReqID, false, protocol.ErrBadRequest, "observer connections cannot send commands", 0))
		return
	}
	s.cmds <- func(w *world.World) {
		ok, code, msg := ApplyCommand(w, cmd)
		sess.send(marshalAck(cmd.ReqID, ok, code, msg, w.Tick()))
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"),
			time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"),
			time.Now().Add(time.Second))
		return nil
	}

	buffer := hello.Capabilities.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	if buffer > 1024 {
		buffer = 1024
	}
	sess := &session{
		id:       uuid.NewString(),
		observer: hello.Capabilities.Observer,
		out:      make(chan []byte, buffer),
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		RunID:           s.runID,
		World:           s.params,
	}
	b, err := json.Marshal(welcome)
	if err != nil {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return nil
	}
	s.log.Printf("session %s connected (%s, observer=%v)", sess.id, hello.ClientName, hello.Capabilities.Observer)
	return sess
}

func (s *Server) broadcast(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.send(b)
	}
}

// Pump consumes the simulation's event stream and broadcasts one
// EVENT_BATCH per tick. A short flush interval covers quiet ticks.
func (s *Server) Pump(ctx context.Context, stream <-chan events.Event) {
	flusher := time.NewTicker(100 * time.Millisecond)
	defer flusher.Stop()

	curTick := int64(-1)
	var batch []events.Event
	flush := func() {
		if len(batch) == 0 {
			return
		}
		b, err := json.Marshal(protocol.EventBatchMsg{
			Type:            protocol.TypeEventBatch,
			ProtocolVersion: protocol.Version,
			Tick:            curTick,
			Events:          batch,
		})
		if err == nil {
			s.broadcast(b)
		}
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev := <-stream:
			if ev.Tick != curTick {
				flush()
				curTick = ev.Tick
			}
			batch = append(batch, ev)
		case <-flusher.C:
			flush()
		}
	}
}

// StateLoop broadcasts a full state frame at the given interval. The frame
// is built on the world goroutine.
func (s *Server) StateLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case s.cmds <- func(w *world.World) {
				if b, err := json.Marshal(BuildState(w, s.runID)); err == nil {
					s.broadcast(b)
				}
			}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func marshalAck(reqID string, accepted bool, code, msg string, tick int64) []byte {
	b, _ := json.Marshal(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Accepted:        accepted,
		Code:            code,
		Message:         msg,
		Tick:            tick,
	})
	return b
}
