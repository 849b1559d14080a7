package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voledrone.dev/internal/protocol"
)

// Vehicle is the part of the drone a connection talks to.
type Vehicle interface {
	Submit(ctx context.Context, source, cmd string) (protocol.AckMsg, error)
	Subscribe(buf int) (<-chan protocol.StatusMsg, func())
	Latest() protocol.StatusMsg
}

type Server struct {
	vehicle   Vehicle
	vehicleID string
	tickMs    int
	log       *zap.SugaredLogger

	// CommandTimeout bounds how long a COMMAND waits for its tick.
	CommandTimeout time.Duration
	// ReadTimeout drops a client that has sent nothing, not even a pong,
	// for this long. Pings go out every PingInterval so that watch-only
	// clients stay connected.
	ReadTimeout  time.Duration
	PingInterval time.Duration

	upgrader websocket.Upgrader
}

func NewServer(v Vehicle, vehicleID string, tickMs int, logger *zap.SugaredLogger) *Server {
	return &Server{
		vehicle:        v,
		vehicleID:      vehicleID,
		tickMs:         tickMs,
		log:            logger.Named("ws"),
		CommandTimeout: 10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   20 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, ok := s.handshake(conn)
		if !ok {
			return
		}
		source := "ws:" + hello.ClientName
		log := s.log.With("client", hello.ClientName, "remote", r.RemoteAddr)
		log.Infow("client connected", "want_status", hello.WantStatus)
		defer log.Infow("client disconnected")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 32)
		var status <-chan protocol.StatusMsg
		if hello.WantStatus {
			ch, unsubscribe := s.vehicle.Subscribe(8)
			defer unsubscribe()
			status = ch
			if b, err := json.Marshal(s.vehicle.Latest()); err == nil {
				out <- b
			}
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		})

		// Writer goroutine.
		go func() {
			ping := time.NewTicker(s.PingInterval)
			defer ping.Stop()
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						cancel()
						return
					}
					continue
				case b = <-out:
				case st, ok := <-status:
					if !ok {
						cancel()
						return
					}
					var err error
					if b, err = json.Marshal(st); err != nil {
						continue
					}
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}()

		// Reader loop.
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
			ack := s.command(ctx, source, msg)
			b, err := json.Marshal(ack)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	}
}

// command decodes one client frame and runs it. Malformed frames are
// answered instead of dropped so clients can tell what went wrong.
func (s *Server) command(ctx context.Context, source string, msg []byte) protocol.AckMsg {
	ack := protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeCommand {
		ack.Code = protocol.ErrProtoBadRequest
		ack.Message = "expected COMMAND"
		return ack
	}
	var cmd protocol.CommandMsg
	if err := json.Unmarshal(msg, &cmd); err != nil {
		ack.Code = protocol.ErrProtoBadRequest
		ack.Message = err.Error()
		return ack
	}
	ack.AckFor = cmd.Command
	if cmd.ProtocolVersion != protocol.Version {
		ack.Code = protocol.ErrProtoVersion
		ack.Message = "bad protocol_version"
		return ack
	}
	name := strings.TrimSpace(cmd.Command)
	if !protocol.IsKnownCommand(name) {
		ack.Code = protocol.ErrUnknownCommand
		ack.Message = name
		return ack
	}

	cctx, cancel := context.WithTimeout(ctx, s.CommandTimeout)
	defer cancel()
	res, err := s.vehicle.Submit(cctx, source, name)
	if err != nil {
		ack.Code = protocol.ErrBusy
		ack.Message = err.Error()
		return ack
	}
	return res
}

func (s *Server) handshake(conn *websocket.Conn) (protocol.HelloMsg, bool) {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return hello, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return hello, false
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		return hello, false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return hello, false
	}
	if hello.ClientName == "" {
		hello.ClientName = "operator"
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		VehicleID:       s.vehicleID,
		TickMs:          s.tickMs,
		Commands:        protocol.Commands,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return hello, false
	}
	return hello, true
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
