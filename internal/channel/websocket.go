package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"shopassist/internal/domain"
	"shopassist/internal/metrics"
)

const (
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxInboundSize = 16 * 1024
)

// Session is what the channel needs from the conversation side: inbound
// text goes in, everything else flows back over the UI bus.
type Session interface {
	HandleUserMessage(ctx context.Context, text string)
	NewConversation(ctx context.Context)
}

// VoiceControls is the optional voice surface. Nil when the deployment is
// text-only.
type VoiceControls interface {
	StartListening()
	StopListening()
	SetCheckoutMode(on bool)
}

// inboundFrame is one client-to-server message.
type inboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	On   bool   `json:"on,omitempty"`
}

// Server exposes the assistant to the storefront UI over a WebSocket,
// plus the Prometheus text endpoint.
type Server struct {
	addr    string
	session Session
	voice   VoiceControls
	bus     domain.UIBus
	logger  *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

type Config struct {
	Host    string
	Port    int
	Session Session
	Voice   VoiceControls
	Bus     domain.UIBus
	Logger  *slog.Logger

	// MetricsPath exposes the Prometheus text endpoint when non-empty.
	MetricsPath string
}

func NewServer(cfg Config) *Server {
	s := &Server{
		addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		session: cfg.Session,
		voice:   cfg.Voice,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The storefront UI is served from a different origin in dev.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	if cfg.MetricsPath != "" {
		mux.HandleFunc(cfg.MetricsPath, metrics.Collector.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}
	return s
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("channel listening", "addr", s.addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	s.logger.Info("ui client connected", "remote", conn.RemoteAddr().String())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.writeLoop(ctx, conn)
	s.readLoop(ctx, conn)
	_ = conn.Close()
	s.logger.Info("ui client disconnected", "remote", conn.RemoteAddr().String())
}

// writeLoop pushes bus events to the client. The subscription drops
// amplitude samples under backpressure, so a slow client only loses
// waveform updates, never chat messages.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn) {
	events := s.bus.Subscribe()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("malformed client frame ignored", "error", err)
			continue
		}
		s.handleFrame(ctx, frame)
	}
}

func (s *Server) handleFrame(ctx context.Context, frame inboundFrame) {
	switch frame.Type {
	case "message":
		s.session.HandleUserMessage(ctx, frame.Text)
	case "new_conversation":
		s.session.NewConversation(ctx)
	case "listen_start":
		if s.voice != nil {
			s.voice.StartListening()
		}
	case "listen_stop":
		if s.voice != nil {
			s.voice.StopListening()
		}
	case "checkout_mode":
		if s.voice != nil {
			s.voice.SetCheckoutMode(frame.On)
		}
	default:
		s.logger.Warn("unknown client frame type ignored", "type", frame.Type)
	}
}
