package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/infrastructure/middleware"
	"huddle/pkg/config"
	apperrors "huddle/pkg/errors"
	"huddle/pkg/logger"
	"huddle/pkg/tracing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	_ ports.SessionObserver    = (*Hub)(nil)
	_ ports.PreviewSink        = (*Hub)(nil)
	_ ports.EventStreamHandler = (*Hub)(nil)
)

const (
	EventState    = "state"
	EventNotice   = "notice"
	EventArtifact = "artifact"
	EventPreview  = "preview"
	EventAck      = "ack"
	EventError    = "error"
)

// Event is one server to client message.
type Event struct {
	Type      string      `json:"type"`
	ReplyTo   string      `json:"reply_to,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Command is one client to server message.
type Command struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the same body the HTTP API renders for errors.
type ErrorPayload = apperrors.Body

type SharePayload struct {
	Kind    domain.SourceKind   `json:"kind"`
	Options domain.ShareOptions `json:"options"`
}

// ClientObserver is told about event stream clients coming and going.
type ClientObserver interface {
	ClientConnected()
	ClientDisconnected()
}

type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	SendBuffer     int
	AllowedOrigins []string
	// ShareDefaults are the options a start_share command's options are
	// applied over.
	ShareDefaults domain.ShareOptions
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PingInterval:   cfg.Server.PingInterval,
		PongTimeout:    cfg.Server.PongTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		SendBuffer:     32,
		AllowedOrigins: cfg.Auth.AllowedOrigins,
	}
}

// Hub fans session events out to websocket clients and runs the commands
// they send against the attached controller.
type Hub struct {
	upgrader websocket.Upgrader
	opts     Options
	limiter  *middleware.ConnectionLimiter
	watcher  ClientObserver
	room     domain.RoomID

	mu          sync.RWMutex
	clients     map[string]*client
	controller  ports.SessionController
	lastPreview *domain.StreamDescription

	logger   *zap.SugaredLogger
	commands *logger.ContextLogger
	now      func() time.Time
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		c.cancel()
		c.conn.Close()
	})
}

func NewHub(room domain.RoomID, opts Options, limiter *middleware.ConnectionLimiter, watcher ClientObserver, log *zap.SugaredLogger) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= opts.PingInterval {
		opts.PongTimeout = opts.PingInterval * 2
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.ShareDefaults == (domain.ShareOptions{}) {
		opts.ShareDefaults = domain.DefaultShareOptions()
	}

	h := &Hub{
		opts:     opts,
		limiter:  limiter,
		watcher:  watcher,
		room:     room,
		clients:  make(map[string]*client),
		logger:   log,
		commands: logger.NewContextLogger(log.Desugar()),
		now:      time.Now,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Attach sets the controller commands are run against. Until a controller
// is attached every command is answered with a conflict error.
func (h *Hub) Attach(controller ports.SessionController) {
	h.mu.Lock()
	h.controller = controller
	h.mu.Unlock()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Acquire() {
		http.Error(w, "too many event stream clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.limiter.Release()
		h.logger.Warnw("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	h.register(c)
	defer h.unregister(c)

	h.logger.Infow("event client connected", "client_id", c.id, "remote_addr", r.RemoteAddr)

	go h.writeLoop(c)
	h.greet(c)
	h.readLoop(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	if h.watcher != nil {
		h.watcher.ClientConnected()
	}
}

func (h *Hub) unregister(c *client) {
	c.close()
	h.limiter.Release()

	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if ok && h.watcher != nil {
		h.watcher.ClientDisconnected()
	}
	h.logger.Infow("event client disconnected", "client_id", c.id)
}

// greet sends the current state and the last preview binding.
func (h *Hub) greet(c *client) {
	h.mu.RLock()
	controller := h.controller
	preview := h.lastPreview
	h.mu.RUnlock()

	if controller != nil {
		h.sendTo(c, Event{Type: EventState, Payload: controller.State()})
	}
	if preview != nil {
		h.sendTo(c, Event{Type: EventPreview, Payload: *preview})
	}
}

func (h *Hub) readLoop(c *client) {
	if h.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(h.opts.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.opts.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warnw("event client read failed", "client_id", c.id, "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
			h.sendTo(c, Event{Type: EventError, Payload: apperrors.NewInvalidInputError("malformed command").Body()})
			continue
		}

		// Acquisition can sit behind a permission prompt; the read loop has
		// to keep answering pongs meanwhile.
		go h.dispatch(c, cmd)
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debugw("event write failed", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(h.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				h.logger.Debugw("ping failed", "client_id", c.id, "error", err)
				return
			}
		}
	}
}

func (h *Hub) dispatch(c *client, cmd Command) {
	ctx, span := tracing.TraceWebSocketMessage(c.ctx, cmd.Type, string(h.room))
	defer span.End()
	ctx = logger.WithRoomID(logger.WithRequestID(ctx, c.id+"/"+cmd.ID), string(h.room))
	if sc := span.SpanContext(); sc.HasTraceID() {
		ctx = logger.WithTraceID(ctx, sc.TraceID().String())
	}

	start := h.now()
	payload, err := h.execute(ctx, cmd)
	h.commands.LogCommand(ctx, cmd.Type, h.now().Sub(start), err)
	if err != nil {
		tracing.RecordError(ctx, err)
		h.sendTo(c, Event{Type: EventError, ReplyTo: cmd.ID, Payload: errorPayload(err)})
		return
	}
	h.sendTo(c, Event{Type: EventAck, ReplyTo: cmd.ID, Payload: payload})
}

func (h *Hub) execute(ctx context.Context, cmd Command) (interface{}, error) {
	h.mu.RLock()
	controller := h.controller
	h.mu.RUnlock()
	if controller == nil {
		return nil, domain.ErrNoSession
	}

	switch cmd.Type {
	case "get_state":
		return controller.State(), nil
	case "mount":
		req := domain.CaptureRequest{WantVideo: true, WantAudio: true}
		if err := decode(cmd.Payload, &req); err != nil {
			return nil, err
		}
		return nil, controller.Mount(ctx, req)
	case "leave":
		return nil, controller.Close(ctx)
	case "toggle_video":
		return nil, controller.ToggleVideo(ctx)
	case "toggle_audio":
		return nil, controller.ToggleAudio(ctx)
	case "start_share":
		p := SharePayload{Kind: domain.SourceKindScreen, Options: h.opts.ShareDefaults}
		if err := decode(cmd.Payload, &p); err != nil {
			return nil, err
		}
		if _, err := domain.ParseSourceKind(string(p.Kind)); err != nil {
			return nil, invalidInput(err.Error())
		}
		p.Options = p.Options.Normalize()
		if err := p.Options.Validate(); err != nil {
			return nil, invalidInput(err.Error())
		}
		return nil, controller.StartShare(ctx, p.Kind, p.Options)
	case "stop_share":
		return nil, controller.StopShare(ctx)
	case "pause_share":
		return nil, controller.PauseShare(ctx)
	case "resume_share":
		return nil, controller.ResumeShare(ctx)
	case "start_recording":
		return nil, controller.StartRecording(ctx)
	case "stop_recording":
		artifact, err := controller.StopRecording(ctx)
		if err != nil {
			return nil, err
		}
		if artifact == nil {
			return nil, nil
		}
		return artifact.ArtifactInfo, nil
	case "dismiss_notice":
		var p struct {
			ID string `json:"id"`
		}
		if err := decode(cmd.Payload, &p); err != nil {
			return nil, err
		}
		return map[string]bool{"dismissed": controller.DismissNotice(p.ID)}, nil
	case "list_devices":
		return controller.EnumerateDevices(ctx)
	default:
		return nil, invalidInput(fmt.Sprintf("unknown command %q", cmd.Type))
	}
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidInput("malformed payload: " + err.Error())
	}
	return nil
}

func invalidInput(msg string) error { return apperrors.NewInvalidInputError(msg) }

func errorPayload(err error) ErrorPayload {
	if appErr := middleware.ToAppError(err); appErr != nil {
		return appErr.Body()
	}
	return apperrors.NewInternalError(err.Error()).Body()
}

func (h *Hub) encode(evt Event) ([]byte, bool) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = h.now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Errorw("failed to encode event", "type", evt.Type, "error", err)
		return nil, false
	}
	return data, true
}

func (h *Hub) sendTo(c *client, evt Event) {
	data, ok := h.encode(evt)
	if !ok {
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		h.logger.Warnw("event client too slow, dropping", "client_id", c.id)
		c.close()
	}
}

func (h *Hub) broadcast(evt Event) {
	data, ok := h.encode(evt)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		case <-c.ctx.Done():
		default:
			h.logger.Warnw("event client too slow, dropping", "client_id", c.id)
			c.close()
		}
	}
}

func (h *Hub) OnStateChange(state domain.SessionState) {
	h.broadcast(Event{Type: EventState, Payload: state})
}

func (h *Hub) OnNotice(notice domain.Notice) {
	h.broadcast(Event{Type: EventNotice, Payload: notice})
}

func (h *Hub) OnArtifact(info domain.ArtifactInfo) {
	h.broadcast(Event{Type: EventArtifact, Payload: info})
}

func (h *Hub) Bind(stream domain.StreamDescription) {
	h.mu.Lock()
	h.lastPreview = &stream
	h.mu.Unlock()
	h.broadcast(Event{Type: EventPreview, Payload: stream})
}

// Shutdown closes every client connection with a going-away frame.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.close()
	}
}
