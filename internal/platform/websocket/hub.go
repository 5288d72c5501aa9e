// Package websocket pushes appointment lifecycle events to connected clients.
// It implements a hub-and-spoke pattern: every patient is subscribed to their
// own channel, staff can additionally watch per-hospital channels for the
// check-in dashboard.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nirujan14/HealthCareSystem/internal/platform/auth"
)

// Event types emitted by the appointment service.
const (
	EventAppointmentCreated   = "appointment.created"
	EventAppointmentUpdated   = "appointment.updated"
	EventAppointmentCheckedIn = "appointment.checked_in"
)

// PatientChannel returns the channel name carrying events for one patient.
func PatientChannel(patientID uuid.UUID) string {
	return "patient:" + patientID.String()
}

// HospitalChannel returns the channel name carrying events for one hospital.
func HospitalChannel(hospitalID uuid.UUID) string {
	return "hospital:" + hospitalID.String()
}

// Event is a single real-time notification delivered to subscribers.
type Event struct {
	Type          string          `json:"type"`
	Channel       string          `json:"channel"`
	AppointmentID string          `json:"appointmentId,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound message from a connected client.
type ClientMessage struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// EventPublisher is the interface the appointment service publishes through.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Client represents a single WebSocket connection and its subscriptions.
type Client struct {
	ID       string
	Actor    auth.Actor
	Channels []string
	Send     chan []byte
}

// Hub is the central connection manager. All operations are safe for
// concurrent use.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]struct{} // channel -> subscribers
	all      map[*Client]struct{}
	logger   zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[*Client]struct{}),
		all:      make(map[*Client]struct{}),
		logger:   logger,
	}
}

// Register adds a client and subscribes it to its initial channels.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, ch := range client.Channels {
		if h.channels[ch] == nil {
			h.channels[ch] = make(map[*Client]struct{})
		}
		h.channels[ch][client] = struct{}{}
	}
}

// Unregister removes a client from all subscriptions and closes its Send
// channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}

	for _, ch := range client.Channels {
		if subscribers, ok := h.channels[ch]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.channels, ch)
			}
		}
	}

	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds channels to a registered client. Channels the client's actor
// is not allowed to watch are dropped.
func (h *Hub) Subscribe(client *Client, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range channels {
		if !allowedChannel(client.Actor, ch) {
			continue
		}
		if h.channels[ch] == nil {
			h.channels[ch] = make(map[*Client]struct{})
		}
		h.channels[ch][client] = struct{}{}
		client.Channels = append(client.Channels, ch)
	}
}

// Unsubscribe removes channels from a registered client.
func (h *Hub) Unsubscribe(client *Client, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		removeSet[ch] = struct{}{}
		if subscribers, ok := h.channels[ch]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.channels, ch)
			}
		}
	}

	remaining := make([]string, 0, len(client.Channels))
	for _, ch := range client.Channels {
		if _, rm := removeSet[ch]; !rm {
			remaining = append(remaining, ch)
		}
	}
	client.Channels = remaining
}

// allowedChannel decides whether an actor may watch a channel. Patients only
// see their own channel; staff see their hospital and any patient channel
// (front-desk check-in needs it).
func allowedChannel(actor auth.Actor, channel string) bool {
	if actor.IsStaff() {
		return true
	}
	return channel == PatientChannel(actor.ID)
}

// Broadcast sends an event to every subscriber of the event's channel.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket: marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.channels[event.Channel] {
		select {
		case client.Send <- data:
		default:
			// Client buffer full; skip to avoid blocking.
		}
	}
}

// Publish implements EventPublisher.
func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	h.Broadcast(event)
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// ChannelCount returns the number of clients subscribed to a channel.
func (h *Hub) ChannelCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// ---------------------------------------------------------------------------
// Handler — Echo HTTP handler for WebSocket connections
// ---------------------------------------------------------------------------

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin is enforced by the CORS layer in front.
	},
}

// Handler upgrades HTTP connections and routes client messages to the hub.
type Handler struct {
	hub *Hub
}

// NewHandler creates a handler bound to the given Hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo group.
func (wh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wh.HandleConnect)
}

// HandleConnect upgrades the connection, registers the client with its
// default subscriptions, and starts the read/write pumps. Patients are
// auto-subscribed to their own channel, staff to their hospital's.
func (wh *Handler) HandleConnect(c echo.Context) error {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	channels := []string{PatientChannel(actor.ID)}
	if actor.IsStaff() && actor.HospitalID != nil {
		channels = []string{HospitalChannel(*actor.HospitalID)}
	}

	client := &Client{
		ID:       uuid.New().String(),
		Actor:    actor,
		Channels: channels,
		Send:     make(chan []byte, 256),
	}

	wh.hub.Register(client)

	go wh.writePump(client, ws)
	go wh.readPump(client, ws)

	return nil
}

// readPump reads subscribe/unsubscribe messages until the connection drops.
func (wh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wh.hub.Unregister(client)
		ws.Close()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue // Ignore malformed messages.
		}

		switch msg.Action {
		case "subscribe":
			wh.hub.Subscribe(client, msg.Channels)
		case "unsubscribe":
			wh.hub.Unsubscribe(client, msg.Channels)
		}
	}
}

// writePump writes messages from the Send channel to the connection.
func (wh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}
