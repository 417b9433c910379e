// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"instrument-service/internal/model"
	"instrument-service/internal/service"
	"instrument-service/internal/utils"
	"instrument-service/pkg/driver"
)

// WebSocketHandler manages WebSocket connections for real-time communication
type WebSocketHandler struct {
	upgrader          websocket.Upgrader
	connections       *ConnectionManager
	instrumentService *service.InstrumentService
	logger            *utils.ServiceLogger
	eventBus          *EventBus
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	instrumentService *service.InstrumentService,
	allowedOrigins []string,
	logger *zap.Logger,
) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	handler := &WebSocketHandler{
		upgrader:          upgrader,
		connections:       NewConnectionManager(),
		instrumentService: instrumentService,
		logger:            utils.NewServiceLogger(logger, "websocket-handler"),
		eventBus:          NewEventBus(),
	}

	// Start event bus
	go handler.eventBus.Start()

	return handler
}

// originChecker builds the upgrade origin check from the configured list.
// An empty list or a "*" entry allows any origin.
func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowedOrigins) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Instrument-specific WebSocket connections
	router.GET("/instruments/:instrument_id", h.HandleInstrumentConnection)

	// General instrument events WebSocket
	router.GET("/events", h.HandleEventConnection)
}

// HandleInstrumentConnection handles instrument-specific WebSocket connections
func (h *WebSocketHandler) HandleInstrumentConnection(c *gin.Context) {
	instrumentID := c.Param("instrument_id")
	if instrumentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instrument_id is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:           uuid.New().String(),
		Connection:   conn,
		Send:         make(chan []byte, 256),
		Type:         "instrument",
		InstrumentID: &instrumentID,
		UserAgent:    c.Request.UserAgent(),
		RemoteAddr:   c.Request.RemoteAddr,
		ConnectedAt:  time.Now(),
	}

	h.connections.Register(client)
	h.logger.Info("Instrument WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("instrument_id", instrumentID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	// Send initial instrument status
	go h.sendInitialInstrumentStatus(client, instrumentID)

	// Start client goroutines
	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// HandleEventConnection handles general event WebSocket connections
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Type:        "events",
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	h.connections.Register(client)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
	)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
	}()

	// Set read deadline and pong handler
	client.Connection.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.logger.Error("Failed to parse WebSocket message",
				zap.Error(err),
				zap.String("client_id", client.ID),
			)
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe":
		h.handleSubscription(client, message)
	case "unsubscribe":
		h.handleUnsubscription(client, message)
	case "instrument_command":
		h.handleInstrumentCommand(client, message)
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
		})
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
	}
}

// handleSubscription handles client subscription requests
func (h *WebSocketHandler) handleSubscription(client *Client, message *WebSocketMessage) {
	if client.Subscriptions == nil {
		client.Subscriptions = make(map[string]bool)
	}

	if data, ok := message.Data.(map[string]interface{}); ok {
		if topic, ok := data["topic"].(string); ok {
			client.Subscriptions[topic] = true
			h.logger.Info("Client subscribed to topic",
				zap.String("client_id", client.ID),
				zap.String("topic", topic),
			)

			h.sendMessage(client, &WebSocketMessage{
				Type: "subscription_confirmed",
				Data: map[string]interface{}{
					"topic": topic,
				},
				Timestamp: time.Now(),
			})
		}
	}
}

// handleUnsubscription handles client unsubscription requests
func (h *WebSocketHandler) handleUnsubscription(client *Client, message *WebSocketMessage) {
	if client.Subscriptions == nil {
		return
	}

	if data, ok := message.Data.(map[string]interface{}); ok {
		if topic, ok := data["topic"].(string); ok {
			delete(client.Subscriptions, topic)
			h.logger.Info("Client unsubscribed from topic",
				zap.String("client_id", client.ID),
				zap.String("topic", topic),
			)
		}
	}
}

// handleInstrumentCommand handles instrument command messages
func (h *WebSocketHandler) handleInstrumentCommand(client *Client, message *WebSocketMessage) {
	if client.InstrumentID == nil {
		h.sendError(client, "instrument_command only available on instrument connections")
		return
	}

	data, ok := message.Data.(map[string]interface{})
	if !ok {
		h.sendError(client, "invalid command data")
		return
	}

	command, ok := data["command"].(string)
	if !ok {
		h.sendError(client, "command is required")
		return
	}

	go h.executeInstrumentCommand(client, *client.InstrumentID, command, data)
}

// executeInstrumentCommand executes an instrument command
func (h *WebSocketHandler) executeInstrumentCommand(client *Client, instrumentID, command string, data map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	var result interface{}

	switch command {
	case "connect":
		err = h.instrumentService.ConnectInstrument(ctx, instrumentID)
		result = map[string]interface{}{"connected": err == nil}

	case "disconnect":
		err = h.instrumentService.DisconnectInstrument(ctx, instrumentID)
		result = map[string]interface{}{"disconnected": err == nil}

	case "test":
		var testResult *service.TestResult
		testResult, err = h.instrumentService.TestInstrument(ctx, instrumentID)
		result = testResult

	case "status":
		var health *service.InstrumentHealth
		health, err = h.instrumentService.GetInstrumentHealth(ctx, instrumentID)
		result = health

	case "read_power":
		var power model.Quantity
		err = h.instrumentService.WithPowerMeter(instrumentID, func(meter driver.PowerMeterDriver) error {
			var perr error
			power, perr = meter.Power(ctx)
			return perr
		})
		result = power

	case "stream_power":
		h.streamPower(ctx, client, instrumentID, data)
		return

	case "capture_waveform":
		channel := 1
		if ch, ok := data["channel"].(float64); ok {
			channel = int(ch)
		}
		var waveform *model.Waveform
		err = h.instrumentService.WithScope(instrumentID, func(scope driver.ScopeDriver) error {
			var werr error
			waveform, werr = scope.GetData(ctx, channel)
			return werr
		})
		result = waveform
		if err == nil {
			h.BroadcastInstrumentEvent(instrumentID, model.EventWaveformCaptured, "INFO", model.JSONObject{
				"channel": channel,
				"points":  waveform.Len(),
			})
		}

	default:
		h.sendError(client, fmt.Sprintf("unknown command: %s", command))
		return
	}

	response := &WebSocketMessage{
		Type: "command_response",
		Data: map[string]interface{}{
			"command": command,
			"success": err == nil,
			"result":  result,
		},
		Timestamp: time.Now(),
	}

	if err != nil {
		response.Data.(map[string]interface{})["error"] = err.Error()
	}

	h.sendMessage(client, response)
}

// streamPower pushes a bounded series of power readings to the client. The
// count is capped to keep a single command from pinning the bus.
func (h *WebSocketHandler) streamPower(ctx context.Context, client *Client, instrumentID string, data map[string]interface{}) {
	count := 10
	if c, ok := data["count"].(float64); ok && c > 0 {
		count = int(c)
	}
	if count > 1000 {
		count = 1000
	}

	interval := 500 * time.Millisecond
	if ms, ok := data["interval_ms"].(float64); ok && ms >= 10 {
		interval = time.Duration(ms) * time.Millisecond
	}

	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var power model.Quantity
		err := h.instrumentService.WithPowerMeter(instrumentID, func(meter driver.PowerMeterDriver) error {
			var perr error
			power, perr = meter.Power(ctx)
			return perr
		})

		sample := map[string]interface{}{
			"index":   i,
			"success": err == nil,
			"reading": power,
		}
		if err != nil {
			sample["error"] = err.Error()
		}

		h.sendMessage(client, &WebSocketMessage{
			Type:      "power_sample",
			Data:      sample,
			Timestamp: time.Now(),
		})

		if err != nil {
			return
		}
		time.Sleep(interval)
	}
}

// sendInitialInstrumentStatus sends initial instrument status to client
func (h *WebSocketHandler) sendInitialInstrumentStatus(client *Client, instrumentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	instrument, err := h.instrumentService.GetInstrument(ctx, instrumentID)
	if err != nil {
		h.sendError(client, fmt.Sprintf("failed to get instrument: %v", err))
		return
	}

	health, err := h.instrumentService.GetInstrumentHealth(ctx, instrumentID)
	if err != nil {
		h.logger.Error("Failed to get instrument health", zap.Error(err))
	}

	message := &WebSocketMessage{
		Type: "initial_status",
		Data: map[string]interface{}{
			"instrument": instrument,
			"health":     health,
		},
		Timestamp: time.Now(),
	}

	h.sendMessage(client, message)
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case client.Send <- messageBytes:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	message := &WebSocketMessage{
		Type: "error",
		Data: map[string]interface{}{
			"error": errorMsg,
		},
		Timestamp: time.Now(),
	}
	h.sendMessage(client, message)
}

// BroadcastInstrumentEvent broadcasts an instrument event to clients watching
// that instrument and to the firehose event clients.
func (h *WebSocketHandler) BroadcastInstrumentEvent(instrumentID string, eventType model.EventType, severity string, data model.JSONObject) {
	event := model.InstrumentEvent{
		ID:           uuid.New(),
		EventType:    eventType,
		InstrumentID: instrumentID,
		Data:         data,
		Timestamp:    time.Now(),
		Source:       "instrument-service",
		Severity:     severity,
	}

	message := &WebSocketMessage{
		Type:      "instrument_event",
		Data:      event,
		Timestamp: event.Timestamp,
	}

	h.broadcastToInstrumentClients(instrumentID, message)
	h.broadcastToEventClients(message)
}

// broadcastToInstrumentClients broadcasts to clients connected to a specific instrument
func (h *WebSocketHandler) broadcastToInstrumentClients(instrumentID string, message *WebSocketMessage) {
	clients := h.connections.GetInstrumentClients(instrumentID)
	h.broadcastToClients(clients, message)
}

// broadcastToEventClients broadcasts to all event clients
func (h *WebSocketHandler) broadcastToEventClients(message *WebSocketMessage) {
	clients := h.connections.GetEventClients()
	h.broadcastToClients(clients, message)
}

// broadcastToClients broadcasts message to specified clients
func (h *WebSocketHandler) broadcastToClients(clients []*Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.Send <- messageBytes:
		default:
			h.logger.Warn("Client send channel full during broadcast",
				zap.String("client_id", client.ID),
			)
		}
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}
