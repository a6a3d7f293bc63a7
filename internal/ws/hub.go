// Package ws implements the realtime broadcast server. Clients connect over
// a websocket, subscribe to devices and topics, and receive metric, alert,
// device-status, and execution updates as they happen.
package ws

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/copperline-io/opswatch/internal/metrics"
	"github.com/copperline-io/opswatch/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply origin policy at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks connected clients and their device and topic subscriptions,
// and fans broadcasts out to the matching clients. A slow client whose send
// buffer fills is disconnected rather than allowed to stall a broadcast.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	deviceSubs map[string]map[string]struct{}
	topicSubs  map[string]map[string]struct{}
	logger     *zap.Logger
}

// NewHub creates a hub. A nil logger disables logging.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		deviceSubs: make(map[string]map[string]struct{}),
		topicSubs:  make(map[string]map[string]struct{}),
		logger:     logger,
	}
}

// ServeWS upgrades the request and serves the connection until it closes.
// The caller authenticates the request and passes the resulting identity.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, identity Identity) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		return
	}

	c := newClient(conn, identity)
	h.register(c)
	defer h.unregister(c)

	h.sendTo(c, OutboundMessage{
		Type:     TypeConnected,
		ClientID: c.id,
		Message:  "Connected to OpsWatch realtime server",
	})

	go c.writePump()
	c.readPump(h) // blocks until the connection closes
}

func newClient(conn *websocket.Conn, identity Identity) *Client {
	return &Client{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, sendBufSize),
		done:     make(chan struct{}),
		devices:  make(map[string]struct{}),
		topics:   make(map[string]struct{}),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	h.logger.Info("websocket client connected",
		zap.String("client_id", c.id),
		zap.String("user_id", c.identity.UserID))
}

// unregister removes the client and every subscription index entry that
// points at it, then signals its writePump to shut down. The send channel
// stays open so broadcasters racing a disconnect cannot hit a closed
// channel; their writes land in the buffer and die with the client.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)

	for deviceID := range c.devices {
		if subs, ok := h.deviceSubs[deviceID]; ok {
			delete(subs, c.id)
			if len(subs) == 0 {
				delete(h.deviceSubs, deviceID)
			}
		}
	}
	for topic := range c.topics {
		if subs, ok := h.topicSubs[topic]; ok {
			delete(subs, c.id)
			if len(subs) == 0 {
				delete(h.topicSubs, topic)
			}
		}
	}
	close(c.done)

	metrics.WSConnections.Dec()
	h.logger.Info("websocket client disconnected", zap.String("client_id", c.id))
}

// handleMessage processes one inbound frame. Malformed frames get an error
// reply; unknown message types are logged and ignored.
func (h *Hub) handleMessage(c *Client, data []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendTo(c, OutboundMessage{
			Type:    TypeError,
			Message: "Invalid message format",
		})
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		h.subscribe(c, msg)
	case TypeUnsubscribe:
		h.unsubscribe(c, msg)
	case TypePing:
		h.sendTo(c, OutboundMessage{Type: TypePong})
	default:
		h.logger.Warn("unknown websocket message type",
			zap.String("client_id", c.id),
			zap.String("type", msg.Type))
	}
}

// subscribe adds the client to the requested device and/or topic and acks
// each addition. Subscribing twice is a no-op beyond the ack.
func (h *Hub) subscribe(c *Client, msg InboundMessage) {
	if msg.DeviceID != "" {
		h.mu.Lock()
		c.devices[msg.DeviceID] = struct{}{}
		if h.deviceSubs[msg.DeviceID] == nil {
			h.deviceSubs[msg.DeviceID] = make(map[string]struct{})
		}
		h.deviceSubs[msg.DeviceID][c.id] = struct{}{}
		h.mu.Unlock()

		h.sendTo(c, OutboundMessage{
			Type:     TypeSubscribed,
			DeviceID: msg.DeviceID,
			Message:  "Subscribed to device " + msg.DeviceID,
		})
	}

	if msg.Topic != "" {
		h.mu.Lock()
		c.topics[msg.Topic] = struct{}{}
		if h.topicSubs[msg.Topic] == nil {
			h.topicSubs[msg.Topic] = make(map[string]struct{})
		}
		h.topicSubs[msg.Topic][c.id] = struct{}{}
		h.mu.Unlock()

		h.sendTo(c, OutboundMessage{
			Type:    TypeSubscribed,
			Topic:   msg.Topic,
			Message: "Subscribed to topic " + msg.Topic,
		})
	}
}

func (h *Hub) unsubscribe(c *Client, msg InboundMessage) {
	if msg.DeviceID != "" {
		h.mu.Lock()
		delete(c.devices, msg.DeviceID)
		if subs, ok := h.deviceSubs[msg.DeviceID]; ok {
			delete(subs, c.id)
			if len(subs) == 0 {
				delete(h.deviceSubs, msg.DeviceID)
			}
		}
		h.mu.Unlock()

		h.sendTo(c, OutboundMessage{Type: TypeUnsubscribed, DeviceID: msg.DeviceID})
	}

	if msg.Topic != "" {
		h.mu.Lock()
		delete(c.topics, msg.Topic)
		if subs, ok := h.topicSubs[msg.Topic]; ok {
			delete(subs, c.id)
			if len(subs) == 0 {
				delete(h.topicSubs, msg.Topic)
			}
		}
		h.mu.Unlock()

		h.sendTo(c, OutboundMessage{Type: TypeUnsubscribed, Topic: msg.Topic})
	}
}

// BroadcastMetrics delivers a metric sample to the device's subscribers.
func (h *Hub) BroadcastMetrics(sample *models.MetricSample) {
	h.deliver(h.deviceSubscribers(sample.DeviceID), OutboundMessage{
		Type:      TypeMetrics,
		DeviceID:  sample.DeviceID,
		Data:      sample,
		Timestamp: timestamp(),
	})
}

// BroadcastAlert delivers an alert to the union of the device's subscribers
// and the alerts-topic subscribers. A client in both sets receives one copy.
func (h *Hub) BroadcastAlert(alert *models.Alert) {
	targets := h.union(
		h.deviceSubscribers(alert.DeviceID),
		h.topicSubscribers(TopicAlerts),
	)
	h.deliver(targets, OutboundMessage{
		Type:      TypeAlert,
		Data:      alert,
		Timestamp: timestamp(),
	})
}

// BroadcastDeviceStatus delivers a device status change to the union of the
// device's subscribers and the devices-topic subscribers.
func (h *Hub) BroadcastDeviceStatus(deviceID, status string) {
	targets := h.union(
		h.deviceSubscribers(deviceID),
		h.topicSubscribers(TopicDevices),
	)
	h.deliver(targets, OutboundMessage{
		Type:      TypeDeviceStatus,
		DeviceID:  deviceID,
		Status:    status,
		Timestamp: timestamp(),
	})
}

// BroadcastToTopic delivers a message to the topic's subscribers.
func (h *Hub) BroadcastToTopic(topic string, msg OutboundMessage) {
	h.deliver(h.topicSubscribers(topic), msg)
}

// Broadcast delivers a message to every connected client.
func (h *Hub) Broadcast(msg OutboundMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	h.deliver(targets, msg)
}

// deviceSubscribers snapshots the clients subscribed to a device.
func (h *Hub) deviceSubscribers(deviceID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.deviceSubs[deviceID]
	targets := make([]*Client, 0, len(subs))
	for id := range subs {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	return targets
}

func (h *Hub) topicSubscribers(topic string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.topicSubs[topic]
	targets := make([]*Client, 0, len(subs))
	for id := range subs {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	return targets
}

func (h *Hub) union(a, b []*Client) []*Client {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]*Client, 0, len(a)+len(b))
	for _, c := range append(a, b...) {
		if _, ok := seen[c.id]; ok {
			continue
		}
		seen[c.id] = struct{}{}
		out = append(out, c)
	}
	return out
}

// deliver marshals once and enqueues the payload to every target. Clients
// whose send buffer is full are disconnected.
func (h *Hub) deliver(targets []*Client, msg OutboundMessage) {
	if len(targets) == 0 {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast message", zap.Error(err))
		return
	}

	var dropped []*Client
	for _, c := range targets {
		if c.gone() {
			// Disconnected between the subscriber snapshot and the send.
			h.logger.Debug("skipping broadcast to disconnected client",
				zap.String("client_id", c.id))
			continue
		}
		select {
		case c.send <- payload:
			metrics.WSMessagesSent.WithLabelValues(msg.Type).Inc()
		default:
			dropped = append(dropped, c)
		}
	}
	for _, c := range dropped {
		metrics.WSClientsDropped.Inc()
		h.logger.Warn("dropping slow websocket client", zap.String("client_id", c.id))
		h.unregister(c)
	}
}

// sendTo enqueues a message for a single client. A full buffer drops the
// message, not the client: direct replies are best-effort.
func (h *Hub) sendTo(c *Client, msg OutboundMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal websocket message", zap.Error(err))
		return
	}
	if c.gone() {
		return
	}
	select {
	case c.send <- payload:
		metrics.WSMessagesSent.WithLabelValues(msg.Type).Inc()
	default:
	}
}

// ClientInfo describes one connection in Stats.
type ClientInfo struct {
	ID                string   `json:"id"`
	UserID            string   `json:"userId"`
	OrganizationID    string   `json:"organizationId"`
	SubscribedDevices []string `json:"subscribedDevices"`
	SubscribedTopics  []string `json:"subscribedTopics"`
}

// Stats is a point-in-time view of hub state.
type Stats struct {
	TotalClients        int          `json:"totalClients"`
	DeviceSubscriptions int          `json:"deviceSubscriptions"`
	TopicSubscriptions  int          `json:"topicSubscriptions"`
	Clients             []ClientInfo `json:"clients"`
}

// Stats reports connected clients and subscription counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := Stats{
		TotalClients:        len(h.clients),
		DeviceSubscriptions: len(h.deviceSubs),
		TopicSubscriptions:  len(h.topicSubs),
		Clients:             make([]ClientInfo, 0, len(h.clients)),
	}
	for _, c := range h.clients {
		st.Clients = append(st.Clients, ClientInfo{
			ID:                c.id,
			UserID:            c.identity.UserID,
			OrganizationID:    c.identity.OrganizationID,
			SubscribedDevices: sortedKeys(c.devices),
			SubscribedTopics:  sortedKeys(c.topics),
		})
	}
	sort.Slice(st.Clients, func(i, j int) bool { return st.Clients[i].ID < st.Clients[j].ID })
	return st
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
