package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager tracks supervisor review sessions per tenant and fans conflict
// notifications out to them.
type Manager struct {
	clients          map[string]*Client
	tenantIndex      map[string]map[string]bool
	clientsMutex     sync.RWMutex
	Register         chan *Client
	Unregister       chan *Client
	HandleMessage    chan *ClientMessage
	maxConnPerTenant int
	writeWait        time.Duration
	pongWait         time.Duration
	pingPeriod       time.Duration
	logger           *zap.Logger
}

func NewManager(maxConnPerTenant int, writeWait, pongWait, pingPeriod time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		clients:          make(map[string]*Client),
		tenantIndex:      make(map[string]map[string]bool),
		Register:         make(chan *Client),
		Unregister:       make(chan *Client),
		HandleMessage:    make(chan *ClientMessage),
		maxConnPerTenant: maxConnPerTenant,
		writeWait:        writeWait,
		pongWait:         pongWait,
		pingPeriod:       pingPeriod,
		logger:           logger,
	}
}

func (m *Manager) Run() {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.tenantIndex[client.TenantID] == nil {
		m.tenantIndex[client.TenantID] = make(map[string]bool)
	}

	if len(m.tenantIndex[client.TenantID]) >= m.maxConnPerTenant {
		m.logger.Warn("max review connections reached", zap.String("tenant_id", client.TenantID))
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.tenantIndex[client.TenantID][client.ID] = true

	m.logger.Info("review session connected",
		zap.String("client_id", client.ID),
		zap.String("tenant_id", client.TenantID),
		zap.String("user_id", client.UserID))
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		delete(m.tenantIndex[client.TenantID], client.ID)

		if len(m.tenantIndex[client.TenantID]) == 0 {
			delete(m.tenantIndex, client.TenantID)
		}

		close(client.Send)
		m.logger.Info("review session disconnected", zap.String("client_id", client.ID))
	}
}

// processMessage handles inbound traffic from review sessions. The channel
// is notify-only apart from keepalives.
func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		m.logger.Warn("unreadable review-session message", zap.Error(err))
		return
	}

	if msg.Type == TypePing {
		pong, err := NewMessage(TypePong, nil)
		if err != nil {
			return
		}
		bytes, _ := json.Marshal(pong)
		select {
		case clientMsg.Client.Send <- bytes:
		default:
		}
	}
}

func (m *Manager) BroadcastToTenant(tenantID string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	clientIDs, exists := m.tenantIndex[tenantID]
	if !exists {
		return nil
	}

	for clientID := range clientIDs {
		client := m.clients[clientID]
		select {
		case client.Send <- messageBytes:
		default:
			m.logger.Warn("review session send buffer full, dropping connection",
				zap.String("client_id", clientID))
			go func(c *Client) { m.Unregister <- c }(client)
		}
	}

	return nil
}

func (m *Manager) TenantConnections(tenantID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.tenantIndex[tenantID]; exists {
		return len(clients)
	}
	return 0
}
