package websocket

import (
	"fieldsync-server/internal/domain"

	"go.uber.org/zap"
)

// Notifier adapts the manager to the coordinator's ReviewNotifier
// interface. Broadcast failures are logged and swallowed; live
// notifications are best effort and never affect sync processing.
type Notifier struct {
	manager *Manager
	logger  *zap.Logger
}

func NewNotifier(manager *Manager, logger *zap.Logger) *Notifier {
	return &Notifier{manager: manager, logger: logger}
}

func (n *Notifier) ConflictPending(tenantID string, c *domain.Conflict) {
	n.broadcast(TypeConflictPending, tenantID, c)
}

func (n *Notifier) ConflictResolved(tenantID string, c *domain.Conflict) {
	n.broadcast(TypeConflictResolved, tenantID, c)
}

func (n *Notifier) broadcast(msgType MessageType, tenantID string, c *domain.Conflict) {
	msg, err := NewMessage(msgType, &ConflictPayload{
		ConflictID: c.ID,
		EventID:    c.EventID,
		EventType:  c.EventType,
		NaturalKey: c.NaturalKey,
		Reason:     c.Reason,
		Status:     c.Status,
		Strategy:   c.RecommendedStrategy,
	})
	if err != nil {
		n.logger.Warn("building conflict notification failed", zap.Error(err))
		return
	}
	if err := n.manager.BroadcastToTenant(tenantID, msg); err != nil {
		n.logger.Warn("broadcasting conflict notification failed", zap.Error(err))
	}
}
