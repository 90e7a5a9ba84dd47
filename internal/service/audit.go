package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/dimasfr/bimbel-admin-api/internal/models"
)

// recordAudit appends an audit record outside the business transaction.
// Failures are logged, never propagated.
func recordAudit(ctx context.Context, audit auditWriter, logger *zap.Logger, actorID, action, resource, resourceID, note string) {
	if audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:   action,
		Resource: resource,
	}
	if actorID != "" {
		log.ActorID = &actorID
	}
	if resourceID != "" {
		log.ResourceID = &resourceID
	}
	if note != "" {
		log.Details, _ = json.Marshal(map[string]string{"note": note})
	}
	if err := audit.CreateAuditLog(ctx, log); err != nil {
		logger.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
