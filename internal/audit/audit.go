// Package audit records every state-changing engine action to a write-only
// log. The engine consumes the sink synchronously, but a sink failure only
// degrades the audit trail; it never rolls back the financial mutation.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/devbazaar/escrow-engine/internal/domain"
	"github.com/devbazaar/escrow-engine/internal/logging"
)

type auditRepo interface {
	Create(ctx context.Context, e *domain.AuditEntry) error
}

type Recorder struct {
	repo auditRepo
}

func NewRecorder(repo auditRepo) *Recorder {
	return &Recorder{repo: repo}
}

// Record writes one audit entry. details is marshalled to JSON; a marshal or
// insert failure is logged as a degraded-audit warning and swallowed.
func (r *Recorder) Record(ctx context.Context, actor domain.Actor, action, entityType string, entityID uuid.UUID, details map[string]any) {
	log := logging.FromContext(ctx)

	var payload json.RawMessage
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			log.Warn("audit degraded: marshal details failed", "action", action, "error", err)
		} else {
			payload = b
		}
	}

	entry := &domain.AuditEntry{
		ID:         uuid.New(),
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    payload,
		CreatedAt:  time.Now().UTC(),
	}

	if err := r.repo.Create(ctx, entry); err != nil {
		log.Warn("audit degraded: write failed",
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
	}
}
