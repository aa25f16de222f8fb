package core

import "context"

// LogAuditRecorder writes audit entries to a logger.
type LogAuditRecorder struct {
	logger Logger
}

// NewLogAuditRecorder returns a recorder logging through logger.
func NewLogAuditRecorder(logger Logger) *LogAuditRecorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogAuditRecorder{logger: logger}
}

// Record implements AuditRecorder.
func (r *LogAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	args := []any{
		"operation", entry.Operation,
		"entity", entry.Entity,
		"action", entry.Action,
		"entity_id", entry.EntityID,
		"actor", entry.Actor,
		"status", entry.Status,
		"duration_ms", entry.Duration.Milliseconds(),
	}
	for k, v := range entry.Metadata {
		args = append(args, k, v)
	}
	if entry.Status == AuditStatusError {
		r.logger.Warn("audit", append(args, "error", entry.Error)...)
		return
	}
	r.logger.Info("audit", args...)
}
