package observability

import (
	"context"
	"log/slog"
)

// Audit emits a structured security audit event. Theft detection, fingerprint
// mismatches, and emergency rotations must always pass through here so
// operators can alert on them even though end users only ever see a generic
// authentication failure.
func Audit(ctx context.Context, event string, attrs ...any) {
	base := []any{"event", event}
	base = append(base, attrs...)
	slog.InfoContext(ctx, "audit", base...)
}
