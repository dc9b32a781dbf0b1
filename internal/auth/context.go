package auth

import "context"

type contextKey string

const (
	contextKeyFacility contextKey = "auth.facility_id"
	contextKeyRole     contextKey = "auth.role"
	contextKeySubject  contextKey = "auth.subject"
)

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, facilityID string, role Role, subject string) context.Context {
	ctx = context.WithValue(ctx, contextKeyFacility, facilityID)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	return ctx
}

// FacilityIDFromContext returns the facility the caller is scoped to.
func FacilityIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if facilityID, ok := ctx.Value(contextKeyFacility).(string); ok {
		return facilityID
	}
	return ""
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if subject, ok := ctx.Value(contextKeySubject).(string); ok {
		return subject
	}
	return ""
}
