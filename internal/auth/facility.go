package auth

import (
	"context"
	"errors"
)

// ErrFacilityMismatch indicates the caller is scoped to a different facility.
var ErrFacilityMismatch = errors.New("facility mismatch")

// ResolveFacility returns the facility a request may read. An empty requested id
// resolves to the caller's own facility. Unauthenticated contexts (auth disabled)
// and admins without a facility scope may read any facility.
func ResolveFacility(ctx context.Context, requested string) (string, error) {
	scoped := FacilityIDFromContext(ctx)
	role := RoleFromContext(ctx)
	switch {
	case role == "", scoped == "" && role == RoleAdmin:
		return requested, nil
	case requested == "":
		return scoped, nil
	case scoped != requested:
		return "", ErrFacilityMismatch
	default:
		return requested, nil
	}
}
