package middleware

import (
	"context"
	"net/http"

	"github.com/jayple/booking-dispatch/pkg/fault"
)

// Role is the caller's verified role, as asserted by the gateway in front of
// this service. Authentication itself happens upstream; the gateway strips
// any client-supplied identity headers and injects its own.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleVendor     Role = "vendor"
	RoleFreelancer Role = "freelancer"
	RoleOperator   Role = "operator"
)

// Caller is the verified identity attached to a request.
type Caller struct {
	ID   string
	Role Role
}

type callerKeyType struct{}

var callerKey callerKeyType

// Identity parses the gateway's X-User-Id and X-User-Role headers into the
// request context. Requests without identity pass through; handlers that need
// a caller reject them.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-User-Id")
		role := r.Header.Get("X-User-Role")
		if id != "" && role != "" {
			ctx := context.WithValue(r.Context(), callerKey, Caller{ID: id, Role: Role(role)})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// CallerFrom returns the verified caller from ctx, if any.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

// RequireRole returns the caller if one is present and holds one of the given
// roles. Missing identity is Unauthenticated; a wrong role is
// PermissionDenied.
func RequireRole(ctx context.Context, roles ...Role) (Caller, error) {
	c, ok := CallerFrom(ctx)
	if !ok {
		return Caller{}, fault.New(fault.Unauthenticated, "no verified caller")
	}
	for _, role := range roles {
		if c.Role == role {
			return c, nil
		}
	}
	return Caller{}, fault.New(fault.PermissionDenied, "role %s cannot perform this operation", c.Role)
}
