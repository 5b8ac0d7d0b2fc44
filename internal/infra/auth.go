// README: Caller identity resolved from a bearer token.
package infra

import "context"

const (
	RoleRider  = "rider"
	RoleDriver = "driver"
	RoleAdmin  = "admin"
)

// Identity is the verified caller. Role defaults to rider.
type Identity struct {
	UID  string
	Role string
}

// TokenVerifier verifies a raw bearer token and returns the caller.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

func roleOrDefault(role string) string {
	switch role {
	case RoleDriver, RoleAdmin:
		return role
	default:
		return RoleRider
	}
}
