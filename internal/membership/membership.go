// Package membership is the boundary to the group membership service.
// The document core treats it as authoritative and never caches results
// beyond a single call.
package membership

import "context"

// Role of a user within a group.
type Role string

const (
	RoleNone   Role = ""
	RoleMember Role = "member"
	RoleOwner  Role = "owner"
)

// Service answers authorization questions about group membership.
type Service interface {
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	RoleOf(ctx context.Context, groupID, userID string) (Role, error)
}
