package rbac

type Role string
type Action string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

// Client mutations on a shared gallery are anonymous and never pass
// through Can. A client token grants none of these actions.
const (
	ActionReview   Action = "review"
	ActionModerate Action = "moderate"
	ActionNotify   Action = "notifications"
)

func Can(role Role, action Action) bool {
	switch action {
	case ActionReview, ActionModerate, ActionNotify:
		return role == RoleAdmin
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleClient, RoleAdmin:
		return Role(role)
	default:
		return RoleClient
	}
}
