package domain

// Role is the role an authenticated caller acts under.
type Role string

const (
	RoleRider  Role = "RIDER"
	RoleDriver Role = "DRIVER"
	RoleAdmin  Role = "ADMIN"
	RoleSystem Role = "SYSTEM"
)

// Valid reports whether r can be carried by a bearer credential.
func (r Role) Valid() bool {
	return r == RoleRider || r == RoleDriver || r == RoleAdmin
}

// Actor is the identity behind a request.
type Actor struct {
	UserID string
	Role   Role
}

// SystemActor is used by background jobs such as the expiry sweep.
var SystemActor = Actor{UserID: "system", Role: RoleSystem}
