package models

// Role distinguishes paying users from merchants that mostly receive.
type Role string

const (
	RoleUser     Role = "USER"
	RoleMerchant Role = "MERCHANT"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleMerchant
}
