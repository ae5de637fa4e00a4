package user

// Roles a chat user can hold.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the externally owned account referenced by username.
type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Activated   bool   `json:"activated"`
}

// Credentials carries a sign-in attempt.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
