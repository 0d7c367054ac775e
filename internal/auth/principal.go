package auth

// Principal is an authenticated user as seen by the core. It is produced by
// the Auth Gate and never mutated by any other component.
type Principal struct {
	UserID      string
	Email       string
	DisplayName string
}
