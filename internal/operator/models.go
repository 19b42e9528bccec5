package operator

import "time"

// Operator is a human with access to the admin surface. Policy mutations
// record the acting operator's email as updated_by.
type Operator struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateOperatorInput holds the fields required to create an operator.
type CreateOperatorInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Session is an active operator session.
type Session struct {
	TokenHash  string    `json:"-"`
	OperatorID string    `json:"operator_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
