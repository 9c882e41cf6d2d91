package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// TenantID scopes every call-center operation. AgentID is set when the
// subject is itself a registered agent, so it can heartbeat only itself.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role"`
	AgentID   string    `json:"agent_id,omitempty"`
	TokenType TokenType `json:"token_type"`
}

// Identity is the verified caller handed to the HTTP layer.
type Identity struct {
	UserID   string
	TenantID string
	Role     string
	AgentID  string
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, TenantID: c.TenantID, Role: c.Role, AgentID: c.AgentID}
}
