package domain

// Role identifies the author of a chat message. The set is closed: prompt
// assembly and persistence handle exactly these three values.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ChatMessage is the provider-agnostic prompt segment shape sent to the
// generation backend.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
