package auth

import (
	"github.com/google/uuid"

	"pyrus-portal/portal-backend/pkg/workflows"
)

// Actor is the authenticated party behind a request.
type Actor struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name,omitempty"`
	Role workflows.Role `json:"role"`
	// ClientID scopes a client actor to one client account. Producers have none.
	ClientID *uuid.UUID `json:"client_id,omitempty"`
}

// SystemActor is used for transitions nobody clicked, such as scheduled
// publishing. It acts with producer rights and has no identity.
func SystemActor() Actor {
	return Actor{Role: workflows.RoleProducer}
}

func (a Actor) IsSystem() bool {
	return a.ID == ""
}

func (a Actor) IsProducer() bool {
	return a.Role == workflows.RoleProducer
}

// CanSee reports whether the actor may read items owned by clientID.
func (a Actor) CanSee(clientID uuid.UUID) bool {
	if a.IsProducer() {
		return true
	}
	return a.ClientID != nil && *a.ClientID == clientID
}
