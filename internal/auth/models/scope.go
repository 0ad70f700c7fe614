package models

import (
	"slices"
	"time"
)

const (
	// AllDatasets grants access to every dataset.
	AllDatasets = "*"

	RoleAuditor  = "auditor"
	RoleOperator = "operator"
)

// Scope is what a validated token grants.
type Scope struct {
	RequesterID string    `json:"requester_id"`
	Datasets    []string  `json:"datasets"`
	Roles       []string  `json:"roles,omitempty"`
	TokenID     string    `json:"token_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Allows reports whether the scope covers dataset.
func (s Scope) Allows(dataset string) bool {
	if dataset == "" {
		return false
	}
	return slices.Contains(s.Datasets, AllDatasets) || slices.Contains(s.Datasets, dataset)
}

func (s Scope) HasRole(role string) bool {
	return slices.Contains(s.Roles, role)
}
