package models

import (
	"encoding/json"
	"time"
)

// TenantStatus gates admission of new work for a tenant.
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "ACTIVE"
	TenantStatusSuspended TenantStatus = "SUSPENDED"
	TenantStatusInactive  TenantStatus = "INACTIVE"
)

// TenantMetadata is the isolation boundary record. Every definition, event
// and audit entry is scoped to a tenant. SUSPENDED and INACTIVE tenants keep
// full historical read access but may not start new executions.
type TenantMetadata struct {
	TenantID  string          `json:"tenant_id"   validate:"required"`
	Name      string          `json:"tenant_name" validate:"required,min=1"`
	Status    TenantStatus    `json:"status"`
	Config    json.RawMessage `json:"config_json,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CanStartWork reports whether the tenant admits new execution starts.
func (t *TenantMetadata) CanStartWork() bool {
	return t.Status == TenantStatusActive
}
