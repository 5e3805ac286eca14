package entity

import "time"

// CredentialStatus represents the lifecycle state of a provider credential
type CredentialStatus string

const (
	CredentialStatusAuthorized CredentialStatus = "authorized"
	CredentialStatusRevoked    CredentialStatus = "revoked"
	CredentialStatusPending    CredentialStatus = "pending"
)

// Credential is a per-child provider credential pair. Credentials are created
// by the connector-setup flow; the synchronizer only looks them up.
type Credential struct {
	ID         string           `json:"id"`
	ChildID    string           `json:"child_id"`
	InstanceID string           `json:"instance_id"`
	Token      string           `json:"-"`
	Status     CredentialStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
}
