package workspace

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// CaseStatus represents where a case sits in its lifecycle.
type CaseStatus string

const (
	CaseStatusDraft      CaseStatus = "draft"
	CaseStatusInProgress CaseStatus = "in_progress"
	CaseStatusSubmitted  CaseStatus = "submitted"
	CaseStatusClosed     CaseStatus = "closed"
)

// Case is one immigration case a tenant is preparing.
//
// Deletion is soft; billing only counts live rows.
type Case struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID  uuid.UUID      `json:"tenant_id" gorm:"type:uuid;index;not null"`
	Title     string         `json:"title" gorm:"not null"`
	VisaType  string         `json:"visa_type"`
	Status    CaseStatus     `json:"status" gorm:"not null;default:'draft'"`
	Tags      pq.StringArray `json:"tags" gorm:"type:text[]"`
	Notes     string         `json:"notes"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name.
func (Case) TableName() string {
	return "cases"
}

// Document is a file attached to a case. The bytes live in object storage;
// only metadata is kept here, and SizeBytes feeds the storage quota.
type Document struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID    uuid.UUID `json:"tenant_id" gorm:"type:uuid;index;not null"`
	CaseID      uuid.UUID `json:"case_id" gorm:"type:uuid;index;not null"`
	Name        string    `json:"name" gorm:"not null"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes" gorm:"not null;default:0"`
	StorageKey  string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name.
func (Document) TableName() string {
	return "documents"
}

// MemberRole represents a team member's role within a tenant.
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
)

// TeamMember is one seat on the tenant's team.
type TeamMember struct {
	ID        uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TenantID  uuid.UUID  `json:"tenant_id" gorm:"type:uuid;uniqueIndex:idx_member_tenant_email;not null"`
	Email     string     `json:"email" gorm:"uniqueIndex:idx_member_tenant_email;not null"`
	Name      string     `json:"name"`
	Role      MemberRole `json:"role" gorm:"not null;default:'member'"`
	CreatedAt time.Time  `json:"created_at"`
}

// TableName returns the database table name.
func (TeamMember) TableName() string {
	return "team_members"
}
