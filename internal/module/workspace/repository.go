package workspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines the interface for workspace data access.
type Repository interface {
	CreateCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, tenantID, caseID uuid.UUID) (*Case, error)
	ListCases(ctx context.Context, tenantID uuid.UUID) ([]*Case, error)
	UpdateCase(ctx context.Context, c *Case) error
	DeleteCase(ctx context.Context, tenantID, caseID uuid.UUID) error

	CreateDocument(ctx context.Context, d *Document) error
	ListDocuments(ctx context.Context, tenantID, caseID uuid.UUID) ([]*Document, error)
	DeleteDocument(ctx context.Context, tenantID, docID uuid.UUID) error

	AddTeamMember(ctx context.Context, m *TeamMember) error
	ListTeamMembers(ctx context.Context, tenantID uuid.UUID) ([]*TeamMember, error)
	RemoveTeamMember(ctx context.Context, tenantID, memberID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new workspace repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateCase(ctx context.Context, c *Case) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	return nil
}

func (r *repository) GetCase(ctx context.Context, tenantID, caseID uuid.UUID) (*Case, error) {
	var c Case
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", caseID, tenantID).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("get case: %w", err)
	}
	return &c, nil
}

func (r *repository) ListCases(ctx context.Context, tenantID uuid.UUID) ([]*Case, error) {
	var cases []*Case
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("updated_at DESC").
		Find(&cases).Error
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return cases, nil
}

func (r *repository) UpdateCase(ctx context.Context, c *Case) error {
	result := r.db.WithContext(ctx).
		Model(&Case{}).
		Where("id = ? AND tenant_id = ?", c.ID, c.TenantID).
		Updates(map[string]interface{}{
			"title":     c.Title,
			"visa_type": c.VisaType,
			"status":    c.Status,
			"tags":      c.Tags,
			"notes":     c.Notes,
		})
	if result.Error != nil {
		return fmt.Errorf("update case: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCaseNotFound
	}
	return nil
}

func (r *repository) DeleteCase(ctx context.Context, tenantID, caseID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", caseID, tenantID).
		Delete(&Case{})
	if result.Error != nil {
		return fmt.Errorf("delete case: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCaseNotFound
	}
	return nil
}

func (r *repository) CreateDocument(ctx context.Context, d *Document) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (r *repository) ListDocuments(ctx context.Context, tenantID, caseID uuid.UUID) ([]*Document, error) {
	var docs []*Document
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND case_id = ?", tenantID, caseID).
		Order("created_at DESC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (r *repository) DeleteDocument(ctx context.Context, tenantID, docID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", docID, tenantID).
		Delete(&Document{})
	if result.Error != nil {
		return fmt.Errorf("delete document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (r *repository) AddTeamMember(ctx context.Context, m *TeamMember) error {
	err := r.db.WithContext(ctx).Create(m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrMemberExists
		}
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

func (r *repository) ListTeamMembers(ctx context.Context, tenantID uuid.UUID) ([]*TeamMember, error) {
	var members []*TeamMember
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	return members, nil
}

func (r *repository) RemoveTeamMember(ctx context.Context, tenantID, memberID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ? AND role <> ?", memberID, tenantID, RoleOwner).
		Delete(&TeamMember{})
	if result.Error != nil {
		return fmt.Errorf("remove team member: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// Compile-time check
var _ Repository = (*repository)(nil)
