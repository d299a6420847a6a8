package workspace

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casebridge/server/internal/module/billing"
)

// Service implements workspace business logic. Every operation that grows a
// billable dimension runs through the quota engine before it writes.
type Service struct {
	repo    Repository
	quota   *billing.QuotaEngine
	tracker *billing.UsageTracker
	logger  *zap.Logger
}

// NewService creates a new workspace service.
func NewService(repo Repository, quota *billing.QuotaEngine, tracker *billing.UsageTracker, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		quota:   quota,
		tracker: tracker,
		logger:  logger,
	}
}

// CreateCase creates a new case after checking the plan's case allowance.
func (s *Service) CreateCase(ctx context.Context, tenantID uuid.UUID, req *CreateCaseRequest) (*Case, error) {
	if err := s.quota.EnforceQuota(ctx, tenantID, billing.MetricCases, 1); err != nil {
		return nil, err
	}

	c := &Case{
		TenantID: tenantID,
		Title:    req.Title,
		VisaType: req.VisaType,
		Status:   CaseStatusDraft,
		Tags:     req.Tags,
		Notes:    req.Notes,
	}
	if err := s.repo.CreateCase(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCase returns one case owned by the tenant.
func (s *Service) GetCase(ctx context.Context, tenantID, caseID uuid.UUID) (*Case, error) {
	return s.repo.GetCase(ctx, tenantID, caseID)
}

// ListCases returns all cases owned by the tenant.
func (s *Service) ListCases(ctx context.Context, tenantID uuid.UUID) ([]*Case, error) {
	return s.repo.ListCases(ctx, tenantID)
}

// UpdateCase applies the request to an existing case.
func (s *Service) UpdateCase(ctx context.Context, tenantID, caseID uuid.UUID, req *UpdateCaseRequest) (*Case, error) {
	c, err := s.repo.GetCase(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		c.Title = *req.Title
	}
	if req.VisaType != nil {
		c.VisaType = *req.VisaType
	}
	if req.Status != nil {
		c.Status = *req.Status
	}
	if req.Tags != nil {
		c.Tags = req.Tags
	}
	if req.Notes != nil {
		c.Notes = *req.Notes
	}

	if err := s.repo.UpdateCase(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteCase soft-deletes a case. Its documents stay addressable until a
// cleanup job removes them.
func (s *Service) DeleteCase(ctx context.Context, tenantID, caseID uuid.UUID) error {
	return s.repo.DeleteCase(ctx, tenantID, caseID)
}

// AttachDocument records a document on a case after checking both the
// per-case document allowance and the tenant's storage allowance.
func (s *Service) AttachDocument(ctx context.Context, tenantID, caseID uuid.UUID, req *AttachDocumentRequest) (*Document, error) {
	if _, err := s.repo.GetCase(ctx, tenantID, caseID); err != nil {
		return nil, err
	}

	if err := s.quota.EnforceQuota(ctx, tenantID, billing.MetricDocuments, 1); err != nil {
		return nil, err
	}
	if err := s.quota.EnforceQuota(ctx, tenantID, billing.MetricStorage, req.SizeBytes); err != nil {
		return nil, err
	}

	doc := &Document{
		TenantID:    tenantID,
		CaseID:      caseID,
		Name:        req.Name,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		StorageKey:  fmt.Sprintf("%s/%s/%s", tenantID, caseID, req.Name),
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns the documents attached to a case.
func (s *Service) ListDocuments(ctx context.Context, tenantID, caseID uuid.UUID) ([]*Document, error) {
	return s.repo.ListDocuments(ctx, tenantID, caseID)
}

// DeleteDocument removes a document record.
func (s *Service) DeleteDocument(ctx context.Context, tenantID, docID uuid.UUID) error {
	return s.repo.DeleteDocument(ctx, tenantID, docID)
}

// InviteMember adds a seat after checking the plan's team size allowance.
func (s *Service) InviteMember(ctx context.Context, tenantID uuid.UUID, req *InviteMemberRequest) (*TeamMember, error) {
	if err := s.quota.EnforceQuota(ctx, tenantID, billing.MetricTeamMembers, 1); err != nil {
		return nil, err
	}

	m := &TeamMember{
		TenantID: tenantID,
		Email:    req.Email,
		Name:     req.Name,
		Role:     RoleMember,
	}
	if err := s.repo.AddTeamMember(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMembers returns the tenant's team.
func (s *Service) ListMembers(ctx context.Context, tenantID uuid.UUID) ([]*TeamMember, error) {
	return s.repo.ListTeamMembers(ctx, tenantID)
}

// RemoveMember removes a non-owner seat.
func (s *Service) RemoveMember(ctx context.Context, tenantID, memberID uuid.UUID) error {
	return s.repo.RemoveTeamMember(ctx, tenantID, memberID)
}

// RecordAssistantRequest charges one AI assistant request against the
// tenant's metered allowance. The check gates the request; the tracker
// records consumption afterwards and never fails the caller.
func (s *Service) RecordAssistantRequest(ctx context.Context, tenantID, caseID uuid.UUID) error {
	if _, err := s.repo.GetCase(ctx, tenantID, caseID); err != nil {
		return err
	}

	if err := s.quota.EnforceQuota(ctx, tenantID, billing.MetricAIRequests, 1); err != nil {
		return err
	}

	s.tracker.TrackUsage(ctx, tenantID, billing.MetricAIRequests, 1)
	return nil
}
