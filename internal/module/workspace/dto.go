package workspace

// CreateCaseRequest creates a new case.
type CreateCaseRequest struct {
	Title    string   `json:"title" binding:"required"`
	VisaType string   `json:"visa_type"`
	Tags     []string `json:"tags"`
	Notes    string   `json:"notes"`
}

// UpdateCaseRequest applies a partial update to a case. Nil fields are left
// unchanged.
type UpdateCaseRequest struct {
	Title    *string     `json:"title"`
	VisaType *string     `json:"visa_type"`
	Status   *CaseStatus `json:"status"`
	Tags     []string    `json:"tags"`
	Notes    *string     `json:"notes"`
}

// AttachDocumentRequest records a document on a case.
type AttachDocumentRequest struct {
	Name        string `json:"name" binding:"required"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes" binding:"required,gt=0"`
}

// InviteMemberRequest adds a seat to the team.
type InviteMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name"`
}

// ListCasesResponse wraps the case list.
type ListCasesResponse struct {
	Cases []*Case `json:"cases"`
}

// ListDocumentsResponse wraps the document list.
type ListDocumentsResponse struct {
	Documents []*Document `json:"documents"`
}

// ListMembersResponse wraps the team list.
type ListMembersResponse struct {
	Members []*TeamMember `json:"members"`
}
