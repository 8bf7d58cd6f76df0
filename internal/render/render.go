// Package render produces the consolidated PDF artifacts (application form,
// research protocol, consent form) from a submission's structured content.
// Rendering runs through headless Chrome; callers treat failures as
// best-effort and keep going.
package render

import (
	"context"
	"fmt"
	"time"
)

// Kind selects which consolidated artifact to render.
type Kind string

const (
	KindApplicationForm  Kind = "application_form"
	KindResearchProtocol Kind = "research_protocol"
	KindConsentForm      Kind = "consent_form"
)

// SubmissionData is the aggregate snapshot an artifact is rendered from.
type SubmissionData struct {
	Code        string
	Title       string
	Status      string
	OwnerName   string
	Category    string
	SubmittedAt time.Time

	Form        FormData
	Sections    []SectionData
	Researchers []ResearcherData
	Consent     ConsentData
}

type FormData struct {
	StudySite      string
	FundingSource  string
	DurationMonths int
	ContactEmail   string
}

// SectionData carries one protocol section; HTML is trusted rich text that
// has already been through asset extraction.
type SectionData struct {
	Name string
	HTML string
}

type ResearcherData struct {
	Name         string
	SignatureURL string
}

type ConsentData struct {
	PurposeEN          string
	PurposeFIL         string
	ProceduresEN       string
	ProceduresFIL      string
	RisksEN            string
	RisksFIL           string
	BenefitsEN         string
	BenefitsFIL        string
	ConfidentialityEN  string
	ConfidentialityFIL string
}

// Result is the rendered artifact.
type Result struct {
	Data     []byte
	FileName string
	MimeType string
}

// Service renders artifacts with headless Chrome.
type Service struct {
	timeout time.Duration
}

func NewService() *Service {
	return &Service{timeout: 30 * time.Second}
}

// Render builds the HTML for the requested kind and prints it to PDF.
func (s *Service) Render(ctx context.Context, kind Kind, data SubmissionData) (Result, error) {
	html, err := buildHTML(kind, data)
	if err != nil {
		return Result{}, fmt.Errorf("build %s html: %w", kind, err)
	}

	pdf, err := printPDF(ctx, html, s.timeout)
	if err != nil {
		return Result{}, fmt.Errorf("print %s pdf: %w", kind, err)
	}

	return Result{
		Data:     pdf,
		FileName: fmt.Sprintf("%s-%s.pdf", data.Code, kind),
		MimeType: "application/pdf",
	}, nil
}
