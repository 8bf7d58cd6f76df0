package store

import "time"

// Submission lifecycle statuses. The review track runs new_submission through
// approved; pending and resubmit form the revision-intake pair used around
// document replacement.
const (
	StatusNewSubmission       = "new_submission"
	StatusUnderClassification = "under_classification"
	StatusClassified          = "classified"
	StatusReviewerAssignment  = "reviewer_assignment"
	StatusUnderReview         = "under_review"
	StatusNeedsRevision       = "needs_revision"
	StatusReviewComplete      = "review_complete"
	StatusApproved            = "approved"
	StatusPending             = "pending"
	StatusResubmit            = "resubmit"
)

// Document slots. Each singular slot holds at most one current
// UploadedDocument per submission; protocol image slots are append-only.
const (
	SlotTechnicalReview    = "technical_review"
	SlotResearchInstrument = "research_instrument"
	SlotProposalDefense    = "proposal_defense"
	SlotEndorsementLetter  = "endorsement_letter"
	SlotApplicationForm    = "application_form"
	SlotResearchProtocol   = "research_protocol"
	SlotConsentForm        = "consent_form"
	SlotProtocolImage      = "protocol_image_" // prefix, suffixed by section name
)

var Statuses = []string{
	StatusNewSubmission,
	StatusUnderClassification,
	StatusClassified,
	StatusReviewerAssignment,
	StatusUnderReview,
	StatusNeedsRevision,
	StatusReviewComplete,
	StatusApproved,
	StatusPending,
	StatusResubmit,
}

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type Submission struct {
	ID             string
	Code           string
	OwnerID        string
	Title          string
	Status         string
	ReviewCategory string
	Confidence     *float64
	SubmittedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ApplicationForm struct {
	ID             string
	SubmissionID   string
	StudySite      string
	FundingSource  string
	DurationMonths int
	ContactEmail   string
	UpdatedAt      time.Time
}

type ResearchProtocol struct {
	ID           string
	SubmissionID string
	Sections     []ProtocolSection
	Researchers  []Researcher
	UpdatedAt    time.Time
}

// ProtocolSection is one named rich-text section of the research protocol.
// The name set is closed; see app.ProtocolSections.
type ProtocolSection struct {
	ID           string
	ProtocolID   string
	SubmissionID string
	Name         string
	Content      string
}

type Researcher struct {
	ID           string
	ProtocolID   string
	Name         string
	SignatureURL string
}

// ConsentForm holds the structured bilingual consent statements.
type ConsentForm struct {
	ID                 string
	SubmissionID       string
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
	UpdatedAt          time.Time
}

// UploadedDocument is one stored artifact attached to a submission. Singular
// slots are mutated in place on revision so the row id is stable across
// revision rounds.
type UploadedDocument struct {
	ID           string
	SubmissionID string
	DocumentType string
	ObjectKey    string
	PublicURL    string
	FileName     string
	ByteSize     int64
	UploadedAt   time.Time
}

// DocumentVerification is the reviewer's per-document verdict. IsApproved is
// tri-state: nil means undecided, and a document with no row at all is
// treated identically to one whose verdict is nil.
type DocumentVerification struct {
	ID           string
	DocumentID   string
	SubmissionID string
	IsApproved   *bool
	Feedback     string
	VerifiedAt   *time.Time
}
