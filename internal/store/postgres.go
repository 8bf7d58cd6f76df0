package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users / sessions ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at
		FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ---- submissions ----

func (s *PostgresStore) InsertSubmission(ctx context.Context, item Submission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, code, owner_id, title, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.Code, item.OwnerID, item.Title, item.Status, item.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, submissionID string) (Submission, error) {
	var item Submission
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, owner_id, title, status, review_category, confidence, submitted_at, created_at, updated_at
		FROM submissions WHERE id=$1
	`, submissionID).Scan(
		&item.ID, &item.Code, &item.OwnerID, &item.Title, &item.Status,
		&item.ReviewCategory, &item.Confidence, &item.SubmittedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Submission{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, ownerID string) ([]Submission, error) {
	query := `
		SELECT id, code, owner_id, title, status, review_category, confidence, submitted_at, created_at, updated_at
		FROM submissions
	`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE owner_id=$1`
		args = append(args, ownerID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	items := make([]Submission, 0)
	for rows.Next() {
		var item Submission
		if err := rows.Scan(
			&item.ID, &item.Code, &item.OwnerID, &item.Title, &item.Status,
			&item.ReviewCategory, &item.Confidence, &item.SubmittedAt, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateSubmissionStatus(ctx context.Context, submissionID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE submissions SET status=$2, updated_at=NOW() WHERE id=$1
	`, submissionID, status)
	if err != nil {
		return fmt.Errorf("update submission status: %w", err)
	}
	return nil
}

// SaveClassification records the classifier verdict. The status guard keeps a
// late or retried job from regressing a submission that already moved past
// classification; the returned bool reports whether the result was applied.
func (s *PostgresStore) SaveClassification(ctx context.Context, submissionID, category string, confidence float64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE submissions
		SET review_category=$2, confidence=$3, status=$4, updated_at=NOW()
		WHERE id=$1 AND status IN ($5, $6)
	`, submissionID, category, confidence, StatusClassified, StatusNewSubmission, StatusUnderClassification)
	if err != nil {
		return false, fmt.Errorf("save classification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save classification: %w", err)
	}
	return affected > 0, nil
}

// ---- application form / protocol / consent ----

func (s *PostgresStore) InsertApplicationForm(ctx context.Context, item ApplicationForm) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO application_forms (id, submission_id, study_site, funding_source, duration_months, contact_email)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.SubmissionID, item.StudySite, item.FundingSource, item.DurationMonths, item.ContactEmail)
	if err != nil {
		return fmt.Errorf("insert application form: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetApplicationForm(ctx context.Context, submissionID string) (ApplicationForm, error) {
	var item ApplicationForm
	err := s.db.QueryRowContext(ctx, `
		SELECT id, submission_id, study_site, funding_source, duration_months, contact_email, updated_at
		FROM application_forms WHERE submission_id=$1
	`, submissionID).Scan(
		&item.ID, &item.SubmissionID, &item.StudySite, &item.FundingSource,
		&item.DurationMonths, &item.ContactEmail, &item.UpdatedAt,
	)
	if err != nil {
		return ApplicationForm{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertProtocol(ctx context.Context, item ResearchProtocol) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO research_protocols (id, submission_id) VALUES ($1, $2)
	`, item.ID, item.SubmissionID)
	if err != nil {
		return fmt.Errorf("insert protocol: %w", err)
	}
	for _, section := range item.Sections {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO protocol_sections (id, protocol_id, submission_id, name, content)
			VALUES ($1, $2, $3, $4, $5)
		`, section.ID, item.ID, item.SubmissionID, section.Name, section.Content); err != nil {
			return fmt.Errorf("insert protocol section %s: %w", section.Name, err)
		}
	}
	for _, researcher := range item.Researchers {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO researchers (id, protocol_id, name, signature_url)
			VALUES ($1, $2, $3, $4)
		`, researcher.ID, item.ID, researcher.Name, researcher.SignatureURL); err != nil {
			return fmt.Errorf("insert researcher: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetProtocol(ctx context.Context, submissionID string) (ResearchProtocol, error) {
	var item ResearchProtocol
	err := s.db.QueryRowContext(ctx, `
		SELECT id, submission_id, updated_at FROM research_protocols WHERE submission_id=$1
	`, submissionID).Scan(&item.ID, &item.SubmissionID, &item.UpdatedAt)
	if err != nil {
		return ResearchProtocol{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, protocol_id, submission_id, name, content
		FROM protocol_sections WHERE protocol_id=$1 ORDER BY name
	`, item.ID)
	if err != nil {
		return ResearchProtocol{}, fmt.Errorf("list protocol sections: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var section ProtocolSection
		if err := rows.Scan(&section.ID, &section.ProtocolID, &section.SubmissionID, &section.Name, &section.Content); err != nil {
			return ResearchProtocol{}, fmt.Errorf("scan protocol section: %w", err)
		}
		item.Sections = append(item.Sections, section)
	}
	if err := rows.Err(); err != nil {
		return ResearchProtocol{}, fmt.Errorf("iterate protocol sections: %w", err)
	}

	researcherRows, err := s.db.QueryContext(ctx, `
		SELECT id, protocol_id, name, signature_url FROM researchers WHERE protocol_id=$1 ORDER BY name
	`, item.ID)
	if err != nil {
		return ResearchProtocol{}, fmt.Errorf("list researchers: %w", err)
	}
	defer researcherRows.Close()
	for researcherRows.Next() {
		var researcher Researcher
		if err := researcherRows.Scan(&researcher.ID, &researcher.ProtocolID, &researcher.Name, &researcher.SignatureURL); err != nil {
			return ResearchProtocol{}, fmt.Errorf("scan researcher: %w", err)
		}
		item.Researchers = append(item.Researchers, researcher)
	}
	if err := researcherRows.Err(); err != nil {
		return ResearchProtocol{}, fmt.Errorf("iterate researchers: %w", err)
	}
	return item, nil
}

// UpsertProtocolSection writes a section's rich text, creating the section row
// on first use. The owning protocol row must already exist.
func (s *PostgresStore) UpsertProtocolSection(ctx context.Context, submissionID, name, content string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE protocol_sections SET content=$3
		WHERE submission_id=$1 AND name=$2
	`, submissionID, name, content)
	if err != nil {
		return fmt.Errorf("update protocol section %s: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update protocol section %s: %w", name, err)
	}
	if affected > 0 {
		return s.touchProtocol(ctx, submissionID)
	}

	var protocolID string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM research_protocols WHERE submission_id=$1`, submissionID).Scan(&protocolID)
	if err != nil {
		return fmt.Errorf("lookup protocol for section %s: %w", name, err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO protocol_sections (id, protocol_id, submission_id, name, content)
		VALUES (CONCAT('psec_', MD5(RANDOM()::TEXT)), $1, $2, $3, $4)
	`, protocolID, submissionID, name, content); err != nil {
		return fmt.Errorf("insert protocol section %s: %w", name, err)
	}
	return s.touchProtocol(ctx, submissionID)
}

func (s *PostgresStore) touchProtocol(ctx context.Context, submissionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE research_protocols SET updated_at=NOW() WHERE submission_id=$1`, submissionID)
	if err != nil {
		return fmt.Errorf("touch protocol: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertConsentForm(ctx context.Context, item ConsentForm) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consent_forms (
			id, submission_id,
			purpose_en, purpose_fil, procedures_en, procedures_fil,
			risks_en, risks_fil, benefits_en, benefits_fil,
			confidentiality_en, confidentiality_fil
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, item.ID, item.SubmissionID,
		item.PurposeEN, item.PurposeFIL, item.ProceduresEN, item.ProceduresFIL,
		item.RisksEN, item.RisksFIL, item.BenefitsEN, item.BenefitsFIL,
		item.ConfidentialityEN, item.ConfidentialityFIL)
	if err != nil {
		return fmt.Errorf("insert consent form: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConsentForm(ctx context.Context, submissionID string) (ConsentForm, error) {
	var item ConsentForm
	err := s.db.QueryRowContext(ctx, `
		SELECT id, submission_id,
			purpose_en, purpose_fil, procedures_en, procedures_fil,
			risks_en, risks_fil, benefits_en, benefits_fil,
			confidentiality_en, confidentiality_fil, updated_at
		FROM consent_forms WHERE submission_id=$1
	`, submissionID).Scan(
		&item.ID, &item.SubmissionID,
		&item.PurposeEN, &item.PurposeFIL, &item.ProceduresEN, &item.ProceduresFIL,
		&item.RisksEN, &item.RisksFIL, &item.BenefitsEN, &item.BenefitsFIL,
		&item.ConfidentialityEN, &item.ConfidentialityFIL, &item.UpdatedAt,
	)
	if err != nil {
		return ConsentForm{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateConsentForm(ctx context.Context, item ConsentForm) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE consent_forms SET
			purpose_en=$2, purpose_fil=$3, procedures_en=$4, procedures_fil=$5,
			risks_en=$6, risks_fil=$7, benefits_en=$8, benefits_fil=$9,
			confidentiality_en=$10, confidentiality_fil=$11, updated_at=NOW()
		WHERE submission_id=$1
	`, item.SubmissionID,
		item.PurposeEN, item.PurposeFIL, item.ProceduresEN, item.ProceduresFIL,
		item.RisksEN, item.RisksFIL, item.BenefitsEN, item.BenefitsFIL,
		item.ConfidentialityEN, item.ConfidentialityFIL)
	if err != nil {
		return fmt.Errorf("update consent form: %w", err)
	}
	return nil
}

// ---- uploaded documents ----

func (s *PostgresStore) InsertDocument(ctx context.Context, item UploadedDocument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uploaded_documents (id, submission_id, document_type, object_key, public_url, file_name, byte_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.SubmissionID, item.DocumentType, item.ObjectKey, item.PublicURL, item.FileName, item.ByteSize)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocumentsBySlot returns every row for (submission, slot). Singular slots
// are expected to yield zero or one row; callers treat more as an integrity
// violation.
func (s *PostgresStore) GetDocumentsBySlot(ctx context.Context, submissionID, slot string) ([]UploadedDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, submission_id, document_type, object_key, public_url, file_name, byte_size, uploaded_at
		FROM uploaded_documents
		WHERE submission_id=$1 AND document_type=$2
		ORDER BY uploaded_at
	`, submissionID, slot)
	if err != nil {
		return nil, fmt.Errorf("get documents by slot: %w", err)
	}
	defer rows.Close()

	items := make([]UploadedDocument, 0, 1)
	for rows.Next() {
		var item UploadedDocument
		if err := rows.Scan(&item.ID, &item.SubmissionID, &item.DocumentType, &item.ObjectKey, &item.PublicURL, &item.FileName, &item.ByteSize, &item.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (UploadedDocument, error) {
	var item UploadedDocument
	err := s.db.QueryRowContext(ctx, `
		SELECT id, submission_id, document_type, object_key, public_url, file_name, byte_size, uploaded_at
		FROM uploaded_documents WHERE id=$1
	`, documentID).Scan(&item.ID, &item.SubmissionID, &item.DocumentType, &item.ObjectKey, &item.PublicURL, &item.FileName, &item.ByteSize, &item.UploadedAt)
	if err != nil {
		return UploadedDocument{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, submissionID string) ([]UploadedDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, submission_id, document_type, object_key, public_url, file_name, byte_size, uploaded_at
		FROM uploaded_documents
		WHERE submission_id=$1
		ORDER BY document_type, uploaded_at
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]UploadedDocument, 0)
	for rows.Next() {
		var item UploadedDocument
		if err := rows.Scan(&item.ID, &item.SubmissionID, &item.DocumentType, &item.ObjectKey, &item.PublicURL, &item.FileName, &item.ByteSize, &item.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// UpdateDocumentArtifact replaces a slot's stored artifact in place. The row
// id is preserved so verification and audit references stay attached.
func (s *PostgresStore) UpdateDocumentArtifact(ctx context.Context, documentID, objectKey, publicURL, fileName string, byteSize int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE uploaded_documents
		SET object_key=$2, public_url=$3, file_name=$4, byte_size=$5, uploaded_at=NOW()
		WHERE id=$1
	`, documentID, objectKey, publicURL, fileName, byteSize)
	if err != nil {
		return fmt.Errorf("update document artifact: %w", err)
	}
	return nil
}

// ---- verifications ----

func (s *PostgresStore) GetVerificationByDocument(ctx context.Context, documentID string) (DocumentVerification, error) {
	var item DocumentVerification
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, submission_id, is_approved, feedback, verified_at
		FROM document_verifications WHERE document_id=$1
	`, documentID).Scan(&item.ID, &item.DocumentID, &item.SubmissionID, &item.IsApproved, &item.Feedback, &item.VerifiedAt)
	if err != nil {
		return DocumentVerification{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListVerifications(ctx context.Context, submissionID string) ([]DocumentVerification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, submission_id, is_approved, feedback, verified_at
		FROM document_verifications WHERE submission_id=$1
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentVerification, 0)
	for rows.Next() {
		var item DocumentVerification
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.SubmissionID, &item.IsApproved, &item.Feedback, &item.VerifiedAt); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return items, nil
}

// ClearVerification wipes a document's verdict so it re-enters the review
// queue. A document with no verification row is already undecided, so the
// update quietly matching zero rows is fine.
func (s *PostgresStore) ClearVerification(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE document_verifications
		SET is_approved=NULL, feedback='', verified_at=NULL
		WHERE document_id=$1
	`, documentID)
	if err != nil {
		return fmt.Errorf("clear verification: %w", err)
	}
	return nil
}

// UpsertVerification records a reviewer verdict, creating the verification
// row lazily on first review.
func (s *PostgresStore) UpsertVerification(ctx context.Context, item DocumentVerification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_verifications (id, document_id, submission_id, is_approved, feedback, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_id) DO UPDATE
		SET is_approved=EXCLUDED.is_approved, feedback=EXCLUDED.feedback, verified_at=EXCLUDED.verified_at
	`, item.ID, item.DocumentID, item.SubmissionID, item.IsApproved, item.Feedback, item.VerifiedAt)
	if err != nil {
		return fmt.Errorf("upsert verification: %w", err)
	}
	return nil
}

// SearchSubmissions is the Postgres fallback used when Meilisearch is not
// available. Matches code and title, newest first.
func (s *PostgresStore) SearchSubmissions(ctx context.Context, query string, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, owner_id, title, status, review_category, confidence, submitted_at, created_at, updated_at
		FROM submissions
		WHERE code ILIKE '%' || $1 || '%' OR title ILIKE '%' || $1 || '%'
		ORDER BY updated_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search submissions: %w", err)
	}
	defer rows.Close()

	items := make([]Submission, 0)
	for rows.Next() {
		var item Submission
		if err := rows.Scan(
			&item.ID, &item.Code, &item.OwnerID, &item.Title, &item.Status,
			&item.ReviewCategory, &item.Confidence, &item.SubmittedAt, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, nil
}
