package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ethos/api/internal/store"
	"ethos/api/internal/util"
)

type VerificationInput struct {
	IsApproved *bool  `json:"isApproved"`
	Feedback   string `json:"feedback"`
}

// SetVerification records a reviewer's verdict on one document. The
// verification row is created lazily on first use; passing a nil verdict
// resets the document to undecided.
func (s *Service) SetVerification(ctx context.Context, session Session, documentID string, input VerificationInput) (store.DocumentVerification, error) {
	if session.Role != RoleReviewer && session.Role != RoleStaff {
		return store.DocumentVerification{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.DocumentVerification{}, err
	}

	// reuse the existing row id so repeat verdicts update in place
	verificationID := util.NewID("ver")
	if existing, err := s.store.GetVerificationByDocument(ctx, documentID); err == nil {
		verificationID = existing.ID
	}

	verification := store.DocumentVerification{
		ID:           verificationID,
		DocumentID:   doc.ID,
		SubmissionID: doc.SubmissionID,
		IsApproved:   input.IsApproved,
		Feedback:     input.Feedback,
	}
	if input.IsApproved != nil {
		now := time.Now()
		verification.VerifiedAt = &now
	}
	if err := s.store.UpsertVerification(ctx, verification); err != nil {
		return store.DocumentVerification{}, err
	}
	return verification, nil
}

func (s *Service) ListSubmissionVerifications(ctx context.Context, session Session, submissionID string) ([]store.DocumentVerification, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeSubmission(session, sub); err != nil {
		return nil, err
	}
	return s.store.ListVerifications(ctx, submissionID)
}

// SetSubmissionStatus is the staff override for lifecycle transitions that do
// not flow through revision reconciliation, such as moving a classified
// submission into reviewer assignment or closing out a review.
func (s *Service) SetSubmissionStatus(ctx context.Context, session Session, submissionID, status string) (store.Submission, error) {
	if session.Role != RoleStaff {
		return store.Submission{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if !validStatus(status) {
		return store.Submission{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown status %q", status), nil)
	}

	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return store.Submission{}, err
	}
	if err := s.store.UpdateSubmissionStatus(ctx, submissionID, status); err != nil {
		return store.Submission{}, err
	}
	sub.Status = status
	s.indexSubmission(sub)
	return sub, nil
}

func validStatus(status string) bool {
	for _, known := range store.Statuses {
		if status == known {
			return true
		}
	}
	return false
}
