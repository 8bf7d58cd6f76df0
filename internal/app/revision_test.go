package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"ethos/api/internal/render"
	"ethos/api/internal/store"
)

func boolPtr(v bool) *bool { return &v }

func pdfPayload(name string) FilePayload {
	return FilePayload{
		FileName: name,
		Data:     base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 test")),
	}
}

// submissionHarness is a stateful fake backing one submission, its documents,
// and their verification verdicts, so a whole revision round can be observed
// end to end.
type submissionHarness struct {
	sub       store.Submission
	documents map[string]store.UploadedDocument
	verdicts  map[string]*bool
	events    []string
}

func newHarness() *submissionHarness {
	return &submissionHarness{
		sub: store.Submission{
			ID:      "sub_1",
			Code:    "ERB-2006-000001",
			OwnerID: "usr_owner",
			Title:   "Community Health Study",
			Status:  store.StatusResubmit,
		},
		documents: map[string]store.UploadedDocument{},
		verdicts:  map[string]*bool{},
	}
}

func (h *submissionHarness) addDocument(id, slot string, verdict *bool) {
	h.documents[id] = store.UploadedDocument{
		ID:           id,
		SubmissionID: h.sub.ID,
		DocumentType: slot,
		ObjectKey:    h.sub.OwnerID + "/" + h.sub.ID + "/" + slot + "_old.pdf",
		FileName:     slot + ".pdf",
		UploadedAt:   time.Now().Add(-time.Hour),
	}
	h.verdicts[id] = verdict
}

func (h *submissionHarness) fakeStore() *fakeStore {
	return &fakeStore{
		getSubmissionFn: func(context.Context, string) (store.Submission, error) {
			return h.sub, nil
		},
		getDocumentsBySlotFn: func(_ context.Context, _, slot string) ([]store.UploadedDocument, error) {
			var docs []store.UploadedDocument
			for _, doc := range h.documents {
				if doc.DocumentType == slot {
					docs = append(docs, doc)
				}
			}
			return docs, nil
		},
		insertDocumentFn: func(_ context.Context, doc store.UploadedDocument) error {
			h.documents[doc.ID] = doc
			h.events = append(h.events, "insert:"+doc.DocumentType)
			return nil
		},
		updateDocumentArtifactFn: func(_ context.Context, documentID, objectKey, publicURL, fileName string, byteSize int64) error {
			doc, ok := h.documents[documentID]
			if !ok {
				return fmt.Errorf("no document %s", documentID)
			}
			doc.ObjectKey = objectKey
			doc.PublicURL = publicURL
			doc.FileName = fileName
			doc.ByteSize = byteSize
			h.documents[documentID] = doc
			h.events = append(h.events, "update:"+doc.DocumentType)
			return nil
		},
		clearVerificationFn: func(_ context.Context, documentID string) error {
			h.verdicts[documentID] = nil
			h.events = append(h.events, "clear:"+documentID)
			return nil
		},
		listVerificationsFn: func(context.Context, string) ([]store.DocumentVerification, error) {
			var items []store.DocumentVerification
			for docID, verdict := range h.verdicts {
				items = append(items, store.DocumentVerification{
					ID:           "ver_" + docID,
					DocumentID:   docID,
					SubmissionID: h.sub.ID,
					IsApproved:   verdict,
				})
			}
			return items, nil
		},
		updateSubmissionStatusFn: func(_ context.Context, _, status string) error {
			h.sub.Status = status
			h.events = append(h.events, "status:"+status)
			return nil
		},
	}
}

func (h *submissionHarness) service() *Service {
	return New(testConfig(), h.fakeStore(), &fakeBlob{}, &fakeRenderer{}, &fakeQueue{}, &fakeSearch{})
}

func ownerSession() Session {
	return Session{UserID: "usr_owner", UserName: "Owner", Role: RoleResearcher}
}

func TestRevisionReplacesSlotInPlace(t *testing.T) {
	h := newHarness()
	h.addDocument("doc_tr", store.SlotTechnicalReview, boolPtr(false))

	var deletedKeys []string
	svc := New(testConfig(), h.fakeStore(), &fakeBlob{
		deleteFn: func(_ context.Context, key string) error {
			deletedKeys = append(deletedKeys, key)
			return nil
		},
	}, &fakeRenderer{}, &fakeQueue{}, &fakeSearch{})

	_, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{
		RevisedSections: []string{store.SlotTechnicalReview},
		Files: map[string]FilePayload{
			store.SlotTechnicalReview: pdfPayload("review-v2.pdf"),
		},
	})
	if err != nil {
		t.Fatalf("revision: %v", err)
	}

	doc := h.documents["doc_tr"]
	if doc.FileName != "review-v2.pdf" {
		t.Fatalf("expected document updated in place, got %+v", doc)
	}
	if !strings.Contains(doc.ObjectKey, store.SlotTechnicalReview+"_") {
		t.Fatalf("unexpected object key %q", doc.ObjectKey)
	}
	if len(h.documents) != 1 {
		t.Fatalf("expected slot to stay single-row, got %d documents", len(h.documents))
	}
	if len(deletedKeys) != 1 || !strings.HasSuffix(deletedKeys[0], "_old.pdf") {
		t.Fatalf("expected old object deleted, got %v", deletedKeys)
	}
	if h.verdicts["doc_tr"] != nil {
		t.Fatalf("expected verification cleared after replacement")
	}
}

func TestRevisionSecondReplacementWins(t *testing.T) {
	h := newHarness()
	h.addDocument("doc_tr", store.SlotTechnicalReview, boolPtr(false))
	svc := h.service()

	for _, name := range []string{"review-v2.pdf", "review-v3.pdf"} {
		_, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{
			RevisedSections: []string{store.SlotTechnicalReview},
			Files: map[string]FilePayload{
				store.SlotTechnicalReview: pdfPayload(name),
			},
		})
		if err != nil {
			t.Fatalf("revision with %s: %v", name, err)
		}
	}

	if len(h.documents) != 1 {
		t.Fatalf("expected a single row after two replacements, got %d documents", len(h.documents))
	}
	doc, ok := h.documents["doc_tr"]
	if !ok {
		t.Fatalf("expected the original row id to survive, got %v", h.documents)
	}
	if doc.FileName != "review-v3.pdf" {
		t.Fatalf("expected the second replacement's file, got %q", doc.FileName)
	}
	if !strings.Contains(doc.ObjectKey, store.SlotTechnicalReview+"_") || strings.HasSuffix(doc.ObjectKey, "_old.pdf") {
		t.Fatalf("expected a fresh object key, got %q", doc.ObjectKey)
	}
}

func TestRevisionInsertsWhenSlotEmpty(t *testing.T) {
	h := newHarness()
	svc := h.service()

	_, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{
		RevisedSections: []string{store.SlotEndorsementLetter},
		Files: map[string]FilePayload{
			store.SlotEndorsementLetter: pdfPayload("endorsement.pdf"),
		},
	})
	if err != nil {
		t.Fatalf("revision: %v", err)
	}

	var found bool
	for _, doc := range h.documents {
		if doc.DocumentType == store.SlotEndorsementLetter {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a new document row for the empty slot")
	}
}

func TestRevisionOmittedSlotIsNoOp(t *testing.T) {
	h := newHarness()
	h.addDocument("doc_tr", store.SlotTechnicalReview, boolPtr(true))
	svc := h.service()

	status, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{
		RevisedSections: []string{store.SlotTechnicalReview},
	})
	if err != nil {
		t.Fatalf("revision: %v", err)
	}

	if h.verdicts["doc_tr"] == nil {
		t.Fatalf("omitted payload must not touch the verification")
	}
	if status != store.StatusNeedsRevision {
		t.Fatalf("expected needs_revision with a verdict outstanding, got %q", status)
	}
}

func TestRevisionIntegritySurfacedAsConflict(t *testing.T) {
	h := newHarness()
	h.addDocument("doc_a", store.SlotTechnicalReview, nil)
	h.addDocument("doc_b", store.SlotTechnicalReview, nil)
	svc := h.service()

	status, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{
		RevisedSections: []string{store.SlotTechnicalReview},
		Files: map[string]FilePayload{
			store.SlotTechnicalReview: pdfPayload("review.pdf"),
		},
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "DATA_INTEGRITY" || domainErr.Status != 409 {
		t.Fatalf("expected DATA_INTEGRITY conflict, got %v", err)
	}
	// the anomaly blocks the slot but not the reconciliation
	if status != store.StatusPending {
		t.Fatalf("expected reconciled status despite anomaly, got %q", status)
	}
}

func TestReconcileAllUndecidedIsPending(t *testing.T) {
	h := newHarness()
	h.addDocument("doc_a", store.SlotTechnicalReview, nil)
	h.addDocument("doc_b", store.SlotResearchInstrument, nil)
	svc := h.service()

	status, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{})
	if err != nil {
		t.Fatalf("revision: %v", err)
	}
	if status != store.StatusPending {
		t.Fatalf("expected pending, got %q", status)
	}
}

func TestReconcileNoVerificationsIsPending(t *testing.T) {
	h := newHarness()
	svc := h.service()

	status, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{})
	if err != nil {
		t.Fatalf("revision: %v", err)
	}
	if status != store.StatusPending {
		t.Fatalf("expected pending with zero verifications, got %q", status)
	}
}

func TestReconcileAnyDecidedIsNeedsRevision(t *testing.T) {
	h := newHarness()
	h.addDocument("doc_a", store.SlotTechnicalReview, nil)
	h.addDocument("doc_b", store.SlotResearchInstrument, boolPtr(false))
	svc := h.service()

	status, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{})
	if err != nil {
		t.Fatalf("revision: %v", err)
	}
	if status != store.StatusNeedsRevision {
		t.Fatalf("expected needs_revision, got %q", status)
	}
}

// Three slots, three verdicts. Replacing only the rejected slot leaves the
// approval standing, so the aggregate stays needs_revision; replacing every
// decided slot clears the board and the submission settles as pending.
func TestThreeSlotRevisionOutcomes(t *testing.T) {
	t.Run("one of two decided replaced", func(t *testing.T) {
		h := newHarness()
		h.addDocument("doc_a", store.SlotTechnicalReview, boolPtr(false))
		h.addDocument("doc_b", store.SlotResearchInstrument, boolPtr(true))
		h.addDocument("doc_c", store.SlotProposalDefense, nil)
		svc := h.service()

		status, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{
			RevisedSections: []string{store.SlotTechnicalReview},
			Files: map[string]FilePayload{
				store.SlotTechnicalReview: pdfPayload("review-v2.pdf"),
			},
		})
		if err != nil {
			t.Fatalf("revision: %v", err)
		}
		if h.verdicts["doc_a"] != nil {
			t.Fatalf("replaced slot must be reset to undecided")
		}
		if h.verdicts["doc_b"] == nil || !*h.verdicts["doc_b"] {
			t.Fatalf("untouched approval must survive")
		}
		if status != store.StatusNeedsRevision {
			t.Fatalf("expected needs_revision, got %q", status)
		}
	})

	t.Run("every decided slot replaced", func(t *testing.T) {
		h := newHarness()
		h.addDocument("doc_a", store.SlotTechnicalReview, boolPtr(false))
		h.addDocument("doc_b", store.SlotResearchInstrument, boolPtr(true))
		h.addDocument("doc_c", store.SlotProposalDefense, nil)
		svc := h.service()

		status, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{
			RevisedSections: []string{store.SlotTechnicalReview, store.SlotResearchInstrument},
			Files: map[string]FilePayload{
				store.SlotTechnicalReview:    pdfPayload("review-v2.pdf"),
				store.SlotResearchInstrument: pdfPayload("instrument-v2.pdf"),
			},
		})
		if err != nil {
			t.Fatalf("revision: %v", err)
		}
		if status != store.StatusPending {
			t.Fatalf("expected pending with a fully reset board, got %q", status)
		}
	})
}

func TestReconcileRunsOnceAfterAllSections(t *testing.T) {
	h := newHarness()
	h.addDocument("doc_a", store.SlotTechnicalReview, boolPtr(false))
	h.addDocument("doc_b", store.SlotResearchInstrument, boolPtr(true))
	svc := h.service()

	_, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{
		RevisedSections: []string{store.SlotTechnicalReview, store.SlotResearchInstrument},
		Files: map[string]FilePayload{
			store.SlotTechnicalReview:    pdfPayload("review-v2.pdf"),
			store.SlotResearchInstrument: pdfPayload("instrument-v2.pdf"),
		},
	})
	if err != nil {
		t.Fatalf("revision: %v", err)
	}

	var statusEvents int
	lastClear := -1
	firstStatus := -1
	for i, event := range h.events {
		if strings.HasPrefix(event, "status:") {
			statusEvents++
			if firstStatus == -1 {
				firstStatus = i
			}
		}
		if strings.HasPrefix(event, "clear:") {
			lastClear = i
		}
	}
	if statusEvents != 1 {
		t.Fatalf("expected exactly one status write, got %d (%v)", statusEvents, h.events)
	}
	if firstStatus < lastClear {
		t.Fatalf("status written before all verifications cleared: %v", h.events)
	}
}

func TestRevisionProtocolSectionUpsert(t *testing.T) {
	h := newHarness()
	fake := h.fakeStore()
	var upserted []string
	fake.upsertProtocolSectionFn = func(_ context.Context, _, name, content string) error {
		upserted = append(upserted, name+"="+content)
		return nil
	}
	svc := New(testConfig(), fake, &fakeBlob{}, &fakeRenderer{}, &fakeQueue{}, &fakeSearch{})

	_, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{
		RevisedSections: []string{"protocol_methodology"},
		ProtocolFields:  map[string]string{"methodology": "<p>updated</p>"},
	})
	if err != nil {
		t.Fatalf("revision: %v", err)
	}
	if len(upserted) != 1 || upserted[0] != "methodology=<p>updated</p>" {
		t.Fatalf("unexpected upserts %v", upserted)
	}
}

func TestRevisionUnknownSectionRejected(t *testing.T) {
	h := newHarness()
	svc := h.service()

	_, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{
		RevisedSections: []string{"budget_annex"},
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "UNKNOWN_SECTION" {
		t.Fatalf("expected UNKNOWN_SECTION, got %v", err)
	}
}

func TestRevisionUploadFailureDoesNotBlockOtherSections(t *testing.T) {
	h := newHarness()
	h.addDocument("doc_tr", store.SlotTechnicalReview, boolPtr(false))
	fake := h.fakeStore()
	var consentUpdated bool
	fake.updateConsentFormFn = func(context.Context, store.ConsentForm) error {
		consentUpdated = true
		return nil
	}
	svc := New(testConfig(), fake, &fakeBlob{
		putFn: func(context.Context, string, []byte, string) error {
			return errors.New("minio down")
		},
	}, &fakeRenderer{}, &fakeQueue{}, &fakeSearch{})

	status, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{
		RevisedSections: []string{store.SlotTechnicalReview, store.SlotConsentForm},
		Files: map[string]FilePayload{
			store.SlotTechnicalReview: pdfPayload("review-v2.pdf"),
		},
		Consent: &ConsentInput{PurposeEN: "updated"},
	})
	if err == nil {
		t.Fatalf("expected the upload failure to surface")
	}
	if !consentUpdated {
		t.Fatalf("consent section must still commit")
	}
	// the failed slot kept its verdict, so reconciliation lands on needs_revision
	if status != store.StatusNeedsRevision {
		t.Fatalf("expected needs_revision, got %q", status)
	}
}

func TestRevisionArtifactFailureNonFatal(t *testing.T) {
	h := newHarness()
	h.addDocument("doc_tr", store.SlotTechnicalReview, boolPtr(false))
	h.addDocument("doc_af", store.SlotApplicationForm, nil)
	rendered := 0
	svc := New(testConfig(), h.fakeStore(), &fakeBlob{}, &fakeRenderer{
		renderFn: func(context.Context, render.Kind, render.SubmissionData) (render.Result, error) {
			rendered++
			return render.Result{}, errors.New("chrome not installed")
		},
	}, &fakeQueue{}, &fakeSearch{})

	status, err := svc.SubmitRevision(context.Background(), ownerSession(), "sub_1", RevisionInput{
		RevisedSections: []string{store.SlotTechnicalReview},
		Files: map[string]FilePayload{
			store.SlotTechnicalReview: pdfPayload("review-v2.pdf"),
		},
	})
	if err != nil {
		t.Fatalf("artifact failures must not fail the revision: %v", err)
	}
	if rendered == 0 {
		t.Fatalf("expected an artifact render attempt")
	}
	if status != store.StatusPending {
		t.Fatalf("expected pending, got %q", status)
	}
}

func TestRevisionForbiddenForOtherResearcher(t *testing.T) {
	h := newHarness()
	svc := h.service()

	_, err := svc.SubmitRevision(context.Background(), researcherSession("usr_other"), "sub_1", RevisionInput{})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}
