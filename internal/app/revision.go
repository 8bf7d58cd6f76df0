package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"ethos/api/internal/extract"
	"ethos/api/internal/store"
	"ethos/api/internal/util"
)

// FileSlots are the replaceable attachment slots a revision may target.
var FileSlots = []string{
	store.SlotTechnicalReview,
	store.SlotResearchInstrument,
	store.SlotProposalDefense,
	store.SlotEndorsementLetter,
}

// ProtocolSections is the closed set of named rich-text sections of the
// research protocol. A revised-section marker for one of these is spelled
// "protocol_<name>".
var ProtocolSections = []string{
	"introduction",
	"background",
	"objectives",
	"methodology",
	"data_management",
	"ethical_considerations",
}

const protocolMarkerPrefix = "protocol_"

// FilePayload is one uploaded binary, base64-encoded on the wire.
type FilePayload struct {
	FileName string `json:"fileName"`
	Data     string `json:"data"`
}

type ConsentInput struct {
	PurposeEN          string `json:"purposeEn"`
	PurposeFIL         string `json:"purposeFil"`
	ProceduresEN       string `json:"proceduresEn"`
	ProceduresFIL      string `json:"proceduresFil"`
	RisksEN            string `json:"risksEn"`
	RisksFIL           string `json:"risksFil"`
	BenefitsEN         string `json:"benefitsEn"`
	BenefitsFIL        string `json:"benefitsFil"`
	ConfidentialityEN  string `json:"confidentialityEn"`
	ConfidentialityFIL string `json:"confidentialityFil"`
}

// RevisionInput is a revision request. RevisedSections is the caller's
// explicit list of what changed; payloads for unmarked sections are ignored
// and marked sections with no payload are a no-op.
type RevisionInput struct {
	RevisedSections []string               `json:"revisedSections"`
	ProtocolFields  map[string]string      `json:"protocolFields"`
	Consent         *ConsentInput          `json:"consent"`
	Files           map[string]FilePayload `json:"files"`
}

// SubmitRevision is the top-level entry point for a revision submission. Each
// marked section is processed independently; a fatal error in one section is
// remembered and surfaced, but the remaining sections, the status
// reconciliation, and artifact regeneration still run. The returned status is
// the reconciled aggregate status.
func (s *Service) SubmitRevision(ctx context.Context, session Session, submissionID string, input RevisionInput) (string, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return "", err
	}
	if err := s.authorizeSubmission(session, sub); err != nil {
		return "", err
	}

	keyPrefix := sub.OwnerID + "/" + sub.ID + "/"
	var firstErr error
	record := func(section string, err error) {
		log.Printf("revision: submission %s section %s: %v", sub.ID, section, err)
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, section := range input.RevisedSections {
		switch {
		case section == store.SlotConsentForm:
			if input.Consent == nil {
				continue
			}
			if err := s.reviseConsent(ctx, sub.ID, *input.Consent); err != nil {
				record(section, err)
			}

		case isFileSlot(section):
			payload, ok := input.Files[section]
			if !ok || payload.Data == "" {
				// omitted slot, nothing to do
				continue
			}
			doc, err := s.replaceDocument(ctx, sub, section, payload, keyPrefix)
			if err != nil {
				record(section, err)
				continue
			}
			// the slot re-enters the review queue only once its new
			// artifact is committed
			if err := s.store.ClearVerification(ctx, doc.ID); err != nil {
				record(section, err)
			}

		case strings.HasPrefix(section, protocolMarkerPrefix) && isProtocolSection(strings.TrimPrefix(section, protocolMarkerPrefix)):
			name := strings.TrimPrefix(section, protocolMarkerPrefix)
			text, ok := input.ProtocolFields[name]
			if !ok {
				continue
			}
			if err := s.reviseProtocolSection(ctx, sub, name, text, keyPrefix); err != nil {
				record(section, err)
			}

		default:
			record(section, domainError(http.StatusUnprocessableEntity, "UNKNOWN_SECTION", fmt.Sprintf("unknown revised section %q", section), nil))
		}
	}

	// Reconciliation runs exactly once, after every section update has
	// committed, so the all-undecided check sees the final state.
	status, err := s.reconcileStatus(ctx, sub.ID)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		status = sub.Status
	}
	sub.Status = status

	s.regenerateArtifacts(ctx, sub, false, keyPrefix)
	s.indexSubmission(sub)

	return status, firstErr
}

// replaceDocument versions one file slot in place: fresh object key, upload,
// best-effort delete of the prior object, and metadata row updated without
// changing its id. Exactly one current row per slot is maintained.
func (s *Service) replaceDocument(ctx context.Context, sub store.Submission, slot string, payload FilePayload, keyPrefix string) (store.UploadedDocument, error) {
	docs, err := s.store.GetDocumentsBySlot(ctx, sub.ID, slot)
	if err != nil {
		return store.UploadedDocument{}, err
	}
	if len(docs) > 1 {
		return store.UploadedDocument{}, domainError(http.StatusConflict, "DATA_INTEGRITY",
			fmt.Sprintf("submission %s has %d current documents for slot %s", sub.ID, len(docs), slot), nil)
	}

	data, err := decodeFileData(payload.Data)
	if err != nil {
		return store.UploadedDocument{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("slot %s: invalid file payload", slot), nil)
	}

	// Keys carry a timestamp so they are never reused; the old object can
	// therefore be deleted without ordering against the new upload. Losing
	// the delete only orphans an object, which beats losing the upload.
	key := fmt.Sprintf("%s%s_%d.%s", keyPrefix, slot, time.Now().UnixNano(), fileExt(payload.FileName))
	if len(docs) == 1 && docs[0].ObjectKey != "" {
		if err := s.blobs.Delete(ctx, docs[0].ObjectKey); err != nil {
			log.Printf("revision: delete old object %s: %v", docs[0].ObjectKey, err)
		}
	}

	if err := s.blobs.Put(ctx, key, data, contentTypeFor(payload.FileName)); err != nil {
		return store.UploadedDocument{}, fmt.Errorf("upload %s: %w", slot, err)
	}
	publicURL := s.blobs.PublicURL(key)

	if len(docs) == 1 {
		existing := docs[0]
		if err := s.store.UpdateDocumentArtifact(ctx, existing.ID, key, publicURL, payload.FileName, int64(len(data))); err != nil {
			return store.UploadedDocument{}, err
		}
		existing.ObjectKey = key
		existing.PublicURL = publicURL
		existing.FileName = payload.FileName
		existing.ByteSize = int64(len(data))
		return existing, nil
	}

	doc := store.UploadedDocument{
		ID:           util.NewID("doc"),
		SubmissionID: sub.ID,
		DocumentType: slot,
		ObjectKey:    key,
		PublicURL:    publicURL,
		FileName:     payload.FileName,
		ByteSize:     int64(len(data)),
		UploadedAt:   time.Now(),
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return store.UploadedDocument{}, err
	}
	return doc, nil
}

// reviseProtocolSection rewrites one rich-text section: inline images are
// re-homed to object storage and recorded as append-only image documents.
func (s *Service) reviseProtocolSection(ctx context.Context, sub store.Submission, name, text, keyPrefix string) error {
	rewritten, images := extract.Rewrite(ctx, s.blobs, text, name, keyPrefix)
	if err := s.store.UpsertProtocolSection(ctx, sub.ID, name, rewritten); err != nil {
		return err
	}
	for _, image := range images {
		doc := store.UploadedDocument{
			ID:           util.NewID("doc"),
			SubmissionID: sub.ID,
			DocumentType: store.SlotProtocolImage + image.Section,
			ObjectKey:    image.ObjectKey,
			PublicURL:    image.PublicURL,
			FileName:     filepath.Base(image.ObjectKey),
			ByteSize:     image.ByteSize,
			UploadedAt:   time.Now(),
		}
		if err := s.store.InsertDocument(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) reviseConsent(ctx context.Context, submissionID string, input ConsentInput) error {
	return s.store.UpdateConsentForm(ctx, store.ConsentForm{
		SubmissionID:       submissionID,
		PurposeEN:          input.PurposeEN,
		PurposeFIL:         input.PurposeFIL,
		ProceduresEN:       input.ProceduresEN,
		ProceduresFIL:      input.ProceduresFIL,
		RisksEN:            input.RisksEN,
		RisksFIL:           input.RisksFIL,
		BenefitsEN:         input.BenefitsEN,
		BenefitsFIL:        input.BenefitsFIL,
		ConfidentialityEN:  input.ConfidentialityEN,
		ConfidentialityFIL: input.ConfidentialityFIL,
	})
}

// reconcileStatus derives the aggregate status from every verification record
// of the submission: all undecided (including no records at all) means the
// revision cleanly reset the review queue and the submission waits as
// pending; any decided verdict left means a partial re-review state that
// still needs the researcher's attention.
func (s *Service) reconcileStatus(ctx context.Context, submissionID string) (string, error) {
	verifications, err := s.store.ListVerifications(ctx, submissionID)
	if err != nil {
		return "", fmt.Errorf("list verifications: %w", err)
	}

	status := store.StatusPending
	for _, verification := range verifications {
		if verification.IsApproved != nil {
			status = store.StatusNeedsRevision
			break
		}
	}

	if err := s.store.UpdateSubmissionStatus(ctx, submissionID, status); err != nil {
		return "", err
	}
	return status, nil
}

func isFileSlot(slot string) bool {
	for _, known := range FileSlots {
		if slot == known {
			return true
		}
	}
	return false
}

func isProtocolSection(name string) bool {
	for _, known := range ProtocolSections {
		if name == known {
			return true
		}
	}
	return false
}

// decodeFileData accepts plain base64 and full data URLs.
func decodeFileData(data string) ([]byte, error) {
	if idx := strings.IndexByte(data, ','); idx >= 0 && strings.HasPrefix(data, "data:") {
		data = data[idx+1:]
	}
	return base64.StdEncoding.DecodeString(data)
}

func fileExt(fileName string) string {
	ext := strings.TrimPrefix(filepath.Ext(fileName), ".")
	if ext == "" {
		return "bin"
	}
	return strings.ToLower(ext)
}

func contentTypeFor(fileName string) string {
	if ct := mime.TypeByExtension(filepath.Ext(fileName)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
