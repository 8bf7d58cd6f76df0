package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"ethos/api/internal/extract"
	"ethos/api/internal/store"
	"ethos/api/internal/util"
)

type ApplicationFormInput struct {
	StudySite      string `json:"studySite"`
	FundingSource  string `json:"fundingSource"`
	DurationMonths int    `json:"durationMonths"`
	ContactEmail   string `json:"contactEmail"`
}

type ResearcherInput struct {
	Name      string      `json:"name"`
	Signature FilePayload `json:"signature"`
}

// IntakeInput is a first-time submission. Protocol maps section names to
// their rich-text content; Files maps file slots to uploads.
type IntakeInput struct {
	Title       string                 `json:"title"`
	Form        ApplicationFormInput   `json:"form"`
	Protocol    map[string]string      `json:"protocol"`
	Researchers []ResearcherInput      `json:"researchers"`
	Consent     ConsentInput           `json:"consent"`
	Files       map[string]FilePayload `json:"files"`
}

// SubmitApplication creates a submission with all of its structured children,
// uploads the attachments, generates the consolidated artifacts, and hands
// the submission to the classifier. Intake objects are keyed under the owner
// alone; the submission id joins the prefix only from the first revision on.
func (s *Service) SubmitApplication(ctx context.Context, session Session, input IntakeInput) (store.Submission, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.Submission{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	for name := range input.Protocol {
		if !isProtocolSection(name) {
			return store.Submission{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown protocol section %q", name), nil)
		}
	}
	for slot := range input.Files {
		if !isFileSlot(slot) {
			return store.Submission{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown file slot %q", slot), nil)
		}
	}

	now := time.Now()
	sub := store.Submission{
		ID:          util.NewID("sub"),
		Code:        util.NewSubmissionCode(),
		OwnerID:     session.UserID,
		Title:       strings.TrimSpace(input.Title),
		Status:      store.StatusNewSubmission,
		SubmittedAt: &now,
	}
	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		return store.Submission{}, err
	}

	keyPrefix := sub.OwnerID + "/"

	if err := s.store.InsertApplicationForm(ctx, store.ApplicationForm{
		ID:             util.NewID("apf"),
		SubmissionID:   sub.ID,
		StudySite:      input.Form.StudySite,
		FundingSource:  input.Form.FundingSource,
		DurationMonths: input.Form.DurationMonths,
		ContactEmail:   input.Form.ContactEmail,
	}); err != nil {
		return store.Submission{}, err
	}

	if err := s.createProtocol(ctx, sub, input, keyPrefix); err != nil {
		return store.Submission{}, err
	}

	if err := s.store.InsertConsentForm(ctx, store.ConsentForm{
		ID:                 util.NewID("cns"),
		SubmissionID:       sub.ID,
		PurposeEN:          input.Consent.PurposeEN,
		PurposeFIL:         input.Consent.PurposeFIL,
		ProceduresEN:       input.Consent.ProceduresEN,
		ProceduresFIL:      input.Consent.ProceduresFIL,
		RisksEN:            input.Consent.RisksEN,
		RisksFIL:           input.Consent.RisksFIL,
		BenefitsEN:         input.Consent.BenefitsEN,
		BenefitsFIL:        input.Consent.BenefitsFIL,
		ConfidentialityEN:  input.Consent.ConfidentialityEN,
		ConfidentialityFIL: input.Consent.ConfidentialityFIL,
	}); err != nil {
		return store.Submission{}, err
	}

	for _, slot := range FileSlots {
		payload, ok := input.Files[slot]
		if !ok || payload.Data == "" {
			continue
		}
		if _, err := s.replaceDocument(ctx, sub, slot, payload, keyPrefix); err != nil {
			return store.Submission{}, err
		}
	}

	// Classification is asynchronous. If the queue is down the submission
	// stays in new_submission and can be re-enqueued by staff later.
	if s.classifier != nil {
		if err := s.classifier.Enqueue(ctx, sub.ID); err != nil {
			log.Printf("intake: enqueue classification for %s: %v", sub.ID, err)
		} else if err := s.store.UpdateSubmissionStatus(ctx, sub.ID, store.StatusUnderClassification); err != nil {
			log.Printf("intake: mark %s under classification: %v", sub.ID, err)
		} else {
			sub.Status = store.StatusUnderClassification
		}
	}

	s.regenerateArtifacts(ctx, sub, true, keyPrefix)
	s.indexSubmission(sub)

	return sub, nil
}

func (s *Service) createProtocol(ctx context.Context, sub store.Submission, input IntakeInput, keyPrefix string) error {
	protocol := store.ResearchProtocol{
		ID:           util.NewID("prt"),
		SubmissionID: sub.ID,
	}

	var imageDocs []store.UploadedDocument
	for _, name := range ProtocolSections {
		content, ok := input.Protocol[name]
		if !ok {
			continue
		}
		rewritten, images := extract.Rewrite(ctx, s.blobs, content, name, keyPrefix)
		protocol.Sections = append(protocol.Sections, store.ProtocolSection{
			ID:           util.NewID("psec"),
			ProtocolID:   protocol.ID,
			SubmissionID: sub.ID,
			Name:         name,
			Content:      rewritten,
		})
		for _, image := range images {
			imageDocs = append(imageDocs, store.UploadedDocument{
				ID:           util.NewID("doc"),
				SubmissionID: sub.ID,
				DocumentType: store.SlotProtocolImage + image.Section,
				ObjectKey:    image.ObjectKey,
				PublicURL:    image.PublicURL,
				FileName:     filepath.Base(image.ObjectKey),
				ByteSize:     image.ByteSize,
				UploadedAt:   time.Now(),
			})
		}
	}

	for _, researcher := range input.Researchers {
		entry := store.Researcher{
			ID:         util.NewID("rsr"),
			ProtocolID: protocol.ID,
			Name:       researcher.Name,
		}
		// Signatures decorate the rendered protocol; a failed upload is
		// logged and the researcher is kept without one.
		if researcher.Signature.Data != "" {
			if url, err := s.uploadSignature(ctx, keyPrefix, researcher.Signature); err != nil {
				log.Printf("intake: upload signature for %q: %v", researcher.Name, err)
			} else {
				entry.SignatureURL = url
			}
		}
		protocol.Researchers = append(protocol.Researchers, entry)
	}

	if err := s.store.InsertProtocol(ctx, protocol); err != nil {
		return err
	}
	for _, doc := range imageDocs {
		if err := s.store.InsertDocument(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) uploadSignature(ctx context.Context, keyPrefix string, payload FilePayload) (string, error) {
	data, err := decodeFileData(payload.Data)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	key := fmt.Sprintf("%ssignatures/%d.%s", keyPrefix, time.Now().UnixNano(), fileExt(payload.FileName))
	if err := s.blobs.Put(ctx, key, data, contentTypeFor(payload.FileName)); err != nil {
		return "", err
	}
	return s.blobs.PublicURL(key), nil
}
