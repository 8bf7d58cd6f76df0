package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"ethos/api/internal/render"
	"ethos/api/internal/store"
	"ethos/api/internal/util"
)

var artifactKinds = []render.Kind{
	render.KindApplicationForm,
	render.KindResearchProtocol,
	render.KindConsentForm,
}

// regenerateArtifacts refreshes every consolidated PDF for the submission.
// Regeneration is best-effort across the board: a failed render or upload is
// logged and the previous artifact stays current.
func (s *Service) regenerateArtifacts(ctx context.Context, sub store.Submission, allowCreate bool, keyPrefix string) {
	data, err := s.buildRenderData(ctx, sub)
	if err != nil {
		log.Printf("artifacts: submission %s: collect data: %v", sub.ID, err)
		return
	}
	for _, kind := range artifactKinds {
		if err := s.regenerateArtifact(ctx, sub, kind, data, allowCreate, keyPrefix); err != nil {
			log.Printf("artifacts: submission %s %s: %v", sub.ID, kind, err)
		}
	}
}

// regenerateArtifact re-renders one artifact kind and replaces its stored
// object, keeping the document row id stable. Without allowCreate a missing
// row means the artifact was never generated and is skipped rather than
// conjured mid-lifecycle.
func (s *Service) regenerateArtifact(ctx context.Context, sub store.Submission, kind render.Kind, data render.SubmissionData, allowCreate bool, keyPrefix string) error {
	slot := string(kind)
	docs, err := s.store.GetDocumentsBySlot(ctx, sub.ID, slot)
	if err != nil {
		return err
	}
	if len(docs) > 1 {
		return fmt.Errorf("%d current documents for slot %s", len(docs), slot)
	}
	if len(docs) == 0 && !allowCreate {
		log.Printf("artifacts: submission %s has no %s artifact, skipping", sub.ID, slot)
		return nil
	}

	result, err := s.renderer.Render(ctx, kind, data)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	key := fmt.Sprintf("%s%s_%d.pdf", keyPrefix, slot, time.Now().UnixNano())
	if len(docs) == 1 && docs[0].ObjectKey != "" {
		if err := s.blobs.Delete(ctx, docs[0].ObjectKey); err != nil {
			log.Printf("artifacts: delete old object %s: %v", docs[0].ObjectKey, err)
		}
	}
	if err := s.blobs.Put(ctx, key, result.Data, result.MimeType); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	publicURL := s.blobs.PublicURL(key)

	if len(docs) == 1 {
		return s.store.UpdateDocumentArtifact(ctx, docs[0].ID, key, publicURL, result.FileName, int64(len(result.Data)))
	}
	return s.store.InsertDocument(ctx, store.UploadedDocument{
		ID:           util.NewID("doc"),
		SubmissionID: sub.ID,
		DocumentType: slot,
		ObjectKey:    key,
		PublicURL:    publicURL,
		FileName:     result.FileName,
		ByteSize:     int64(len(result.Data)),
		UploadedAt:   time.Now(),
	})
}

// buildRenderData assembles the full submission snapshot the templates need.
// Children that do not exist yet render as empty blocks, so sql.ErrNoRows is
// not an error here.
func (s *Service) buildRenderData(ctx context.Context, sub store.Submission) (render.SubmissionData, error) {
	data := render.SubmissionData{
		Code:     sub.Code,
		Title:    sub.Title,
		Status:   sub.Status,
		Category: sub.ReviewCategory,
	}
	if sub.SubmittedAt != nil {
		data.SubmittedAt = *sub.SubmittedAt
	}

	owner, err := s.store.GetUserByID(ctx, sub.OwnerID)
	switch {
	case err == nil:
		data.OwnerName = owner.DisplayName
	case !errors.Is(err, sql.ErrNoRows):
		return render.SubmissionData{}, fmt.Errorf("load owner: %w", err)
	}

	form, err := s.store.GetApplicationForm(ctx, sub.ID)
	switch {
	case err == nil:
		data.Form = render.FormData{
			StudySite:      form.StudySite,
			FundingSource:  form.FundingSource,
			DurationMonths: form.DurationMonths,
			ContactEmail:   form.ContactEmail,
		}
	case !errors.Is(err, sql.ErrNoRows):
		return render.SubmissionData{}, fmt.Errorf("load application form: %w", err)
	}

	protocol, err := s.store.GetProtocol(ctx, sub.ID)
	switch {
	case err == nil:
		bySection := make(map[string]string, len(protocol.Sections))
		for _, section := range protocol.Sections {
			bySection[section.Name] = section.Content
		}
		// canonical section order, independent of storage order
		for _, name := range ProtocolSections {
			content, ok := bySection[name]
			if !ok {
				continue
			}
			data.Sections = append(data.Sections, render.SectionData{Name: name, HTML: content})
		}
		for _, researcher := range protocol.Researchers {
			data.Researchers = append(data.Researchers, render.ResearcherData{
				Name:         researcher.Name,
				SignatureURL: researcher.SignatureURL,
			})
		}
	case !errors.Is(err, sql.ErrNoRows):
		return render.SubmissionData{}, fmt.Errorf("load protocol: %w", err)
	}

	consent, err := s.store.GetConsentForm(ctx, sub.ID)
	switch {
	case err == nil:
		data.Consent = render.ConsentData{
			PurposeEN:          consent.PurposeEN,
			PurposeFIL:         consent.PurposeFIL,
			ProceduresEN:       consent.ProceduresEN,
			ProceduresFIL:      consent.ProceduresFIL,
			RisksEN:            consent.RisksEN,
			RisksFIL:           consent.RisksFIL,
			BenefitsEN:         consent.BenefitsEN,
			BenefitsFIL:        consent.BenefitsFIL,
			ConfidentialityEN:  consent.ConfidentialityEN,
			ConfidentialityFIL: consent.ConfidentialityFIL,
		}
	case !errors.Is(err, sql.ErrNoRows):
		return render.SubmissionData{}, fmt.Errorf("load consent form: %w", err)
	}

	return data, nil
}
