package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ethos/api/internal/auth"
	"ethos/api/internal/search"
	"ethos/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Logout(r.Context(), body.RefreshToken); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Everything below requires a session.
	session, err := s.service.SessionFromToken(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/submissions":
		s.handleListSubmissions(w, r, session)
	case r.Method == http.MethodPost && r.URL.Path == "/api/submissions":
		s.handleSubmitApplication(w, r, session)
	case r.Method == http.MethodGet && r.URL.Path == "/api/submissions/search":
		s.handleSearchSubmissions(w, r, session)
	case r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "submissions":
		s.handleGetSubmission(w, r, session, parts[2])
	case r.Method == http.MethodPost && len(parts) == 4 && parts[1] == "submissions" && parts[3] == "revision":
		s.handleSubmitRevision(w, r, session, parts[2])
	case r.Method == http.MethodGet && len(parts) == 4 && parts[1] == "submissions" && parts[3] == "documents":
		s.handleListDocuments(w, r, session, parts[2])
	case r.Method == http.MethodGet && len(parts) == 4 && parts[1] == "submissions" && parts[3] == "verifications":
		s.handleListVerifications(w, r, session, parts[2])
	case r.Method == http.MethodPut && len(parts) == 4 && parts[1] == "submissions" && parts[3] == "status":
		s.handleSetStatus(w, r, session, parts[2])
	case r.Method == http.MethodPut && len(parts) == 4 && parts[1] == "documents" && parts[3] == "verification":
		s.handleSetVerification(w, r, session, parts[2])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"userId":      user.ID,
		"email":       user.Email,
		"displayName": user.DisplayName,
		"role":        user.Role,
	})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (s *HTTPServer) handleListSubmissions(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.ListSubmissions(r.Context(), session)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, submissionJSON(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": payload})
}

func (s *HTTPServer) handleSubmitApplication(w http.ResponseWriter, r *http.Request, session Session) {
	var body IntakeInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sub, err := s.service.SubmitApplication(r.Context(), session, body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, submissionJSON(sub))
}

func (s *HTTPServer) handleSearchSubmissions(w http.ResponseWriter, r *http.Request, session Session) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 100", nil)
			return
		}
		limit = parsed
	}
	resp, err := s.service.SearchSubmissions(r.Context(), session, search.Query{
		Text:   r.URL.Query().Get("q"),
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetSubmission(w http.ResponseWriter, r *http.Request, session Session, submissionID string) {
	sub, err := s.service.GetSubmission(r.Context(), session, submissionID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, submissionJSON(sub))
}

func (s *HTTPServer) handleSubmitRevision(w http.ResponseWriter, r *http.Request, session Session, submissionID string) {
	var body RevisionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	status, err := s.service.SubmitRevision(r.Context(), session, submissionID, body)
	if err != nil {
		httpStatus, code, message, details := mapError(err)
		writeError(w, httpStatus, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissionId": submissionID, "status": status})
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request, session Session, submissionID string) {
	docs, err := s.service.ListSubmissionDocuments(r.Context(), session, submissionID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	payload := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		payload = append(payload, documentJSON(doc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": payload})
}

func (s *HTTPServer) handleListVerifications(w http.ResponseWriter, r *http.Request, session Session, submissionID string) {
	items, err := s.service.ListSubmissionVerifications(r.Context(), session, submissionID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, verificationJSON(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"verifications": payload})
}

func (s *HTTPServer) handleSetStatus(w http.ResponseWriter, r *http.Request, session Session, submissionID string) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sub, err := s.service.SetSubmissionStatus(r.Context(), session, submissionID, body.Status)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, submissionJSON(sub))
}

func (s *HTTPServer) handleSetVerification(w http.ResponseWriter, r *http.Request, session Session, documentID string) {
	var body VerificationInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	verification, err := s.service.SetVerification(r.Context(), session, documentID, body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, verificationJSON(verification))
}

func sessionJSON(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userName":     session.UserName,
		"userId":       session.UserID,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func submissionJSON(item store.Submission) map[string]any {
	payload := map[string]any{
		"id":             item.ID,
		"code":           item.Code,
		"ownerId":        item.OwnerID,
		"title":          item.Title,
		"status":         item.Status,
		"reviewCategory": item.ReviewCategory,
	}
	if item.Confidence != nil {
		payload["confidence"] = *item.Confidence
	}
	if item.SubmittedAt != nil {
		payload["submittedAt"] = item.SubmittedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func documentJSON(item store.UploadedDocument) map[string]any {
	return map[string]any{
		"id":           item.ID,
		"submissionId": item.SubmissionID,
		"documentType": item.DocumentType,
		"publicUrl":    item.PublicURL,
		"fileName":     item.FileName,
		"byteSize":     item.ByteSize,
		"uploadedAt":   item.UploadedAt.UTC().Format(time.RFC3339),
	}
}

func verificationJSON(item store.DocumentVerification) map[string]any {
	payload := map[string]any{
		"id":           item.ID,
		"documentId":   item.DocumentID,
		"submissionId": item.SubmissionID,
		"feedback":     item.Feedback,
	}
	if item.IsApproved != nil {
		payload["isApproved"] = *item.IsApproved
	}
	if item.VerifiedAt != nil {
		payload["verifiedAt"] = item.VerifiedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
