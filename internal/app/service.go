package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"ethos/api/internal/auth"
	"ethos/api/internal/config"
	"ethos/api/internal/render"
	"ethos/api/internal/search"
	"ethos/api/internal/store"
	"ethos/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

const (
	RoleResearcher = "researcher"
	RoleReviewer   = "reviewer"
	RoleStaff      = "staff"
)

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error

	InsertSubmission(context.Context, store.Submission) error
	GetSubmission(context.Context, string) (store.Submission, error)
	ListSubmissions(context.Context, string) ([]store.Submission, error)
	UpdateSubmissionStatus(context.Context, string, string) error

	InsertApplicationForm(context.Context, store.ApplicationForm) error
	GetApplicationForm(context.Context, string) (store.ApplicationForm, error)
	InsertProtocol(context.Context, store.ResearchProtocol) error
	GetProtocol(context.Context, string) (store.ResearchProtocol, error)
	UpsertProtocolSection(ctx context.Context, submissionID, name, content string) error
	InsertConsentForm(context.Context, store.ConsentForm) error
	GetConsentForm(context.Context, string) (store.ConsentForm, error)
	UpdateConsentForm(context.Context, store.ConsentForm) error

	InsertDocument(context.Context, store.UploadedDocument) error
	GetDocument(context.Context, string) (store.UploadedDocument, error)
	GetDocumentsBySlot(ctx context.Context, submissionID, slot string) ([]store.UploadedDocument, error)
	ListDocuments(context.Context, string) ([]store.UploadedDocument, error)
	UpdateDocumentArtifact(ctx context.Context, documentID, objectKey, publicURL, fileName string, byteSize int64) error

	GetVerificationByDocument(context.Context, string) (store.DocumentVerification, error)
	ListVerifications(context.Context, string) ([]store.DocumentVerification, error)
	ClearVerification(context.Context, string) error
	UpsertVerification(context.Context, store.DocumentVerification) error

	Ping(ctx context.Context) error
}

type blobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

type artifactRenderer interface {
	Render(ctx context.Context, kind render.Kind, data render.SubmissionData) (render.Result, error)
}

type classifierQueue interface {
	Enqueue(ctx context.Context, submissionID string) error
}

type submissionIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexSubmission(record search.SubmissionRecord)
}

type Service struct {
	cfg        config.Config
	store      dataStore
	blobs      blobStore
	renderer   artifactRenderer
	classifier classifierQueue
	search     submissionIndex
}

// New wires the service. queue and searchService may be nil when the backing
// infrastructure is not configured; those features degrade to no-ops.
func New(cfg config.Config, dataStore dataStore, blobs blobStore, renderer artifactRenderer, queue classifierQueue, searchService submissionIndex) *Service {
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		blobs:      blobs,
		renderer:   renderer,
		classifier: queue,
		search:     searchService,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- auth ----

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || displayName == "" {
		return store.User{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email and display name are required", nil)
	}
	if len(password) < 8 {
		return store.User{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "password must be at least 8 characters", nil)
	}
	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return store.User{}, err
	}
	user := store.User{
		ID:           util.NewID("usr"),
		DisplayName:  strings.TrimSpace(displayName),
		Email:        email,
		PasswordHash: hash,
		Role:         RoleResearcher,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, err
	}
	return user, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil || !auth.CheckPassword(user.PasswordHash, password) {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.store.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.store.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	return s.store.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refreshToken := util.NewID("")
	if err := s.store.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user.ID, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// ---- read side ----

func (s *Service) GetSubmission(ctx context.Context, session Session, submissionID string) (store.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return store.Submission{}, err
	}
	if err := s.authorizeSubmission(session, sub); err != nil {
		return store.Submission{}, err
	}
	return sub, nil
}

// ListSubmissions returns the caller's own submissions; staff and reviewers
// see everything.
func (s *Service) ListSubmissions(ctx context.Context, session Session) ([]store.Submission, error) {
	ownerID := session.UserID
	if session.Role == RoleStaff || session.Role == RoleReviewer {
		ownerID = ""
	}
	return s.store.ListSubmissions(ctx, ownerID)
}

func (s *Service) SearchSubmissions(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if session.Role != RoleStaff && session.Role != RoleReviewer {
		return search.Response{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if s.search == nil {
		return search.Response{Results: []search.SubmissionRecord{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) ListSubmissionDocuments(ctx context.Context, session Session, submissionID string) ([]store.UploadedDocument, error) {
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeSubmission(session, sub); err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, submissionID)
}

func (s *Service) authorizeSubmission(session Session, sub store.Submission) error {
	if session.Role == RoleStaff || session.Role == RoleReviewer {
		return nil
	}
	if sub.OwnerID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

func (s *Service) indexSubmission(sub store.Submission) {
	if s.search == nil {
		return
	}
	s.search.IndexSubmission(search.SubmissionRecord{
		ID:       sub.ID,
		Code:     sub.Code,
		Title:    sub.Title,
		Status:   sub.Status,
		Category: sub.ReviewCategory,
	})
}
