package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/example/lostfound/internal/auth"
	"github.com/example/lostfound/internal/engine"
	"github.com/example/lostfound/internal/logging"
	"github.com/example/lostfound/internal/preprocess"
	"github.com/example/lostfound/internal/repository"
	"github.com/example/lostfound/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubService struct {
	uploads     []string
	compareLog  *repository.ComparisonLog
	compareErr  error
	compareCall int
	resultErr   error
	items       []engine.Entry
	myPhone     string
}

func (s *stubService) Upload(ctx context.Context, phone, filename string, data []byte) (engine.Entry, error) {
	s.uploads = append(s.uploads, phone+":"+filename)
	return engine.Entry{ID: 1, Path: "photo_lost/x.png", Phone: phone}, nil
}

func (s *stubService) Compare(ctx context.Context, phone string, data []byte) (*repository.ComparisonLog, error) {
	s.compareCall++
	return s.compareLog, s.compareErr
}

func (s *stubService) GetResult(ctx context.Context, phone, requestID string) (*repository.ComparisonLog, error) {
	if s.resultErr != nil {
		return nil, s.resultErr
	}
	return &repository.ComparisonLog{RequestID: requestID, Phone: phone, Outcome: "no_match"}, nil
}

func (s *stubService) ListItems(ctx context.Context) ([]engine.Entry, error) {
	return s.items, nil
}

func (s *stubService) ListMyItems(ctx context.Context, phone string) ([]engine.Entry, error) {
	s.myPhone = phone
	return s.items, nil
}

func (s *stubService) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	return &usecase.MetricsSummary{TotalComparisons: 2, MatchedCount: 1, MatchRate: 0.5}, nil
}

func newTestRouter(t *testing.T, svc Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier, err := auth.NewVerifier(testJWTSecret, "")
	if err != nil {
		t.Fatalf("failed to build verifier: %v", err)
	}
	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, svc, verifier.Middleware())
	return router
}

func TestUploadRejectsLargeUpload(t *testing.T) {
	router := newTestRouter(t, &stubService{})

	body, contentType := buildMultipartBody(t, "photo.png", "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))
	resp := send(t, router, http.MethodPost, "/api/upload", body, contentType, buildTestToken(t, "0812"))

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestUploadRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(t, &stubService{})

	body, contentType := buildMultipartBody(t, "photo.png", "text/plain", []byte("hello"))
	resp := send(t, router, http.MethodPost, "/api/upload", body, contentType, buildTestToken(t, "0812"))

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(t, svc)

	body, contentType := buildMultipartBody(t, "photo.tiff", "image/tiff", []byte("hello"))
	resp := send(t, router, http.MethodPost, "/api/upload", body, contentType, buildTestToken(t, "0812"))

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
	if len(svc.uploads) != 0 {
		t.Fatal("expected upload not to reach the service")
	}
}

func TestUploadUsesTokenOwner(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(t, svc)

	body, contentType := buildMultipartBody(t, "wallet.jpg", "image/jpeg", []byte("jpeg"))
	resp := send(t, router, http.MethodPost, "/api/upload", body, contentType, buildTestToken(t, "0812"))

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, resp.Code, resp.Body.String())
	}
	if len(svc.uploads) != 1 || svc.uploads[0] != "0812:wallet.jpg" {
		t.Fatalf("unexpected uploads: %v", svc.uploads)
	}
}

func TestUploadRequiresToken(t *testing.T) {
	router := newTestRouter(t, &stubService{})

	body, contentType := buildMultipartBody(t, "wallet.jpg", "image/jpeg", []byte("jpeg"))
	resp := send(t, router, http.MethodPost, "/api/upload", body, contentType, "")

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestCompareReturnsMatchedItem(t *testing.T) {
	id := uint(9)
	svc := &stubService{compareLog: &repository.ComparisonLog{
		RequestID: "req-1", Matched: true, Outcome: "matched", Score: 0.3,
		MatchedEntryID: &id, MatchedImage: "photo_lost/a.jpg", MatchedPhone: "0811",
	}}
	router := newTestRouter(t, svc)

	body, contentType := buildMultipartBody(t, "found.jpg", "image/jpeg", []byte("jpeg"))
	resp := send(t, router, http.MethodPost, "/api/compare", body, contentType, buildTestToken(t, "0899"))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	var payload struct {
		Matched bool `json:"matched"`
		Item    struct {
			ID    uint   `json:"id"`
			Phone string `json:"phone"`
		} `json:"item"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !payload.Matched || payload.Item.ID != 9 || payload.Item.Phone != "0811" {
		t.Fatalf("unexpected payload: %s", resp.Body.String())
	}
}

func TestCompareStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		log  *repository.ComparisonLog
		err  error
		want int
	}{
		{"no match", &repository.ComparisonLog{Outcome: "no_match"}, nil, http.StatusOK},
		{"already claimed", &repository.ComparisonLog{Outcome: "already_claimed"}, nil, http.StatusConflict},
		{"empty", nil, preprocess.ErrEmptyInput, http.StatusBadRequest},
		{"unsupported", nil, preprocess.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{"undecodable", nil, preprocess.ErrDecodeFailure, http.StatusBadRequest},
		{"infrastructure", nil, logging.NewOperationError("usecase.compare", "r", errors.New("db")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router := newTestRouter(t, &stubService{compareLog: tc.log, compareErr: tc.err})
		body, contentType := buildMultipartBody(t, "found.jpg", "image/jpeg", []byte("jpeg"))
		resp := send(t, router, http.MethodPost, "/api/compare", body, contentType, buildTestToken(t, "0899"))
		if resp.Code != tc.want {
			t.Errorf("%s: expected status %d, got %d", tc.name, tc.want, resp.Code)
		}
	}
}

func TestGetResultNotFound(t *testing.T) {
	svc := &stubService{resultErr: logging.NewOperationError("repository.comparison.find", "x", gorm.ErrRecordNotFound)}
	router := newTestRouter(t, svc)

	resp := send(t, router, http.MethodGet, "/api/compare/x", nil, "", buildTestToken(t, "0899"))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestMyItemsScopedToTokenOwner(t *testing.T) {
	svc := &stubService{items: []engine.Entry{{ID: 1, Phone: "0899"}}}
	router := newTestRouter(t, svc)

	resp := send(t, router, http.MethodGet, "/api/my-items", nil, "", buildTestToken(t, "0899"))
	if resp.Code != http.StatusOK || svc.myPhone != "0899" {
		t.Fatalf("expected owner-scoped listing, got %d for %q", resp.Code, svc.myPhone)
	}
}

func TestPublicRoutes(t *testing.T) {
	router := newTestRouter(t, &stubService{})
	for _, path := range []string{"/health", "/api/items", "/api/metrics"} {
		resp := send(t, router, http.MethodGet, path, nil, "", "")
		if resp.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, resp.Code)
		}
	}
}

func send(t *testing.T, router *gin.Engine, method, path string, body *bytes.Buffer, contentType, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func buildMultipartBody(t *testing.T, filename, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="photo"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, phone string) string {
	t.Helper()

	verifier, err := auth.NewVerifier(testJWTSecret, "")
	if err != nil {
		t.Fatalf("failed to build verifier: %v", err)
	}
	token, err := verifier.Issue(phone, time.Hour)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}
