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
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/faceshape/internal/auth"
	"github.com/example/faceshape/internal/pipeline"
	"github.com/example/faceshape/internal/repository"
	"github.com/example/faceshape/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubService struct {
	result    *pipeline.Result
	err       error
	uploads   []*pipeline.Upload
	userIDs   []string
	log       *repository.PredictionLog
	logErr    error
	summary   *usecase.MetricsSummary
	resultIDs []string
	readers   []string
}

func (s *stubService) Predict(ctx context.Context, userID string, upload *pipeline.Upload) (string, *pipeline.Result, error) {
	s.uploads = append(s.uploads, upload)
	s.userIDs = append(s.userIDs, userID)
	if s.err != nil {
		return "req-1", nil, s.err
	}
	return "req-1", s.result, nil
}

func (s *stubService) GetResult(ctx context.Context, userID, requestID string) (*repository.PredictionLog, error) {
	s.resultIDs = append(s.resultIDs, requestID)
	s.readers = append(s.readers, userID)
	if s.logErr != nil {
		return nil, s.logErr
	}
	if s.log == nil {
		return nil, repository.ErrNotFound
	}
	return s.log, nil
}

func (s *stubService) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	if s.summary == nil {
		return nil, errors.New("db down")
	}
	return s.summary, nil
}

func newRouter(svc PredictionService, middlewares ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, svc, middlewares...)
	return router
}

func postPicture(t *testing.T, router *gin.Engine, contentType string, payload []byte, token string) *httptest.ResponseRecorder {
	t.Helper()
	body, formType := buildMultipartBody(t, contentType, payload)
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", formType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", resp.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	router := newRouter(&stubService{}, auth.JWTMiddleware(testJWTSecret, ""))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}

func TestPredictReturnsLabelAndConfidence(t *testing.T) {
	confidence := 0.87
	svc := &stubService{result: &pipeline.Result{Label: "oval", Confidence: &confidence}}
	router := newRouter(svc)

	resp := postPicture(t, router, "image/jpeg", []byte("jpeg bytes"), "")

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	body := decodeBody(t, resp)
	if body["label"] != "oval" || body["confidence"] != 0.87 || body["request_id"] != "req-1" {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(svc.uploads) != 1 || svc.uploads[0].Filename != "upload.jpg" || string(svc.uploads[0].Data) != "jpeg bytes" {
		t.Fatalf("unexpected upload: %+v", svc.uploads)
	}
}

func TestPredictReturnsNullConfidence(t *testing.T) {
	router := newRouter(&stubService{result: &pipeline.Result{Label: "square"}})

	resp := postPicture(t, router, "image/png", []byte("png"), "")

	body := decodeBody(t, resp)
	confidence, present := body["confidence"]
	if !present || confidence != nil {
		t.Fatalf("expected explicit null confidence, got %v", body)
	}
}

func TestPredictRejectsLargeUpload(t *testing.T) {
	svc := &stubService{}
	router := newRouter(svc, auth.JWTMiddleware(testJWTSecret, ""))

	token := buildTestToken(t, "user-123")
	resp := postPicture(t, router, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1), token)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
	if len(svc.uploads) != 0 {
		t.Fatal("oversized upload reached the use case")
	}
}

func TestPredictRejectsUnsupportedContentType(t *testing.T) {
	router := newRouter(&stubService{}, auth.JWTMiddleware(testJWTSecret, ""))

	token := buildTestToken(t, "user-123")
	resp := postPicture(t, router, "text/plain", []byte("hello"), token)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestPredictWithoutPictureReachesPipeline(t *testing.T) {
	svc := &stubService{err: &pipeline.Error{Kind: pipeline.KindMissingImage, State: pipeline.AwaitingImage}}
	router := newRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/predict", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
	if len(svc.uploads) != 1 || svc.uploads[0] != nil {
		t.Fatalf("expected a nil upload, got %+v", svc.uploads)
	}
	if body := decodeBody(t, resp); body["code"] != "missing_image" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestPredictMapsPipelineErrors(t *testing.T) {
	tests := []struct {
		kind   pipeline.Kind
		status int
	}{
		{pipeline.KindUnreadableImage, http.StatusBadRequest},
		{pipeline.KindNoFaceDetected, http.StatusUnprocessableEntity},
		{pipeline.KindFeatureExtractionFailed, http.StatusUnprocessableEntity},
		{pipeline.KindDetectionFailed, http.StatusServiceUnavailable},
		{pipeline.KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			router := newRouter(&stubService{err: &pipeline.Error{Kind: tt.kind, Err: errors.New("detail")}})
			resp := postPicture(t, router, "image/jpeg", []byte("x"), "")

			if resp.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, resp.Code)
			}
			body := decodeBody(t, resp)
			if body["code"] != string(tt.kind) || body["error"] != tt.kind.Message() {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestPredictRecordsTokenSubject(t *testing.T) {
	svc := &stubService{result: &pipeline.Result{Label: "round"}}
	router := newRouter(svc, auth.Optional(testJWTSecret, ""))

	if resp := postPicture(t, router, "image/jpeg", []byte("x"), ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d without token, got %d", http.StatusUnauthorized, resp.Code)
	}

	resp := postPicture(t, router, "image/jpeg", []byte("x"), buildTestToken(t, "user-123"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if len(svc.userIDs) != 1 || svc.userIDs[0] != "user-123" {
		t.Fatalf("unexpected user ids: %v", svc.userIDs)
	}
}

func TestOpenRoutesWhenAuthDisabled(t *testing.T) {
	svc := &stubService{result: &pipeline.Result{Label: "round"}}
	router := newRouter(svc, auth.Optional("", ""))

	resp := postPicture(t, router, "image/jpeg", []byte("x"), "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if svc.userIDs[0] != "" {
		t.Fatalf("expected anonymous request, got %q", svc.userIDs[0])
	}
}

func TestGetResult(t *testing.T) {
	confidence := 0.5
	svc := &stubService{log: &repository.PredictionLog{
		RequestID:  "req-9",
		Label:      "heart",
		Confidence: &confidence,
		Outcome:    repository.OutcomeSuccess,
	}}
	router := newRouter(svc)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/result/req-9", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	body := decodeBody(t, resp)
	if body["label"] != "heart" || body["request_id"] != "req-9" || body["outcome"] != "success" {
		t.Fatalf("unexpected body: %v", body)
	}
	if svc.resultIDs[0] != "req-9" || svc.readers[0] != "" {
		t.Fatalf("unexpected lookup: ids=%v readers=%v", svc.resultIDs, svc.readers)
	}
}

type ownedLogs map[string]*repository.PredictionLog

func (o ownedLogs) SaveLog(ctx context.Context, log *repository.PredictionLog) error {
	o[log.RequestID] = log
	return nil
}

func (o ownedLogs) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.PredictionLog, error) {
	log, ok := o[requestID]
	if !ok || log.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return log, nil
}

func (o ownedLogs) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	return &repository.MetricsAggregation{}, nil
}

func (o ownedLogs) LabelDistribution(ctx context.Context) ([]repository.LabelCount, error) {
	return nil, nil
}

type emptyCache struct{}

func (emptyCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}

func (emptyCache) Get(ctx context.Context, key string) (string, error) {
	return "", redis.Nil
}

func TestGetResultIsScopedToOwner(t *testing.T) {
	logs := ownedLogs{"alice-req": {RequestID: "alice-req", UserID: "alice", Label: "heart", Outcome: repository.OutcomeSuccess}}
	uc := usecase.NewPredictionUseCase(logs, emptyCache{}, nil, zap.NewNop())
	router := newRouter(uc, auth.Optional(testJWTSecret, ""))

	get := func(subject string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/result/alice-req", nil)
		req.Header.Set("Authorization", "Bearer "+buildTestToken(t, subject))
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	if resp := get("bob"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d for another user, got %d: %s", http.StatusNotFound, resp.Code, resp.Body.String())
	}

	resp := get("alice")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d for the owner, got %d", http.StatusOK, resp.Code)
	}
	if body := decodeBody(t, resp); body["user_id"] != "alice" || body["label"] != "heart" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestGetResultNotFound(t *testing.T) {
	router := newRouter(&stubService{})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/result/unknown", nil))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestMetricsSummary(t *testing.T) {
	svc := &stubService{summary: &usecase.MetricsSummary{
		TotalRequests:     4,
		SuccessRate:       0.5,
		LabelDistribution: []repository.LabelCount{{Label: "oval", Count: 2}},
	}}
	router := newRouter(svc)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics/summary", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	body := decodeBody(t, resp)
	if body["total_requests"] != float64(4) || body["success_rate"] != 0.5 {
		t.Fatalf("unexpected body: %v", body)
	}

	failing := httptest.NewRecorder()
	newRouter(&stubService{}).ServeHTTP(failing, httptest.NewRequest(http.MethodGet, "/metrics/summary", nil))
	if failing.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, failing.Code)
	}
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="picture"; filename="upload.jpg"`)
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

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
