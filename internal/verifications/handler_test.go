package verifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupRouter(t *testing.T, svc *Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHandler(svc)
	handler.RegisterRoutes(router.Group("/api/v1"))
	return router
}

func TestStartVerificationAccepted(t *testing.T) {
	docs, client := threeCleanDocs()
	svc, _, _, _ := setupChain(t, client, docs)
	router := setupRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/app-1/verifications", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		Status         string `json:"status"`
		VerificationID string `json:"verificationId"`
		TotalDocuments int    `json:"totalDocuments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "processing" {
		t.Fatalf("status = %s, want processing", body.Status)
	}
	if body.VerificationID == "" {
		t.Fatal("expected verificationId")
	}
	if body.TotalDocuments != 3 {
		t.Fatalf("totalDocuments = %d, want 3", body.TotalDocuments)
	}
}

func TestStartVerificationNoDocuments(t *testing.T) {
	client := scriptedLLM{}
	svc, _, _, _ := setupChain(t, client, nil)
	router := setupRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/app-1/verifications", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestGetVerificationStatusAndResult(t *testing.T) {
	docs, client := threeCleanDocs()
	svc, _, _, q := setupChain(t, client, docs)
	router := setupRouter(t, svc)

	run, err := svc.Start(context.Background(), testApplicationID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/verifications/"+run.ID, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var inFlight struct {
		Status    string          `json:"status"`
		Processed int             `json:"processed"`
		Total     int             `json:"total"`
		Result    json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&inFlight); err != nil {
		t.Fatalf("decode in-flight response: %v", err)
	}
	if inFlight.Status != string(StatusInProgress) {
		t.Fatalf("status = %s, want in_progress", inFlight.Status)
	}
	if inFlight.Result != nil {
		t.Fatal("result must not be exposed before the run is terminal")
	}

	drive(t, svc, q, run.ID)

	reqDone := httptest.NewRequest(http.MethodGet, "/api/v1/applications/app-1/verification", nil)
	respDone := httptest.NewRecorder()
	router.ServeHTTP(respDone, reqDone)

	if respDone.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", respDone.Code)
	}
	var done struct {
		Status    string `json:"status"`
		Processed int    `json:"processed"`
		Total     int    `json:"total"`
		Result    *struct {
			OverallRisk string `json:"overallRisk"`
			RiskScore   int    `json:"riskScore"`
		} `json:"result"`
	}
	if err := json.NewDecoder(respDone.Body).Decode(&done); err != nil {
		t.Fatalf("decode terminal response: %v", err)
	}
	if done.Status != string(StatusSuccess) {
		t.Fatalf("status = %s, want success", done.Status)
	}
	if done.Processed != 3 || done.Total != 3 {
		t.Fatalf("progress = %d/%d, want 3/3", done.Processed, done.Total)
	}
	if done.Result == nil || done.Result.OverallRisk != RiskLow {
		t.Fatalf("unexpected result: %+v", done.Result)
	}
}

func TestGetVerificationNotFound(t *testing.T) {
	docs, client := threeCleanDocs()
	svc, _, _, _ := setupChain(t, client, docs)
	router := setupRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/verifications/missing", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestGetVerificationPollLimited(t *testing.T) {
	docs, client := threeCleanDocs()
	svc, _, _, _ := setupChain(t, client, docs)
	router := setupRouter(t, svc)

	run, err := svc.Start(context.Background(), testApplicationID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/v1/verifications/"+run.ID, nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first poll: expected 200, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/v1/verifications/"+run.ID, nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second poll: expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}
