package extraction_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"blueline/internal/config"
	"blueline/internal/extraction"
	"blueline/internal/services"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *extraction.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return extraction.NewClient(config.Extraction{
		BaseURL:        server.URL,
		APIKey:         "test",
		Model:          "drawing-parse-1",
		TimeoutSeconds: 5,
	})
}

func TestExtractPageDecodesValidPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extract" {
			t.Errorf("path = %q, want /extract", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("authorization = %q", got)
		}
		var req struct {
			VersionID  string `json:"version_id"`
			PageNumber int    `json:"page_number"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.VersionID != "v-1" || req.PageNumber != 3 {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"drawing_name":" A-101 ","extracted_info":{"title":"Floor Plan","scale":"1:50"},"confidence":0.92}`))
	})

	info, err := client.ExtractPage(context.Background(), "v-1", 3)
	if err != nil {
		t.Fatalf("ExtractPage: %v", err)
	}
	if info.DrawingName != "A-101" {
		t.Fatalf("drawing name = %q, want trimmed A-101", info.DrawingName)
	}
	if info.Confidence != 0.92 {
		t.Fatalf("confidence = %v", info.Confidence)
	}
	var fields map[string]string
	if err := json.Unmarshal(info.Info, &fields); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if fields["scale"] != "1:50" {
		t.Fatalf("scale = %q", fields["scale"])
	}
}

func TestExtractPageRejectsSchemaViolation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"drawing_name":"","extracted_info":{},"confidence":2}`))
	})

	_, err := client.ExtractPage(context.Background(), "v-1", 1)
	if err == nil {
		t.Fatal("expected schema validation error")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want validation marker", err)
	}
	if services.Retryable(err) {
		t.Fatal("schema violations must not be retryable")
	}
}

func TestExtractPageClassifiesServerErrorsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})

	_, err := client.ExtractPage(context.Background(), "v-1", 1)
	if err == nil {
		t.Fatal("expected error for http 503")
	}
	if !services.Retryable(err) {
		t.Fatalf("503 should be retryable, got %v", err)
	}
}

func TestExtractPageClassifiesAuthErrorsConfiguration(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	_, err := client.ExtractPage(context.Background(), "v-1", 1)
	if err == nil {
		t.Fatal("expected error for http 401")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("error = %v, want configuration marker", err)
	}
}

func TestHealthCheck(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}
