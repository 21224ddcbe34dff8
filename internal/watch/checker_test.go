package watch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/interpark/mikage/internal/database"
)

func TestCheckHealthyTarget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("all good"))
	}))
	defer server.Close()

	checker := NewChecker()
	target := &database.Target{Key: "saaske01", Name: "Saaske 01", URL: server.URL}

	outcome := checker.Check(context.Background(), target)

	if outcome.StatusCode == nil || *outcome.StatusCode != 200 {
		t.Fatalf("expected status 200, got %v", outcome.StatusCode)
	}
	if outcome.StatusMessage == nil || *outcome.StatusMessage != "OK" {
		t.Errorf("expected status message OK, got %v", outcome.StatusMessage)
	}
	if outcome.ErrorCode != nil || outcome.ErrorName != nil {
		t.Errorf("expected no error on healthy target")
	}
	if outcome.ResponseTime == nil {
		t.Errorf("expected response time to be recorded")
	}
	if outcome.IsActionableError() {
		t.Errorf("healthy outcome must not be an actionable error")
	}
}

func TestCheckSendsTargetHeaders(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewChecker()
	target := &database.Target{
		Key:     "saaske01",
		Name:    "Saaske 01",
		URL:     server.URL,
		Headers: database.JSONB{"Authorization": "Bearer probe-token"},
	}

	checker.Check(context.Background(), target)

	if gotAuth != "Bearer probe-token" {
		t.Errorf("expected target header to be sent, got %q", gotAuth)
	}
}

func TestCheckDetectsEmbeddedErrorMarker(t *testing.T) {
	cases := []struct {
		body string
		code string
	}{
		{"error [code: 1234] occurred", "CODE_1234"},
		{"[code:77]", "CODE_77"},
		{"[ Code： 42 ]", "CODE_42"}, // full-width colon
	}

	for _, tc := range cases {
		body := tc.body
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(body))
		}))

		checker := NewChecker()
		target := &database.Target{Key: "saaske01", Name: "Saaske 01", URL: server.URL}
		outcome := checker.Check(context.Background(), target)
		server.Close()

		if outcome.ErrorCode == nil || *outcome.ErrorCode != tc.code {
			t.Errorf("body %q: expected error code %s, got %v", tc.body, tc.code, outcome.ErrorCode)
			continue
		}
		if outcome.ErrorName == nil || *outcome.ErrorName != "InternalServiceError" {
			t.Errorf("body %q: expected InternalServiceError, got %v", tc.body, outcome.ErrorName)
		}
		if !outcome.IsActionableError() {
			t.Errorf("body %q: embedded marker must be actionable despite HTTP 200", tc.body)
		}
	}
}

func TestCheckIgnoresNonMarkerBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("code: 1234 without brackets"))
	}))
	defer server.Close()

	checker := NewChecker()
	target := &database.Target{Key: "saaske01", Name: "Saaske 01", URL: server.URL}
	outcome := checker.Check(context.Background(), target)

	if outcome.ErrorCode != nil {
		t.Errorf("expected no error code, got %v", *outcome.ErrorCode)
	}
}

func TestCheckTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewChecker()
	target := &database.Target{Key: "saaske01", Name: "Saaske 01", URL: server.URL}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	outcome := checker.Check(ctx, target)

	if outcome.StatusCode == nil || *outcome.StatusCode != 408 {
		t.Fatalf("expected status 408 on timeout, got %v", outcome.StatusCode)
	}
	if outcome.StatusMessage == nil || *outcome.StatusMessage != "Request Timeout" {
		t.Errorf("expected Request Timeout, got %v", outcome.StatusMessage)
	}
	if outcome.ErrorName == nil || *outcome.ErrorName != "TimeoutError" {
		t.Errorf("expected TimeoutError, got %v", outcome.ErrorName)
	}
	if outcome.ErrorCode == nil || *outcome.ErrorCode != "ETIMEDOUT" {
		t.Errorf("expected ETIMEDOUT, got %v", outcome.ErrorCode)
	}
	if !outcome.IsProbeFailure() {
		t.Errorf("timeout must count as a probe failure")
	}
}

func TestCheckConnectionRefused(t *testing.T) {
	// Grab a port that nothing listens on.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	checker := NewChecker()
	target := &database.Target{Key: "saaske01", Name: "Saaske 01", URL: url}
	outcome := checker.Check(context.Background(), target)

	if outcome.StatusCode == nil || *outcome.StatusCode != 520 {
		t.Fatalf("expected status 520, got %v", outcome.StatusCode)
	}
	if outcome.StatusMessage == nil || *outcome.StatusMessage != "Unknown Error" {
		t.Errorf("expected Unknown Error, got %v", outcome.StatusMessage)
	}
	if outcome.ErrorName == nil || *outcome.ErrorName != "RequestError" {
		t.Errorf("expected RequestError, got %v", outcome.ErrorName)
	}
	if outcome.ErrorCode == nil || *outcome.ErrorCode != "ECONNREFUSED" {
		t.Errorf("expected ECONNREFUSED, got %v", outcome.ErrorCode)
	}
	if !outcome.IsProbeFailure() {
		t.Errorf("connection failure must count as a probe failure")
	}
}
