package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/ports/adapter"
)

const testSecret = "shared-secret"

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(srv.URL, "test-issuer", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func testDetails() adapter.EventDetails {
	return adapter.EventDetails{
		Title:    "Lunch",
		StartsAt: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 9, 1, 13, 0, 0, 0, time.UTC),
	}
}

func TestClient_CreateEvent(t *testing.T) {
	// Arrange
	var gotAuth string
	var gotBody eventBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/events" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeEvent(w, eventResponse{ID: "ev-1", Link: "https://cal.example/ev-1"})
	}))
	defer srv.Close()
	c := testClient(t, srv)

	// Act
	ref, err := c.CreateEvent(context.Background(), testDetails())

	// Assert
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.ID != "ev-1" || ref.Link != "https://cal.example/ev-1" {
		t.Fatalf("ref wrong: %+v", ref)
	}
	if gotBody.Title != "Lunch" {
		t.Fatalf("body wrong: %+v", gotBody)
	}

	// The bearer must be a valid HS256 token signed with the shared secret.
	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Fatalf("missing bearer header, got %q", gotAuth)
	}
	parsed, err := jwt.ParseWithClaims(strings.TrimPrefix(gotAuth, "Bearer "), &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("bearer does not verify: %v", err)
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	if claims.Issuer != "test-issuer" {
		t.Fatalf("issuer wrong: %q", claims.Issuer)
	}
}

func TestClient_UpdateEvent(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPut || r.URL.Path != "/v1/events/ev-9" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			// Some providers omit the id in the update response.
			writeEvent(w, eventResponse{Link: "https://cal.example/ev-9"})
		}))
		defer srv.Close()
		c := testClient(t, srv)

		ref, err := c.UpdateEvent(context.Background(), "ev-9", testDetails())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ref.ID != "ev-9" {
			t.Fatalf("id must fall back to the requested event, got %+v", ref)
		}
	})

	t.Run("empty event id", func(t *testing.T) {
		c, err := NewClient("https://cal.example", "i", testSecret, time.Minute)
		if err != nil {
			t.Fatalf("new client: %v", err)
		}

		_, err = c.UpdateEvent(context.Background(), "", testDetails())
		if domain.ClassifyFailure(err) != domain.FailureValidation {
			t.Fatalf("want validation failure, got %v", err)
		}
	})
}

func TestClient_DeleteEvent(t *testing.T) {
	deleted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/v1/events/ev-9" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		deleted = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	c := testClient(t, srv)

	if err := c.DeleteEvent(context.Background(), "ev-9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deleted {
		t.Fatal("delete never reached the server")
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   domain.FailureClass
	}{
		{"rate limited", http.StatusTooManyRequests, domain.FailureTransient},
		{"not found", http.StatusNotFound, domain.FailurePermanent},
		{"bad request", http.StatusBadRequest, domain.FailurePermanent},
		{"server error", http.StatusBadGateway, domain.FailureTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()
			c := testClient(t, srv)

			_, err := c.CreateEvent(context.Background(), testDetails())
			if err == nil {
				t.Fatal("want an error")
			}
			if got := domain.ClassifyFailure(err); got != tc.want {
				t.Fatalf("http %d classified %v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestClient_BearerIsCached(t *testing.T) {
	var tokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens = append(tokens, r.Header.Get("Authorization"))
		writeEvent(w, eventResponse{ID: "ev-1"})
	}))
	defer srv.Close()
	c := testClient(t, srv)

	for i := 0; i < 3; i++ {
		if _, err := c.CreateEvent(context.Background(), testDetails()); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if len(tokens) != 3 {
		t.Fatalf("want 3 requests, got %d", len(tokens))
	}
	if tokens[0] != tokens[1] || tokens[1] != tokens[2] {
		t.Fatal("token must be re-used within its lifetime")
	}
}

func writeEvent(w http.ResponseWriter, resp eventResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
