package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateIntent_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/payment_intents" {
			t.Fatalf("path = %s, want /v1/payment_intents", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk_test" {
			t.Fatalf("authorization = %q, want Bearer sk_test", auth)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("amount"); got != "2700" {
			t.Fatalf("amount = %q, want 2700", got)
		}
		if got := r.PostForm.Get("currency"); got != "usd" {
			t.Fatalf("currency = %q, want usd", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Intent{
			ID:           "pi_123",
			ClientSecret: "pi_123_secret",
			Status:       "requires_payment_method",
			AmountCents:  2700,
			Currency:     "usd",
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "sk_test")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	intent, err := client.CreateIntent(ctx, 2700, "USD", 1)
	if err != nil {
		t.Fatalf("CreateIntent error: %v", err)
	}
	if intent.ID != "pi_123" || intent.ClientSecret != "pi_123_secret" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

func TestGetIntent_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents/pi_123" {
			t.Fatalf("path = %s, want /v1/payment_intents/pi_123", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Intent{
			ID:          "pi_123",
			Status:      IntentStatusSucceeded,
			AmountCents: 2700,
			Currency:    "usd",
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "sk_test")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	intent, err := client.GetIntent(ctx, "pi_123")
	if err != nil {
		t.Fatalf("GetIntent error: %v", err)
	}
	if intent.Status != IntentStatusSucceeded {
		t.Fatalf("status = %q, want %q", intent.Status, IntentStatusSucceeded)
	}
}

func TestGetIntent_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "sk_test")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.GetIntent(ctx, "pi_missing"); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}

func TestGetIntent_NotConfigured(t *testing.T) {
	var client *Client

	if _, err := client.GetIntent(context.Background(), "pi_123"); err == nil {
		t.Fatalf("expected error for unconfigured client")
	}

	client = NewClient("", "")
	if _, err := client.GetIntent(context.Background(), "pi_123"); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
}

func TestGetIntent_EmptyID(t *testing.T) {
	client := NewClient("http://localhost:1", "sk_test")

	if _, err := client.GetIntent(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty intent id")
	}
}
