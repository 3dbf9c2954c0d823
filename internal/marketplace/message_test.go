package marketplace

import (
	"encoding/json"
	"errors"
	"testing"
)

// envelope wraps an inner payload the way SNS delivers it to SQS: the inner
// JSON is a string field of the outer object.
func envelope(t *testing.T, inner map[string]string) []byte {
	t.Helper()
	innerJSON, err := json.Marshal(inner)
	if err != nil {
		t.Fatalf("marshal inner payload: %v", err)
	}
	outer, err := json.Marshal(map[string]string{"Message": string(innerJSON)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return outer
}

func TestParseNotification_SubscribeSuccess(t *testing.T) {
	body := envelope(t, map[string]string{
		"action":                 "subscribe-success",
		"customer-identifier":    "cust-123",
		"product-code":           "prod-abc",
		"offer-identifier":       "offer-1",
		"isFreeTrialTermPresent": "true",
	})

	n, err := ParseNotification(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Action != ActionSubscribeSuccess {
		t.Errorf("action = %s, want %s", n.Action, ActionSubscribeSuccess)
	}
	if n.CustomerIdentifier != "cust-123" {
		t.Errorf("customer identifier = %s, want cust-123", n.CustomerIdentifier)
	}
	if n.ProductCode != "prod-abc" {
		t.Errorf("product code = %s, want prod-abc", n.ProductCode)
	}
	if !n.FreeTrial {
		t.Error("expected FreeTrial to be true")
	}
}

func TestParseNotification_FreeTrialLiteral(t *testing.T) {
	// Only the literal string "true" means a free trial.
	for _, raw := range []string{"false", "True", "1", ""} {
		body := envelope(t, map[string]string{
			"action":                 "subscribe-success",
			"customer-identifier":    "cust-123",
			"isFreeTrialTermPresent": raw,
		})

		n, err := ParseNotification(body)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", raw, err)
		}
		if n.FreeTrial {
			t.Errorf("FreeTrial = true for isFreeTrialTermPresent=%q", raw)
		}
	}
}

func TestParseNotification_UnknownAction(t *testing.T) {
	body := envelope(t, map[string]string{
		"action":              "subscribe-sideways",
		"customer-identifier": "cust-123",
	})

	_, err := ParseNotification(body)
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestParseNotification_MalformedBodies(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"not JSON", []byte("not json at all")},
		{"missing Message field", []byte(`{"Type":"Notification"}`)},
		{"inner payload not JSON", []byte(`{"Message":"not json"}`)},
		{"missing customer identifier", envelope(t, map[string]string{"action": "subscribe-success"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseNotification(tt.body); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseAction(t *testing.T) {
	for _, valid := range []string{"subscribe-success", "subscribe-fail", "unsubscribe-pending", "unsubscribe-success"} {
		if _, err := ParseAction(valid); err != nil {
			t.Errorf("ParseAction(%q) returned error: %v", valid, err)
		}
	}
	if _, err := ParseAction("renew"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("expected ErrUnknownAction, got %v", err)
	}
}
