package judge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotifyOK(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatal(err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	ok, err := c.Notify(context.Background(), "sub-123")
	if err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if !ok {
		t.Error("ok = false, want true for 200 response")
	}
	if gotBody["submission_id"] != "sub-123" {
		t.Errorf("submission_id = %q, want sub-123", gotBody["submission_id"])
	}
}

func TestNotifyNon200IsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	ok, err := c.Notify(context.Background(), "sub-123")
	if err != nil {
		t.Fatalf("Notify returned error for a non-200 status: %v", err)
	}
	if ok {
		t.Error("ok = true, want false for a 500 response")
	}
}

func TestNotifyTransportFailure(t *testing.T) {
	c := New("http://127.0.0.1:0")
	_, err := c.Notify(context.Background(), "sub-123")
	if err == nil {
		t.Error("expected an error when the judge endpoint is unreachable")
	}
}
