package httpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		case "/broken":
			w.Write([]byte(`{"status":`))
		default:
			http.Error(w, "nope", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	ctx := context.Background()

	var body struct {
		Status string `json:"status"`
	}
	if err := GetJSON(ctx, nil, srv.URL+"/health", &body); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}

	err := GetJSON(ctx, nil, srv.URL+"/down", nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusServiceUnavailable || se.Body != "nope" {
		t.Errorf("StatusError = %+v", se)
	}

	if err := GetJSON(ctx, nil, srv.URL+"/broken", &body); err == nil {
		t.Error("expected decode error")
	}
}

func TestGetJSONHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := GetJSON(ctx, NewClient(5*time.Second), srv.URL, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
