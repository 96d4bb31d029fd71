package httpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDoJSON(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("content type = %q", r.Header.Get("Content-Type"))
			}
			var in map[string]string
			json.NewDecoder(r.Body).Decode(&in)
			json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"]})
		}))
		defer srv.Close()

		var out map[string]string
		code, err := DoJSON(context.Background(), nil, http.MethodPost, srv.URL, map[string]string{"msg": "hi"}, &out)
		if err != nil {
			t.Fatalf("DoJSON: %v", err)
		}
		if code != http.StatusOK || out["echo"] != "hi" {
			t.Errorf("got %d %v", code, out)
		}
	})

	t.Run("error body still decodes", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"success":false,"error":"not configured"}`))
		}))
		defer srv.Close()

		var out struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}
		code, err := DoJSON(context.Background(), nil, http.MethodPost, srv.URL, nil, &out)
		if err != nil {
			t.Fatalf("DoJSON: %v", err)
		}
		if code != http.StatusServiceUnavailable || out.Error != "not configured" {
			t.Errorf("got %d %+v", code, out)
		}
	})

	t.Run("non json failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		var out map[string]any
		_, err := DoJSON(context.Background(), nil, http.MethodDelete, srv.URL, nil, &out)
		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusInternalServerError {
			t.Errorf("expected StatusError 500, got %v", err)
		}
	})
}
