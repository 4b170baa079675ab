package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTP_PostDecodesResponse(t *testing.T) {
	var gotBody []map[string]any
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"a"},{"id":"b"}]`))
	}))
	defer srv.Close()

	tr := WithClient(srv.Client())
	var out []json.RawMessage
	body := []map[string]any{{"type": "start"}, {"type": "end"}}
	if err := tr.Do(context.Background(), http.MethodPost, srv.URL+"/v1/event/", body, &out); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if gotType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotType)
	}
	if len(gotBody) != 2 {
		t.Errorf("server received %d records, want 2", len(gotBody))
	}
	if len(out) != 2 {
		t.Errorf("decoded %d items, want 2", len(out))
	}
}

func TestHTTP_GetWithoutOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.ContentLength > 0 {
			t.Errorf("GET carried a body of %d bytes", r.ContentLength)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	if err := WithClient(srv.Client()).Do(context.Background(), http.MethodGet, srv.URL+"/status", nil, nil); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
}

func TestHTTP_Non2xxIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"no such game version"}`)
	}))
	defer srv.Close()

	err := WithClient(srv.Client()).Do(context.Background(), http.MethodGet, srv.URL+"/v1/gameVersion/x", nil, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusNotFound {
		t.Errorf("Code = %d, want 404", se.Code)
	}
	if se.Body == "" {
		t.Error("Body should carry the response snippet")
	}
}

func TestHTTP_ConnectFailure(t *testing.T) {
	err := Default().Do(context.Background(), http.MethodGet, "http://127.0.0.1:1/status", nil, nil)
	if err == nil {
		t.Fatal("expected error for unreachable endpoint")
	}
}

func TestHTTP_UndecodableResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	var out map[string]any
	if err := WithClient(srv.Client()).Do(context.Background(), http.MethodGet, srv.URL, nil, &out); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestAuthRoundTripper_Modes(t *testing.T) {
	t.Setenv("RM_TEST_KEY", "k-123")
	t.Setenv("RM_TEST_TOKEN", "tok")
	t.Setenv("RM_TEST_PASS", "pw")

	tests := []struct {
		name   string
		auth   Auth
		header string
		want   string
	}{
		{"apikey", Auth{Mode: "apikey", Header: "X-Api-Key", KeyEnv: "RM_TEST_KEY"}, "X-Api-Key", "k-123"},
		{"bearer", Auth{Mode: "bearer", TokenEnv: "RM_TEST_TOKEN"}, "Authorization", "Bearer tok"},
		{"basic", Auth{Mode: "basic", Username: "u", PasswordEnv: "RM_TEST_PASS"}, "Authorization", "Basic dTpwdw=="},
		{"none", Auth{Mode: "none"}, "Authorization", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get(tc.header)
			}))
			defer srv.Close()

			tr, err := New(Options{Auth: tc.auth})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if err := tr.Do(context.Background(), http.MethodGet, srv.URL, nil, nil); err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("%s = %q, want %q", tc.header, got, tc.want)
			}
		})
	}
}

func TestNew_MTLSMissingCert(t *testing.T) {
	_, err := New(Options{Auth: Auth{Mode: "mtls", CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"}})
	if err == nil {
		t.Fatal("expected error for missing client cert")
	}
}
