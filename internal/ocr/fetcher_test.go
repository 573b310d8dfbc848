package ocr

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSelectArtifact(t *testing.T) {
	cases := []struct {
		names []string
		want  string
		ok    bool
	}{
		{[]string{"page_det.mmd", "plan.mmd", "plan.md"}, "plan.mmd", true},
		{[]string{"x_det.mmd", "plan.md", "notes.txt"}, "plan.md", true},
		{[]string{"notes.txt", "image.png"}, "notes.txt", true},
		{[]string{"layout_det.mmd", "image.png"}, "", false},
		{nil, "", false},
	}
	for _, c := range cases {
		got, ok := SelectArtifact(c.names)
		if got != c.want || ok != c.ok {
			t.Errorf("SelectArtifact(%v) = %q,%v want %q,%v", c.names, got, ok, c.want, c.ok)
		}
	}
}

func newFolderServer(t *testing.T, content map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/folder":
			if r.URL.Query().Get("path") != "/results/42" {
				_ = json.NewEncoder(w).Encode(map[string]any{"status": "error"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "success",
				"children": []map[string]string{
					{"type": "dir", "name": "images", "path": "/results/42/images"},
					{"type": "file", "name": "plan_det.mmd", "path": "/results/42/plan_det.mmd"},
					{"type": "file", "name": "plan.mmd", "path": "/results/42/plan.mmd"},
				},
			})
		case "/api/file/content":
			if r.URL.Query().Get("path") != "/results/42/plan.mmd" {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(content)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestFolderClientFetch(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// both response shapes are accepted
	for _, body := range []map[string]any{
		{"status": "success", "content": "<table>ok</table>"},
		{"content": "<table>ok</table>"},
	} {
		srv := newFolderServer(t, body)
		got, err := NewFolderClient(FolderConfig{BaseURL: srv.URL}, logger).Fetch(context.Background(), "/results/42")
		srv.Close()
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if got != "<table>ok</table>" {
			t.Errorf("content = %q", got)
		}
	}

	srv := newFolderServer(t, map[string]any{"status": "error"})
	defer srv.Close()
	c := NewFolderClient(FolderConfig{BaseURL: srv.URL}, logger)
	if _, err := c.Fetch(context.Background(), "/results/42"); err == nil {
		t.Error("missing content should fail")
	}
	if _, err := c.Fetch(context.Background(), "/results/unknown"); err == nil {
		t.Error("failed listing should fail")
	}
}

type stubFetcher string

func (s stubFetcher) Fetch(context.Context, string) (string, error) { return string(s), nil }

func TestRouter(t *testing.T) {
	r := Router{Folder: stubFetcher("folder"), GCS: stubFetcher("gcs")}
	if got, _ := r.Fetch(context.Background(), "gs://bucket/out/1"); got != "gcs" {
		t.Errorf("gs:// routed to %q", got)
	}
	if got, _ := r.Fetch(context.Background(), "/results/1"); got != "folder" {
		t.Errorf("dir routed to %q", got)
	}
	if _, err := (Router{Folder: stubFetcher("folder")}).Fetch(context.Background(), "gs://b/p"); err == nil {
		t.Error("gs:// without GCS fetcher should fail")
	}
}

func TestParseGCSLocation(t *testing.T) {
	b, p, err := ParseGCSLocation("gs://ocr-out/docs/42")
	if err != nil || b != "ocr-out" || p != "docs/42/" {
		t.Errorf("got %q %q %v", b, p, err)
	}
	if _, _, err := ParseGCSLocation("s3://x"); err == nil {
		t.Error("non-gs location should fail")
	}
	if _, _, err := ParseGCSLocation("gs:///x"); err == nil {
		t.Error("empty bucket should fail")
	}
}
