package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FolderConfig configures the OCR service's folder API client.
type FolderConfig struct {
	BaseURL      string
	ListTimeout  time.Duration // default 30s
	FetchTimeout time.Duration // default 60s
}

// FolderClient reads OCR output through the OCR service's folder API:
// GET /api/folder?path=<dir> lists the result directory and
// GET /api/file/content?path=<file> returns a file's text.
type FolderClient struct {
	cfg    FolderConfig
	http   *http.Client
	logger *slog.Logger
}

func NewFolderClient(cfg FolderConfig, logger *slog.Logger) *FolderClient {
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FolderClient{cfg: cfg, http: &http.Client{}, logger: logger}
}

type folderListing struct {
	Status   string `json:"status"`
	Children []struct {
		Type string `json:"type"`
		Name string `json:"name"`
		Path string `json:"path"`
	} `json:"children"`
}

type fileContent struct {
	Status  string  `json:"status"`
	Content *string `json:"content"`
}

func (c *FolderClient) Fetch(ctx context.Context, dir string) (string, error) {
	start := time.Now()
	var listing folderListing
	if err := c.getJSON(ctx, "/api/folder", dir, c.cfg.ListTimeout, &listing); err != nil {
		return "", fmt.Errorf("list %s: %w", dir, err)
	}
	if listing.Status != "success" {
		return "", fmt.Errorf("list %s: status %q", dir, listing.Status)
	}

	var names []string
	paths := map[string]string{}
	for _, ch := range listing.Children {
		if ch.Type != "file" {
			continue
		}
		names = append(names, ch.Name)
		paths[ch.Name] = ch.Path
	}
	name, ok := SelectArtifact(names)
	if !ok {
		c.logger.Error("ocr.folder.no_artifact", "dir", dir, "files", len(names))
		return "", fmt.Errorf("%s: %w", dir, ErrNoArtifact)
	}

	var fc fileContent
	if err := c.getJSON(ctx, "/api/file/content", paths[name], c.cfg.FetchTimeout, &fc); err != nil {
		return "", fmt.Errorf("fetch %s: %w", name, err)
	}
	if fc.Content == nil {
		return "", fmt.Errorf("fetch %s: response has no content (status %q)", name, fc.Status)
	}

	c.logger.Info("ocr.folder.fetched",
		"dir", dir, "file", name,
		"content_len", len(*fc.Content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return *fc.Content, nil
}

func (c *FolderClient) getJSON(ctx context.Context, endpoint, p string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := strings.TrimRight(c.cfg.BaseURL, "/") + endpoint + "?path=" + url.QueryEscape(p)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("ocr.folder.body_close_error", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
