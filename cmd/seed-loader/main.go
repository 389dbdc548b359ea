// seed-loader bulk-ingests a YAML threat feed into a running threatmem
// service.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type feedThreat struct {
	ID       string            `yaml:"id"`
	Content  string            `yaml:"content"`
	Severity string            `yaml:"severity"`
	Metadata map[string]string `yaml:"metadata"`
}

type feedFile struct {
	Threats []feedThreat `yaml:"threats"`
}

func main() {
	if len(os.Args) < 2 {
		slog.Error("usage: seed-loader <feed.yaml> [...]")
		os.Exit(2)
	}
	ingestURL := os.Getenv("TM_INGEST_URL")
	if ingestURL == "" {
		ingestURL = "http://localhost:8080/v1/threats"
	}

	client := &http.Client{Timeout: 10 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var loaded, failed int
	for _, path := range os.Args[1:] {
		raw, err := os.ReadFile(path)
		if err != nil {
			slog.Error("read feed", "path", path, "err", err)
			failed++
			continue
		}
		var feed feedFile
		if err := yaml.Unmarshal(raw, &feed); err != nil {
			slog.Error("parse feed", "path", path, "err", err)
			failed++
			continue
		}
		for _, t := range feed.Threats {
			if err := ingest(ctx, client, ingestURL, t); err != nil {
				slog.Error("ingest failed", "threat_id", t.ID, "err", err)
				failed++
				continue
			}
			loaded++
		}
	}
	slog.Info("seed complete", "loaded", loaded, "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func ingest(ctx context.Context, client *http.Client, url string, t feedThreat) error {
	body, err := json.Marshal(map[string]any{
		"id":       t.ID,
		"content":  t.Content,
		"severity": t.Severity,
		"metadata": t.Metadata,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &httpError{status: resp.Status}
	}
	return nil
}

type httpError struct{ status string }

func (e *httpError) Error() string { return "unexpected response " + e.status }
