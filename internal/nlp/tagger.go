package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const tagTimeout = 3 * time.Second

// HTTPTagger calls an external entity-tagging service over HTTP. The service
// is optional infrastructure; every failure is reported as an error and the
// caller falls back to pattern extraction.
type HTTPTagger struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTagger creates a tagger for the service at baseURL.
func NewHTTPTagger(baseURL string) *HTTPTagger {
	return &HTTPTagger{
		baseURL: baseURL,
		client:  &http.Client{Timeout: tagTimeout},
	}
}

type tagRequest struct {
	Text         string   `json:"text"`
	ActiveLayers []string `json:"active_layers,omitempty"`
	CRS          string   `json:"crs,omitempty"`
}

// Tag posts the text and session hints to the tagging service and decodes
// the extraction record it returns.
func (t *HTTPTagger) Tag(ctx context.Context, text string, activeLayers []string, crs string) (Extraction, error) {
	body, err := json.Marshal(tagRequest{Text: text, ActiveLayers: activeLayers, CRS: crs})
	if err != nil {
		return Extraction{}, fmt.Errorf("encoding tag request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, tagTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/tag", bytes.NewReader(body))
	if err != nil {
		return Extraction{}, fmt.Errorf("building tag request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Extraction{}, fmt.Errorf("calling tagger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Extraction{}, fmt.Errorf("tagger returned %d: %s", resp.StatusCode, data)
	}

	var ext Extraction
	if err := json.NewDecoder(resp.Body).Decode(&ext); err != nil {
		return Extraction{}, fmt.Errorf("decoding tagger response: %w", err)
	}
	return ext, nil
}
