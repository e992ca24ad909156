// Package translate provides the machine-translation and transcription
// backends behind captions: an HTTP client for a LibreTranslate-compatible
// API and a whisper CLI wrapper for speech to text.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls a LibreTranslate-compatible /translate endpoint.
type Client struct {
	apiURL string
	http   *http.Client
}

func NewClient(apiURL string, timeout time.Duration) *Client {
	return &Client{
		apiURL: apiURL,
		http:   &http.Client{Timeout: timeout},
	}
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

// Translate converts text from sourceLang to targetLang. An empty
// sourceLang asks the API to auto-detect.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if sourceLang == "" {
		sourceLang = "auto"
	}
	body, err := json.Marshal(translateRequest{
		Q:      text,
		Source: sourceLang,
		Target: targetLang,
		Format: "text",
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// Read a bounded slice of the body for the error message.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("translate API returned %d: %s", resp.StatusCode, msg)
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("translate response: %w", err)
	}
	if out.TranslatedText == "" {
		return "", fmt.Errorf("translate API returned empty translation")
	}
	return out.TranslatedText, nil
}
