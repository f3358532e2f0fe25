// Package gemini is a client for the generateContent endpoint of the Gemini
// API. Beyond the call itself it owns failure classification: the completion
// pipeline only needs to know whether an upstream failure is worth retrying
// on a fallback model (quota exhaustion) or terminal (everything else).
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Part is one text fragment of a content block.
type Part struct {
	Text string `json:"text"`
}

// Content is one prompt block sent to the model.
type Content struct {
	Parts []Part `json:"parts"`
}

// TextContent builds a single-part content block.
func TextContent(text string) Content {
	return Content{Parts: []Part{{Text: text}}}
}

// UpstreamError describes a non-2xx response from the completion service.
type UpstreamError struct {
	StatusCode int    // HTTP status
	Status     string // API status string, e.g. "RESOURCE_EXHAUSTED"
	Message    string // API error message
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no error message"
	}
	return fmt.Sprintf("gemini: status %d: %s", e.StatusCode, msg)
}

// RateLimited reports whether the failure indicates quota exhaustion and is
// therefore worth retrying against a fallback model.
func (e *UpstreamError) RateLimited() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if strings.EqualFold(e.Status, "RESOURCE_EXHAUSTED") {
		return true
	}
	low := strings.ToLower(e.Message)
	return strings.Contains(low, "quota") || strings.Contains(low, "rate limit")
}

// IsRateLimited reports whether err is a retryable quota failure.
func IsRateLimited(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.RateLimited()
}

// Client calls the Gemini generateContent API.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New constructs a Client. An empty baseURL falls back to the public API.
// No default timeout is set on the HTTP client: the pipeline bounds each
// attempt with a per-call context deadline instead.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{},
	}
}

type generateReq struct {
	Contents []Content `json:"contents"`
}

type generateResp struct {
	Candidates []struct {
		Content struct {
			Parts []Part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Generate runs one completion attempt against model. The reply is extracted
// from the first candidate's first part; a syntactically successful response
// with no candidates yields an empty string and a nil error — the caller
// decides how to present an absent reply. Cancellation of ctx abandons the
// in-flight request.
func (c *Client) Generate(ctx context.Context, model string, contents []Content) (string, error) {
	if c.HTTP == nil {
		return "", errors.New("gemini: http client is nil")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return "", errors.New("gemini: api key is required")
	}
	if strings.TrimSpace(model) == "" {
		return "", errors.New("gemini: model is required")
	}

	body, err := json.Marshal(generateReq{Contents: contents})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.BaseURL, model, c.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// Surface the context error directly so deadline expiry stays
		// recognizable with errors.Is at the pipeline layer.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}

	var decoded generateResp
	// Tolerate an undecodable body on error statuses; classification then
	// falls back to the status code alone.
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ue := &UpstreamError{StatusCode: resp.StatusCode}
		if decoded.Error != nil {
			ue.Status = decoded.Error.Status
			ue.Message = decoded.Error.Message
		} else {
			ue.Message = strings.TrimSpace(string(raw))
		}
		return "", ue
	}
	if decoded.Error != nil {
		return "", &UpstreamError{
			StatusCode: resp.StatusCode,
			Status:     decoded.Error.Status,
			Message:    decoded.Error.Message,
		}
	}

	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	return decoded.Candidates[0].Content.Parts[0].Text, nil
}
