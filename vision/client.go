// Package vision extracts ad copy out of creative images using a
// vision-capable model. It is an enrichment collaborator: per-image failures
// are reported, never escalated into job failures.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/use-agent/adscope/config"
	"github.com/use-agent/adscope/models"
)

const anthropicVersion = "2023-06-01"

// extractionPrompt asks for exactly the fields of models.VisionReply.
const extractionPrompt = `This is a screenshot of an online advertisement. Extract the visible text into JSON with these fields:
- headline: the main headline text
- description: supporting body text
- callToAction: button or link text such as "Shop Now" or "Learn More"
- visibleUrl: any displayed URL or domain
- brandName: the advertiser or brand name shown
- allText: all readable text in the image, in reading order

Return ONLY valid JSON, no markdown fences or explanation. Use an empty string for fields that are not present.`

// Client calls the vision model's messages API.
// It uses net/http directly; no SDK needed for one endpoint.
type Client struct {
	cfg        config.VisionConfig
	httpClient *http.Client
	fetcher    *imageFetcher
}

func NewClient(cfg config.VisionConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		fetcher:    newImageFetcher(),
	}
}

// Configured reports whether an API key is present. Unconfigured clients skip
// enrichment instead of failing.
func (c *Client) Configured() bool { return c.cfg.APIKey != "" }

// messagesRequest is the request body for the messages API.
type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// messagesResponse is the minimal response shape we need.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ExtractAdText downloads one creative image and asks the model for its text
// fields.
func (c *Client) ExtractAdText(ctx context.Context, imageURL string) (*models.VisionReply, error) {
	if !c.Configured() {
		return nil, models.NewScrapeError(models.ErrCodeNotConfigured,
			"vision API key is not configured (ANTHROPIC_API_KEY)", nil)
	}

	imgData, mediaType, err := c.fetcher.fetch(ctx, imageURL)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeVisionFailure,
			"failed to download creative image", err)
	}

	reqBody := messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: 1024,
		Messages: []message{{
			Role: "user",
			Content: []contentBlock{
				{Type: "image", Source: &imageSource{
					Type:      "base64",
					MediaType: mediaType,
					Data:      base64.StdEncoding.EncodeToString(imgData),
				}},
				{Type: "text", Text: extractionPrompt},
			},
		}},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInternal, "marshal vision request", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInternal, "build vision request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeVisionFailure, "vision request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeVisionFailure, "read vision response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyVisionError(resp.StatusCode, respBody)
	}

	var mr messagesResponse
	if err := json.Unmarshal(respBody, &mr); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeVisionFailure, "parse vision response", err)
	}

	for _, block := range mr.Content {
		if block.Type == "text" {
			return parseReply(block.Text)
		}
	}
	return nil, models.NewScrapeError(models.ErrCodeVisionFailure, "vision returned no text content", nil)
}

// parseReply pulls the JSON object out of the model's text, tolerating stray
// prose or fences around it.
func parseReply(text string) (*models.VisionReply, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, models.NewScrapeError(models.ErrCodeVisionFailure, "vision reply contained no JSON", nil)
	}
	var reply models.VisionReply
	if err := json.Unmarshal([]byte(text[start:end+1]), &reply); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeVisionFailure, "vision reply was not valid JSON", err)
	}
	return &reply, nil
}

// classifyVisionError maps HTTP status codes to appropriate error codes.
func classifyVisionError(statusCode int, body []byte) *models.ScrapeError {
	var mr messagesResponse
	msg := "vision API error"
	if err := json.Unmarshal(body, &mr); err == nil && mr.Error != nil && mr.Error.Message != "" {
		msg = mr.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return models.NewScrapeError(models.ErrCodeVisionAuthFailure, msg, nil)
	case statusCode == http.StatusTooManyRequests:
		return models.NewScrapeError(models.ErrCodeVisionRateLimited, msg, nil)
	default:
		return models.NewScrapeError(models.ErrCodeVisionFailure,
			fmt.Sprintf("vision API returned %d: %s", statusCode, msg), nil)
	}
}
