// Package generation calls the external image-generation API that renders
// a person wearing a garment.
package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/tryitout/internal/common"
	"github.com/dmitrijs2005/tryitout/internal/logging"
	"github.com/tidwall/gjson"
)

// Image-capable models tried after the configured one.
var fallbackModels = []string{
	"gemini-2.5-flash-image-preview",
	"gemini-2.0-flash-preview-image-generation",
}

// ErrNoImage is returned when the API answered but produced no image part.
var ErrNoImage = common.NewError(common.ErrUpstream, "generation did not return an image")

type Request struct {
	UserImage         []byte
	UserImageMIME     string
	ClothingImage     []byte
	ClothingImageMIME string
	Background        string
}

type GeminiClient struct {
	baseURL string
	apiKey  string
	models  []string
	client  *http.Client
	logger  logging.Logger
}

func NewGeminiClient(baseURL, apiKey, model string, client *http.Client, logger logging.Logger) *GeminiClient {
	if client == nil {
		client = http.DefaultClient
	}
	models := make([]string, 0, len(fallbackModels)+1)
	seen := map[string]bool{}
	for _, m := range append([]string{model}, fallbackModels...) {
		if m != "" && !seen[m] {
			seen[m] = true
			models = append(models, m)
		}
	}
	return &GeminiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		models:  models,
		client:  client,
		logger:  logger,
	}
}

// Generate returns the rendered image as base64. Models are tried in order;
// a missing model, quota or server error or a transport failure moves on to
// the next one, any other status stops immediately.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", common.NewError(common.ErrNotConfigured, "generation API key is not set")
	}

	body, err := json.Marshal(buildPayload(req))
	if err != nil {
		return "", err
	}

	var lastErr string
	for _, model := range c.models {
		status, data, err := c.call(ctx, model, body)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.logger.Warn(ctx, "generation request failed", "model", model, "error", err)
			lastErr = err.Error()
			continue
		}

		switch status {
		case http.StatusOK:
			return extractImage(data)
		case http.StatusNotFound, http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable:
			c.logger.Warn(ctx, "generation model unavailable", "model", model, "status", status, "body", truncate(data, 300))
			lastErr = fmt.Sprintf("%d %s", status, truncate(data, 300))
			continue
		default:
			c.logger.Error(ctx, "generation API error", "model", model, "status", status, "body", truncate(data, 500))
			return "", fmt.Errorf("%w: generation API status %d", common.ErrUpstream, status)
		}
	}

	if lastErr == "" {
		lastErr = "model not found"
	}
	return "", fmt.Errorf("%w: all generation models failed: %s", common.ErrUpstream, lastErr)
}

func (c *GeminiClient) call(ctx context.Context, model string, body []byte) (int, []byte, error) {
	u := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, url.PathEscape(model), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, redactKey(err, c.apiKey)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// extractImage accepts both snake and camel case inline data parts, then
// the flat {"image_base64"|"data"|"image": "..."} shapes.
func extractImage(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", ErrNoImage
	}
	res := gjson.ParseBytes(data)

	var found string
	res.Get("candidates").ForEach(func(_, cand gjson.Result) bool {
		cand.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
			inline := part.Get("inline_data")
			if !inline.Exists() {
				inline = part.Get("inlineData")
			}
			if !inline.IsObject() {
				return true
			}
			mime := inline.Get("mime_type").String()
			if mime == "" {
				mime = inline.Get("mimeType").String()
			}
			img := inline.Get("data").String()
			if img != "" && (mime == "" || strings.HasPrefix(mime, "image/")) {
				found = img
				return false
			}
			return true
		})
		return found == ""
	})
	if found != "" {
		return found, nil
	}

	for _, key := range []string{"image_base64", "data", "image"} {
		if v := res.Get(key); v.Type == gjson.String && v.String() != "" {
			return v.String(), nil
		}
	}
	return "", ErrNoImage
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type payload struct {
	Contents []content `json:"contents"`
}

func buildPayload(req Request) payload {
	return payload{Contents: []content{{
		Role: "user",
		Parts: []part{
			{Text: prompt(req.Background)},
			{InlineData: &inlineData{MimeType: mimeOr(req.UserImageMIME), Data: base64.StdEncoding.EncodeToString(req.UserImage)}},
			{InlineData: &inlineData{MimeType: mimeOr(req.ClothingImageMIME), Data: base64.StdEncoding.EncodeToString(req.ClothingImage)}},
		},
	}}}
}

func prompt(background string) string {
	return "Produce one photorealistic image of the person in the first image wearing the garment shown in the second image. " +
		"Keep the head, face, hair and expression from the first image unchanged and edit only from the neck down. " +
		"Match the garment's fabric, color, pattern and cut, with natural drape and lighting. " +
		"The second image is a garment reference only: never copy any person or face from it. " +
		"Exactly one person, no collage, inset, frame, border, text or watermark. " +
		"Set the background to " + background + ". Return a single inline PNG image."
}

func mimeOr(m string) string {
	if m == "" {
		return "image/png"
	}
	return m
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

func redactKey(err error, key string) error {
	var uerr *url.Error
	if key != "" && errors.As(err, &uerr) {
		return errors.New(strings.ReplaceAll(uerr.Error(), key, "REDACTED"))
	}
	return err
}
