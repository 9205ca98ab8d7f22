// Package ocrclient wraps the OCR collaborator interface (spec.md §6): a
// multipart POST of a PDF that returns per-page text elements with
// confidence scores. Grounded on
// original_source/extraction/ocr_service_client.py for the wire shape, and
// on the teacher's internal/api for plain net/http client/server style (no
// framework).
package ocrclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TextElement is one recognized text span on a page (spec.md §6).
type TextElement struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// PageResult is the OCR output for a single page.
type PageResult struct {
	Page         int           `json:"page"`
	TextElements []TextElement `json:"text_elements"`
}

// Result is the full OCR service response for one document.
type Result struct {
	FileID           string       `json:"file_id"`
	PageCount        int          `json:"page_count"`
	ImagePaths       []string     `json:"image_paths"`
	TotalTextElements int         `json:"total_text_elements"`
	PageResults      []PageResult `json:"page_results"`
	CombinedText     string       `json:"combined_text"`
}

// AverageConfidence returns the mean confidence (0-100) across every text
// element, or 0 if none were extracted.
func (r Result) AverageConfidence() float64 {
	var sum float64
	var count int
	for _, page := range r.PageResults {
		for _, el := range page.TextElements {
			sum += el.Confidence
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return (sum / float64(count)) * 100
}

// Options configures a ProcessPDF call (spec.md §6 parameters).
type Options struct {
	UseGPU        bool
	Language      string
	MinConfidence float64
	DPI           int
}

// Client calls the external OCR collaborator over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New builds a Client with the given base URL (the full process_pdf
// endpoint) and request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: timeout}}
}

// CheckHealth reports whether the OCR service answers healthy at its
// /health endpoint, derived from BaseURL the way
// ocr_service_client.py::check_health does.
func (c *Client) CheckHealth(ctx context.Context) (bool, error) {
	healthURL := healthURLFor(c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return false, fmt.Errorf("ocrclient: build health request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("ocrclient: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, nil
	}
	return body.Status == "healthy", nil
}

func healthURLFor(processURL string) string {
	return strings.Replace(processURL, "/v1/ocr/process_pdf", "/health", 1)
}

// ProcessPDF posts pdfPath to the OCR service and returns its structured
// result, matching ocr_service_client.py::process_pdf's multipart shape.
func (c *Client) ProcessPDF(ctx context.Context, pdfPath string, opts Options) (Result, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return Result{}, fmt.Errorf("ocrclient: open %s: %w", pdfPath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(pdfPath))
	if err != nil {
		return Result{}, fmt.Errorf("ocrclient: create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return Result{}, fmt.Errorf("ocrclient: copy pdf contents: %w", err)
	}

	fields := map[string]string{
		"use_gpu":        strconv.FormatBool(opts.UseGPU),
		"language":       opts.Language,
		"min_confidence": strconv.FormatFloat(opts.MinConfidence, 'f', -1, 64),
		"dpi":            strconv.Itoa(opts.DPI),
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return Result{}, fmt.Errorf("ocrclient: write field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("ocrclient: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, &body)
	if err != nil {
		return Result{}, fmt.Errorf("ocrclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("ocrclient: process pdf %s: %w", pdfPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("ocrclient: service error %d: %s", resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("ocrclient: decode response: %w", err)
	}
	return result, nil
}
