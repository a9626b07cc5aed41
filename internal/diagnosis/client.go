// Package diagnosis invokes the external crop-diagnosis engine and validates
// image constraints before the call.
package diagnosis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/agrodiag/agrodiag/internal/config"
)

// Validation errors reported before the engine is called.
var (
	ErrImageTooLarge       = errors.New("image exceeds maximum size")
	ErrUnsupportedMimeType = errors.New("unsupported image mime type")
	ErrEmptyImage          = errors.New("image is empty")
)

// Invoker is the capability the conversation machine depends on.
type Invoker interface {
	Invoke(ctx context.Context, input Input) (Result, error)
}

// Client calls the diagnosis engine over HTTP.
type Client struct {
	baseURL       string
	apiKey        string
	maxImageBytes int64
	acceptedMimes []string
	httpClient    *http.Client
	logger        *slog.Logger
}

func NewClient(log *slog.Logger, cfg config.DiagnosisConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	maxBytes := cfg.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = config.DefaultMaxImageBytes
	}
	mimes := cfg.AcceptedMimes
	if len(mimes) == 0 {
		mimes = []string{"image/jpeg", "image/png", "image/webp"}
	}
	return &Client{
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:        strings.TrimSpace(cfg.APIKey),
		maxImageBytes: maxBytes,
		acceptedMimes: mimes,
		httpClient:    &http.Client{Timeout: cfg.TimeoutDuration()},
		logger:        log.With(slog.String("service", "diagnosis")),
	}
}

// ValidateImage checks the size and MIME constraints without calling out.
func (c *Client) ValidateImage(data []byte, mimeType string) error {
	if len(data) == 0 {
		return ErrEmptyImage
	}
	if int64(len(data)) > c.maxImageBytes {
		return ErrImageTooLarge
	}
	normalized := strings.ToLower(strings.TrimSpace(mimeType))
	for _, accepted := range c.acceptedMimes {
		if normalized == accepted {
			return nil
		}
	}
	return ErrUnsupportedMimeType
}

type engineResponse struct {
	Status           string  `json:"status"`
	Message          string  `json:"message"`
	ReportMarkdown   string  `json:"report_markdown"`
	Confidence       float64 `json:"confidence"`
	RemainingCredits int     `json:"remaining_credits"`
	ResultImageURL   string  `json:"result_image_url"`
}

// Invoke validates the image and submits the bundle to the engine. Transport
// and decode failures are returned as errors; engine-reported outcomes
// (including failures) come back as a Result.
func (c *Client) Invoke(ctx context.Context, input Input) (Result, error) {
	if c.baseURL == "" {
		return Result{}, errors.New("diagnosis engine base url not configured")
	}
	if err := c.ValidateImage(input.Image, input.MimeType); err != nil {
		return Result{}, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"account_id": input.AccountID,
		"crop_name":  input.CropName,
		"notes":      input.Notes,
		"channel":    input.Provider.String(),
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return Result{}, fmt.Errorf("diagnosis request encode: %w", err)
		}
	}
	part, err := writer.CreateFormFile("image", "image"+extensionFromMime(input.MimeType))
	if err != nil {
		return Result{}, fmt.Errorf("diagnosis request encode: %w", err)
	}
	if _, err := part.Write(input.Image); err != nil {
		return Result{}, fmt.Errorf("diagnosis request encode: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("diagnosis request encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/diagnose", &body)
	if err != nil {
		return Result{}, fmt.Errorf("diagnosis request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("diagnosis call: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("diagnosis response read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("diagnosis engine status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded engineResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Result{}, fmt.Errorf("diagnosis response decode: %w", err)
	}
	c.logger.Info("engine call complete",
		slog.String("status", decoded.Status),
		slog.String("crop", input.CropName),
		slog.Duration("elapsed", time.Since(started)),
	)
	return mapEngineResponse(decoded)
}

func mapEngineResponse(resp engineResponse) (Result, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Status)) {
	case "needs_better_image":
		return Result{
			Kind:    KindNeedsBetterImage,
			Message: resp.Message,
		}, nil
	case "error", "failure":
		return Result{
			Kind:    KindFailure,
			Message: resp.Message,
		}, nil
	case "success", "ok":
		return Result{
			Kind:             KindSuccess,
			ReportMarkdown:   resp.ReportMarkdown,
			Confidence:       resp.Confidence,
			RemainingCredits: resp.RemainingCredits,
			ResultImageURL:   resp.ResultImageURL,
		}, nil
	default:
		return Result{}, fmt.Errorf("diagnosis engine returned unknown status: %q", resp.Status)
	}
}

func extensionFromMime(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
