package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agrodiag/agrodiag/internal/channel"
	"github.com/agrodiag/agrodiag/internal/config"
)

func newTestClient(baseURL string) *Client {
	return NewClient(slog.Default(), config.DiagnosisConfig{
		BaseURL:       baseURL,
		APIKey:        "engine-key",
		Timeout:       "5s",
		MaxImageBytes: 1024,
		AcceptedMimes: []string{"image/jpeg", "image/png"},
	})
}

func testInput() Input {
	return Input{
		AccountID: "acc-1",
		CropName:  "tomate",
		Notes:     "manchas amarillas",
		Image:     []byte("jpegbytes"),
		MimeType:  "image/jpeg",
		Provider:  channel.ProviderWhatsApp,
	}
}

func TestValidateImage(t *testing.T) {
	t.Parallel()
	c := newTestClient("http://unused")

	if err := c.ValidateImage(nil, "image/jpeg"); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("empty image error = %v, want ErrEmptyImage", err)
	}
	if err := c.ValidateImage(make([]byte, 2048), "image/jpeg"); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("oversize error = %v, want ErrImageTooLarge", err)
	}
	if err := c.ValidateImage([]byte("x"), "application/pdf"); !errors.Is(err, ErrUnsupportedMimeType) {
		t.Fatalf("mime error = %v, want ErrUnsupportedMimeType", err)
	}
	if err := c.ValidateImage([]byte("x"), "IMAGE/JPEG"); err != nil {
		t.Fatalf("mime should match case-insensitively, got %v", err)
	}
}

func TestInvokeSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/diagnose" {
			t.Errorf("path = %q, want /v1/diagnose", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer engine-key" {
			t.Errorf("auth header = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart parse: %v", err)
		}
		if got := r.FormValue("crop_name"); got != "tomate" {
			t.Errorf("crop_name = %q", got)
		}
		if got := r.FormValue("channel"); got != "whatsapp" {
			t.Errorf("channel = %q", got)
		}
		if _, _, err := r.FormFile("image"); err != nil {
			t.Errorf("image file: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":            "success",
			"report_markdown":   "## Informe",
			"confidence":        0.87,
			"remaining_credits": 4,
		})
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Invoke(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if result.Kind != KindSuccess || result.Confidence != 0.87 || result.RemainingCredits != 4 {
		t.Fatalf("result = %+v", result)
	}
}

func TestInvokeNeedsBetterImage(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "needs_better_image",
			"message": "La imagen está borrosa.",
		})
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL).Invoke(context.Background(), testInput())
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if result.Kind != KindNeedsBetterImage || result.Message != "La imagen está borrosa." {
		t.Fatalf("result = %+v", result)
	}
}

func TestInvokeEngineHTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).Invoke(context.Background(), testInput()); err == nil {
		t.Fatal("expected error on non-2xx engine status")
	}
}

func TestInvokeUnknownStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "sideways"})
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).Invoke(context.Background(), testInput()); err == nil {
		t.Fatal("expected error on unknown engine status")
	}
}

func TestInvokeRejectsInvalidImageBeforeCall(t *testing.T) {
	t.Parallel()
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	input := testInput()
	input.MimeType = "application/pdf"
	if _, err := newTestClient(srv.URL).Invoke(context.Background(), input); !errors.Is(err, ErrUnsupportedMimeType) {
		t.Fatalf("error = %v, want ErrUnsupportedMimeType", err)
	}
	if called {
		t.Fatal("engine must not be called for an invalid image")
	}
}
