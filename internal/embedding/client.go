package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/veritime/facegate/internal/config"
	"github.com/veritime/facegate/internal/quality"
)

// Client talks to the face service over HTTP. It implements both the
// Provider interface and the quality gate's FaceDetector.
type Client struct {
	baseURL      string
	dim          int
	modelVersion string
	client       *http.Client
}

// NewClient creates a face service client from configuration.
func NewClient(cfg config.EmbeddingConfig) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(cfg.URL, "/"),
		dim:          cfg.Dim,
		modelVersion: cfg.ModelVersion,
		client:       &http.Client{Timeout: cfg.Timeout},
	}
}

// detectResponse is the face service response for /detect.
type detectResponse struct {
	FacesCount int     `json:"faces_count"`
	DetScore   float64 `json:"det_score"`
	Liveness   float64 `json:"liveness"`
	Model      string  `json:"model"`
}

// embedResponse is the face service response for /embed/face.
type embedResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// modelResponse is the face service response for /model.
type modelResponse struct {
	Model string `json:"model"`
	Dim   int    `json:"dim"`
}

// postMultipartImage constructs a multipart form with the image data and
// posts it to the given endpoint. The part carries an explicit Content-Type
// based on magic byte detection.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ExtractionError{Kind: FailureUnavailable, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExtractionError{Kind: FailureUnavailable, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return nil, &ExtractionError{
			Kind: FailureMalformed,
			Err:  fmt.Errorf("face service rejected input (status %d): %s", resp.StatusCode, string(body)),
		}
	default:
		return nil, &ExtractionError{
			Kind: FailureUnavailable,
			Err:  fmt.Errorf("face service error (status %d): %s", resp.StatusCode, string(body)),
		}
	}
}

// DetectFaces reports the faces found in an image.
func (c *Client) DetectFaces(ctx context.Context, imageData []byte) (*quality.Detection, error) {
	body, err := c.postMultipartImage(ctx, "/detect", imageData)
	if err != nil {
		return nil, err
	}

	var detResp detectResponse
	if err := json.Unmarshal(body, &detResp); err != nil {
		return nil, &ExtractionError{Kind: FailureUnavailable, Err: fmt.Errorf("parse response: %w", err)}
	}

	return &quality.Detection{
		Count:    detResp.FacesCount,
		DetScore: detResp.DetScore,
		Liveness: detResp.Liveness,
	}, nil
}

// Extract computes the embedding for the single face in the image.
func (c *Client) Extract(ctx context.Context, imageData []byte) (*Result, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var embResp embedResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, &ExtractionError{Kind: FailureUnavailable, Err: fmt.Errorf("parse response: %w", err)}
	}

	if len(embResp.Embedding) == 0 {
		return nil, &ExtractionError{Kind: FailureMalformed, Err: errors.New("empty embedding returned")}
	}
	if len(embResp.Embedding) != c.dim {
		return nil, &ExtractionError{
			Kind: FailureMalformed,
			Err:  fmt.Errorf("embedding dimension %d does not match configured %d", len(embResp.Embedding), c.dim),
		}
	}

	return &Result{
		Embedding:    embResp.Embedding,
		Dim:          len(embResp.Embedding),
		ModelVersion: c.modelVersion,
	}, nil
}

// ModelVersion identifies the model producing the embeddings.
func (c *Client) ModelVersion() string {
	return c.modelVersion
}

// CheckModel validates at startup that the face service serves the
// configured model at the configured dimension.
func (c *Client) CheckModel(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/model", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("face service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("face service error (status %d): %s", resp.StatusCode, string(body))
	}

	var modelResp modelResponse
	if err := json.Unmarshal(body, &modelResp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	if modelResp.Dim != c.dim {
		return fmt.Errorf("face service dimension %d does not match configured %d", modelResp.Dim, c.dim)
	}
	return nil
}

// detectMIMEType detects the MIME type from image data.
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
