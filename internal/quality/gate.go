// Package quality implements the liveness/quality gate that filters
// degenerate captures before the embedding step: frames with zero or
// multiple faces, low resolution or sharpness, and spoof-suspect inputs.
package quality

import (
	"context"
	"fmt"

	"github.com/veritime/facegate/internal/config"
	"github.com/veritime/facegate/internal/store"
)

// Rejection is a terminal gate decision with a machine-readable reason.
// It is a definitive input error, never retried.
type Rejection struct {
	Reason store.Reason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("quality gate rejected input: %s (%s)", r.Reason, r.Detail)
}

// Detection describes the faces found in a capture.
type Detection struct {
	Count    int     // number of detected faces
	DetScore float64 // detection confidence of the best face
	Liveness float64 // anti-spoofing score of the best face, 0-1
}

// FaceDetector reports detected faces for an image. Implemented by the
// face service client; errors are transient and classified upstream.
type FaceDetector interface {
	DetectFaces(ctx context.Context, imageData []byte) (*Detection, error)
}

// Accepted is the gate output for a usable capture.
type Accepted struct {
	Image     []byte // normalized (decoded, downscaled, re-encoded) image
	Width     int
	Height    int
	Sharpness float64
	DetScore  float64
}

// Gate evaluates raw captures against the configured quality floor.
type Gate struct {
	cfg      config.QualityConfig
	detector FaceDetector
}

// NewGate creates a quality gate.
func NewGate(cfg config.QualityConfig, detector FaceDetector) *Gate {
	return &Gate{cfg: cfg, detector: detector}
}

// Evaluate checks a raw capture and returns the normalized image on
// acceptance. Returns a *Rejection for definitive input errors; any other
// error is transient (detector unavailable).
func (g *Gate) Evaluate(ctx context.Context, imageData []byte) (*Accepted, error) {
	img, err := decodeImage(imageData)
	if err != nil {
		return nil, &Rejection{Reason: store.ReasonLowQuality, Detail: fmt.Sprintf("undecodable image: %v", err)}
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < g.cfg.MinWidth || height < g.cfg.MinHeight {
		return nil, &Rejection{
			Reason: store.ReasonLowQuality,
			Detail: fmt.Sprintf("resolution %dx%d below minimum %dx%d", width, height, g.cfg.MinWidth, g.cfg.MinHeight),
		}
	}

	sharpness := laplacianVariance(img)
	if sharpness < g.cfg.MinSharpness {
		return nil, &Rejection{
			Reason: store.ReasonLowQuality,
			Detail: fmt.Sprintf("sharpness %.2f below minimum %.2f", sharpness, g.cfg.MinSharpness),
		}
	}

	normalized, normWidth, normHeight, err := normalizeImage(img, g.cfg.MaxEdge)
	if err != nil {
		return nil, fmt.Errorf("normalize image: %w", err)
	}

	det, err := g.detector.DetectFaces(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("face detection: %w", err)
	}

	switch {
	case det.Count == 0:
		return nil, &Rejection{Reason: store.ReasonNoFace, Detail: "no detectable face"}
	case det.Count > 1:
		return nil, &Rejection{Reason: store.ReasonMultiFace, Detail: fmt.Sprintf("%d faces detected", det.Count)}
	case det.DetScore < g.cfg.MinDetScore:
		return nil, &Rejection{
			Reason: store.ReasonLowQuality,
			Detail: fmt.Sprintf("detection score %.2f below minimum %.2f", det.DetScore, g.cfg.MinDetScore),
		}
	case det.Liveness < g.cfg.MinLiveness:
		return nil, &Rejection{
			Reason: store.ReasonSpoofSuspect,
			Detail: fmt.Sprintf("liveness score %.2f below minimum %.2f", det.Liveness, g.cfg.MinLiveness),
		}
	}

	return &Accepted{
		Image:     normalized,
		Width:     normWidth,
		Height:    normHeight,
		Sharpness: sharpness,
		DetScore:  det.DetScore,
	}, nil
}
