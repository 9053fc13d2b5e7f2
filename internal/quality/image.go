package quality

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// decodeImage decodes JPEG, PNG or WebP image data.
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return img, nil
}

// toGray converts an image to grayscale.
func toGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

// laplacianVariance measures image sharpness as the variance of the
// 4-neighbor Laplacian over the grayscale image. Blurred captures score low.
func laplacianVariance(img image.Image) float64 {
	gray := toGray(img)
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 3 || height < 3 {
		return 0
	}

	var sum, sumSq float64
	n := 0
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			center := float64(gray.GrayAt(x, y).Y)
			lap := float64(gray.GrayAt(x-1, y).Y) +
				float64(gray.GrayAt(x+1, y).Y) +
				float64(gray.GrayAt(x, y-1).Y) +
				float64(gray.GrayAt(x, y+1).Y) -
				4*center
			sum += lap
			sumSq += lap * lap
			n++
		}
	}

	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// normalizeImage downscales images whose longest edge exceeds maxEdge and
// re-encodes as JPEG. Images within bounds are re-encoded unchanged so the
// extractor always receives a predictable format.
func normalizeImage(img image.Image, maxEdge int) ([]byte, int, int, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if maxEdge > 0 && (width > maxEdge || height > maxEdge) {
		scale := float64(maxEdge) / float64(max(width, height))
		newWidth := int(float64(width) * scale)
		newHeight := int(float64(height) * scale)

		dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
		img = dst
		width, height = newWidth, newHeight
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), width, height, nil
}
