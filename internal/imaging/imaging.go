// Package imaging provides the image decode/resize helpers shared by the
// face recognition backends. The local dlib recognizer only accepts JPEG
// input and AWS Rekognition caps images at 5 MB, so both re-encoding and
// budgeted downsizing live here.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

const defaultJPEGQuality = 85

// jpegQualitySteps are tried in order when shrinking an image under a byte
// budget.
var jpegQualitySteps = []int{85, 80, 75, 70, 65}

// Decode decodes JPEG, PNG, GIF or BMP bytes.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// IsJPEG reports whether the data starts with a JPEG marker.
func IsJPEG(data []byte) bool {
	return len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF
}

// EnsureJPEG returns the data unchanged when it already is a JPEG,
// otherwise decodes and re-encodes it.
func EnsureJPEG(data []byte) ([]byte, error) {
	if IsJPEG(data) {
		return data, nil
	}

	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: defaultJPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// Resize scales an image to fit within maxSize pixels on the longer edge
// while keeping the aspect ratio. Returns JPEG-encoded bytes. Images that
// already fit are returned unchanged.
func Resize(data []byte, maxSize int) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxSize && height <= maxSize {
		return EnsureJPEG(data)
	}

	resized := scale(img, width, height, maxSize)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: defaultJPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}

// FitUnderBytes shrinks an image until its JPEG encoding fits the byte
// budget, stepping down dimensions and quality. Returns the smallest
// rendition produced if the budget cannot be reached.
func FitUnderBytes(data []byte, maxBytes int, maxDim int) ([]byte, error) {
	if len(data) <= maxBytes {
		return data, nil
	}

	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	smallest := data
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	for {
		resized := scale(img, width, height, maxDim)

		for _, quality := range jpegQualitySteps {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality}); err != nil {
				return nil, fmt.Errorf("failed to encode resized image: %w", err)
			}
			out := buf.Bytes()
			if len(out) <= maxBytes {
				return out, nil
			}
			if len(out) < len(smallest) {
				smallest = out
			}
		}

		if maxDim <= 300 {
			return smallest, nil
		}
		maxDim = maxDim * 85 / 100
	}
}

func scale(img image.Image, width, height, maxSize int) *image.RGBA {
	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = height * maxSize / width
	} else {
		newHeight = maxSize
		newWidth = width * maxSize / height
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}
