package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test PNG: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test JPEG: %v", err)
	}
	return buf.Bytes()
}

func TestIsJPEG(t *testing.T) {
	if !IsJPEG(encodeJPEG(t, 10, 10)) {
		t.Error("expected JPEG bytes to be detected")
	}
	if IsJPEG(encodePNG(t, 10, 10)) {
		t.Error("expected PNG bytes not to be detected as JPEG")
	}
}

func TestEnsureJPEG_ConvertsPNG(t *testing.T) {
	out, err := EnsureJPEG(encodePNG(t, 20, 20))
	if err != nil {
		t.Fatalf("EnsureJPEG failed: %v", err)
	}
	if !IsJPEG(out) {
		t.Error("expected output to be JPEG")
	}
}

func TestEnsureJPEG_PassthroughJPEG(t *testing.T) {
	in := encodeJPEG(t, 20, 20)
	out, err := EnsureJPEG(in)
	if err != nil {
		t.Fatalf("EnsureJPEG failed: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Error("expected JPEG input to pass through unchanged")
	}
}

func TestEnsureJPEG_InvalidData(t *testing.T) {
	if _, err := EnsureJPEG([]byte("not an image")); err == nil {
		t.Error("expected error for invalid image data")
	}
}

func TestResize_ShrinksLargeImage(t *testing.T) {
	out, err := Resize(encodePNG(t, 400, 200), 100)
	if err != nil {
		t.Fatalf("Resize failed: %v", err)
	}

	img, err := Decode(out)
	if err != nil {
		t.Fatalf("failed to decode resized image: %v", err)
	}
	if img.Bounds().Dx() != 100 {
		t.Errorf("expected width 100, got %d", img.Bounds().Dx())
	}
	if img.Bounds().Dy() != 50 {
		t.Errorf("expected height 50 (aspect preserved), got %d", img.Bounds().Dy())
	}
}

func TestResize_KeepsSmallImage(t *testing.T) {
	in := encodeJPEG(t, 50, 50)
	out, err := Resize(in, 100)
	if err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Error("expected image under the limit to pass through unchanged")
	}
}

func TestFitUnderBytes_AlreadySmall(t *testing.T) {
	in := encodeJPEG(t, 30, 30)
	out, err := FitUnderBytes(in, len(in)+1, 1600)
	if err != nil {
		t.Fatalf("FitUnderBytes failed: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Error("expected data under budget to pass through unchanged")
	}
}

func TestFitUnderBytes_ShrinksToBudget(t *testing.T) {
	in := encodePNG(t, 600, 600)
	budget := len(in) / 4

	out, err := FitUnderBytes(in, budget, 1600)
	if err != nil {
		t.Fatalf("FitUnderBytes failed: %v", err)
	}
	if len(out) > budget {
		t.Errorf("expected output under %d bytes, got %d", budget, len(out))
	}
	if _, err := Decode(out); err != nil {
		t.Errorf("output not decodable: %v", err)
	}
}
