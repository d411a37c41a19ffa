package preprocessing

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"strings"
	"testing"
)

func encodePNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeAndPreprocessNormalises(t *testing.T) {
	processor := NewImageProcessor(4)
	data := encodePNG(t, 1, 1, color.RGBA{255, 0, 128, 255})

	img, err := processor.DecodeAndPreprocess(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeAndPreprocess failed: %v", err)
	}
	if img.Width != 4 || img.Height != 4 || img.Channels != 3 {
		t.Fatalf("unexpected dims %dx%dx%d", img.Channels, img.Height, img.Width)
	}
	if len(img.Data) != 3*4*4 {
		t.Fatalf("expected %d values, got %d", 3*4*4, len(img.Data))
	}

	// A 1x1 source upscales to a uniform image.
	want := []float32{
		(1 - ImageNetMean[0]) / ImageNetStd[0],
		(0 - ImageNetMean[1]) / ImageNetStd[1],
		(128.0/255.0 - ImageNetMean[2]) / ImageNetStd[2],
	}
	for c := 0; c < 3; c++ {
		for i := 0; i < 16; i++ {
			got := img.Data[c*16+i]
			if math.Abs(float64(got-want[c])) > 1e-2 {
				t.Fatalf("channel %d pixel %d: expected %f, got %f", c, i, want[c], got)
			}
		}
	}
}

func TestDecodeAndPreprocessDropsAlphaWithoutDarkening(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: 64})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}

	img, err := NewImageProcessor(2).DecodeAndPreprocess(&buf)
	if err != nil {
		t.Fatalf("DecodeAndPreprocess failed: %v", err)
	}

	// Straight RGB survives; a premultiplied resize would give 200·64/255.
	straight := [3]float32{200.0 / 255, 100.0 / 255, 50.0 / 255}
	for c := 0; c < 3; c++ {
		want := (straight[c] - ImageNetMean[c]) / ImageNetStd[c]
		for i := 0; i < 4; i++ {
			got := img.Data[c*4+i]
			if math.Abs(float64(got-want)) > 1e-2 {
				t.Fatalf("channel %d pixel %d: expected %f, got %f", c, i, want, got)
			}
		}
	}
}

func TestDecodeAndPreprocessJPEG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 32, 16))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode JPEG: %v", err)
	}

	img, err := NewImageProcessor(8).DecodeAndPreprocess(&buf)
	if err != nil {
		t.Fatalf("DecodeAndPreprocess failed: %v", err)
	}
	if len(img.Data) != 3*8*8 {
		t.Errorf("expected %d values, got %d", 3*8*8, len(img.Data))
	}
}

func TestDecodeAndPreprocessInvalid(t *testing.T) {
	_, err := NewImageProcessor(8).DecodeAndPreprocess(strings.NewReader("not an image"))
	if err == nil {
		t.Error("expected decode error")
	}
}

func TestDecodeBase64Variants(t *testing.T) {
	payload := encodePNG(t, 1, 1, color.RGBA{1, 2, 3, 255})

	for name, enc := range map[string]*base64.Encoding{
		"url":     base64.URLEncoding,
		"raw-url": base64.RawURLEncoding,
		"std":     base64.StdEncoding,
	} {
		got, err := DecodeBase64(enc.EncodeToString(payload) + "\n")
		if err != nil {
			t.Errorf("%s: decode failed: %v", name, err)
			continue
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("%s: payload mismatch", name)
		}
	}

	if _, err := DecodeBase64("***"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestDecodeBase64Image(t *testing.T) {
	payload := base64.URLEncoding.EncodeToString(encodePNG(t, 2, 2, color.RGBA{0, 0, 0, 255}))
	img, err := NewImageProcessor(2).DecodeBase64Image(payload)
	if err != nil {
		t.Fatalf("DecodeBase64Image failed: %v", err)
	}
	expected := (0 - ImageNetMean[0]) / ImageNetStd[0]
	if math.Abs(float64(img.Data[0]-expected)) > 1e-5 {
		t.Errorf("expected %f, got %f", expected, img.Data[0])
	}
}
