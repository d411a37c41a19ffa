package preprocessing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"sync"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageNet channel statistics applied after scaling pixels to [0, 1].
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// ImageProcessor decodes images and turns them into normalised CHW float32
// data of a fixed square size. It reuses its resize buffer and is safe for
// concurrent use, though callers wanting parallelism should use one
// processor per worker.
type ImageProcessor struct {
	mu              sync.Mutex
	tempImageBuffer *image.RGBA
	targetSize      int
	mean            [3]float32
	std             [3]float32
	interpolator    draw.Interpolator
}

// NewImageProcessor creates a processor resizing to targetSize×targetSize
// with bicubic (Catmull-Rom) interpolation and ImageNet normalisation.
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize:   targetSize,
		mean:         ImageNetMean,
		std:          ImageNetStd,
		interpolator: draw.CatmullRom,
	}
}

// ProcessedImage represents a preprocessed image ready for the image encoder
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// DecodeBase64 decodes an image payload as it appears in a record. URL-safe
// encoding is expected; padding is optional and standard encoding is
// accepted as a fallback.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	encodings := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to decode base64 image: %w", lastErr)
}

// DecodeAndPreprocess decodes an image (JPEG, PNG, GIF or WebP), converts it
// to RGB, resizes it and returns CHW data normalised with the per-channel
// mean and std.
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*ProcessedImage, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Reuse image buffer
	if p.tempImageBuffer == nil {
		p.tempImageBuffer = image.NewRGBA(image.Rect(0, 0, p.targetSize, p.targetSize))
	}
	targetImg := p.tempImageBuffer

	// Scale ignores aspect ratio, matching a (size, size) resize.
	src := dropAlpha(img)
	p.interpolator.Scale(targetImg, targetImg.Bounds(), src, src.Bounds(), draw.Src, nil)

	plane := p.targetSize * p.targetSize
	data := make([]float32, 3*plane)
	pix := targetImg.Pix
	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			idx := y*p.targetSize + x
			off := targetImg.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := float32(pix[off+c]) / 255.0
				data[c*plane+idx] = (v - p.mean[c]) / p.std[c]
			}
		}
	}

	return &ProcessedImage{
		Data:     data,
		Width:    p.targetSize,
		Height:   p.targetSize,
		Channels: 3,
	}, nil
}

// dropAlpha returns img with every pixel made opaque while keeping its
// straight (non-premultiplied) RGB, so translucent pixels keep their colour
// instead of being darkened towards black. Opaque images are returned as is.
func dropAlpha(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	if n, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			row := out.Pix[y*out.Stride : y*out.Stride+4*b.Dx()]
			srcRow := n.Pix[n.PixOffset(b.Min.X, b.Min.Y+y):]
			copy(row, srcRow[:4*b.Dx()])
			for i := 3; i < len(row); i += 4 {
				row[i] = 0xff
			}
		}
		return out
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 0xff
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

// DecodeBase64Image is DecodeBase64 followed by DecodeAndPreprocess.
func (p *ImageProcessor) DecodeBase64Image(payload string) (*ProcessedImage, error) {
	raw, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	return p.DecodeAndPreprocess(bytes.NewReader(raw))
}
