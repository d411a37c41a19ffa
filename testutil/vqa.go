// Package testutil builds synthetic VQA fixtures for tests.
//
// Records follow the tab-separated layout of the real data files:
//
//	id \t image_id \t question \t answer \t base64(image)
//
// Images are tiny PNGs so the whole pipeline runs in milliseconds.
package testutil

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// PNGBase64 returns a URL-safe base64 encoded 1×1 PNG of colour c.
func PNGBase64(tb testing.TB, c color.RGBA) string {
	tb.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, c)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("failed to encode png: %v", err)
	}
	return base64.URLEncoding.EncodeToString(buf.Bytes())
}

// Record formats one data line.
func Record(id int, question, answer, image string) string {
	return strings.Join([]string{
		fmt.Sprint(id), fmt.Sprintf("img%d", id), question, answer, image,
	}, "\t")
}

// Lines returns n records with alternating yes/no answers. Yes examples are
// bright, no examples dark, so the classes are separable.
func Lines(tb testing.TB, n int) []string {
	tb.Helper()
	bright := PNGBase64(tb, color.RGBA{240, 230, 220, 255})
	dark := PNGBase64(tb, color.RGBA{10, 20, 30, 255})

	lines := make([]string, n)
	for i := range lines {
		if i%2 == 0 {
			lines[i] = Record(i, fmt.Sprintf("is picture %d bright?", i), "yes", bright)
		} else {
			lines[i] = Record(i, fmt.Sprintf("is picture %d bright?", i), "no", dark)
		}
	}
	return lines
}

// WriteSplits writes train and val files under dir and returns the %s
// pattern that selects them.
func WriteSplits(tb testing.TB, dir string, nTrain, nVal int) string {
	tb.Helper()
	pattern := filepath.Join(dir, "vqa_%s.tsv")
	for split, n := range map[string]int{"train": nTrain, "val": nVal} {
		path := strings.Replace(pattern, "%s", split, 1)
		body := strings.Join(Lines(tb, n), "\n") + "\n"
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			tb.Fatalf("failed to write %s: %v", path, err)
		}
	}
	return pattern
}
