// Package testutil provides shared test fixtures: images, comic archives, a
// scripted calibredb and temporary catalogs.
package testutil

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// File is one entry of a generated zip archive.
type File struct {
	Name string
	Data []byte
}

// JPEG returns a w x h JPEG filled with a colour derived from seed.
func JPEG(t testing.TB, w, h int, seed uint8) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solid(w, h, seed), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// PNG returns a w x h PNG filled with a colour derived from seed.
func PNG(t testing.TB, w, h int, seed uint8) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(w, h, seed)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func solid(w, h int, seed uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := color.RGBA{R: seed, G: 255 - seed, B: seed / 2, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// Zip builds an in-memory zip archive with files in the given order.
func Zip(t testing.TB, files ...File) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(f.Data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// Pages returns small distinct JPEG pages for each name, in order.
func Pages(t testing.TB, names ...string) []File {
	t.Helper()
	out := make([]File, len(names))
	for i, n := range names {
		out[i] = File{Name: n, Data: JPEG(t, 16+i, 24, uint8(i*40))}
	}
	return out
}

// WriteFile writes data into a fresh temp dir and returns its path.
func WriteFile(t testing.TB, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}
