// Package imaging produces bounded JPEG thumbnails for covers.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// DefaultQuality is the JPEG quality used for every stored or served cover.
const DefaultQuality = 80

// Box bounds the size of a thumbnail.
type Box struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Fit returns the size of a w x h image scaled down to fit inside the box,
// preserving aspect ratio. Images already inside the box are not enlarged.
func (b Box) Fit(w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if (b.Width <= 0 || w <= b.Width) && (b.Height <= 0 || h <= b.Height) {
		return w, h
	}
	nw, nh := w, h
	if b.Width > 0 && nw > b.Width {
		nh = max(1, nh*b.Width/nw)
		nw = b.Width
	}
	if b.Height > 0 && nh > b.Height {
		nw = max(1, nw*b.Height/nh)
		nh = b.Height
	}
	return nw, nh
}

func (b Box) String() string {
	return fmt.Sprintf("%dx%d", b.Width, b.Height)
}

// Thumbnail decodes a PNG, JPEG or GIF image, shrinks it to fit box and
// re-encodes it as JPEG at the given quality. Transparent areas are
// flattened onto white.
func Thumbnail(data []byte, box Box, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode: %w", err)
	}
	sb := src.Bounds()
	w, h := box.Fit(sb.Dx(), sb.Dy())
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("imaging: empty image")
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)

	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("imaging: encode: %w", err)
	}
	return buf.Bytes(), nil
}
