// Package transform turns decoded images into sticker and icon PNGs and
// short videos into WebM video stickers.
package transform

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"

	// Registered decoders for Decode.
	_ "image/jpeg"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedMedia is returned when the input is not a PNG, JPEG or
// WebP image.
var ErrUnsupportedMedia = errors.New("ezsticker: unsupported media")

// Mode selects the output of Transform.
type Mode int

const (
	ModeSticker Mode = iota
	ModeIcon
)

func (m Mode) String() string {
	if m == ModeIcon {
		return "icon"
	}
	return "sticker"
}

// Output sizes.
const (
	StickerSize = 512
	IconSize    = 100
)

// Asset is an encoded PNG ready for upload.
type Asset struct {
	Name   string
	Data   []byte
	Width  int
	Height int
	Mode   Mode
}

var supportedFormats = map[string]bool{"png": true, "jpeg": true, "webp": true}

// Decode reads a PNG, JPEG or WebP image.
func Decode(r io.Reader) (image.Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
	}
	if !supportedFormats[format] {
		return nil, fmt.Errorf("%w: format %s", ErrUnsupportedMedia, format)
	}
	return img, nil
}

// ScaleDimension returns value*ratio truncated, except that a fractional
// part of .999 or more rounds up so 511.9993 becomes 512.
func ScaleDimension(value int, ratio float64) int {
	scaled := float64(value) * ratio
	whole, frac := math.Modf(scaled)
	if frac >= 0.999 {
		return int(math.Round(scaled))
	}
	return int(whole)
}

// StickerDimensions scales w×h so the longer edge is StickerSize.
func StickerDimensions(w, h int) (int, int) {
	ratio := float64(StickerSize) / float64(max(w, h))
	return ScaleDimension(w, ratio), ScaleDimension(h, ratio)
}

// IconDimensions fits w×h into IconSize×IconSize without upscaling.
func IconDimensions(w, h int) (int, int) {
	if w <= IconSize && h <= IconSize {
		return w, h
	}
	ratio := math.Min(float64(IconSize)/float64(w), float64(IconSize)/float64(h))
	return max(1, int(math.Round(float64(w)*ratio))), max(1, int(math.Round(float64(h)*ratio)))
}

// Transform resizes img for mode and encodes it as PNG.
func Transform(img image.Image, mode Mode) (*Asset, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedMedia)
	}

	var out *image.NRGBA
	var name string
	switch mode {
	case ModeIcon:
		w, h := IconDimensions(b.Dx(), b.Dy())
		out = image.NewNRGBA(image.Rect(0, 0, IconSize, IconSize))
		off := image.Pt((IconSize-w)/2, (IconSize-h)/2)
		draw.CatmullRom.Scale(out, image.Rectangle{Min: off, Max: off.Add(image.Pt(w, h))}, img, b, draw.Over, nil)
		name = "icon.png"
	default:
		w, h := StickerDimensions(b.Dx(), b.Dy())
		out = image.NewNRGBA(image.Rect(0, 0, w, h))
		if w == b.Dx() && h == b.Dy() {
			draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
		} else {
			draw.CatmullRom.Scale(out, out.Bounds(), img, b, draw.Src, nil)
		}
		name = "sticker.png"
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("ezsticker: encode png: %w", err)
	}
	return &Asset{
		Name:   name,
		Data:   buf.Bytes(),
		Width:  out.Bounds().Dx(),
		Height: out.Bounds().Dy(),
		Mode:   mode,
	}, nil
}
