// Package imaging holds the request-local pixel buffer and the pure image
// operations the pipeline composes: coordinate transformation, block-mean
// pixelation and debug annotation.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxPixels caps Width*Height when no explicit limit is given.
const DefaultMaxPixels = 40_000_000

var (
	// ErrEmptyImage is returned when a payload decodes to a zero-sized buffer.
	ErrEmptyImage = errors.New("decoded image is empty")
	// ErrTooManyPixels is returned when the header declares more pixels than allowed.
	ErrTooManyPixels = errors.New("image exceeds pixel limit")
)

// Image is a decoded RGB buffer, Height x Width x 3, row-major, together
// with the encoded bytes it came from. It implements draw.Image so it can be
// handed to encoders and font drawers directly.
type Image struct {
	Width  int
	Height int
	Pix    []uint8
	// Raw is the original upload; nil for derived images (crops, copies).
	Raw    []byte
	Format string
}

// New allocates a black w x h image.
func New(w, h int) *Image {
	return &Image{
		Width:  w,
		Height: h,
		Pix:    make([]uint8, w*h*3),
	}
}

// Decode parses an encoded payload (jpeg, png, gif, bmp, webp) under
// DefaultMaxPixels.
func Decode(data []byte) (*Image, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit parses an encoded payload, rejecting it from the header alone
// when it declares more than maxPixels pixels. maxPixels <= 0 means
// DefaultMaxPixels.
func DecodeLimit(data []byte, maxPixels int) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d is %d pixels, limit %d", ErrTooManyPixels, cfg.Width, cfg.Height, pixels, maxPixels)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	img := FromImage(src)
	if img.Width == 0 || img.Height == 0 {
		return nil, ErrEmptyImage
	}
	img.Raw = data
	img.Format = format
	return img, nil
}

// FromImage copies any image.Image into an RGB buffer. Alpha is dropped.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	rgba, ok := src.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	}

	img := New(b.Dx(), b.Dy())
	for y := 0; y < img.Height; y++ {
		srcRow := rgba.Pix[y*rgba.Stride:]
		dstRow := img.Pix[y*img.Width*3:]
		for x := 0; x < img.Width; x++ {
			dstRow[x*3] = srcRow[x*4]
			dstRow[x*3+1] = srcRow[x*4+1]
			dstRow[x*3+2] = srcRow[x*4+2]
		}
	}
	return img
}

// Clone returns an independent copy of the pixel buffer. Raw is shared
// since it is never mutated.
func (img *Image) Clone() *Image {
	pix := make([]uint8, len(img.Pix))
	copy(pix, img.Pix)
	return &Image{
		Width:  img.Width,
		Height: img.Height,
		Pix:    pix,
		Raw:    img.Raw,
		Format: img.Format,
	}
}

// Crop copies the region r (clipped to the image) into a new image.
// Degenerate or out-of-bounds regions still yield a 1x1 crop at the
// nearest in-bounds pixel, so every detection produces exactly one crop.
func (img *Image) Crop(r Region) *Image {
	c, ok := r.Clip(img.Width, img.Height)
	if !ok {
		c = Region{
			X: clamp(r.X, 0, img.Width-1),
			Y: clamp(r.Y, 0, img.Height-1),
			W: 1,
			H: 1,
		}
	}

	out := New(c.W, c.H)
	for y := 0; y < c.H; y++ {
		start := img.offset(c.X, c.Y+y)
		copy(out.Pix[y*c.W*3:(y+1)*c.W*3], img.Pix[start:start+c.W*3])
	}
	return out
}

// RGB returns the colour at (x, y).
func (img *Image) RGB(x, y int) (r, g, b uint8) {
	i := img.offset(x, y)
	return img.Pix[i], img.Pix[i+1], img.Pix[i+2]
}

// SetRGB writes the colour at (x, y).
func (img *Image) SetRGB(x, y int, r, g, b uint8) {
	i := img.offset(x, y)
	img.Pix[i], img.Pix[i+1], img.Pix[i+2] = r, g, b
}

func (img *Image) offset(x, y int) int {
	return (y*img.Width + x) * 3
}

// ColorModel implements image.Image.
func (img *Image) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (img *Image) Bounds() image.Rectangle { return image.Rect(0, 0, img.Width, img.Height) }

// At implements image.Image.
func (img *Image) At(x, y int) color.Color {
	if !image.Pt(x, y).In(img.Bounds()) {
		return color.RGBA{}
	}
	r, g, b := img.RGB(x, y)
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// Set implements draw.Image. Alpha is composited over black.
func (img *Image) Set(x, y int, c color.Color) {
	if !image.Pt(x, y).In(img.Bounds()) {
		return
	}
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	img.SetRGB(x, y, rgba.R, rgba.G, rgba.B)
}

// EncodeJPEG encodes the buffer as JPEG at the given quality.
func (img *Image) EncodeJPEG(quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img.toRGBA(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// toRGBA expands the buffer into an *image.RGBA, which the jpeg encoder
// reads row by row instead of through At.
func (img *Image) toRGBA() *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	for y := 0; y < img.Height; y++ {
		src := img.Pix[y*img.Width*3 : (y+1)*img.Width*3]
		dst := out.Pix[y*out.Stride : y*out.Stride+img.Width*4]
		for x := 0; x < img.Width; x++ {
			dst[x*4] = src[x*3]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xff
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
