package imaging

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// NoFacesMessage is drawn in debug mode when the detector finds nothing.
const NoFacesMessage = "no faces detected"

var (
	minorColor = color.RGBA{R: 220, G: 30, B: 30, A: 0xff}
	adultColor = color.RGBA{R: 30, G: 180, B: 60, A: 0xff}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 0xff}
	noteColor  = color.RGBA{R: 0, G: 0, B: 0, A: 0xff}

	labelFace = basicfont.Face7x13
)

const (
	outlineWidth = 2
	labelPadding = 3
	labelHeight  = 13 + 2*labelPadding
)

// Annotation is one face to outline in debug output.
type Annotation struct {
	Box            Region
	Minor          bool
	Probability    float64
	HasProbability bool
}

// ProbabilityLabel is the text of the strip above the box.
func (a Annotation) ProbabilityLabel() string {
	if !a.HasProbability {
		return "p=--"
	}
	return fmt.Sprintf("p=%.2f", a.Probability)
}

// TagLabel is the text of the strip below the box.
func (a Annotation) TagLabel() string {
	if a.Minor {
		return "MINOR"
	}
	return "ADULT"
}

func (a Annotation) color() color.RGBA {
	if a.Minor {
		return minorColor
	}
	return adultColor
}

// Annotate draws every annotation onto a copy of src. src is never modified.
func Annotate(src *Image, annotations []Annotation) *Image {
	out := src.Clone()
	for _, a := range annotations {
		box, ok := a.Box.Clip(out.Width, out.Height)
		if !ok {
			continue
		}
		c := a.color()
		drawOutline(out, box, c)

		top := labelRect(out, box.X, box.Y-labelHeight, a.ProbabilityLabel())
		drawLabel(out, top, a.ProbabilityLabel(), c)

		bottom := labelRect(out, box.X, box.Y+box.H, a.TagLabel())
		drawLabel(out, bottom, a.TagLabel(), c)
	}
	return out
}

// AnnotateMessage draws a single text strip in the top-left corner of a copy of src.
func AnnotateMessage(src *Image, msg string) *Image {
	out := src.Clone()
	r := labelRect(out, 10, 10, msg)
	drawLabel(out, r, msg, noteColor)
	return out
}

// labelRect sizes a strip for text at (x, y), pushed back inside the frame
// when it would overflow an edge.
func labelRect(img *Image, x, y int, text string) Region {
	w := font.MeasureString(labelFace, text).Ceil() + 2*labelPadding
	h := labelHeight

	x = clamp(x, 0, max(img.Width-w, 0))
	y = clamp(y, 0, max(img.Height-h, 0))
	return Region{X: x, Y: y, W: w, H: h}
}

func drawLabel(img *Image, r Region, text string, bg color.RGBA) {
	fillRect(img, r, bg)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: labelFace,
		Dot:  fixed.P(r.X+labelPadding, r.Y+labelPadding+labelFace.Ascent),
	}
	d.DrawString(text)
}

func drawOutline(img *Image, r Region, c color.RGBA) {
	t := min(outlineWidth, r.W, r.H)
	fillRect(img, Region{X: r.X, Y: r.Y, W: r.W, H: t}, c)
	fillRect(img, Region{X: r.X, Y: r.Y + r.H - t, W: r.W, H: t}, c)
	fillRect(img, Region{X: r.X, Y: r.Y, W: t, H: r.H}, c)
	fillRect(img, Region{X: r.X + r.W - t, Y: r.Y, W: t, H: r.H}, c)
}

func fillRect(img *Image, r Region, c color.RGBA) {
	r, ok := r.Clip(img.Width, img.Height)
	if !ok {
		return
	}
	for y := r.Y; y < r.Y+r.H; y++ {
		for x := r.X; x < r.X+r.W; x++ {
			img.SetRGB(x, y, c.R, c.G, c.B)
		}
	}
}
