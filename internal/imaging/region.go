package imaging

import "fmt"

// BBox is a detector bounding box in corner-pair form.
type BBox struct {
	X1, Y1, X2, Y2 int
}

// Region is an axis-aligned rectangle in origin + size form.
type Region struct {
	X, Y, W, H int
}

func (r Region) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", r.X, r.Y, r.W, r.H)
}

// Empty reports whether the region covers no pixels.
func (r Region) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Contains reports whether (x, y) lies inside the region.
func (r Region) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// Clip intersects the region with a width x height frame. ok is false when
// nothing of the region is left.
func (r Region) Clip(width, height int) (Region, bool) {
	x0 := max(r.X, 0)
	y0 := max(r.Y, 0)
	x1 := min(r.X+r.W, width)
	y1 := min(r.Y+r.H, height)
	if x1 <= x0 || y1 <= y0 {
		return Region{}, false
	}
	return Region{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}, true
}

// RegionFromBBox converts a corner-pair box into a redaction region for a
// width x height image. Corners are clamped into the frame before the size
// is computed; a box that collapses to w<=0 or h<=0 yields ok == false and
// must be treated as a no-op.
func RegionFromBBox(b BBox, width, height int) (Region, bool) {
	x1 := clamp(b.X1, 0, width)
	y1 := clamp(b.Y1, 0, height)
	x2 := clamp(b.X2, 0, width)
	y2 := clamp(b.Y2, 0, height)

	r := Region{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
	if r.Empty() {
		return Region{}, false
	}
	return r, true
}
