package imaging

// PixelBlocks is the number of mosaic blocks along each side of a region.
const PixelBlocks = 6

// Pixelate replaces the content of every region with a block-mean mosaic,
// mutating img in place. Pixels outside all regions are left untouched and
// running it twice with the same regions changes nothing the second time.
func Pixelate(img *Image, regions []Region) {
	for _, r := range regions {
		pixelateRegion(img, r)
	}
}

func pixelateRegion(img *Image, r Region) {
	r, ok := r.Clip(img.Width, img.Height)
	if !ok {
		return
	}

	// Steps are relative to the region, never the whole frame. The floor of
	// one keeps tiny regions from producing zero-sized blocks.
	xStep := max(r.W/PixelBlocks, 1)
	yStep := max(r.H/PixelBlocks, 1)

	for by := 0; by < r.H; by += yStep {
		endY := min(by+yStep, r.H)
		for bx := 0; bx < r.W; bx += xStep {
			endX := min(bx+xStep, r.W)
			fillBlockMean(img, r.X+bx, r.Y+by, r.X+endX, r.Y+endY)
		}
	}
}

// fillBlockMean overwrites [x0,x1) x [y0,y1) with its per-channel mean,
// truncated to an integer.
func fillBlockMean(img *Image, x0, y0, x1, y1 int) {
	var sumR, sumG, sumB uint64
	for y := y0; y < y1; y++ {
		row := img.Pix[img.offset(x0, y):img.offset(x1, y)]
		for i := 0; i < len(row); i += 3 {
			sumR += uint64(row[i])
			sumG += uint64(row[i+1])
			sumB += uint64(row[i+2])
		}
	}

	n := uint64((x1 - x0) * (y1 - y0))
	r, g, b := uint8(sumR/n), uint8(sumG/n), uint8(sumB/n)

	for y := y0; y < y1; y++ {
		row := img.Pix[img.offset(x0, y):img.offset(x1, y)]
		for i := 0; i < len(row); i += 3 {
			row[i], row[i+1], row[i+2] = r, g, b
		}
	}
}
