package compare

import (
	"bytes"
	"image"
)

// smallImagePixels is the pixel count under which images are compared by
// their raw buffers instead of decoded samples.
const smallImagePixels = 32768

func imagesDiffer(a, b image.Image) bool {
	ra, rb := a.Bounds(), b.Bounds()
	if ra.Dx() != rb.Dx() || ra.Dy() != rb.Dy() {
		return true
	}
	if ra.Dx()*ra.Dy() < smallImagePixels {
		pa, okA := rawPixels(a)
		pb, okB := rawPixels(b)
		if okA && okB {
			return rawDiffer(pa, pb, ra.Dx(), ra.Dy())
		}
	}
	return samplesDiffer(a, b)
}

type raw struct {
	pix    []byte
	stride int
	// bpp is bytes per pixel.
	bpp int
}

// rawPixels returns the pixel buffer of the standard library's concrete
// image types, trimmed to start at the image's first pixel.
func rawPixels(img image.Image) (raw, bool) {
	r := img.Bounds()
	switch m := img.(type) {
	case *image.RGBA:
		return raw{m.Pix[m.PixOffset(r.Min.X, r.Min.Y):], m.Stride, 4}, true
	case *image.NRGBA:
		return raw{m.Pix[m.PixOffset(r.Min.X, r.Min.Y):], m.Stride, 4}, true
	case *image.CMYK:
		return raw{m.Pix[m.PixOffset(r.Min.X, r.Min.Y):], m.Stride, 4}, true
	case *image.RGBA64:
		return raw{m.Pix[m.PixOffset(r.Min.X, r.Min.Y):], m.Stride, 8}, true
	case *image.NRGBA64:
		return raw{m.Pix[m.PixOffset(r.Min.X, r.Min.Y):], m.Stride, 8}, true
	case *image.Gray:
		return raw{m.Pix[m.PixOffset(r.Min.X, r.Min.Y):], m.Stride, 1}, true
	case *image.Alpha:
		return raw{m.Pix[m.PixOffset(r.Min.X, r.Min.Y):], m.Stride, 1}, true
	case *image.Gray16:
		return raw{m.Pix[m.PixOffset(r.Min.X, r.Min.Y):], m.Stride, 2}, true
	}
	return raw{}, false
}

func rawDiffer(a, b raw, width, rows int) bool {
	n := width * a.bpp
	for y := 0; y < rows; y++ {
		if !bytes.Equal(a.pix[y*a.stride:y*a.stride+n], b.pix[y*b.stride:y*b.stride+n]) {
			return true
		}
	}
	return false
}

func samplesDiffer(a, b image.Image) bool {
	ra, rb := a.Bounds(), b.Bounds()
	for y := 0; y < ra.Dy(); y++ {
		for x := 0; x < ra.Dx(); x++ {
			r1, g1, b1, a1 := a.At(ra.Min.X+x, ra.Min.Y+y).RGBA()
			r2, g2, b2, a2 := b.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				return true
			}
		}
	}
	return false
}
