package imageio

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path string
		want Format
		err  bool
	}{
		{"out.png", PNG, false},
		{"dir/Frame.WEBP", WebP, false},
		{"x.tga", TGA, false},
		{"x.bmp", BMP, false},
		{"x.tif", TIFF, false},
		{"x.tiff", TIFF, false},
		{"x.jpg", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FormatFor(tt.path)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSaveLoadLossless(t *testing.T) {
	src := gradient(17, 11)
	dir := t.TempDir()
	for _, name := range []string{"a.png", "a.webp", "a.tga", "a.bmp", "sub/a.tiff"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, Save(path, src))

			got, err := Load(path)
			require.NoError(t, err)
			require.Equal(t, src.Bounds().Size(), got.Bounds().Size())
			for y := 0; y < 11; y++ {
				for x := 0; x < 17; x++ {
					r0, g0, b0, _ := src.At(x, y).RGBA()
					r1, g1, b1, _ := got.At(got.Bounds().Min.X+x, got.Bounds().Min.Y+y).RGBA()
					require.Equal(t, [3]uint32{r0 >> 8, g0 >> 8, b0 >> 8}, [3]uint32{r1 >> 8, g1 >> 8, b1 >> 8}, "pixel %d,%d", x, y)
				}
			}
		})
	}
}

func TestSaveRejectsUnknownExtension(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "a.gif"), gradient(2, 2))
	assert.Error(t, err)
}

func TestScale(t *testing.T) {
	src := gradient(20, 10)
	assert.Equal(t, image.Pt(40, 20), Scale(src, 2).Bounds().Size())
	assert.Equal(t, image.Pt(10, 5), Scale(src, 0.5).Bounds().Size())
	assert.Equal(t, image.Pt(1, 1), Scale(src, 0.01).Bounds().Size())

	// a flat image stays flat
	flat := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range flat.Pix {
		flat.Pix[i] = 200
	}
	c := Scale(flat, 3).RGBAAt(5, 5)
	for _, v := range []uint8{c.R, c.G, c.B, c.A} {
		assert.InDelta(t, 200, int(v), 1)
	}
}
