package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facegate/internal/apperr"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestExpandBoxClipsToBounds(t *testing.T) {
	bounds := image.Rect(0, 0, 200, 100)

	r := expandBox([4]float32{50, 20, 150, 70}, 0.2, bounds)
	assert.Equal(t, image.Rect(30, 10, 170, 80), r)

	r = expandBox([4]float32{0, 0, 100, 100}, 0.2, bounds)
	assert.Equal(t, image.Rect(0, 0, 120, 100), r)
}

func TestToCHWNormalizesPlanes(t *testing.T) {
	img := solid(4, 4, color.RGBA{R: 255, G: 127, B: 0, A: 255})
	out := toCHW(img, 2, 2, 127.5, 127.5)
	require.Len(t, out, 12)
	assert.InDelta(t, 1.0, out[0], 1e-3)
	assert.InDelta(t, 0.0, out[4], 1e-2)
	assert.InDelta(t, -1.0, out[8], 1e-3)
}

func TestCropAndEncode(t *testing.T) {
	img := solid(100, 100, color.RGBA{R: 10, G: 200, B: 30, A: 255})
	face := cropRect(img, image.Rect(20, 30, 70, 90))
	assert.Equal(t, image.Rect(0, 0, 50, 60), face.Bounds())

	data, err := encodeJPEG(face, 90)
	require.NoError(t, err)
	decoded, err := decodeImage(data)
	require.NoError(t, err)
	assert.Equal(t, 50, decoded.Bounds().Dx())
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	_, err := decodeImage([]byte("not an image"))
	assert.ErrorIs(t, err, apperr.ErrInvalidMedia)
}

func TestNMSKeepsMostConfident(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 10, 10}, Confidence: 0.6},
		{BBox: [4]float32{1, 1, 11, 11}, Confidence: 0.9},
		{BBox: [4]float32{50, 50, 60, 60}, Confidence: 0.7},
	}
	kept := nms(dets, 0.4)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Confidence)
	assert.Equal(t, float32(0.7), kept[1].Confidence)
}

func TestIOU(t *testing.T) {
	assert.InDelta(t, 1.0, iou([4]float32{0, 0, 2, 2}, [4]float32{0, 0, 2, 2}), 1e-6)
	assert.Zero(t, iou([4]float32{0, 0, 1, 1}, [4]float32{2, 2, 3, 3}))
	assert.InDelta(t, 1.0/7.0, iou([4]float32{0, 0, 2, 2}, [4]float32{1, 1, 3, 3}), 1e-6)
}
