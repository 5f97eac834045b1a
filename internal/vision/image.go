package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/rotisserie/eris"
	"golang.org/x/image/draw"

	"github.com/your-org/facegate/internal/apperr"
)

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrapf(apperr.ErrInvalidMedia, "decode image: %v", err)
	}
	return img, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// toCHW resizes img to w x h and lays it out as normalized planar RGB:
// value = (pixel - mean) / std.
func toCHW(img image.Image, w, h int, mean, std float32) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := w * h
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := dst.PixOffset(x, y)
			i := y*w + x
			out[i] = (float32(dst.Pix[off]) - mean) / std
			out[plane+i] = (float32(dst.Pix[off+1]) - mean) / std
			out[2*plane+i] = (float32(dst.Pix[off+2]) - mean) / std
		}
	}
	return out
}

// expandBox grows a detection box by margin of its size on every side and
// clips it to bounds.
func expandBox(box [4]float32, margin float64, bounds image.Rectangle) image.Rectangle {
	x1, y1, x2, y2 := int(box[0]), int(box[1]), int(box[2]), int(box[3])
	mx := int(float64(x2-x1) * margin)
	my := int(float64(y2-y1) * margin)
	r := image.Rect(x1-mx, y1-my, x2+mx, y2+my)
	return r.Intersect(bounds)
}

// cropRect copies r out of img into a new image anchored at the origin.
func cropRect(img image.Image, r image.Rectangle) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
