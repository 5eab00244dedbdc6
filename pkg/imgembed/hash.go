package imgembed

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// HashSide is the side of the grayscale thumbnail the hash is taken from.
const HashSide = 8

// HashEncoder embeds an image as its 64-bit average hash, one ±1 component
// per bit. The cosine similarity of two hashes is 1 - 2*hamming/64.
type HashEncoder struct{}

// EmbedImage implements the image encoder contract.
func (HashEncoder) EmbedImage(_ context.Context, img []byte) ([]float32, error) {
	bits, err := AverageHash(img)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(bits))
	for i, b := range bits {
		if b {
			out[i] = 1
		} else {
			out[i] = -1
		}
	}
	return out, nil
}

// AverageHash decodes img, scales it to an 8x8 grayscale thumbnail and sets
// each bit when the pixel is brighter than the thumbnail mean.
func AverageHash(img []byte) ([]bool, error) {
	src, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("imgembed: decode: %w", err)
	}
	thumb := image.NewGray(image.Rect(0, 0, HashSide, HashSide))
	draw.CatmullRom.Scale(thumb, thumb.Bounds(), src, src.Bounds(), draw.Src, nil)

	var sum float64
	for _, p := range thumb.Pix {
		sum += float64(p)
	}
	avg := sum / float64(len(thumb.Pix))

	bits := make([]bool, len(thumb.Pix))
	for i, p := range thumb.Pix {
		bits[i] = float64(p) > avg
	}
	return bits, nil
}

// Hamming counts differing bits; hashes of unequal length compare on the
// shorter prefix.
func Hamming(a, b []bool) int {
	n := 0
	for i := range a {
		if i >= len(b) {
			break
		}
		if a[i] != b[i] {
			n++
		}
	}
	return n
}
