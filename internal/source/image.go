package source

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"io"

	// Register decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/mawngo/kclust/internal/kmeans"
)

// Image is a decoded image.
type Image struct {
	image.Image
	image.Config
	Format string
}

// DecodeImage decodes a png, jpeg, gif or webp image.
func DecodeImage(r io.Reader) (Image, error) {
	var img Image
	br := bufio.NewReader(r)
	// DecodeConfig consumes the header, keep a copy so Decode sees it again.
	var head bytes.Buffer
	config, _, err := image.DecodeConfig(io.TeeReader(br, &head))
	if err != nil {
		return img, fmt.Errorf("%w: %w", kmeans.ErrInputRead, err)
	}
	img.Config = config

	data, format, err := image.Decode(io.MultiReader(&head, br))
	if err != nil {
		return img, fmt.Errorf("%w: %w", kmeans.ErrInputRead, err)
	}
	img.Image = data
	img.Format = format
	return img, nil
}

// Points returns one 4-dimensional RGBA point per pixel, 8 bits per channel,
// in row-major order.
func (img Image) Points() (kmeans.Dataset, error) {
	b := img.Bounds()
	coords := make([]float64, 0, b.Dx()*b.Dy()*4)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			coords = append(coords, float64(r>>8), float64(g>>8), float64(bl>>8), float64(a>>8))
		}
	}
	return kmeans.NewDataset(4, coords)
}
