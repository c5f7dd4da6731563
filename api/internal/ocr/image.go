package ocr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"math"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"labreport-bot/api/internal/fault"
)

// DefaultMaxPixels caps the area handed to an engine.
const DefaultMaxPixels = 18_000_000

// Image is a validated raster image ready for recognition. Data is always
// JPEG or PNG.
type Image struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Prepare checks that data is a recognized raster image, converts formats
// other than JPEG and PNG to PNG and downscales images above maxPixels.
func Prepare(data []byte, maxPixels int) (Image, error) {
	if len(data) == 0 {
		return Image{}, &fault.InvalidInputError{Reason: "image is empty", Err: fault.ErrUnsupportedImage}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, &fault.InvalidInputError{Reason: "please upload an image file", Err: fault.ErrUnsupportedImage}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Image{}, &fault.InvalidInputError{Reason: "image has no pixels", Err: fault.ErrUnsupportedImage}
	}

	tooLarge := maxPixels > 0 && cfg.Width*cfg.Height > maxPixels
	if !tooLarge && (format == "jpeg" || format == "png") {
		return Image{Data: data, MIME: "image/" + format, Width: cfg.Width, Height: cfg.Height}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, &fault.InvalidInputError{Reason: "image could not be decoded", Err: err}
	}
	if tooLarge {
		src = scaleDown(src, cfg.Width, cfg.Height, maxPixels)
	}

	var out bytes.Buffer
	mime := "image/png"
	if format == "jpeg" {
		mime = "image/jpeg"
		err = jpeg.Encode(&out, src, &jpeg.Options{Quality: 90})
	} else {
		err = png.Encode(&out, src)
	}
	if err != nil {
		return Image{}, fmt.Errorf("encode image: %w", err)
	}
	b := src.Bounds()
	return Image{Data: out.Bytes(), MIME: mime, Width: b.Dx(), Height: b.Dy()}, nil
}

func scaleDown(src image.Image, w, h, maxPixels int) image.Image {
	scale := math.Sqrt(float64(maxPixels) / float64(w*h))
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}
