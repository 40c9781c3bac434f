// Package codec turns transport-encoded frames into RGB pixel buffers for the
// pose engine.
package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"PoseService/pkg/response"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	ErrEmptyFrame    = response.NewError(response.KindCodec, "empty_frame")
	ErrInvalidBase64 = response.NewError(response.KindCodec, "invalid_base64")
	ErrDecodeFailed  = response.NewError(response.KindCodec, "decode_failed")
	ErrDecoderPanic  = response.NewError(response.KindCodec, "decoder_panic")
)

// MaxPixels caps the declared width*height of a frame. The header is checked
// before decoding so a small payload cannot expand into a huge pixel buffer.
const MaxPixels = 40_000_000

// DecodedImage is a tightly packed RGB24 buffer, row-major, top-left origin.
type DecodedImage struct {
	Width  int
	Height int
	Format string
	Pix    []byte
}

func (d *DecodedImage) Stride() int {
	return d.Width * 3
}

// Decode base64-decodes the frame, decompresses it and converts it to RGB.
// It never panics; every failure is returned as one of the codec errors.
func Decode(encoded string) (*DecodedImage, error) {
	raw, err := decodeBase64(encoded)
	if err != nil {
		return nil, err
	}

	img, format, err := decodeImage(raw)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecodeFailed)
	}

	return &DecodedImage{
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
		Pix:    toRGB(img),
	}, nil
}

func decodeBase64(encoded string) ([]byte, error) {
	s := strings.TrimSpace(encoded)
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx >= 0 {
			s = s[idx+1:]
		}
	}
	if s == "" {
		return nil, ErrEmptyFrame
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return raw, nil
	}

	raw, rawErr := base64.RawStdEncoding.DecodeString(s)
	if rawErr == nil {
		return raw, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
}

func decodeImage(raw []byte) (img image.Image, format string, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("%w: %v", ErrDecoderPanic, r)
		}
	}()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: image has no pixels", ErrDecodeFailed)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d frame exceeds %d pixels", ErrDecodeFailed, cfg.Width, cfg.Height, MaxPixels)
	}

	img, format, err = image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if img == nil {
		return nil, "", fmt.Errorf("%w: decoder returned no image", ErrDecodeFailed)
	}
	return img, format, nil
}

func toRGB(img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h*3)

	switch src := img.(type) {
	case *image.YCbCr:
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				yi := src.YOffset(x, y)
				ci := src.COffset(x, y)
				r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				out[i], out[i+1], out[i+2] = r, g, bl
				i += 3
			}
		}
	case *image.NRGBA:
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):]
			for x := 0; x < w; x++ {
				out[i], out[i+1], out[i+2] = row[x*4], row[x*4+1], row[x*4+2]
				i += 3
			}
		}
	case *image.Gray:
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):]
			for x := 0; x < w; x++ {
				out[i], out[i+1], out[i+2] = row[x], row[x], row[x]
				i += 3
			}
		}
	default:
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				out[i], out[i+1], out[i+2] = c.R, c.G, c.B
				i += 3
			}
		}
	}

	return out
}

// EncodeJPEG is the inverse used by clients: JPEG-compress img and base64 it.
func EncodeJPEG(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
