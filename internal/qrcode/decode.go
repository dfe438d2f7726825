// Package qrcode extracts the text payload of a QR code from an uploaded image.
package qrcode

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

var (
	// ErrNoCode is returned when the image holds no readable QR code.
	ErrNoCode = errors.New("no QR code detected")
	// ErrUnsupportedImage is returned when the bytes are not a PNG, JPEG or GIF.
	ErrUnsupportedImage = errors.New("unsupported image")
)

var hints = map[gozxing.DecodeHintType]interface{}{
	gozxing.DecodeHintType_TRY_HARDER: true,
}

// Decode reads an image and returns the text of the QR code it contains.
func Decode(r io.Reader) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}
	return DecodeImage(img)
}

// DecodeImage returns the text of the QR code in img.
func DecodeImage(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoCode, err)
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoCode, err)
	}
	text := result.GetText()
	if text == "" {
		return "", ErrNoCode
	}
	return text, nil
}
