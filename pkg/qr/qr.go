package qr

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

const dataURIPrefix = "data:image/png;base64,"

// Encoder renders text as a PNG QR code wrapped in a data URI.
type Encoder struct {
	size int
}

func NewEncoder(size int) *Encoder {
	return &Encoder{size: size}
}

func (e *Encoder) DataURI(text string) (string, error) {
	png, err := qrcode.Encode(text, qrcode.Medium, e.size)
	if err != nil {
		return "", err
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(png), nil
}
