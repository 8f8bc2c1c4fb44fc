package flatten

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // register decoders for signature payloads
	_ "image/png"
	"strings"

	"github.com/tablekit/pdfedit/pdf"
)

// addImageXObject decodes a base64 image payload (optionally a data URL)
// and appends it as an RGB image XObject, with a soft mask when the image
// carries transparency. Returns the image's reference.
func addImageXObject(upd *pdf.Update, payload string) (pdf.Ref, error) {
	raw, err := decodePayload(payload)
	if err != nil {
		return pdf.Ref{}, err
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return pdf.Ref{}, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return pdf.Ref{}, errors.New("empty image")
	}

	// Non-premultiplied pixels so the color channels survive transparency.
	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(nrgba, nrgba.Bounds(), src, bounds.Min, draw.Src)

	pixels := make([]byte, 0, w*h*3)
	alpha := make([]byte, 0, w*h)
	hasAlpha := false
	for i := 0; i < w*h; i++ {
		off := i * 4
		pixels = append(pixels, nrgba.Pix[off], nrgba.Pix[off+1], nrgba.Pix[off+2])
		a := nrgba.Pix[off+3]
		alpha = append(alpha, a)
		if a < 255 {
			hasAlpha = true
		}
	}

	dict := pdf.Dict{
		"Type":             pdf.Name("XObject"),
		"Subtype":          pdf.Name("Image"),
		"Width":            pdf.Integer(w),
		"Height":           pdf.Integer(h),
		"ColorSpace":       pdf.Name("DeviceRGB"),
		"BitsPerComponent": pdf.Integer(8),
	}
	if hasAlpha {
		dict["SMask"] = upd.AddStream(pdf.Dict{
			"Type":             pdf.Name("XObject"),
			"Subtype":          pdf.Name("Image"),
			"Width":            pdf.Integer(w),
			"Height":           pdf.Integer(h),
			"ColorSpace":       pdf.Name("DeviceGray"),
			"BitsPerComponent": pdf.Integer(8),
		}, alpha)
	}
	return upd.AddStream(dict, pixels), nil
}

func decodePayload(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma == -1 {
			return nil, errors.New("malformed data URL")
		}
		payload = payload[comma+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some producers strip the padding.
		raw, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return raw, nil
}
