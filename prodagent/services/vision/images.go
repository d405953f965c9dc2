// Package vision validates uploaded images and runs the room analysis flows.
package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"prodagent/prodagent/utils/apperr"
	"prodagent/prodagent/utils/logging"
	"prodagent/prodagent/utils/types"
)

// MaxDimension is the longest side an image is sent to the provider with.
const MaxDimension = 1024

var allowedTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// Upload is an image as received from a client.
type Upload struct {
	Filename string
	Data     []byte
}

type Limits struct {
	MaxCount int
	MaxBytes int64
}

// Validate checks count, size and content type of uploads and returns them
// ready to send, downscaled when larger than MaxDimension.
func Validate(uploads []Upload, limits Limits) ([]types.Image, error) {
	if limits.MaxCount > 0 && len(uploads) > limits.MaxCount {
		return nil, apperr.Validation("vision.Validate",
			fmt.Sprintf("Too many images: at most %d can be attached.", limits.MaxCount))
	}
	out := make([]types.Image, 0, len(uploads))
	for _, u := range uploads {
		if len(u.Data) == 0 {
			return nil, apperr.Validation("vision.Validate", fmt.Sprintf("%s is empty.", displayName(u)))
		}
		if limits.MaxBytes > 0 && int64(len(u.Data)) > limits.MaxBytes {
			return nil, apperr.Validation("vision.Validate",
				fmt.Sprintf("%s exceeds the size limit of %d MB.", displayName(u), limits.MaxBytes>>20))
		}
		mt := mimetype.Detect(u.Data)
		if !mimetype.EqualsAny(mt.String(), allowedTypes...) {
			return nil, apperr.Validation("vision.Validate",
				fmt.Sprintf("%s is an unsupported image type (%s). Use JPEG, PNG, WebP or GIF.", displayName(u), mt.String()))
		}
		out = append(out, Downscale(types.Image{Data: u.Data, MIMEType: mt.String(), Filename: u.Filename}))
	}
	return out, nil
}

func displayName(u Upload) string {
	if u.Filename != "" {
		return u.Filename
	}
	return "The image"
}

// Downscale shrinks img so its longest side is MaxDimension. It is best
// effort: anything that cannot be decoded or re-encoded is returned as is.
func Downscale(img types.Image) types.Image {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil || (cfg.Width <= MaxDimension && cfg.Height <= MaxDimension) {
		return img
	}
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		logging.AppLogger.Info("image decode failed, sending original", zap.String("mime", img.MIMEType), zap.Error(err))
		return img
	}

	w, h := cfg.Width, cfg.Height
	if w >= h {
		h = h * MaxDimension / w
		w = MaxDimension
	} else {
		w = w * MaxDimension / h
		h = MaxDimension
	}
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	mime := img.MIMEType
	switch mime {
	case "image/png":
		err = png.Encode(&buf, dst)
	case "image/gif":
		err = gif.Encode(&buf, dst, nil)
	default:
		// webp has no encoder here
		mime = "image/jpeg"
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		logging.AppLogger.Info("image encode failed, sending original", zap.Error(err))
		return img
	}
	return types.Image{Data: buf.Bytes(), MIMEType: mime, Filename: img.Filename}
}
