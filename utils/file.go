package utils

import (
	"errors"
	"mime/multipart"
	"path/filepath"
	"strings"
)

// MaxImageSize bounds campaign images and avatars.
const MaxImageSize = 5 << 20

var ErrInvalidImage = errors.New("invalid image upload")

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// ImageExtension checks size and type of an uploaded image and returns
// the extension to store it under.
func ImageExtension(fh *multipart.FileHeader) (string, error) {
	if fh == nil || fh.Size <= 0 || fh.Size > MaxImageSize {
		return "", ErrInvalidImage
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	ct := strings.ToLower(fh.Header.Get("Content-Type"))
	if ext == "" {
		for e, t := range imageTypes {
			if t == ct {
				return e, nil
			}
		}
		return "", ErrInvalidImage
	}
	want, ok := imageTypes[ext]
	if !ok {
		return "", ErrInvalidImage
	}
	if ct != "" && ct != "application/octet-stream" && ct != want {
		return "", ErrInvalidImage
	}
	return ext, nil
}
