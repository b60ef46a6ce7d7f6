package platemate

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrEmptyImage is returned when there are no image bytes to fingerprint.
var ErrEmptyImage = errors.New("image is empty")

// Fingerprint returns the lowercase hex SHA-256 of the image contents. It is
// used as the image half of the cache key.
func Fingerprint(image []byte) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyImage
	}
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:]), nil
}
