package auth

import "encoding/base64"

// decodeJWTSegment base64url-decodes one dot-separated JWT segment,
// tolerating both padded and unpadded encodings.
func decodeJWTSegment(seg string) ([]byte, error) {
	if data, err := base64.RawURLEncoding.DecodeString(seg); err == nil {
		return data, nil
	}
	return base64.URLEncoding.DecodeString(seg)
}
