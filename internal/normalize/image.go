package normalize

import (
	"net/url"
	"strings"

	"productsearch/pkg/domain"
)

const jpegDataURIPrefix = "data:image/jpeg;base64,"

// Leading characters of base64-encoded JPEG, PNG, GIF and WebP files.
var imageBase64Magics = []string{"/9j/", "iVBORw0KGgo", "R0lGOD", "UklGR"}

// minBase64Len is the shortest image_url value treated as a bare payload.
const minBase64Len = 20

// ImageSource resolves the display image for a record:
// image_path, then image_url (bare base64 becomes a JPEG data URI), then
// image, then a placeholder carrying the product name. Never empty.
func ImageSource(rec domain.RawProduct, name, placeholderBase string) string {
	if v := stringField(rec, "image_path"); v != "" {
		return v
	}
	if v := stringField(rec, "image_url"); v != "" {
		if looksLikeBase64(v) {
			return jpegDataURIPrefix + v
		}
		return v
	}
	if v := stringField(rec, "image"); v != "" {
		return v
	}
	return Placeholder(name, placeholderBase)
}

// Placeholder builds a placeholder image reference labelled with name.
func Placeholder(name, base string) string {
	if strings.TrimSpace(base) == "" {
		base = DefaultPlaceholderBase
	}
	label := strings.TrimSpace(name)
	if label == "" {
		label = "Product"
	}
	return base + encodeURIComponent(label)
}

// looksLikeBase64 accepts only the base64 alphabet. Anything carrying a
// scheme, dot or query is a URL. A value containing '/' is a path unless it
// opens with the encoded signature of an image file.
func looksLikeBase64(s string) bool {
	if len(s) < minBase64Len {
		return false
	}
	if strings.Contains(s, "/") && !hasImageMagic(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=':
		default:
			return false
		}
	}
	return true
}

func hasImageMagic(s string) bool {
	for _, magic := range imageBase64Magics {
		if strings.HasPrefix(s, magic) {
			return true
		}
	}
	return false
}

// QueryEscape also escapes the marks encodeURIComponent leaves alone.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func encodeURIComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}
