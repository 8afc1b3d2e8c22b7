package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelgate/internal/storage"
	"github.com/dunamismax/pixelgate/internal/transform"
)

// ResolveURL turns a caller path into the base URL the remote DSLs are
// appended to. Paths with a host are rebuilt from scheme, host and path. Bare
// keys resolve through the locator when it knows them.
func ResolveURL(ctx context.Context, locator storage.Locator, raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", &transform.ParameterError{Reason: "unparseable path", Raw: raw}
	}

	if parsed.Host != "" {
		scheme := parsed.Scheme
		if scheme == "" {
			scheme = "http"
		}
		return scheme + "://" + parsed.Host + parsed.Path, nil
	}

	if locator != nil {
		exists, err := locator.Exists(ctx, raw)
		if err != nil {
			return "", fmt.Errorf("%w: check %s: %v", transform.ErrBackendRequest, raw, err)
		}
		if exists {
			return locator.URL(raw), nil
		}
	}
	return "http://" + parsed.Path, nil
}

// URLSafeBase64 is standard padded base64 with '+' and '/' swapped for '-'
// and '_', the encoding both remote DSLs expect.
func URLSafeBase64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

// HexToRGB parses "#rgb" or "#rrggbb" with or without the hash.
func HexToRGB(hex string) (r, g, b uint8, err error) {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return 0, 0, 0, &transform.ParameterError{Reason: "color must be #rgb or #rrggbb", Raw: hex}
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, &transform.ParameterError{Reason: "color is not hexadecimal", Raw: hex}
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), nil
}

// Suffix returns the file extension of p without the dot, ignoring any query.
func Suffix(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.TrimPrefix(path.Ext(p), ".")
}

// FallbackInfo is reported when a backend cannot describe an image.
func FallbackInfo(p string) transform.ImageInfo {
	return transform.ImageInfo{Format: Suffix(p)}
}
