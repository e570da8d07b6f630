// Package pairing turns device pairing payloads into scannable QR images
// and renders the browser page used to link a phone.
package pairing

import (
	"encoding/base64"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/skip2/go-qrcode"
)

const (
	// DefaultImageSize is the PNG edge length in pixels.
	DefaultImageSize = 300
	// renderCacheSize bounds how many payloads keep a rendered image. The
	// client rotates payloads every ~20s, so only the latest few matter.
	renderCacheSize = 8
)

// Renderer converts pairing payloads to PNG data URLs.
type Renderer struct {
	size  int
	level qrcode.RecoveryLevel
	cache *lru.Cache[string, string]
}

// NewRenderer creates a renderer producing size×size images.
// A non-positive size uses DefaultImageSize.
func NewRenderer(size int) *Renderer {
	if size <= 0 {
		size = DefaultImageSize
	}
	cache, _ := lru.New[string, string](renderCacheSize)
	return &Renderer{size: size, level: qrcode.Medium, cache: cache}
}

// PNG encodes payload as a QR code PNG.
func (r *Renderer) PNG(payload string) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("encode qr: empty payload")
	}
	png, err := qrcode.Encode(payload, r.level, r.size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// DataURL returns payload as a base64 "data:image/png" URL. Repeated calls
// for the same payload are served from cache.
func (r *Renderer) DataURL(payload string) (string, error) {
	if url, ok := r.cache.Get(payload); ok {
		return url, nil
	}

	png, err := r.PNG(payload)
	if err != nil {
		return "", err
	}
	url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	r.cache.Add(payload, url)
	return url, nil
}
