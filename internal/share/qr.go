package share

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"net/http"

	_ "image/jpeg"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	qrSizePx   = 160
	qrMarginPx = 24
	// Panels smaller than this get no overlay; a QR that dominates the
	// artwork is worse than no QR.
	minPanelEdgePx = qrSizePx + 2*qrMarginPx
)

// Overlayer stamps a QR code with the share URL onto a panel image.
type Overlayer struct {
	httpClient *http.Client
}

// NewOverlayer builds an Overlayer; httpClient may be nil.
func NewOverlayer(httpClient *http.Client) *Overlayer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Overlayer{httpClient: httpClient}
}

// Overlay fetches the panel image at panelURL, composites a QR code for
// shareURL into its bottom-right corner, and returns the PNG bytes.
func (o *Overlayer) Overlay(ctx context.Context, panelURL, shareURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, panelURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("share: fetch panel: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("share: fetch panel: http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("share: read panel: %w", err)
	}
	return OverlayBytes(data, shareURL)
}

// OverlayBytes composites a QR code for shareURL onto the given PNG/JPEG
// image bytes and returns the result as PNG.
func OverlayBytes(panel []byte, shareURL string) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(panel))
	if err != nil {
		return nil, fmt.Errorf("share: decode panel: %w", err)
	}
	bounds := src.Bounds()
	if bounds.Dx() < minPanelEdgePx || bounds.Dy() < minPanelEdgePx {
		return nil, fmt.Errorf("share: panel %dx%d too small for qr overlay", bounds.Dx(), bounds.Dy())
	}

	code, err := qrcode.New(shareURL, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("share: build qr: %w", err)
	}
	qrImg := code.Image(qrSizePx)

	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, src, bounds.Min, draw.Src)
	offset := image.Pt(
		bounds.Max.X-qrSizePx-qrMarginPx,
		bounds.Max.Y-qrSizePx-qrMarginPx,
	)
	draw.Draw(out, image.Rectangle{Min: offset, Max: offset.Add(image.Pt(qrSizePx, qrSizePx))}, qrImg, image.Point{}, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("share: encode panel: %w", err)
	}
	return buf.Bytes(), nil
}
