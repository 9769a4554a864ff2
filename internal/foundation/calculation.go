package foundation

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/quality"
	"github.com/boddenberg/support-agent-go/internal/router"
)

const (
	defaultDPI  = 300
	cmPerInch   = 2.54
	calcMissing = "I can help with print size calculations. Please give me the artwork dimensions in pixels and the DPI (dots per inch) you want, for example '4000x6000 pixels at 300 DPI'."
)

var (
	pixelDims = regexp.MustCompile(`(?i)(\d+)\s*x\s*(\d+)\s*(pixels?|px)?`)
	dpiValue  = regexp.MustCompile(`(?i)(\d+)\s*dpi`)
)

// PrintSize is the largest print an image supports at a resolution.
type PrintSize struct {
	WidthPixels  int     `json:"widthPixels"`
	HeightPixels int     `json:"heightPixels"`
	DPI          int     `json:"dpi"`
	WidthInches  float64 `json:"widthInches"`
	HeightInches float64 `json:"heightInches"`
	WidthCm      float64 `json:"widthCm"`
	HeightCm     float64 `json:"heightCm"`
}

// ComputePrintSize converts pixel dimensions at dpi into inches and
// centimetres, rounded to two decimals.
func ComputePrintSize(widthPx, heightPx, dpi int) PrintSize {
	if dpi <= 0 {
		dpi = defaultDPI
	}
	w := float64(widthPx) / float64(dpi)
	h := float64(heightPx) / float64(dpi)
	return PrintSize{
		WidthPixels:  widthPx,
		HeightPixels: heightPx,
		DPI:          dpi,
		WidthInches:  round2(w),
		HeightInches: round2(h),
		WidthCm:      round2(w * cmPerInch),
		HeightCm:     round2(h * cmPerInch),
	}
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }

// CalculationHandler answers print-size questions from pixel dimensions
// and DPI.
type CalculationHandler struct{}

// NewCalculationHandler creates the handler.
func NewCalculationHandler() *CalculationHandler { return &CalculationHandler{} }

func (h *CalculationHandler) Name() string    { return CalculationName }
func (h *CalculationHandler) Version() string { return Version }

func (h *CalculationHandler) CanHandle(intent domain.Intent, _ *router.HandlerContext) bool {
	return intent.Type == domain.IntentCalculation
}

// Handle records the expected numbers under ExtraCalculation so technical
// validation can check the reply against them.
func (h *CalculationHandler) Handle(_ context.Context, message string, intent domain.Intent, _ *router.HandlerContext) (*domain.Response, error) {
	w, hgt, dpi, ok := calculationParams(message, intent)
	if !ok {
		return reply(calcMissing, 0.5), nil
	}
	size := ComputePrintSize(w, hgt, dpi)
	content := fmt.Sprintf(
		"At %d DPI (dots per inch), %dx%d pixels print at up to %.2f x %.2f inches (%.2f x %.2f cm). Printing larger lowers the effective resolution, so the result may look soft.",
		size.DPI, size.WidthPixels, size.HeightPixels,
		size.WidthInches, size.HeightInches, size.WidthCm, size.HeightCm,
	)
	resp := reply(content, 1.0)
	resp.Metadata.Extra[ExtraCalculation] = quality.Calculation{
		DPI:    float64(size.DPI),
		Width:  size.WidthInches,
		Height: size.HeightInches,
	}
	resp.Metadata.Extra["printSize"] = size
	return resp, nil
}

// calculationParams prefers the entities found by intent detection and
// falls back to parsing the message. DPI defaults to 300.
func calculationParams(message string, intent domain.Intent) (w, h, dpi int, ok bool) {
	w, okW := intEntity(intent.Entities, "widthPixels")
	h, okH := intEntity(intent.Entities, "heightPixels")
	if !okW || !okH {
		m := pixelDims.FindStringSubmatch(message)
		if m == nil {
			return 0, 0, 0, false
		}
		w, _ = strconv.Atoi(m[1])
		h, _ = strconv.Atoi(m[2])
	}
	dpi, okD := intEntity(intent.Entities, "dpi")
	if !okD {
		if m := dpiValue.FindStringSubmatch(message); m != nil {
			dpi, _ = strconv.Atoi(m[1])
		}
	}
	if dpi <= 0 {
		dpi = defaultDPI
	}
	return w, h, dpi, w > 0 && h > 0
}

func intEntity(entities map[string]any, key string) (int, bool) {
	switch v := entities[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}
