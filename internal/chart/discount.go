package chart

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"

	"fund-arbitrage-bot/internal/types"

	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

const (
	defaultMaxBars = 20
	barWidth       = 36
	minWidth       = 480
	chartHeight    = 480
)

var (
	// red for a premium, green for a discount, as quoted on mainland exchanges
	premiumColor  = drawing.Color{R: 220, G: 53, B: 69, A: 255}
	discountColor = drawing.Color{R: 40, G: 167, B: 69, A: 255}
	textColor     = drawing.Color{R: 200, G: 200, B: 200, A: 255}
	canvasColor   = drawing.Color{R: 55, G: 55, B: 55, A: 255}
)

// Options tunes the discount chart
type Options struct {
	Title string
	// Font replaces the bundled Roboto, e.g. with a CJK capable face
	Font *truetype.Font
	// MaxBars keeps the records with the largest absolute rate
	MaxBars int
}

// LoadFont parses a TrueType font file
func LoadFont(path string) (*truetype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read font %s", path)
	}
	font, err := truetype.Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse font %s", path)
	}
	return font, nil
}

// RenderDiscounts draws one bar per fund, labelled with its code, and
// returns the PNG bytes.
func RenderDiscounts(records []types.FundRecord, opt Options) ([]byte, error) {
	if len(records) == 0 {
		return nil, errors.New("no records to chart")
	}

	maxBars := opt.MaxBars
	if maxBars <= 0 {
		maxBars = defaultMaxBars
	}

	selected := make([]types.FundRecord, len(records))
	copy(selected, records)
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].DiscountRate.Abs().GreaterThan(selected[j].DiscountRate.Abs())
	})
	if len(selected) > maxBars {
		selected = selected[:maxBars]
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].DiscountRate.GreaterThan(selected[j].DiscountRate)
	})

	bars := make([]chart.Value, 0, len(selected))
	low, high := 0.0, 0.0
	for _, r := range selected {
		v := r.DiscountRate.InexactFloat64()
		low, high = math.Min(low, v), math.Max(high, v)

		color := discountColor
		if v > 0 {
			color = premiumColor
		}
		bars = append(bars, chart.Value{
			Label: r.Code,
			Value: v,
			Style: chart.Style{FillColor: color, StrokeColor: color},
		})
	}
	if low == high {
		low, high = -1, 1
	}
	pad := (high - low) * 0.1

	title := opt.Title
	if title == "" {
		title = "Premium/discount rate (%)"
	}

	width := len(bars)*(barWidth+12) + 120
	if width < minWidth {
		width = minWidth
	}

	graph := chart.BarChart{
		Title:      title,
		TitleStyle: chart.Style{FontColor: textColor},
		Font:       opt.Font,
		Width:      width,
		Height:     chartHeight,
		BarWidth:   barWidth,
		Background: chart.Style{
			FillColor: canvasColor,
			Padding:   chart.Box{Top: 48, Left: 16, Right: 16, Bottom: 16},
		},
		Canvas: chart.Style{FillColor: canvasColor},
		XAxis:  chart.Style{FontColor: textColor, StrokeColor: textColor},
		YAxis: chart.YAxis{
			Style: chart.Style{FontColor: textColor, StrokeColor: textColor},
			Range: &chart.ContinuousRange{Min: low - pad, Max: high + pad},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.1f%%", f)
				}
				return ""
			},
		},
		UseBaseValue: true,
		BaseValue:    0,
		Bars:         bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, errors.Wrap(err, "could not render discount chart")
	}
	return buf.Bytes(), nil
}
