package chart

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"time"

	"fund-arbitrage-bot/internal/types"

	"github.com/pkg/errors"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

var lineColor = drawing.Color{R: 0, G: 122, B: 255, A: 255}

// ErrNotEnoughPoints is returned when a history has fewer than two observations
var ErrNotEnoughPoints = errors.New("at least two observations are needed for a history chart")

// RenderHistory draws the premium/discount rate of one fund over time and
// returns the PNG bytes. Records may come in any order.
func RenderHistory(records []types.FundRecord, opt Options, loc *time.Location) ([]byte, error) {
	if len(records) < 2 {
		return nil, ErrNotEnoughPoints
	}
	if loc == nil {
		loc = time.UTC
	}

	sorted := make([]types.FundRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SourceUpdatedAt.Before(sorted[j].SourceUpdatedAt)
	})

	times := make([]time.Time, 0, len(sorted))
	rates := make([]float64, 0, len(sorted))
	low, high := math.Inf(1), math.Inf(-1)
	for _, r := range sorted {
		v := r.DiscountRate.InexactFloat64()
		times = append(times, r.SourceUpdatedAt.In(loc))
		rates = append(rates, v)
		low, high = math.Min(low, v), math.Max(high, v)
	}
	if times[0].Equal(times[len(times)-1]) {
		return nil, ErrNotEnoughPoints
	}
	if low == high {
		low, high = low-1, high+1
	}
	padding := (high - low) * 0.1

	title := opt.Title
	if title == "" {
		title = fmt.Sprintf("%s premium/discount rate (%%)", sorted[len(sorted)-1].Code)
	}

	graph := chart.Chart{
		Title:      title,
		TitleStyle: chart.Style{FontColor: textColor},
		Font:       opt.Font,
		Width:      1200,
		Height:     chartHeight,
		Background: chart.Style{
			FillColor: canvasColor,
			Padding:   chart.Box{Top: 48, Left: 16, Right: 16, Bottom: 16},
		},
		Canvas: chart.Style{FillColor: canvasColor},
		XAxis: chart.XAxis{
			Style:          chart.Style{FontColor: textColor, StrokeColor: textColor},
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Style: chart.Style{FontColor: textColor, StrokeColor: textColor},
			Range: &chart.ContinuousRange{Min: low - padding, Max: high + padding},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.2f%%", f)
				}
				return ""
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				XValues: times,
				YValues: rates,
				Style: chart.Style{
					StrokeColor: lineColor,
					StrokeWidth: 2,
					FillColor:   lineColor.WithAlpha(35),
					DotColor:    lineColor,
					DotWidth:    3,
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, errors.Wrap(err, "could not render history chart")
	}
	return buf.Bytes(), nil
}
