package images

import (
	"bytes"
	"errors"
	"fmt"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/ebpay-ops/alert-router/utils"
)

// chartPalette colors series strokes, wrapping around on crowded charts.
var chartPalette = []drawing.Color{
	{R: 0xe7, G: 0x4c, B: 0x3c, A: 0xff},
	{R: 0x34, G: 0x98, B: 0xdb, A: 0xff},
	{R: 0x2e, G: 0xcc, B: 0x71, A: 0xff},
	{R: 0xf3, G: 0x9c, B: 0x12, A: 0xff},
	{R: 0x9b, G: 0x59, B: 0xb6, A: 0xff},
	{R: 0x1a, G: 0xbc, B: 0x9c, A: 0xff},
	{R: 0xe6, G: 0x7e, B: 0x22, A: 0xff},
	{R: 0x34, G: 0x49, B: 0x5e, A: 0xff},
}

// renderChart draws the series with go-chart, the engine behind the
// "plotly" config name.
func renderChart(series []chartSeries, title, xlabel string, width, height int) ([]byte, error) {
	graph := chart.Chart{
		Title:  title,
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			Name:           xlabel,
			ValueFormatter: chart.TimeValueFormatterWithFormat("15:04:05"),
		},
		YAxis: chart.YAxis{
			ValueFormatter: chart.FloatValueFormatter,
		},
	}

	for i, s := range series {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    s.legend,
			XValues: s.times,
			YValues: s.values,
			Style: chart.Style{
				StrokeColor: chartPalette[i%len(chartPalette)],
				StrokeWidth: 2.5,
			},
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, utils.NewLimitedWriter(&buf, maxChartBytes)); err != nil {
		if errors.Is(err, utils.ErrWriteLimitExceeded) {
			return nil, ErrImageTooLarge
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return buf.Bytes(), nil
}
