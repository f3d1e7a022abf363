package images

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/ebpay-ops/alert-router/templates"
	"github.com/ebpay-ops/alert-router/utils"
)

// The png writer assumes 96 dpi, so pixel sizes convert through it.
const plotDPI = 96

// renderPlot draws the series with gonum/plot, the engine behind the
// "matplotlib" config name.
func renderPlot(series []chartSeries, title, xlabel string, width, height int) ([]byte, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.X.Tick.Marker = plot.TimeTicks{
		Format: "15:04:05",
		Time: func(t float64) time.Time {
			return time.Unix(int64(t), 0).In(templates.CST())
		},
	}
	p.Add(plotter.NewGrid())

	for i, s := range series {
		pts := make(plotter.XYs, len(s.times))
		for j := range s.times {
			pts[j].X = float64(s.times[j].Unix())
			pts[j].Y = s.values[j]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		line.Width = vg.Points(2)
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(s.legend, line)
	}
	p.Legend.Top = true

	w := vg.Length(width) * vg.Inch / plotDPI
	h := vg.Length(height) * vg.Inch / plotDPI
	wt, err := p.WriterTo(w, h, "png")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(utils.NewLimitedWriter(&buf, maxChartBytes)); err != nil {
		if errors.Is(err, utils.ErrWriteLimitExceeded) {
			return nil, ErrImageTooLarge
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return buf.Bytes(), nil
}
