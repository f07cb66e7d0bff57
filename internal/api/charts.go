package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/foresight/internal/httputil"
	"github.com/banshee-data/foresight/internal/obstacle"
)

// handleTrajectoryChart renders the obstacle's position history as an
// interactive scatter (HTML), points coloured by speed.
func (s *Server) handleTrajectoryChart(w http.ResponseWriter, r *http.Request, o *obstacle.Obstacle) {
	features := trajectoryFeatures(o)
	if len(features) == 0 {
		httputil.NotFound(w, fmt.Sprintf("obstacle %d has no features yet", o.ID()))
		return
	}

	data := make([]opts.ScatterData, 0, len(features))
	maxAbs := 0.0
	maxSpeed := 0.0
	for _, f := range features {
		x, y := f.Position.X, f.Position.Y
		if math.Abs(x) > maxAbs {
			maxAbs = math.Abs(x)
		}
		if math.Abs(y) > maxAbs {
			maxAbs = math.Abs(y)
		}
		if f.Speed > maxSpeed {
			maxSpeed = f.Speed
		}
		data = append(data, opts.ScatterData{Value: []interface{}{x, y, f.Speed}})
	}

	// Pad so edge points stay visible; force a square, symmetric plot.
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxSpeed == 0 {
		maxSpeed = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: fmt.Sprintf("Obstacle %d Trajectory", o.ID()), Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Obstacle %d Trajectory", o.ID()), Subtitle: fmt.Sprintf("type=%s observations=%d", o.Type(), len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxSpeed),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)
	scatter.AddSeries("trajectory", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTrajectoryPNG renders the XY path as a static PNG.
func (s *Server) handleTrajectoryPNG(w http.ResponseWriter, r *http.Request, o *obstacle.Obstacle) {
	features := trajectoryFeatures(o)
	if len(features) == 0 {
		httputil.NotFound(w, fmt.Sprintf("obstacle %d has no features yet", o.ID()))
		return
	}

	p, err := TrajectoryPlot(o.ID(), o.Type(), features)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build plot: %v", err))
		return
	}

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		// Headers are gone; nothing more to do than note it.
		return
	}
}

// TrajectoryPlot builds the XY path figure from a feature history (oldest
// first). Shared by the PNG endpoint and offline tooling.
func TrajectoryPlot(id int, typ obstacle.Type, features []obstacle.Feature) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Obstacle %d (%s)", id, typ)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	pts := make(plotter.XYs, 0, len(features))
	for _, f := range features {
		pts = append(pts, plotter.XY{X: f.Position.X, Y: f.Position.Y})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Width = vg.Points(1)

	points, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	points.GlyphStyle.Radius = vg.Points(2)

	p.Add(line, points)
	p.Legend.Add("path", line)
	p.Legend.Top = true
	return p, nil
}

// trajectoryFeatures returns the obstacle's history oldest first, the
// natural order for path rendering.
func trajectoryFeatures(o *obstacle.Obstacle) []obstacle.Feature {
	features := o.Features(0)
	for i, j := 0, len(features)-1; i < j; i, j = i+1, j-1 {
		features[i], features[j] = features[j], features[i]
	}
	return features
}
