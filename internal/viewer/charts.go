package viewer

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const defaultMaxPoints = 20000

// maxPointsParam reads max_points, clamped to a sane range.
func maxPointsParam(r *http.Request) int {
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v >= 100 && v <= 200000 {
			return v
		}
	}
	return defaultMaxPoints
}

// strideFor keeps the total number of plotted points under maxPoints.
func strideFor(objs []Renderable, maxPoints int) int {
	total := 0
	for _, o := range objs {
		total += len(o.Points)
	}
	if total <= maxPoints {
		return 1
	}
	return int(math.Ceil(float64(total) / float64(maxPoints)))
}

// extent returns a symmetric half-width covering every point and box.
func extent(objs []Renderable) float64 {
	maxAbs := 0.0
	grow := func(x, y float32) {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(float64(x)), math.Abs(float64(y))))
	}
	for _, o := range objs {
		for _, p := range o.Points {
			grow(p[0], p[1])
		}
		if o.Box != nil {
			grow(o.Box.Min[0], o.Box.Min[1])
			grow(o.Box.Max[0], o.Box.Max[1])
		}
	}
	if maxAbs == 0 {
		return 1
	}
	return maxAbs * 1.05
}

func seriesName(o Renderable) string {
	if o.State != "" {
		return fmt.Sprintf("%s %d (%s)", o.Kind, o.ID, o.State)
	}
	return fmt.Sprintf("%s %d", o.Kind, o.ID)
}

// handleSceneChart renders a top-down scatter of the scene, one series per
// object in its display colour.
func (ws *WebServer) handleSceneChart(w http.ResponseWriter, r *http.Request) {
	objs := ws.store.Snapshot()
	stride := strideFor(objs, maxPointsParam(r))
	pad := extent(objs)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Pleiades scene", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Scene (top down)", Subtitle: fmt.Sprintf("objects=%d stride=%d", len(objs), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(len(objs) <= 20)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)

	for _, o := range objs {
		data := make([]opts.ScatterData, 0, len(o.Points)/stride+1)
		for i := 0; i < len(o.Points); i += stride {
			p := o.Points[i]
			data = append(data, opts.ScatterData{Value: []interface{}{p[0], p[1]}})
		}
		if o.Centroid != nil {
			data = append(data, opts.ScatterData{Value: []interface{}{o.Centroid[0], o.Centroid[1]}, Symbol: "diamond", SymbolSize: 10})
		}
		scatter.AddSeries(seriesName(o), data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: o.Color}),
		)
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleScene3DChart renders the scene as a rotatable 3D scatter.
func (ws *WebServer) handleScene3DChart(w http.ResponseWriter, r *http.Request) {
	objs := ws.store.Snapshot()
	stride := strideFor(objs, maxPointsParam(r))

	scatter := charts.NewScatter3D()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Pleiades scene 3D", Theme: "dark", Width: "1100px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{Title: "Scene (3D)", Subtitle: fmt.Sprintf("objects=%d stride=%d", len(objs), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	for _, o := range objs {
		data := make([]opts.Chart3DData, 0, len(o.Points)/stride+1)
		for i := 0; i < len(o.Points); i += stride {
			p := o.Points[i]
			data = append(data, opts.Chart3DData{Value: []interface{}{p[0], p[1], p[2]}})
		}
		scatter.AddSeries(seriesName(o), data, charts.WithItemStyleOpts(opts.ItemStyle{Color: o.Color}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func toColor(c RGB) color.RGBA {
	return color.RGBA{R: channel(c.R), G: channel(c.G), B: channel(c.B), A: 255}
}

// renderPNG draws objs top down with cluster boxes.
func renderPNG(objs []Renderable, stride int, size vg.Length) ([]byte, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Pleiades scene (%d objects)", len(objs))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	pad := extent(objs)
	p.X.Min, p.X.Max = -pad, pad
	p.Y.Min, p.Y.Max = -pad, pad
	p.Add(plotter.NewGrid())

	for _, o := range objs {
		state, isCluster := o.state, o.Box != nil
		if len(o.Points) > 0 {
			pts := make(plotter.XYs, 0, len(o.Points)/stride+1)
			for i := 0; i < len(o.Points); i += stride {
				pts = append(pts, plotter.XY{X: float64(o.Points[i][0]), Y: float64(o.Points[i][1])})
			}
			s, err := plotter.NewScatter(pts)
			if err != nil {
				return nil, fmt.Errorf("object %d points: %w", o.ID, err)
			}
			s.GlyphStyle.Color = toColor(ObjectColor(o.ID, state, isCluster))
			s.GlyphStyle.Radius = vg.Points(1)
			p.Add(s)
		}
		if o.Box != nil {
			b := o.Box
			outline := plotter.XYs{
				{X: float64(b.Min[0]), Y: float64(b.Min[1])},
				{X: float64(b.Max[0]), Y: float64(b.Min[1])},
				{X: float64(b.Max[0]), Y: float64(b.Max[1])},
				{X: float64(b.Min[0]), Y: float64(b.Max[1])},
				{X: float64(b.Min[0]), Y: float64(b.Min[1])},
			}
			l, err := plotter.NewLine(outline)
			if err != nil {
				return nil, fmt.Errorf("object %d box: %w", o.ID, err)
			}
			l.LineStyle.Color = toColor(BoxColor(o.ID, state))
			l.LineStyle.Width = vg.Points(1)
			p.Add(l)
		}
	}

	wt, err := p.WriterTo(size, size, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// handleScenePNG renders a static top-down PNG, for dashboards that cannot
// run JavaScript.
func (ws *WebServer) handleScenePNG(w http.ResponseWriter, r *http.Request) {
	objs := ws.store.Snapshot()
	size := 8 * vg.Inch
	if v := r.URL.Query().Get("size_in"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed >= 2 && parsed <= 20 {
			size = vg.Length(parsed) * vg.Inch
		}
	}
	img, err := renderPNG(objs, strideFor(objs, maxPointsParam(r)), size)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render png: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(img)
}
