package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/pipeline"
)

// markerPoints is the number of points drawn for a threshold marker.
const markerPoints = 24

func scatterXY(x, y []float64) []opts.ScatterData {
	out := make([]opts.ScatterData, len(x))
	for i := range x {
		out[i] = opts.ScatterData{Value: []interface{}{x[i], y[i]}}
	}
	return out
}

func marker(x, y0, y1 float64) []opts.ScatterData {
	ys := floats.Span(make([]float64, markerPoints), y0, y1)
	xs := make([]float64, markerPoints)
	for i := range xs {
		xs[i] = x
	}
	return scatterXY(xs, ys)
}

func curveChart(s pipeline.SubjectResult, series cpet.Series) *charts.Scatter {
	det := s.Primary.Detection
	sc := charts.NewScatter()
	sub := fmt.Sprintf("valid=%d candidates=%d", series.Len(), len(det.Candidates))
	if e := s.Primary.Estimate; e != nil {
		sub += fmt.Sprintf(" VT1=%.1f VT2=%.1f", e.VT1, e.VT2)
	}
	if g := s.Gold; g != nil {
		sub += fmt.Sprintf(" gold=%.1f/%.1f", g.VT1, g.VT2)
	}
	sc.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Subject " + s.Subject.ID, Subtitle: sub}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Name: string(series.Axis), NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: series.Channel.String(), NameLocation: "middle", NameGap: 35}),
	)
	sc.AddSeries("breaths", scatterXY(series.X, series.Y), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))
	sc.AddSeries("trend", scatterXY(det.Curve.X, det.Curve.Fitted), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))

	y0, y1 := floats.Min(series.Y), floats.Max(series.Y)
	if e := s.Primary.Estimate; e != nil {
		sc.AddSeries("VT1", marker(e.VT1, y0, y1), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
		sc.AddSeries("VT2", marker(e.VT2, y0, y1), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}
	if a := s.Augmented; a != nil && a.Estimate != nil {
		sc.AddSeries("VT1 augmented", marker(a.Estimate.VT1, y0, y1), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
		sc.AddSeries("VT2 augmented", marker(a.Estimate.VT2, y0, y1), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}
	if g := s.Gold; g != nil {
		sc.AddSeries("VT1 gold", marker(g.VT1, y0, y1), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
		sc.AddSeries("VT2 gold", marker(g.VT2, y0, y1), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}
	return sc
}

// CurvesPage renders one interactive chart per subject that has a
// detection. series is indexed like rep.Subjects; empty entries are
// skipped.
func CurvesPage(w io.Writer, rep *pipeline.Report, series []cpet.Series) error {
	page := components.NewPage()
	added := 0
	for i, s := range rep.Subjects {
		if s.Primary.Detection == nil || i >= len(series) || series[i].Len() == 0 {
			continue
		}
		page.AddCharts(curveChart(s, series[i]))
		added++
	}
	if added == 0 {
		return fmt.Errorf("no subject curves to render")
	}
	return page.Render(w)
}
