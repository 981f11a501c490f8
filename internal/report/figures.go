package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/brv.report/internal/agreement"
	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/pipeline"
)

var (
	colorPoints = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	colorTrend  = color.RGBA{R: 44, G: 44, B: 44, A: 255}
	colorVT1    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	colorVT2    = color.RGBA{R: 148, G: 103, B: 189, A: 255}
	colorBias   = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	colorLimit  = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

const (
	figureWidth  = 8 * vg.Inch
	figureHeight = 5 * vg.Inch
)

func line(p *plot.Plot, pts plotter.XYs, c color.Color, dashed bool, label string) error {
	l, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	l.Color = c
	l.Width = vg.Points(1.2)
	if dashed {
		l.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	}
	p.Add(l)
	if label != "" {
		p.Legend.Add(label, l)
	}
	return nil
}

func horizontal(p *plot.Plot, y, x0, x1 float64, c color.Color, dashed bool, label string) error {
	return line(p, plotter.XYs{{X: x0, Y: y}, {X: x1, Y: y}}, c, dashed, label)
}

func vertical(p *plot.Plot, x, y0, y1 float64, c color.Color, dashed bool, label string) error {
	return line(p, plotter.XYs{{X: x, Y: y0}, {X: x, Y: y1}}, c, dashed, label)
}

func save(p *plot.Plot, w io.Writer) error {
	wt, err := p.WriterTo(figureWidth, figureHeight, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// BlandAltmanPlot draws differences against means with the bias and the
// limits of agreement as horizontal lines.
func BlandAltmanPlot(w io.Writer, r *agreement.Result, units string) error {
	ba := r.BlandAltman
	if len(ba.Means) == 0 {
		return fmt.Errorf("comparison %s has no pairs to plot", r.Comparison)
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Bland-Altman: %s (n=%d)", r.Comparison, ba.N)
	p.X.Label.Text = fmt.Sprintf("Mean of estimate and reference (%s)", units)
	p.Y.Label.Text = fmt.Sprintf("Estimate - reference (%s)", units)

	pts := make(plotter.XYs, len(ba.Means))
	for i := range ba.Means {
		pts[i] = plotter.XY{X: ba.Means[i], Y: ba.Differences[i]}
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	sc.GlyphStyle.Color = colorPoints
	sc.GlyphStyle.Shape = draw.CircleGlyph{}
	sc.GlyphStyle.Radius = vg.Points(3)
	p.Add(sc)

	x0, x1 := floats.Min(ba.Means), floats.Max(ba.Means)
	if ba.Bias.Defined() {
		if err := horizontal(p, ba.Bias.Float(), x0, x1, colorBias, false, fmt.Sprintf("bias %.2f", ba.Bias.Float())); err != nil {
			return err
		}
	}
	if ba.LowerLoA.Defined() && ba.UpperLoA.Defined() {
		label := fmt.Sprintf("LoA %.2f to %.2f", ba.LowerLoA.Float(), ba.UpperLoA.Float())
		if err := horizontal(p, ba.LowerLoA.Float(), x0, x1, colorLimit, true, label); err != nil {
			return err
		}
		if err := horizontal(p, ba.UpperLoA.Float(), x0, x1, colorLimit, true, ""); err != nil {
			return err
		}
	}
	p.Legend.Top = true
	p.Add(plotter.NewGrid())
	return save(p, w)
}

// FitPlot draws a subject's conditioned series, the fitted trend and the
// estimated (solid) and gold-standard (dashed) thresholds.
func FitPlot(w io.Writer, s pipeline.SubjectResult, series cpet.Series) error {
	det := s.Primary.Detection
	if det == nil {
		return fmt.Errorf("subject %s has no detection to plot", s.Subject.ID)
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Subject %s: %s", s.Subject.ID, det.Channel)
	p.X.Label.Text = string(series.Axis)
	p.Y.Label.Text = series.Channel.String()

	raw := make(plotter.XYs, series.Len())
	for i := range series.X {
		raw[i] = plotter.XY{X: series.X[i], Y: series.Y[i]}
	}
	sc, err := plotter.NewScatter(raw)
	if err != nil {
		return err
	}
	sc.GlyphStyle.Color = colorPoints
	sc.GlyphStyle.Radius = vg.Points(2)
	p.Add(sc)
	p.Legend.Add("breaths", sc)

	fitted := make(plotter.XYs, len(det.Curve.X))
	for i := range det.Curve.X {
		fitted[i] = plotter.XY{X: det.Curve.X[i], Y: det.Curve.Fitted[i]}
	}
	label := "trend"
	if det.Trend != nil {
		label = fmt.Sprintf("trend (degree %d)", det.Trend.Degree)
	}
	if err := line(p, fitted, colorTrend, false, label); err != nil {
		return err
	}

	y0, y1 := floats.Min(series.Y), floats.Max(series.Y)
	if e := s.Primary.Estimate; e != nil {
		if err := vertical(p, e.VT1, y0, y1, colorVT1, false, "VT1"); err != nil {
			return err
		}
		if err := vertical(p, e.VT2, y0, y1, colorVT2, false, "VT2"); err != nil {
			return err
		}
	}
	if g := s.Gold; g != nil {
		if err := vertical(p, g.VT1, y0, y1, colorVT1, true, "VT1 gold"); err != nil {
			return err
		}
		if err := vertical(p, g.VT2, y0, y1, colorVT2, true, "VT2 gold"); err != nil {
			return err
		}
	}
	p.Legend.Top = true
	p.Legend.Left = true
	return save(p, w)
}
