package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/brv.report/internal/agreement"
	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/pipeline"
	"github.com/banshee-data/brv.report/internal/zones"
)

// formatMetric writes undefined values as empty cells.
func formatMetric(m cpet.Metric) string {
	if !m.Defined() {
		return ""
	}
	return strconv.FormatFloat(m.Float(), 'f', 6, 64)
}

func formatFloat(v float64) string {
	return formatMetric(cpet.Metric(v))
}

var agreementHeader = []string{
	"comparison", "n", "method", "method_reason", "r", "p", "ci_low", "ci_high", "ci_level", "ci_method",
	"mean_estimate", "mean_reference", "bias", "sd_diff", "lower_loa", "upper_loa", "bias_p",
	"proportional_slope", "proportional_p", "within_loa", "see", "slope", "intercept",
}

// WriteAgreementCSV writes one row per paired comparison.
func WriteAgreementCSV(w io.Writer, results []*agreement.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(agreementHeader); err != nil {
		return err
	}
	for _, r := range results {
		ba := r.BlandAltman
		row := []string{
			r.Comparison,
			strconv.Itoa(r.N),
			string(r.Method),
			r.MethodReason,
			formatMetric(r.R),
			formatMetric(r.P),
			formatMetric(r.CILow),
			formatMetric(r.CIHigh),
			formatFloat(r.CILevel),
			string(r.CIMethod),
			formatMetric(r.MeanEstimate),
			formatMetric(r.MeanReference),
			formatMetric(ba.Bias),
			formatMetric(ba.SD),
			formatMetric(ba.LowerLoA),
			formatMetric(ba.UpperLoA),
			formatMetric(ba.BiasP),
			formatMetric(ba.ProportionalSlope),
			formatMetric(ba.ProportionalP),
			formatMetric(ba.WithinLoA),
			formatMetric(r.Regression.SEE),
			formatMetric(r.Regression.Slope),
			formatMetric(r.Regression.Intercept),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteReferenceCSV writes one row per one-sample comparison.
func WriteReferenceCSV(w io.Writer, results []*agreement.OneSampleResult) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"comparison", "n", "reference", "mean", "sd", "mean_diff", "t", "p", "ci_low", "ci_high", "ci_level"})
	for _, r := range results {
		cw.Write([]string{
			r.Comparison,
			strconv.Itoa(r.N),
			formatFloat(r.Reference),
			formatMetric(r.Mean),
			formatMetric(r.SD),
			formatMetric(r.MeanDiff),
			formatMetric(r.T),
			formatMetric(r.P),
			formatMetric(r.CILow),
			formatMetric(r.CIHigh),
			formatFloat(r.CILevel),
		})
	}
	cw.Flush()
	return cw.Error()
}

func subjectsHeader() []string {
	h := []string{"subject_id", "excluded", "stage", "kind", "samples", "valid", "candidates", "trend_degree",
		"vt1_est", "vt2_est", "vt1_gold", "vt2_gold", "tie_break"}
	for _, z := range zones.All {
		h = append(h, fmt.Sprintf("rmssd_%s_ms", z), fmt.Sprintf("intervals_%s", z))
	}
	return append(h, "vt1_augmented", "vt2_augmented", "predicted_max_hr")
}

// WriteSubjectsCSV writes one row per subject, excluded ones included, with
// the first exclusion's stage and kind.
func WriteSubjectsCSV(w io.Writer, rep *pipeline.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(subjectsHeader()); err != nil {
		return err
	}
	for _, s := range rep.Subjects {
		id := s.Subject.ID
		row := []string{id, strconv.FormatBool(s.Excluded), "", "", strconv.Itoa(s.Samples), strconv.Itoa(s.Valid), "", ""}
		if ex := rep.ExclusionsFor(id); len(ex) > 0 {
			row[2], row[3] = string(ex[0].Stage), string(ex[0].Kind)
		}
		if d := s.Primary.Detection; d != nil {
			row[6] = strconv.Itoa(len(d.Candidates))
			if d.Trend != nil {
				row[7] = strconv.Itoa(d.Trend.Degree)
			}
		}

		vt1, vt2, tie := "", "", ""
		if e := s.Primary.Estimate; e != nil {
			vt1, vt2, tie = formatFloat(e.VT1), formatFloat(e.VT2), e.TieBreak
		}
		g1, g2 := "", ""
		if s.Gold != nil {
			g1, g2 = formatFloat(s.Gold.VT1), formatFloat(s.Gold.VT2)
		}
		row = append(row, vt1, vt2, g1, g2, tie)

		for _, z := range zones.All {
			if len(s.Primary.BRV) > z.Index() {
				b := s.Primary.BRV[z.Index()]
				row = append(row, formatMetric(b.RMSSD), strconv.Itoa(b.Intervals))
			} else {
				row = append(row, "", "")
			}
		}

		a1, a2 := "", ""
		if a := s.Augmented; a != nil && a.Estimate != nil {
			a1, a2 = formatFloat(a.Estimate.VT1), formatFloat(a.Estimate.VT2)
		}
		row = append(row, a1, a2, formatMetric(s.PredictedMaxHR))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
