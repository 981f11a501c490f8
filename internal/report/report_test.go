package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/brv.report/internal/agreement"
	"github.com/banshee-data/brv.report/internal/config"
	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/fsutil"
	"github.com/banshee-data/brv.report/internal/monitoring"
	"github.com/banshee-data/brv.report/internal/pipeline"
	"github.com/banshee-data/brv.report/internal/security"
	"github.com/banshee-data/brv.report/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func rate(x float64) float64 {
	switch {
	case x < 10:
		return 12 + 0.2*x
	case x < 20:
		return 14 + 0.2*(x-10) + 0.05*(x-10)*(x-10)
	default:
		return 21 + 1.2*(x-20)
	}
}

func fixture(t *testing.T, n int) (*pipeline.Report, []cpet.Trial) {
	t.Helper()
	var in pipeline.Input
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("S%02d", i+1)
		scale := 10 + float64(i)
		tr := cpet.Trial{Subject: cpet.Subject{ID: id, Age: 30 + float64(i)}}
		for k := 0; k <= 60; k++ {
			x := float64(k) * 0.5
			s := cpet.NewSample(k)
			s.Time = x * scale
			rr := rate(x)
			s.Values[cpet.ChannelRR] = rr
			s.Values[cpet.ChannelVt] = 0.5 + 0.1*rr
			s.Values[cpet.ChannelVe] = 5 + 0.3*rr
			s.Values[cpet.ChannelTtot] = 60/rr + 0.01*(1+0.2*float64(i))*float64(k%2)
			tr.Samples = append(tr.Samples, s)
		}
		in.Trials = append(in.Trials, tr)
		in.Gold = append(in.Gold, cpet.GoldStandard{SubjectID: id, VT1: 10*scale + float64(i%2), VT2: 20*scale - float64(i%3)})
	}
	short := cpet.Trial{Subject: cpet.Subject{ID: "SHORT"}, Samples: in.Trials[0].Samples[:5]}
	in.Trials = append(in.Trials, short)

	clock := timeutil.NewMockClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	r, err := pipeline.NewRunner(config.DefaultAnalysisConfig(),
		pipeline.WithClock(clock), pipeline.WithIDGenerator(func() string { return "run-1" }))
	require.NoError(t, err)
	rep, err := r.Run(context.Background(), in)
	require.NoError(t, err)
	return rep, in.Trials
}

func readCSV(t *testing.T, mfs *fsutil.MemoryFileSystem, path string) [][]string {
	t.Helper()
	data, err := mfs.ReadFile(path)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteTablesOnly(t *testing.T) {
	rep, trials := fixture(t, 4)
	mfs := fsutil.NewMemoryFileSystem()
	written, err := NewWriter(mfs, "/out").Write(rep, trials)
	require.NoError(t, err)

	assert.Equal(t, []string{"/out/agreement.csv", "/out/report.json", "/out/subjects.csv"}, mfs.Files("/out"))
	assert.Len(t, written, 3)

	data, err := mfs.ReadFile("/out/report.json")
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	exclusions := decoded["exclusions"].([]interface{})
	require.Len(t, exclusions, 1)
	assert.Equal(t, "SHORT", exclusions[0].(map[string]interface{})["subject_id"])

	subjects := readCSV(t, mfs, "/out/subjects.csv")
	require.Len(t, subjects, 6, "header plus five subjects")
	assert.Equal(t, subjectsHeader(), subjects[0])
	last := subjects[5]
	assert.Equal(t, "SHORT", last[0])
	assert.Equal(t, "true", last[1])
	assert.Equal(t, "condition", last[2])
	assert.Equal(t, "insufficient_data", last[3])
	assert.Equal(t, "", last[8], "no estimate for an excluded subject")
	hr := len(subjectsHeader()) - 1
	assert.Equal(t, "190.000000", subjects[1][hr])
	assert.Equal(t, "", last[hr], "no age, no predicted maximum")

	agree := readCSV(t, mfs, "/out/agreement.csv")
	assert.Equal(t, agreementHeader, agree[0])
	require.Len(t, agree, 1+len(rep.Comparisons))
	assert.Equal(t, "vt1", agree[1][0])
	assert.Equal(t, "4", agree[1][1])
}

func TestWriteFigures(t *testing.T) {
	rep, trials := fixture(t, 4)
	mfs := fsutil.NewMemoryFileSystem()
	w := NewWriter(mfs, "/out")
	w.Figures = true
	_, err := w.Write(rep, trials)
	require.NoError(t, err)

	for _, name := range []string{
		"figures/bland_altman_vt1.png",
		"figures/bland_altman_rmssd_zone1_vs_zone2.png",
		"figures/fit_S01.png",
		"figures/fit_S04.png",
	} {
		data, err := mfs.ReadFile(filepath.Join("/out", name))
		require.NoError(t, err, name)
		assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "%s is not a PNG", name)
	}
	assert.False(t, mfs.Exists("/out/figures/fit_SHORT.png"), "excluded before detection")

	page, err := mfs.ReadFile("/out/curves.html")
	require.NoError(t, err)
	html := string(page)
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "Subject S03")
	assert.NotContains(t, html, "Subject SHORT")
}

func TestWriteReferenceTable(t *testing.T) {
	res, err := agreement.OneSample("rmssd_zone1_vs_literature", []float64{20, 22, 25, 19}, 21, agreement.DefaultConfig())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteReferenceCSV(&buf, []*agreement.OneSampleResult{res}))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "rmssd_zone1_vs_literature", rows[1][0])
	assert.Equal(t, "21.000000", rows[1][2])
	assert.Equal(t, "21.500000", rows[1][3])
}

func TestAgreementCSVUndefinedCells(t *testing.T) {
	res, err := agreement.Analyze("flat", []float64{1, 1, 1}, []float64{1, 2, 3}, agreement.DefaultConfig())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteAgreementCSV(&buf, []*agreement.Result{res}))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	row := rows[1]
	assert.Equal(t, "none", row[2])
	assert.Equal(t, "", row[4], "r is not computable for a constant series")
	assert.Equal(t, "-1.000000", row[12], "bias is still reported")
}

func TestBlandAltmanPlotNeedsPairs(t *testing.T) {
	err := BlandAltmanPlot(&bytes.Buffer{}, &agreement.Result{Comparison: "empty"}, "s")
	assert.Error(t, err)
}

func TestCreateStaysInOutputDir(t *testing.T) {
	w := NewWriter(fsutil.NewMemoryFileSystem(), "/out")
	err := w.create("/out/../escape.csv", func(io.Writer) error { return nil })
	assert.Error(t, err)
	assert.NoError(t, w.create(w.path(DirFigures, "fit_"+security.SanitizeFilename("../P 01")+".png"),
		func(io.Writer) error { return nil }))
}
