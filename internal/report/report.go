// Package report writes a run report as files: the JSON report, CSV
// tables and optional PNG/HTML figures.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/fsutil"
	"github.com/banshee-data/brv.report/internal/monitoring"
	"github.com/banshee-data/brv.report/internal/pipeline"
	"github.com/banshee-data/brv.report/internal/security"
)

// Output file names.
const (
	FileReport     = "report.json"
	FileAgreement  = "agreement.csv"
	FileReferences = "reference.csv"
	FileSubjects   = "subjects.csv"
	FileCurves     = "curves.html"
	DirFigures     = "figures"
)

// Writer writes artefacts under one output directory.
type Writer struct {
	fs  fsutil.FileSystem
	dir string
	// Figures enables PNG and HTML output.
	Figures bool
	// Axis and Channel are used to recondition trials for figures.
	Axis    cpet.Axis
	Channel cpet.Channel
	// MinSamples matches the run so figures show the analysed points.
	MinSamples int
}

// NewWriter returns a Writer rooted at dir.
func NewWriter(fsys fsutil.FileSystem, dir string) *Writer {
	return &Writer{fs: fsys, dir: dir, Axis: cpet.AxisTime, Channel: cpet.ChannelRR}
}

func (w *Writer) path(parts ...string) string {
	return filepath.Join(append([]string{w.dir}, parts...)...)
}

func (w *Writer) create(name string, write func(io.Writer) error) error {
	if err := security.WithinDirectory(name, w.dir); err != nil {
		return err
	}
	f, err := w.fs.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

// MarshalReport encodes the report as indented JSON.
func MarshalReport(rep *pipeline.Report) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write stores every artefact of rep. trials are needed only for figures
// and must be in the same order as rep.Subjects. It returns the paths
// written.
func (w *Writer) Write(rep *pipeline.Report, trials []cpet.Trial) ([]string, error) {
	if err := w.fs.MkdirAll(w.dir); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	var written []string

	data, err := MarshalReport(rep)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	if err := w.fs.WriteFile(w.path(FileReport), data); err != nil {
		return nil, fmt.Errorf("write %s: %w", FileReport, err)
	}
	written = append(written, w.path(FileReport))

	tables := []struct {
		name  string
		write func(io.Writer) error
		skip  bool
	}{
		{FileAgreement, func(out io.Writer) error { return WriteAgreementCSV(out, rep.Comparisons) }, false},
		{FileReferences, func(out io.Writer) error { return WriteReferenceCSV(out, rep.References) }, len(rep.References) == 0},
		{FileSubjects, func(out io.Writer) error { return WriteSubjectsCSV(out, rep) }, false},
	}
	for _, t := range tables {
		if t.skip {
			continue
		}
		if err := w.create(w.path(t.name), t.write); err != nil {
			return written, err
		}
		written = append(written, w.path(t.name))
	}

	if !w.Figures {
		return written, nil
	}
	figs, err := w.writeFigures(rep, trials)
	written = append(written, figs...)
	return written, err
}

func (w *Writer) writeFigures(rep *pipeline.Report, trials []cpet.Trial) ([]string, error) {
	if err := w.fs.MkdirAll(w.path(DirFigures)); err != nil {
		return nil, fmt.Errorf("create figures dir: %w", err)
	}
	var written []string

	for _, c := range rep.Comparisons {
		if len(c.BlandAltman.Means) == 0 {
			continue
		}
		name := w.path(DirFigures, "bland_altman_"+security.SanitizeFilename(c.Comparison)+".png")
		units := string(w.Axis)
		if strings.HasPrefix(c.Comparison, "rmssd") {
			units = "ms"
		}
		if err := w.create(name, func(out io.Writer) error { return BlandAltmanPlot(out, c, units) }); err != nil {
			return written, err
		}
		written = append(written, name)
	}

	series := make([]cpet.Series, len(rep.Subjects))
	curves := 0
	for i, s := range rep.Subjects {
		if s.Primary.Detection == nil || i >= len(trials) || trials[i].Subject.ID != s.Subject.ID {
			continue
		}
		cs, err := cpet.Condition(trials[i], w.Axis, w.Channel, w.MinSamples)
		if err != nil {
			monitoring.Logf("figure for %s skipped: %v", s.Subject.ID, err)
			continue
		}
		series[i] = cs
		curves++
		name := w.path(DirFigures, "fit_"+security.SanitizeFilename(s.Subject.ID)+".png")
		if err := w.create(name, func(out io.Writer) error { return FitPlot(out, s, cs) }); err != nil {
			return written, err
		}
		written = append(written, name)
	}

	if curves == 0 {
		monitoring.Logf("no subject curves, %s skipped", FileCurves)
		return written, nil
	}
	name := w.path(FileCurves)
	if err := w.create(name, func(out io.Writer) error { return CurvesPage(out, rep, series) }); err != nil {
		return written, err
	}
	return append(written, name), nil
}
