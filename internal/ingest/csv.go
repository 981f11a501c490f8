// Package ingest reads the cleaned long-format CSV exports (one row per
// breath, many subjects per file) into trials, gold-standard thresholds
// and subject descriptions.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/fsutil"
	"github.com/banshee-data/brv.report/internal/monitoring"
	"github.com/banshee-data/brv.report/internal/units"
)

// Column names shared by every export.
const (
	ColSubject     = "patient_id"
	ColTimeSeconds = "time_seconds"
	ColTimeClock   = "time"
	ColWork        = "work_watts"
	ColVT1         = "vt1"
	ColVT2         = "vt2"
	ColSex         = "sex"
	ColAge         = "age"
	ColBodyMass    = "body_mass_kg"
)

// missingTokens are cell values treated as a missing measurement.
var missingTokens = map[string]bool{
	"": true, "nan": true, "na": true, "n/a": true, "-": true, "null": true,
}

// header maps lower-cased column names to their index.
type header map[string]int

func readHeader(r *csv.Reader) (header, error) {
	row, err := r.Read()
	if err == io.EOF {
		return nil, errors.New("empty file: missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h := make(header, len(row))
	for i, name := range row {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := h[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		h[name] = i
	}
	return h, nil
}

func (h header) require(names ...string) error {
	for _, n := range names {
		if _, ok := h[n]; !ok {
			return fmt.Errorf("missing required column %q", n)
		}
	}
	return nil
}

func (h header) cell(row []string, name string) (string, bool) {
	i, ok := h[name]
	if !ok || i >= len(row) {
		return "", false
	}
	return strings.TrimSpace(row[i]), true
}

// parseFloat returns NaN for missing tokens.
func parseFloat(s string) (float64, error) {
	if missingTokens[strings.ToLower(s)] {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

// ReadTrials parses a breath-by-breath export. The effort time comes from
// time_seconds, or from an HH:MM:SS time column when time_seconds is
// absent. Channel columns are recognised by name; other columns are
// ignored. Trials are returned in order of each subject's first row and
// samples keep their row order as Seq.
func ReadTrials(r io.Reader) ([]cpet.Trial, error) {
	cr := newReader(r)
	h, err := readHeader(cr)
	if err != nil {
		return nil, err
	}
	if err := h.require(ColSubject); err != nil {
		return nil, err
	}
	_, hasSeconds := h[ColTimeSeconds]
	_, hasClock := h[ColTimeClock]
	if !hasSeconds && !hasClock {
		return nil, fmt.Errorf("missing time column: need %q or %q", ColTimeSeconds, ColTimeClock)
	}

	type column struct {
		index int
		ch    cpet.Channel
	}
	var channels []column
	for _, ch := range cpet.Channels() {
		if i, ok := h[ch.String()]; ok {
			channels = append(channels, column{i, ch})
		}
	}
	if len(channels) == 0 {
		return nil, errors.New("no channel columns found")
	}

	var trials []cpet.Trial
	index := make(map[string]int)
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		id, _ := h.cell(row, ColSubject)
		if id == "" {
			monitoring.Debugf("ingest: line %d has no %s, skipped", line, ColSubject)
			continue
		}
		ti, ok := index[id]
		if !ok {
			ti = len(trials)
			index[id] = ti
			trials = append(trials, cpet.Trial{Subject: cpet.Subject{ID: id}})
		}

		s := cpet.NewSample(len(trials[ti].Samples))
		if s.Time, err = readTime(h, row, hasSeconds); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if v, ok := h.cell(row, ColWork); ok {
			if s.Work, err = parseFloat(v); err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, ColWork, err)
			}
		}
		for _, c := range channels {
			if c.index >= len(row) {
				continue
			}
			v, err := parseFloat(strings.TrimSpace(row[c.index]))
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, c.ch, err)
			}
			s.Values[c.ch] = v
		}
		trials[ti].Samples = append(trials[ti].Samples, s)
	}
	return trials, nil
}

func readTime(h header, row []string, seconds bool) (float64, error) {
	if seconds {
		v, _ := h.cell(row, ColTimeSeconds)
		t, err := parseFloat(v)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", ColTimeSeconds, err)
		}
		return t, nil
	}
	v, _ := h.cell(row, ColTimeClock)
	if missingTokens[strings.ToLower(v)] {
		return math.NaN(), nil
	}
	t, err := units.ParseClock(v)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", ColTimeClock, err)
	}
	return t, nil
}

// ReadGold parses patient_id,vt1,vt2 rows. Every row must satisfy
// VT1 < VT2; a subject may appear only once.
func ReadGold(r io.Reader) ([]cpet.GoldStandard, error) {
	cr := newReader(r)
	h, err := readHeader(cr)
	if err != nil {
		return nil, err
	}
	if err := h.require(ColSubject, ColVT1, ColVT2); err != nil {
		return nil, err
	}
	var out []cpet.GoldStandard
	seen := make(map[string]bool)
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		id, _ := h.cell(row, ColSubject)
		if id == "" {
			continue
		}
		if seen[id] {
			return nil, fmt.Errorf("line %d: duplicate gold standard for %s", line, id)
		}
		seen[id] = true
		g := cpet.GoldStandard{SubjectID: id}
		v1, _ := h.cell(row, ColVT1)
		v2, _ := h.cell(row, ColVT2)
		if g.VT1, err = parseFloat(v1); err != nil {
			return nil, fmt.Errorf("line %d column %s: %w", line, ColVT1, err)
		}
		if g.VT2, err = parseFloat(v2); err != nil {
			return nil, fmt.Errorf("line %d column %s: %w", line, ColVT2, err)
		}
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// ReadSubjects parses patient_id,sex,age,body_mass_kg rows. Only
// patient_id is required.
func ReadSubjects(r io.Reader) ([]cpet.Subject, error) {
	cr := newReader(r)
	h, err := readHeader(cr)
	if err != nil {
		return nil, err
	}
	if err := h.require(ColSubject); err != nil {
		return nil, err
	}
	var out []cpet.Subject
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		id, _ := h.cell(row, ColSubject)
		if id == "" {
			continue
		}
		s := cpet.Subject{ID: id}
		s.Sex, _ = h.cell(row, ColSex)
		if s.Age, err = optional(h, row, ColAge); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if s.BodyMassKg, err = optional(h, row, ColBodyMass); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// optional reads a descriptive number; a missing value is zero so the
// subject stays JSON-encodable.
func optional(h header, row []string, name string) (float64, error) {
	v, ok := h.cell(row, name)
	if !ok {
		return 0, nil
	}
	f, err := parseFloat(v)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", name, err)
	}
	if math.IsNaN(f) {
		return 0, nil
	}
	return f, nil
}

// MergeSubjects copies subject descriptions onto the matching trials.
func MergeSubjects(trials []cpet.Trial, subjects []cpet.Subject) {
	byID := make(map[string]cpet.Subject, len(subjects))
	for _, s := range subjects {
		byID[s.ID] = s
	}
	for i := range trials {
		if s, ok := byID[trials[i].Subject.ID]; ok {
			trials[i].Subject = s
		}
	}
}

func open(fsys fsutil.FileSystem, path string) (io.ReadCloser, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// LoadTrials reads trials from a file.
func LoadTrials(fsys fsutil.FileSystem, path string) ([]cpet.Trial, error) {
	f, err := open(fsys, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	trials, err := ReadTrials(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return trials, nil
}

// LoadGold reads gold-standard thresholds from a file.
func LoadGold(fsys fsutil.FileSystem, path string) ([]cpet.GoldStandard, error) {
	f, err := open(fsys, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gold, err := ReadGold(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return gold, nil
}

// LoadSubjects reads subject descriptions from a file.
func LoadSubjects(fsys fsutil.FileSystem, path string) ([]cpet.Subject, error) {
	f, err := open(fsys, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	subjects, err := ReadSubjects(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return subjects, nil
}
