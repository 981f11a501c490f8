package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/brv.report/internal/db"
	"github.com/banshee-data/brv.report/internal/fsutil"
	"github.com/banshee-data/brv.report/internal/monitoring"
	"github.com/banshee-data/brv.report/internal/pipeline"
)

func init() {
	monitoring.SetLogger(nil)
}

func breathRate(x float64) float64 {
	switch {
	case x < 10:
		return 12 + 0.2*x
	case x < 20:
		return 14 + 0.2*(x-10) + 0.05*(x-10)*(x-10)
	default:
		return 21 + 1.2*(x-20)
	}
}

// writeInputs writes a cohort of n subjects whose thresholds sit at
// 10*scale and 20*scale seconds.
func writeInputs(t *testing.T, mfs *fsutil.MemoryFileSystem, n int) {
	t.Helper()
	var trials, gold, subjects strings.Builder
	trials.WriteString("patient_id,time_seconds,rr_br_per_min,vt_btps_l,ve_btps_l_per_min,ttot_sec\n")
	gold.WriteString("patient_id,vt1,vt2\n")
	subjects.WriteString("patient_id,sex,age,body_mass_kg\n")
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("P%02d", i+1)
		scale := 10 + float64(i)
		for k := 0; k <= 60; k++ {
			x := float64(k) * 0.5
			rr := breathRate(x)
			ttot := 60/rr + 0.01*(1+0.2*float64(i))*float64(k%2)
			fmt.Fprintf(&trials, "%s,%g,%g,%g,%g,%g\n", id, x*scale, rr, 0.5+0.1*rr, 5+0.3*rr, ttot)
		}
		fmt.Fprintf(&gold, "%s,%g,%g\n", id, 10*scale+float64(i%2), 20*scale-float64(i%3))
		fmt.Fprintf(&subjects, "%s,F,%d,%d\n", id, 30+i, 60+i)
	}
	require.NoError(t, mfs.WriteFile("/in/trials.csv", []byte(trials.String())))
	require.NoError(t, mfs.WriteFile("/in/gold.csv", []byte(gold.String())))
	require.NoError(t, mfs.WriteFile("/in/subjects.csv", []byte(subjects.String())))
}

func TestRunAnalyse(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	writeInputs(t, mfs, 4)
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	rep, err := runAnalyse(context.Background(), mfs, analyseOptions{
		Trials:   "/in/trials.csv",
		Gold:     "/in/gold.csv",
		Subjects: "/in/subjects.csv",
		Out:      "/out",
		DBPath:   dbPath,
		Workers:  2,
	})
	require.NoError(t, err)
	require.Len(t, rep.Subjects, 4)
	assert.Equal(t, 31.0, rep.Subjects[1].Subject.Age, "subject attributes merged")
	assert.Empty(t, rep.Exclusions)
	require.NotNil(t, rep.Comparison(pipeline.CompareVT1))
	assert.Equal(t, 4, rep.Comparison(pipeline.CompareVT1).N)

	assert.True(t, mfs.Exists("/out/report.json"))
	assert.True(t, mfs.Exists("/out/agreement.csv"))
	assert.False(t, mfs.Exists("/out/curves.html"), "figures are opt-in")

	store, err := db.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rep.RunID, runs[0].RunID)

	var out bytes.Buffer
	require.NoError(t, listRuns(context.Background(), &out, dbPath))
	assert.Contains(t, out.String(), rep.RunID)

	out.Reset()
	printSummary(&out, rep)
	assert.Contains(t, out.String(), "vt1_augmented")
	assert.Contains(t, out.String(), "rmssd_zone1_vs_zone2")
}

func TestRunAnalyseErrors(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	writeInputs(t, mfs, 3)

	tests := []struct {
		name string
		opts analyseOptions
		want string
	}{
		{"missing trials", analyseOptions{Trials: "/in/none.csv", Gold: "/in/gold.csv", Out: "/out"}, "/in/none.csv"},
		{"missing gold", analyseOptions{Trials: "/in/trials.csv", Gold: "/in/none.csv", Out: "/out"}, "/in/none.csv"},
		{"bad config", analyseOptions{Trials: "/in/trials.csv", Gold: "/in/gold.csv", Config: "/nowhere/c.json", Out: "/out"}, "c.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runAnalyse(context.Background(), mfs, tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	var out bytes.Buffer

	require.NoError(t, runMigrate(&out, dbPath, []string{"version"}))
	assert.Equal(t, "schema version 0\n", out.String())

	out.Reset()
	require.NoError(t, runMigrate(&out, dbPath, []string{"up"}))
	assert.Equal(t, "schema version 2\n", out.String())

	out.Reset()
	require.NoError(t, runMigrate(&out, dbPath, []string{"down"}))
	assert.Equal(t, "schema version 1\n", out.String())

	assert.Error(t, runMigrate(&out, dbPath, []string{"sideways"}))
	assert.Error(t, runMigrate(&out, dbPath, []string{"force"}))
	assert.Error(t, runMigrate(&out, dbPath, []string{"force", "x"}))
}
