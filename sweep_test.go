package noctuner

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// goodTrace builds a loss-free trace with traffic on both topologies
func goodTrace(packets int) string {
	var b strings.Builder
	for seq := 0; seq < packets; seq++ {
		t := seq * 10
		fmt.Fprintf(&b, "%d ns [iRC] Send seq=%d\n", t, seq)
		fmt.Fprintf(&b, "%d ns [iRC_tx] Send seq=%d\n", t, seq)
		fmt.Fprintf(&b, "%d ns [iRC_tx] sender_thread pushed seq_num=%d queue_id=0\n", t, seq)
		fmt.Fprintf(&b, "[TX_FIFO] depth=%d\n", seq%4+1)
	}
	for seq := 0; seq < packets; seq++ {
		t := seq*10 + 100
		fmt.Fprintf(&b, "%d ns [iEP_q0] Popping data: seq_num=%d\n", t, seq)
		fmt.Fprintf(&b, "%d ns [iEP_after_RX_q0] input_router_thread routed seq_num=%d\n", t, seq)
		fmt.Fprintf(&b, "%d ns [iEP_after_RX_q0] Popping data: seq_num=%d\n", t, seq)
	}
	return b.String()
}

// lossyTrace drops a block out of the middle of the ready stream
func lossyTrace(packets int) string {
	var b strings.Builder
	for seq := 0; seq < packets; seq++ {
		t := seq * 10
		fmt.Fprintf(&b, "%d ns [iRC] Send seq=%d\n", t, seq)
		fmt.Fprintf(&b, "%d ns [iRC_tx] Send seq=%d\n", t, seq)
		fmt.Fprintf(&b, "%d ns [iRC_tx] sender_thread pushed seq_num=%d queue_id=0\n", t, seq)
	}
	for seq := 0; seq < packets; seq++ {
		if seq >= 10 && seq < 20 {
			// silently lost: no drop record, no route record
			continue
		}
		t := seq*10 + 100
		fmt.Fprintf(&b, "%d ns [iEP_q0] Popping data: seq_num=%d\n", t, seq)
		fmt.Fprintf(&b, "%d ns [iEP_after_RX_q0] input_router_thread routed seq_num=%d\n", t, seq)
		fmt.Fprintf(&b, "%d ns [iEP_after_RX_q0] Popping data: seq_num=%d\n", t, seq)
	}
	return b.String()
}

// testDesc wires a sweep against a canned trace file instead of a real
// simulator: the run command just copies the fixture to stdout
func testDesc(t *testing.T, trace string) *SweepDesc {
	t.Helper()
	dir := t.TempDir()

	cfg := filepath.Join(dir, "config.h")
	require.NoError(t, os.WriteFile(cfg, []byte(configFixture), 0644))

	fixture := filepath.Join(dir, "fixture.txt")
	require.NoError(t, os.WriteFile(fixture, []byte(trace), 0644))

	return &SweepDesc{
		ExpName:     "test",
		ConfigFile:  cfg,
		Build:       [][]string{{"true"}},
		Run:         []string{"cat", fixture},
		TraceFile:   filepath.Join(dir, "run.log"),
		ReportFile:  filepath.Join(dir, "report.csv"),
		TargetRatio: 0.5,
		PacketSize:  8,
		Params: []SweepParam{
			{Name: "latency", Decl: "DATA_NOC_LATENCY", Values: []int{1, 20}},
			{Name: "stall", Decl: "DATA_NOC_STALL_PCT", Values: []int{5}},
		},
	}
}

func readReportRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestSweepHappyPath(t *testing.T) {
	desc := testDesc(t, goodTrace(100))
	report, err := CreateSweeper(desc).Run()
	require.NoError(t, err)
	require.Len(t, report.Points, 2)

	for _, point := range report.Points {
		require.Equal(t, StatusOK, point.Status)
		require.True(t, point.HasRatio)
		require.InDelta(t, 1.0, point.Ratio, 1e-9)
	}

	rows := readReportRows(t, desc.ReportFile)
	require.Len(t, rows, 3) // header + one row per point
	require.Equal(t, "latency", rows[0][0])
	require.Equal(t, "stall", rows[0][1])
	require.Equal(t, "status", rows[0][len(rows[0])-1])
	require.Equal(t, "1", rows[1][0])
	require.Equal(t, "20", rows[2][0])
	require.Equal(t, StatusOK, rows[1][len(rows[1])-1])
}

func TestSweepBuildFailureContained(t *testing.T) {
	desc := testDesc(t, goodTrace(100))
	// fail the build only when the first parameter is patched to 20
	desc.Build = [][]string{{"sh", "-c",
		"! grep -q 'DATA_NOC_LATENCY = 20;' " + desc.ConfigFile}}

	report, err := CreateSweeper(desc).Run()
	require.NoError(t, err)
	require.Len(t, report.Points, 2)

	require.Equal(t, StatusOK, report.Points[0].Status)
	require.True(t, strings.HasPrefix(report.Points[1].Status, StatusError))

	// the failed point still produced a full report row
	rows := readReportRows(t, desc.ReportFile)
	require.Len(t, rows, 3)
	require.True(t, strings.HasPrefix(rows[2][len(rows[2])-1], StatusError))
}

func TestSweepRunFailureContained(t *testing.T) {
	desc := testDesc(t, goodTrace(100))
	desc.Run = []string{"sh", "-c", "echo partial output; exit 3"}

	report, err := CreateSweeper(desc).Run()
	require.NoError(t, err)
	require.Len(t, report.Points, 2)
	for _, point := range report.Points {
		require.True(t, strings.HasPrefix(point.Status, StatusError))
	}
}

func TestSweepLossGatesMetrics(t *testing.T) {
	desc := testDesc(t, lossyTrace(100))
	report, err := CreateSweeper(desc).Run()
	require.NoError(t, err)
	require.Len(t, report.Points, 2)
	for _, point := range report.Points {
		require.Equal(t, StatusDrop, point.Status)
		require.Nil(t, point.Metrics)
		require.False(t, point.HasRatio)
	}
}

func TestSweepParseErrWhenReadyAbsent(t *testing.T) {
	// credit-only trace: verification passes vacuously, but the ready
	// section is missing from the analyzer report
	var b strings.Builder
	for seq := 0; seq < 50; seq++ {
		fmt.Fprintf(&b, "%d ns [iRC] Send seq=%d\n", seq*10, seq)
		fmt.Fprintf(&b, "%d ns [iEP_q0] Popping data: seq_num=%d\n", seq*10+100, seq)
	}

	desc := testDesc(t, b.String())
	report, err := CreateSweeper(desc).Run()
	require.NoError(t, err)
	for _, point := range report.Points {
		require.Equal(t, StatusParseErr, point.Status)
	}
}

func TestSweepZeroBandwidth(t *testing.T) {
	// every event lands on one timestamp: a zero-width window yields
	// packets but no rates
	trace := strings.Join([]string{
		"100 ns [iRC] Send seq=1",
		"100 ns [iRC_tx] Send seq=1",
		"100 ns [iRC_tx] sender_thread pushed seq_num=1 queue_id=0",
		"100 ns [iEP_q0] Popping data: seq_num=1",
		"100 ns [iEP_after_RX_q0] input_router_thread routed seq_num=1",
		"100 ns [iEP_after_RX_q0] Popping data: seq_num=1",
	}, "\n")

	desc := testDesc(t, trace)
	report, err := CreateSweeper(desc).Run()
	require.NoError(t, err)
	for _, point := range report.Points {
		require.Equal(t, StatusZeroBW, point.Status)
		require.True(t, point.HasRatio)
		require.Zero(t, point.Ratio)
	}
}

func TestSweepPatchFailureFatal(t *testing.T) {
	desc := testDesc(t, goodTrace(100))
	desc.Params[0].Decl = "NO_SUCH_CONSTANT"

	report, err := CreateSweeper(desc).Run()
	require.Error(t, err)

	// the sweep stops at the unpatchable point: one errored row, the
	// rest of the grid abandoned
	require.Len(t, report.Points, 1)
	require.True(t, strings.HasPrefix(report.Points[0].Status, StatusError))
}

func TestSweepDescRoundTrip(t *testing.T) {
	desc := testDesc(t, goodTrace(10))
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	require.NoError(t, desc.WriteToFile(path))

	got, err := ReadSweepDesc(path, true, []byte{})
	require.NoError(t, err)
	require.Equal(t, desc.ExpName, got.ExpName)
	require.Equal(t, desc.Params, got.Params)
	require.Equal(t, desc.Build, got.Build)
}

func TestSweepReportWriteToFile(t *testing.T) {
	desc := testDesc(t, goodTrace(50))
	report, err := CreateSweeper(desc).Run()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, report.WriteToFile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "expname: test")
	require.Contains(t, string(raw), "status: OK")
}

func TestReportWriterBackupFallback(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "report.csv")

	// occupy the primary path so os.Create fails
	require.NoError(t, os.Mkdir(primary, 0755))

	rw, err := CreateReportWriter(primary, []string{"NOC_LATENCY"})
	require.NoError(t, err)
	require.NotEqual(t, primary, rw.Path)
	require.Contains(t, filepath.Base(rw.Path), "report_backup_")
	require.Equal(t, dir, filepath.Dir(rw.Path))

	require.NoError(t, rw.WritePoint(SweepPoint{Values: []int{20}, Status: StatusDrop}))
	require.NoError(t, rw.Close())

	rows := readReportRows(t, rw.Path)
	require.Len(t, rows, 2)
	require.Equal(t, "NOC_LATENCY", rows[0][0])
	require.Equal(t, "20", rows[1][0])
	require.Equal(t, StatusDrop, rows[1][len(rows[1])-1])
}

func TestSweepDescValidateEmptyBuild(t *testing.T) {
	desc := testDesc(t, goodTrace(10))
	desc.Build = append(desc.Build, []string{})

	_, err := CreateSweeper(desc).Run()
	require.Error(t, err)
	require.Contains(t, err.Error(), "build command")
}

func TestCartesianOrder(t *testing.T) {
	coords := cartesian([][]int{{1, 2}, {10, 20, 30}})
	require.Len(t, coords, 6)
	require.Equal(t, []int{1, 10}, coords[0])
	require.Equal(t, []int{1, 30}, coords[2])
	require.Equal(t, []int{2, 10}, coords[3])
	require.Equal(t, []int{2, 30}, coords[5])
}
