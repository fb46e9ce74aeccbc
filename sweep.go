package noctuner

// file sweep.go holds the sweep controller.  A sweep walks the cartesian
// grid of parameter values, and for each coordinate patches the
// simulator configuration, rebuilds, runs, gates the run on the loss
// verifier, analyzes the trace, and reports the outcome.  A failing
// point never aborts the grid; only a configuration patch failure does,
// since every later point would silently inherit the stale value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// A SweepParam is one axis of the parameter grid: the values to sweep
// and the declaration in the configuration source they are written to
type SweepParam struct {
	Name       string `json:"name" yaml:"name"`
	Decl       string `json:"decl,omitempty" yaml:"decl,omitempty"`
	Pattern    string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Occurrence int    `json:"occurrence,omitempty" yaml:"occurrence,omitempty"`
	Values     []int  `json:"values" yaml:"values"`
}

// Spec projects the axis onto the patcher's parameter description
func (sp *SweepParam) Spec() ParamSpec {
	return ParamSpec{Name: sp.Name, Decl: sp.Decl, Pattern: sp.Pattern, Occurrence: sp.Occurrence}
}

// A SweepDesc describes a whole sweep experiment: the external build and
// run surface, the analysis constants, and the parameter grid
type SweepDesc struct {
	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// configuration source the parameters are patched into
	ConfigFile string `json:"configfile" yaml:"configfile"`

	// commands run in order to rebuild the simulator after a patch
	Build [][]string `json:"build" yaml:"build"`

	// command that runs the simulator; all of its output is the trace
	Run []string `json:"run" yaml:"run"`

	// file the simulator's output is captured into
	TraceFile string `json:"tracefile" yaml:"tracefile"`

	// CSV report destination
	ReportFile string `json:"reportfile" yaml:"reportfile"`

	// ready-to-credit bandwidth ratio a point must meet to pass
	TargetRatio float64 `json:"targetratio" yaml:"targetratio"`

	// fixed packet size used for bandwidth, in bytes
	PacketSize int `json:"packetsize" yaml:"packetsize"`

	Params []SweepParam `json:"params" yaml:"params"`
}

// ReadSweepDesc deserializes a byte slice holding a representation of a
// SweepDesc struct.  If the input argument of dict (those bytes) is empty,
// the file whose name is given is read to acquire them.  A deserialized
// representation is returned, or an error if one is generated from a file
// read or the deserialization.
func ReadSweepDesc(filename string, useYAML bool, dict []byte) (*SweepDesc, error) {
	var err error

	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := SweepDesc{}

	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}

	if err != nil {
		return nil, err
	}

	return &example, nil
}

// WriteToFile stores the SweepDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (sd *SweepDesc) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var data []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		data, merr = yaml.Marshal(*sd)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		data, merr = json.MarshalIndent(*sd, "", "\t")
	}

	if merr != nil {
		panic(merr)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	_, werr := f.WriteString(string(data[:]))
	if werr != nil {
		panic(werr)
	}
	err := f.Close()
	if err != nil {
		panic(err)
	}
	return werr
}

// validate checks the parts of a desc a sweep cannot run without
func (sd *SweepDesc) validate() error {
	if len(sd.Params) == 0 {
		return errors.New("sweep has no parameters")
	}
	for _, prm := range sd.Params {
		if len(prm.Values) == 0 {
			return fmt.Errorf("parameter %s has no values", prm.Name)
		}
		if len(prm.Decl) == 0 && prm.Occurrence == 0 {
			return fmt.Errorf("parameter %s names no declaration", prm.Name)
		}
	}
	if len(sd.ConfigFile) == 0 {
		return errors.New("sweep names no configuration file")
	}
	for idx, argv := range sd.Build {
		if len(argv) == 0 {
			return fmt.Errorf("build command %d is empty", idx)
		}
	}
	if len(sd.Run) == 0 {
		return errors.New("sweep names no run command")
	}
	if len(sd.TraceFile) == 0 {
		return errors.New("sweep names no trace file")
	}
	return nil
}

// A Sweeper drives one sweep execution.  Points execute strictly one at
// a time: the external build and run steps share a build directory, a
// binary path, and a trace path, and are not reentrant
type Sweeper struct {
	Desc *SweepDesc
	Log  *logrus.Logger
}

// CreateSweeper is a constructor
func CreateSweeper(desc *SweepDesc) *Sweeper {
	sw := new(Sweeper)
	sw.Desc = desc
	sw.Log = logrus.StandardLogger()
	return sw
}

// cartesian expands the per-axis value lists into grid coordinates, the
// first axis varying slowest
func cartesian(axes [][]int) [][]int {
	coords := [][]int{{}}
	for _, axis := range axes {
		next := make([][]int, 0, len(coords)*len(axis))
		for _, prefix := range coords {
			for _, v := range axis {
				coord := make([]int, 0, len(prefix)+1)
				coord = append(coord, prefix...)
				next = append(next, append(coord, v))
			}
		}
		coords = next
	}
	return coords
}

// Run executes the whole grid.  The returned report holds every point
// that completed, including failed ones; the error is non-nil only for
// conditions that invalidate the rest of the sweep
func (sw *Sweeper) Run() (*SweepReport, error) {
	if err := sw.Desc.validate(); err != nil {
		return nil, err
	}

	paramNames := make([]string, 0, len(sw.Desc.Params))
	axes := make([][]int, 0, len(sw.Desc.Params))
	specs := make([]ParamSpec, 0, len(sw.Desc.Params))
	for idx := range sw.Desc.Params {
		paramNames = append(paramNames, sw.Desc.Params[idx].Name)
		axes = append(axes, sw.Desc.Params[idx].Values)
		specs = append(specs, sw.Desc.Params[idx].Spec())
	}

	report := CreateSweepReport(sw.Desc.ExpName, paramNames)

	reportFile := sw.Desc.ReportFile
	if len(reportFile) == 0 {
		reportFile = "sweep_report.csv"
	}
	rw, err := CreateReportWriter(reportFile, paramNames)
	if err != nil {
		return nil, errors.Wrap(err, "creating report")
	}
	defer rw.Close()

	for _, coord := range cartesian(axes) {
		point, fatal := sw.runPoint(specs, coord)
		report.AddPoint(point)
		if werr := rw.WritePoint(point); werr != nil {
			sw.Log.WithError(werr).Error("writing report row")
		}
		sw.Log.WithFields(logrus.Fields{
			"point":  coordString(paramNames, coord),
			"status": point.Status,
		}).Info("point reported")
		if fatal != nil {
			// an unpatchable configuration poisons every later
			// point; stop here with what we have
			return report, fatal
		}
	}
	return report, nil
}

func coordString(names []string, coord []int) string {
	s := ""
	for idx, name := range names {
		if idx > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%d", name, coord[idx])
	}
	return s
}

// runPoint takes one grid coordinate through the
// configure/build/run/verify/analyze cycle.  Its error return is
// reserved for sweep-fatal conditions; everything else lands in the
// point's status
func (sw *Sweeper) runPoint(specs []ParamSpec, coord []int) (SweepPoint, error) {
	point := SweepPoint{Values: coord}

	// Configuring
	if err := PatchFile(sw.Desc.ConfigFile, specs, coord); err != nil {
		point.Status = StatusError + ": " + err.Error()
		return point, errors.Wrap(err, "patching configuration")
	}

	// Building
	for _, argv := range sw.Desc.Build {
		out, err := sw.runCommand(argv)
		if err != nil {
			sw.Log.WithField("cmd", argv).Warnf("build failed: %v\n%s", err, out)
			point.Status = StatusError + ": build: " + err.Error()
			return point, nil
		}
	}

	// Running
	if err := sw.runSimulator(); err != nil {
		sw.Log.WithField("cmd", sw.Desc.Run).Warnf("simulation failed: %v", err)
		point.Status = StatusError + ": run: " + err.Error()
		return point, nil
	}

	// Verifying
	judgement, err := sw.verifyTraceFile()
	if err != nil {
		point.Status = StatusError + ": verify: " + err.Error()
		return point, nil
	}
	var diag bytes.Buffer
	judgement.Render(&diag)
	sw.Log.Debug(diag.String())
	if !judgement.Pass {
		point.Status = StatusDrop
		return point, nil
	}

	// Analyzing
	metrics, err := sw.analyzeTraceFile()
	if err != nil {
		sw.Log.WithError(err).Warn("analysis failed")
		point.Status = StatusParseErr
		return point, nil
	}
	point.Metrics = metrics

	readyBW, present := metrics["ready_mbps"]
	if !present {
		point.Status = StatusParseErr
		return point, nil
	}
	creditBW := metrics["credit_mbps"]

	if creditBW == 0 || readyBW == 0 {
		point.Ratio, point.HasRatio = 0.0, true
		point.Status = StatusZeroBW
		return point, nil
	}

	point.Ratio, point.HasRatio = readyBW/creditBW, true
	if point.Ratio >= sw.Desc.TargetRatio {
		point.Status = StatusOK
	} else {
		point.Status = StatusFail
	}
	return point, nil
}

// runCommand runs one external command to completion and returns its
// combined output.  Output is surfaced to the log even on success;
// trace inspection is the primary debugging tool here
func (sw *Sweeper) runCommand(argv []string) ([]byte, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		sw.Log.WithField("cmd", argv).Debugf("%s", out)
	}
	return out, err
}

// runSimulator runs the simulator with its stdout and stderr captured
// into the trace file, replacing any earlier run's trace
func (sw *Sweeper) runSimulator() error {
	f, err := os.Create(sw.Desc.TraceFile)
	if err != nil {
		return err
	}

	argv := sw.Desc.Run
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = f
	cmd.Stderr = f
	rerr := cmd.Run()
	if cerr := f.Close(); rerr == nil {
		rerr = cerr
	}
	return rerr
}

func (sw *Sweeper) verifyTraceFile() (*LossJudgement, error) {
	f, err := os.Open(sw.Desc.TraceFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return VerifyTrace(f)
}

// analyzeTraceFile runs the metric engine and round-trips its rendered
// report through ParseRendered.  The textual report is the analyzer's
// published interface; going through it keeps the sweep honest about
// what an external analyzer invocation would have produced
func (sw *Sweeper) analyzeTraceFile() (map[string]float64, error) {
	f, err := os.Open(sw.Desc.TraceFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	analysis, err := AnalyzeTrace(f, sw.Desc.PacketSize)
	if err != nil {
		return nil, err
	}

	var rendered bytes.Buffer
	analysis.Render(&rendered)
	sw.Log.Debug(rendered.String())
	return ParseRendered(rendered.String()), nil
}
