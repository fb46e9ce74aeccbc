package noctuner

// file report.go holds the sweep report: one row per grid coordinate,
// accumulated in memory and mirrored to a CSV file as the sweep runs so
// that an aborted sweep keeps every completed point

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Point statuses recorded in the report's status column
const (
	StatusOK       = "OK"
	StatusFail     = "FAIL"
	StatusDrop     = "DROP"
	StatusParseErr = "PARSE_ERR"
	StatusZeroBW   = "ZERO_BW"
	StatusError    = "ERROR"
)

// metric columns appearing after the parameter columns, in order
var metricColumns = []string{
	"credit_mpps", "credit_lat_ns", "credit_pkts", "credit_mbps",
	"ready_mpps", "ready_lat_ns", "ready_pkts", "ready_mbps",
	"ratio", "max_tx", "max_rx",
}

// metricKeys maps each metric column to the key ParseRendered produces
var metricKeys = map[string]string{
	"credit_mpps":   "credit_mpps",
	"credit_lat_ns": "credit_lat",
	"credit_pkts":   "credit_pkts",
	"credit_mbps":   "credit_mbps",
	"ready_mpps":    "ready_mpps",
	"ready_lat_ns":  "ready_lat",
	"ready_pkts":    "ready_pkts",
	"ready_mbps":    "ready_mbps",
	"max_tx":        "max_tx",
	"max_rx":        "max_rx",
}

// A SweepPoint records the outcome of one grid coordinate.  It is
// immutable once its cycle completes; Metrics is nil for points that
// never reached analysis
type SweepPoint struct {
	Values   []int              `json:"values" yaml:"values"`
	Metrics  map[string]float64 `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Ratio    float64            `json:"ratio" yaml:"ratio"`
	HasRatio bool               `json:"hasratio" yaml:"hasratio"`
	Status   string             `json:"status" yaml:"status"`
}

// A SweepReport is the ordered outcome of a whole sweep
type SweepReport struct {
	ExpName    string       `json:"expname" yaml:"expname"`
	ParamNames []string     `json:"paramnames" yaml:"paramnames"`
	Points     []SweepPoint `json:"points" yaml:"points"`
}

// CreateSweepReport is a constructor
func CreateSweepReport(expName string, paramNames []string) *SweepReport {
	sr := new(SweepReport)
	sr.ExpName = expName
	sr.ParamNames = paramNames
	sr.Points = make([]SweepPoint, 0)
	return sr
}

// AddPoint appends a completed point to the report
func (sr *SweepReport) AddPoint(sp SweepPoint) {
	sr.Points = append(sr.Points, sp)
}

// WriteToFile stores the SweepReport struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (sr *SweepReport) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*sr)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*sr, "", "\t")
	}

	if merr != nil {
		panic(merr)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	_, werr := f.WriteString(string(bytes[:]))
	if werr != nil {
		panic(werr)
	}
	err := f.Close()
	if err != nil {
		panic(err)
	}
	return werr
}

// csvRow renders one point with the fixed column schema.  Metrics a
// point never produced render as empty cells
func csvRow(sp SweepPoint) []string {
	row := make([]string, 0, len(sp.Values)+len(metricColumns)+1)
	for _, v := range sp.Values {
		row = append(row, strconv.Itoa(v))
	}
	for _, col := range metricColumns {
		if col == "ratio" {
			if sp.HasRatio {
				row = append(row, strconv.FormatFloat(sp.Ratio, 'f', 2, 64))
			} else {
				row = append(row, "")
			}
			continue
		}
		v, present := sp.Metrics[metricKeys[col]]
		if present {
			row = append(row, strconv.FormatFloat(v, 'f', 2, 64))
		} else {
			row = append(row, "")
		}
	}
	return append(row, sp.Status)
}

// A ReportWriter mirrors sweep points to a CSV file row by row.  The
// file is truncated when the writer is created: each sweep execution
// owns its report outright, there is no merging with prior runs
type ReportWriter struct {
	Path string
	file *os.File
	csv  *csv.Writer
}

// CreateReportWriter opens the CSV report and writes its header.  When
// the primary path cannot be created the writer falls back to a
// uniquely named backup next to it rather than losing the sweep
func CreateReportWriter(filename string, paramNames []string) (*ReportWriter, error) {
	rw := new(ReportWriter)
	rw.Path = filename

	f, err := os.Create(filename)
	if err != nil {
		// the backup lands in the same directory as the primary, so a
		// missing parent directory defeats both paths
		backup := fmt.Sprintf("%s_backup_%d.csv", trimCsvExt(filename), time.Now().Unix())
		f, err = os.Create(backup)
		if err != nil {
			return nil, err
		}
		rw.Path = backup
	}
	rw.file = f
	rw.csv = csv.NewWriter(f)

	header := append(append([]string{}, paramNames...), metricColumns...)
	header = append(header, "status")
	if err := rw.csv.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	rw.csv.Flush()
	return rw, rw.csv.Error()
}

func trimCsvExt(filename string) string {
	ext := path.Ext(filename)
	return filename[:len(filename)-len(ext)]
}

// WritePoint appends one row and flushes it to disk immediately, so an
// interrupted sweep retains every point already reported
func (rw *ReportWriter) WritePoint(sp SweepPoint) error {
	if err := rw.csv.Write(csvRow(sp)); err != nil {
		return err
	}
	rw.csv.Flush()
	return rw.csv.Error()
}

// Close flushes and closes the underlying file
func (rw *ReportWriter) Close() error {
	rw.csv.Flush()
	if err := rw.csv.Error(); err != nil {
		rw.file.Close()
		return err
	}
	return rw.file.Close()
}
