package noctuner

// file analyze.go holds the metric engine.  It correlates Send and Pop
// events by sequence number within each topology and reduces them to
// per-topology latency, throughput, bandwidth, and occupancy figures

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// DefaultPacketSizeBytes is the simulator's fixed packet size (64-bit packets)
const DefaultPacketSizeBytes = 8

// ErrEmptyTrace reports a trace in which no rule classified any line.
// It marks a trace that is empty or belongs to some other program,
// distinct from a valid run that happened to deliver no packets
var ErrEmptyTrace = errors.New("no events found in trace")

// TraceWindow is the closed interval spanned by every classified event's
// timestamp.  Its width is the simulated duration used to normalize rates
type TraceWindow struct {
	First int64 `json:"first" yaml:"first"`
	Last  int64 `json:"last" yaml:"last"`
}

// DurationNs returns the window width
func (tw *TraceWindow) DurationNs() int64 {
	return tw.Last - tw.First
}

// TopologyMetrics holds the aggregate figures for one flow-control path.
// A zero Packets count means the path received nothing, which is a valid
// outcome for a misconfigured or fully stalled run
type TopologyMetrics struct {
	Packets     int     `json:"packets" yaml:"packets"`
	MeanLatency float64 `json:"meanlatency" yaml:"meanlatency"` // ns
	Throughput  float64 `json:"throughput" yaml:"throughput"`   // Mpps
	Bandwidth   float64 `json:"bandwidth" yaml:"bandwidth"`     // MB/s
	PeakTXDepth int     `json:"peaktxdepth" yaml:"peaktxdepth"`
	PeakRXDepth int     `json:"peakrxdepth" yaml:"peakrxdepth"`
}

// An Analysis is the full result of one pass of the metric engine over a
// trace.  It is a value computed fresh per call; nothing is carried over
// between invocations
type Analysis struct {
	Window  TraceWindow                   `json:"window" yaml:"window"`
	ByTopo  map[Topology]*TopologyMetrics `json:"bytopo" yaml:"bytopo"`
	PeakTX  int                           `json:"peaktx" yaml:"peaktx"`
	PeakRX  int                           `json:"peakrx" yaml:"peakrx"`
	PktSize int                           `json:"pktsize" yaml:"pktsize"`
}

// Analyze reduces a classified event stream to per-topology metrics.
// pktSize is the fixed packet size in bytes used for bandwidth; a
// non-positive value selects DefaultPacketSizeBytes
func Analyze(events []Event, pktSize int) (*Analysis, error) {
	if pktSize <= 0 {
		pktSize = DefaultPacketSizeBytes
	}

	// per-topology pending-send table, seq -> send time
	pending := map[Topology]map[int64]int64{
		CreditTopo: make(map[int64]int64),
		ReadyTopo:  make(map[int64]int64),
	}
	samples := map[Topology][]float64{
		CreditTopo: make([]float64, 0),
		ReadyTopo:  make([]float64, 0),
	}

	var window TraceWindow
	timed := false
	peakTX, peakRX := 0, 0

	observe := func(t int64) {
		if !timed {
			window.First, window.Last = t, t
			timed = true
			return
		}
		if t < window.First {
			window.First = t
		}
		if t > window.Last {
			window.Last = t
		}
	}

	for _, evt := range events {
		switch evt.Kind {
		case SendEvent:
			observe(evt.Time)
			_, present := pending[evt.Topo][evt.Seq]
			if !present {
				// first Send wins; a duplicate never overwrites
				// the original timing
				pending[evt.Topo][evt.Seq] = evt.Time
			}
		case PopEvent:
			observe(evt.Time)
			sendTime, present := pending[evt.Topo][evt.Seq]
			if present {
				delete(pending[evt.Topo], evt.Seq)
				samples[evt.Topo] = append(samples[evt.Topo], float64(evt.Time-sendTime))
			}
			// a Pop with no pending Send contributes nothing; its
			// Send may have been unclassifiable
		case DepthEvent:
			if evt.Dir == TX && evt.Depth > peakTX {
				peakTX = evt.Depth
			}
			if evt.Dir == RX && evt.Depth > peakRX {
				peakRX = evt.Depth
			}
		}
	}

	if len(events) == 0 {
		return nil, ErrEmptyTrace
	}

	rslt := new(Analysis)
	rslt.Window = window
	rslt.PeakTX = peakTX
	rslt.PeakRX = peakRX
	rslt.PktSize = pktSize
	rslt.ByTopo = make(map[Topology]*TopologyMetrics)

	durationSec := float64(window.DurationNs()) * 1e-9

	for _, topo := range []Topology{CreditTopo, ReadyTopo} {
		tm := new(TopologyMetrics)
		tm.Packets = len(samples[topo])
		tm.PeakTXDepth = peakTX
		tm.PeakRXDepth = peakRX
		if tm.Packets > 0 && durationSec > 0 {
			tm.MeanLatency = stat.Mean(samples[topo], nil)
			tm.Throughput = float64(tm.Packets) / durationSec / 1e6
			tm.Bandwidth = tm.Throughput * float64(pktSize)
		}
		rslt.ByTopo[topo] = tm
	}
	return rslt, nil
}

// AnalyzeTrace classifies a raw trace and analyzes it in one call
func AnalyzeTrace(rd io.Reader, pktSize int) (*Analysis, error) {
	events, err := CreateClassifier().ClassifyAll(rd)
	if err != nil {
		return nil, errors.Wrap(err, "reading trace")
	}
	return Analyze(events, pktSize)
}

// Render writes the human-readable report.  The section headers are a
// compatibility contract: the sweep controller parses this text back, so
// their wording is fixed
func (a *Analysis) Render(w io.Writer) {
	fmt.Fprintf(w, "Simulation duration: %.3f µs\n\n", float64(a.Window.DurationNs())/1e3)

	for _, topo := range []Topology{CreditTopo, ReadyTopo} {
		tm := a.ByTopo[topo]
		if tm == nil || tm.Packets == 0 {
			fmt.Fprintf(w, "%s path: no packets received\n\n", topo)
			continue
		}
		fmt.Fprintf(w, "%s path:\n", topo)
		fmt.Fprintf(w, "  Packets received : %d\n", tm.Packets)
		fmt.Fprintf(w, "  Avg latency      : %.1f ns\n", tm.MeanLatency)
		fmt.Fprintf(w, "  Throughput       : %.2f Mpps\n", tm.Throughput)
		fmt.Fprintf(w, "  Bandwidth        : %.2f MB/s\n\n", tm.Bandwidth)
	}

	fmt.Fprintf(w, "Max TX FIFO occupancy : %d\n", a.PeakTX)
	fmt.Fprintf(w, "Max RX FIFO occupancy : %d\n", a.PeakRX)
}

// ParseRendered recovers a flat metric map from a rendered report.  Keys
// are credit_pkts, credit_lat, credit_mpps, credit_mbps (and the ready_
// counterparts), max_tx, and max_rx.  Sections reporting no packets
// contribute no keys
func ParseRendered(text string) map[string]float64 {
	metrics := make(map[string]float64)

	cur := ""
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Credit path:"):
			cur = "credit"
		case strings.HasPrefix(line, "Ready path:"):
			cur = "ready"
		case strings.HasPrefix(line, "Packets received") && cur != "":
			v, err := strconv.ParseFloat(afterColon(line, ""), 64)
			if err == nil {
				metrics[cur+"_pkts"] = v
			}
		case strings.HasPrefix(line, "Avg latency") && cur != "":
			v, err := strconv.ParseFloat(afterColon(line, "ns"), 64)
			if err == nil {
				metrics[cur+"_lat"] = v
			}
		case strings.HasPrefix(line, "Throughput") && cur != "":
			v, err := strconv.ParseFloat(afterColon(line, "Mpps"), 64)
			if err == nil {
				metrics[cur+"_mpps"] = v
			}
		case strings.HasPrefix(line, "Bandwidth") && cur != "":
			v, err := strconv.ParseFloat(afterColon(line, "MB/s"), 64)
			if err == nil {
				metrics[cur+"_mbps"] = v
			}
			cur = ""
		case strings.HasPrefix(line, "Max TX FIFO"):
			v, err := strconv.ParseFloat(afterColon(line, ""), 64)
			if err == nil {
				metrics["max_tx"] = v
			}
		case strings.HasPrefix(line, "Max RX FIFO"):
			v, err := strconv.ParseFloat(afterColon(line, ""), 64)
			if err == nil {
				metrics["max_rx"] = v
			}
		}
	}
	return metrics
}

// afterColon extracts the value that follows the colon in a report line,
// stripping an optional trailing unit
func afterColon(line, unit string) string {
	_, rest, found := strings.Cut(line, ":")
	if !found {
		return ""
	}
	rest = strings.TrimSpace(rest)
	if len(unit) > 0 {
		rest = strings.TrimSpace(strings.TrimSuffix(rest, unit))
	}
	return rest
}
