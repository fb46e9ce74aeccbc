package noctuner

// file event.go holds the event model for simulator traces and the
// classifier that turns raw trace lines into typed events

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// EventKind enumerates the trace records the harness understands
type EventKind int

const (
	// SendEvent marks a packet leaving a sender stage
	SendEvent EventKind = iota

	// PopEvent marks a packet being popped from a receive queue
	PopEvent

	// DepthEvent is a FIFO occupancy sample
	DepthEvent

	// DropEvent marks an explicit packet drop inside the interconnect
	DropEvent

	// RouteEvent marks a packet passing the input router on the receive side
	RouteEvent
)

var kindToStr map[EventKind]string = map[EventKind]string{SendEvent: "send",
	PopEvent: "pop", DepthEvent: "depth", DropEvent: "drop", RouteEvent: "route"}

func (ek EventKind) String() string {
	return kindToStr[ek]
}

// Topology identifies which of the two competing flow-control paths
// an event belongs to
type Topology int

const (
	// CreditTopo is the credit-based baseline path
	CreditTopo Topology = iota

	// ReadyTopo is the ready/valid handshake path evaluated against it
	ReadyTopo
)

var topoToStr map[Topology]string = map[Topology]string{CreditTopo: "Credit", ReadyTopo: "Ready"}

func (tp Topology) String() string {
	return topoToStr[tp]
}

// Direction tags a FIFO depth sample as transmit side or receive side
type Direction int

const (
	TX Direction = iota
	RX
)

// An Event is one classified trace record.  Fields that do not apply to
// the record's kind are left at their zero value
type Event struct {
	Time  int64 // nanoseconds
	Kind  EventKind
	Topo  Topology
	Seq   int64
	Queue string
	Dir   Direction
	Depth int
}

// markers the simulator embeds in its trace lines.  The sender tag iRC
// carries an _tx suffix on the ready/valid path, receive queues on the
// credit path carry the endpoint prefix, and the after-receive marker
// identifies the ready path's post-RX queue
const (
	readyAfterRXMarker = "after_RX"
	creditQueuePrefix  = "iEP_"
	senderStageMarker  = "sender_thread"
	senderTagReady     = "iRC_tx"
	routerStageMarker  = "input_router_thread"
	routerQueueMarker  = "iEP_after_RX"
	nocStageMarker     = "AXI_NOC"

	// a line ending in this marker was wrapped mid-record by the
	// simulator's logger; the next physical line completes it
	continuationMarker = "queue_id="
)

var sendPattern = regexp.MustCompile(`^(\d+)\s+ns \[iRC(_tx)?\] Send seq=(\d+)`)
var popPattern = regexp.MustCompile(`^(\d+)\s+ns \[([^\]]+)\] Popping data: seq_num=(\d+)`)
var depthPattern = regexp.MustCompile(`\[(TX|RX)_FIFO\] depth=(\d+)`)
var dropPattern = regexp.MustCompile(`DROPPED seq_num=(\d+)`)
var routePattern = regexp.MustCompile(`routed seq_num=(\d+)`)

// A Classifier turns raw trace lines into Events.  Rule precedence is
// fixed: Send, then Pop, then Depth, then Drop, then Route.  The first
// grammar that matches a line wins and no further rules are tried.
// Lines no rule matches are discarded without error.
type Classifier struct {
	// holds a line that ended in the continuation marker until the
	// next physical line arrives to complete it
	pending string
}

// CreateClassifier is a constructor
func CreateClassifier() *Classifier {
	cl := new(Classifier)
	return cl
}

// PopTopology maps a receive-queue label to the topology that owns the
// queue.  A label carrying the after-receive marker belongs to the ready
// path, otherwise a label with the credit endpoint prefix belongs to the
// credit path, and any other label falls back to the ready path.  This
// ordering is authoritative: the after-receive queues also carry the
// endpoint prefix, so testing the prefix first would misfile them
func PopTopology(queue string) Topology {
	if strings.Contains(queue, readyAfterRXMarker) {
		return ReadyTopo
	}
	if strings.HasPrefix(queue, creditQueuePrefix) {
		return CreditTopo
	}
	return ReadyTopo
}

// ClassifyLine applies the rule table to one physical trace line and
// returns the resulting event, or ok=false when the line matches no rule
// or is being held for continuation
func (cl *Classifier) ClassifyLine(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r\n")

	if len(cl.pending) > 0 {
		line = cl.pending + line
		cl.pending = ""
	}

	if m := sendPattern.FindStringSubmatch(line); m != nil {
		t, _ := strconv.ParseInt(m[1], 10, 64)
		seq, _ := strconv.ParseInt(m[3], 10, 64)
		topo := CreditTopo
		if m[2] == "_tx" {
			topo = ReadyTopo
		}
		return Event{Time: t, Kind: SendEvent, Topo: topo, Seq: seq}, true
	}

	if m := popPattern.FindStringSubmatch(line); m != nil {
		t, _ := strconv.ParseInt(m[1], 10, 64)
		seq, _ := strconv.ParseInt(m[3], 10, 64)
		return Event{Time: t, Kind: PopEvent, Topo: PopTopology(m[2]),
			Seq: seq, Queue: m[2]}, true
	}

	if m := depthPattern.FindStringSubmatch(line); m != nil {
		depth, _ := strconv.Atoi(m[2])
		dir := TX
		if m[1] == "RX" {
			dir = RX
		}
		return Event{Kind: DepthEvent, Dir: dir, Depth: depth}, true
	}

	if strings.Contains(line, nocStageMarker) {
		if m := dropPattern.FindStringSubmatch(line); m != nil {
			seq, _ := strconv.ParseInt(m[1], 10, 64)
			return Event{Kind: DropEvent, Seq: seq}, true
		}
	}

	if strings.Contains(line, routerQueueMarker) && strings.Contains(line, routerStageMarker) {
		if m := routePattern.FindStringSubmatch(line); m != nil {
			seq, _ := strconv.ParseInt(m[1], 10, 64)
			return Event{Kind: RouteEvent, Topo: ReadyTopo, Seq: seq}, true
		}
	}

	if strings.HasSuffix(line, continuationMarker) {
		cl.pending = line
	}
	return Event{}, false
}

// ClassifyAll reads a whole trace and returns every event its rules
// recognize, in the order the lines appear
func (cl *Classifier) ClassifyAll(rd io.Reader) ([]Event, error) {
	events := make([]Event, 0)

	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		evt, ok := cl.ClassifyLine(scanner.Text())
		if ok {
			events = append(events, evt)
		}
	}
	return events, scanner.Err()
}
