package noctuner

// file verify.go holds the loss verifier.  It reconciles the set of
// sequence numbers the ready path sent against the set its input router
// delivered, discounting explicit interconnect drops and packets still
// draining through the pipeline when the run ended

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// TailIgnoreFraction sets the gating tail filter: a missing sequence
// number in the top (1 - TailIgnoreFraction) of the sent range is
// presumed still in flight and excluded from the failing set
const TailIgnoreFraction = 0.9

// A LossJudgement is the verifier's full account of one trace.  Both
// tolerance rules are reported even when the verdict is a pass, so a
// borderline run can be diagnosed from the judgement alone
type LossJudgement struct {
	Sent     map[int64]bool
	Received map[int64]bool
	Dropped  map[int64]bool

	Missing []int64 // sent but never routed, sorted
	Extra   []int64 // routed but never seen sent, sorted

	MaxReceived int64 // -1 when nothing was received

	// rule 1, informational: every missing seq is past the highest
	// received one and so presumed still draining
	InFlightOK bool

	// rule 2, gating: missing seqs below this threshold fail the run
	IgnoreThreshold int64
	FilteredMissing []int64

	Pass bool
}

var seqNumPattern = regexp.MustCompile(`seq_num=(\d+)`)
var routedSeqPattern = regexp.MustCompile(`routed seq_num=(\d+)`)
var droppedSeqPattern = regexp.MustCompile(`DROPPED seq_num=(\d+)`)

// VerifyTrace runs the verifier over a raw trace.  It reparses the
// source with its own narrow grammar rather than reusing the metric
// engine's classification: the sender-stage and router-stage lines it
// keys on are debug records the metric grammars never match
func VerifyTrace(rd io.Reader) (*LossJudgement, error) {
	sent := make(map[int64]bool)
	received := make(map[int64]bool)
	dropped := make(map[int64]bool)

	pending := ""
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if len(pending) > 0 {
			line = pending + line
			pending = ""
		}

		switch {
		case strings.Contains(line, senderTagReady) && strings.Contains(line, senderStageMarker):
			if m := seqNumPattern.FindStringSubmatch(line); m != nil {
				seq, _ := strconv.ParseInt(m[1], 10, 64)
				sent[seq] = true
			}
		case strings.Contains(line, routerQueueMarker) && strings.Contains(line, routerStageMarker):
			if m := routedSeqPattern.FindStringSubmatch(line); m != nil {
				seq, _ := strconv.ParseInt(m[1], 10, 64)
				received[seq] = true
			}
		case strings.Contains(line, nocStageMarker):
			if m := droppedSeqPattern.FindStringSubmatch(line); m != nil {
				seq, _ := strconv.ParseInt(m[1], 10, 64)
				dropped[seq] = true
			}
		case strings.HasSuffix(line, continuationMarker):
			pending = line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading trace")
	}

	return Judge(sent, received, dropped), nil
}

// Judge reconciles the three sequence-number sets into a verdict.
// Explicitly dropped packets are removed from the sent set first; a drop
// the interconnect reported is expected behavior, not loss
func Judge(sent, received, dropped map[int64]bool) *LossJudgement {
	lj := new(LossJudgement)
	lj.Received = received
	lj.Dropped = dropped

	lj.Sent = make(map[int64]bool)
	for seq := range sent {
		if !dropped[seq] {
			lj.Sent[seq] = true
		}
	}

	lj.Missing = make([]int64, 0)
	for seq := range lj.Sent {
		if !received[seq] {
			lj.Missing = append(lj.Missing, seq)
		}
	}
	lj.Extra = make([]int64, 0)
	for seq := range received {
		if !lj.Sent[seq] {
			lj.Extra = append(lj.Extra, seq)
		}
	}
	slices.Sort(lj.Missing)
	slices.Sort(lj.Extra)

	lj.MaxReceived = int64(-1)
	for seq := range received {
		if seq > lj.MaxReceived {
			lj.MaxReceived = seq
		}
	}

	// rule 1: accept missing seqs only when all of them are beyond the
	// highest sequence already received, i.e. still in the pipeline
	lj.InFlightOK = true
	for _, seq := range lj.Missing {
		if seq <= lj.MaxReceived {
			lj.InFlightOK = false
			break
		}
	}

	// rule 2: the last 10% of the sent range is presumed tail traffic
	// still draining when the simulation stopped.  This can mask real
	// loss that lands past the max-received watermark; that leniency
	// is long-standing documented behavior
	lj.IgnoreThreshold = int64(float64(len(lj.Sent)) * TailIgnoreFraction)
	lj.FilteredMissing = make([]int64, 0)
	for _, seq := range lj.Missing {
		if seq < lj.IgnoreThreshold {
			lj.FilteredMissing = append(lj.FilteredMissing, seq)
		}
	}

	lj.Pass = len(lj.FilteredMissing) == 0 && len(lj.Extra) == 0
	return lj
}

// Render writes the verifier's diagnostic counts
func (lj *LossJudgement) Render(w io.Writer) {
	fmt.Fprintf(w, "Sent=%d  Received=%d  Missing=%d  Extra=%d  (max received %d)\n",
		len(lj.Sent), len(lj.Received), len(lj.Missing), len(lj.Extra), lj.MaxReceived)
	fmt.Fprintf(w, "Ignoring missing seq_nums >= %d (last 10%% of sent packets)\n", lj.IgnoreThreshold)
	if !lj.InFlightOK {
		fmt.Fprintf(w, "In-flight check: missing seq_nums at or below max received\n")
	}
	if len(lj.FilteredMissing) > 0 {
		fmt.Fprintf(w, "Filtered missing seq nums: %v\n", lj.FilteredMissing)
	}
	if len(lj.Extra) > 0 {
		fmt.Fprintf(w, "Extra seq nums: %v\n", lj.Extra)
	}
	if lj.Pass {
		fmt.Fprintf(w, "Verdict: PASS\n")
	} else {
		fmt.Fprintf(w, "Verdict: FAIL\n")
	}
}
