package noctuner

// file tracegen.go holds a synthetic trace generator.  It produces
// traces with the simulator's line grammar so the analyzer, verifier,
// and sweep plumbing can be exercised without the external simulator
// binary.  It is a fixture generator, not a model of either protocol:
// latencies and drops are drawn, not derived

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
)

// A TraceGen holds the knobs for one generated trace.  Virtual time is
// interpreted as nanoseconds throughout
type TraceGen struct {
	Packets   int    // packets per topology
	GapNs     int    // spacing between consecutive sends
	LatencyNs int    // base interconnect latency
	StallPct  int    // chance a packet picks up an extra stall cycle
	DropPct   int    // chance the interconnect drops a ready-path packet
	FIFODepth int    // ceiling for emitted depth samples
	Seed      string // rngstream seed name
}

// CreateTraceGen is a constructor with defaults filled in for any knob
// left at zero
func CreateTraceGen(packets int, seed string) *TraceGen {
	tg := new(TraceGen)
	tg.Packets = packets
	tg.GapNs = 10
	tg.LatencyNs = 100
	tg.FIFODepth = 8
	tg.Seed = seed
	if len(tg.Seed) == 0 {
		tg.Seed = "tracegen"
	}
	return tg
}

// genState carries the generator through its event handlers
type genState struct {
	tg  *TraceGen
	w   *bufio.Writer
	rng *rngstream.RngStream

	txDepth int
	rxDepth int
}

// pktEvt is the data payload passed between scheduled events
type pktEvt struct {
	topo Topology
	seq  int64
}

func nowNs(evtMgr *evtm.EventManager) int64 {
	return int64(math.Round(evtMgr.CurrentSeconds()))
}

// emitSend writes the send-side records for one packet and schedules
// its arrival, or its drop, further along the pipeline
func emitSend(evtMgr *evtm.EventManager, context any, data any) any {
	gs := context.(*genState)
	pkt := data.(pktEvt)
	t := nowNs(evtMgr)

	latency := float64(gs.tg.LatencyNs)
	if gs.tg.StallPct > 0 && gs.rng.RandU01()*100.0 < float64(gs.tg.StallPct) {
		latency += float64(gs.rng.RandInt(1, gs.tg.LatencyNs))
	}

	if pkt.topo == ReadyTopo {
		fmt.Fprintf(gs.w, "%d ns [iRC_tx] Send seq=%d\n", t, pkt.seq)
		fmt.Fprintf(gs.w, "%d ns [iRC_tx] sender_thread pushed seq_num=%d queue_id=0\n", t, pkt.seq)

		if gs.tg.DropPct > 0 && gs.rng.RandU01()*100.0 < float64(gs.tg.DropPct) {
			evtMgr.Schedule(gs, pkt, emitDrop, vrtime.SecondsToTime(latency/2))
			return nil
		}
	} else {
		fmt.Fprintf(gs.w, "%d ns [iRC] Send seq=%d\n", t, pkt.seq)
	}

	gs.bumpDepth(pkt.topo)
	evtMgr.Schedule(gs, pkt, emitArrival, vrtime.SecondsToTime(latency))
	return nil
}

// emitDrop writes the interconnect's drop record for a packet that
// never arrives
func emitDrop(evtMgr *evtm.EventManager, context any, data any) any {
	gs := context.(*genState)
	pkt := data.(pktEvt)
	fmt.Fprintf(gs.w, "%d ns [AXI_NOC] DROPPED seq_num=%d\n", nowNs(evtMgr), pkt.seq)
	return nil
}

// emitArrival writes the receive-side records for one packet
func emitArrival(evtMgr *evtm.EventManager, context any, data any) any {
	gs := context.(*genState)
	pkt := data.(pktEvt)
	t := nowNs(evtMgr)

	if pkt.topo == ReadyTopo {
		fmt.Fprintf(gs.w, "%d ns [iEP_after_RX_q0] input_router_thread routed seq_num=%d\n", t, pkt.seq)
		fmt.Fprintf(gs.w, "%d ns [iEP_after_RX_q0] Popping data: seq_num=%d\n", t, pkt.seq)
	} else {
		fmt.Fprintf(gs.w, "%d ns [iEP_q0] Popping data: seq_num=%d\n", t, pkt.seq)
	}

	gs.drainDepth(pkt.topo)
	return nil
}

// bumpDepth and drainDepth keep a rough occupancy model behind the
// depth samples, clamped to the configured FIFO depth
func (gs *genState) bumpDepth(topo Topology) {
	if topo == ReadyTopo {
		if gs.txDepth < gs.tg.FIFODepth {
			gs.txDepth++
		}
		fmt.Fprintf(gs.w, "[TX_FIFO] depth=%d\n", gs.txDepth)
		return
	}
	if gs.rxDepth < gs.tg.FIFODepth {
		gs.rxDepth++
	}
	fmt.Fprintf(gs.w, "[RX_FIFO] depth=%d\n", gs.rxDepth)
}

func (gs *genState) drainDepth(topo Topology) {
	if topo == ReadyTopo {
		if gs.txDepth > 0 {
			gs.txDepth--
		}
		return
	}
	if gs.rxDepth > 0 {
		gs.rxDepth--
	}
}

// Generate writes one complete trace.  Lines come out in virtual-time
// order because the event manager orders the handlers that write them
func (tg *TraceGen) Generate(w io.Writer) error {
	gs := new(genState)
	gs.tg = tg
	gs.w = bufio.NewWriter(w)
	gs.rng = rngstream.New(tg.Seed)

	evtMgr := evtm.New()
	for seq := int64(0); seq < int64(tg.Packets); seq++ {
		offset := float64(seq) * float64(tg.GapNs)
		evtMgr.Schedule(gs, pktEvt{topo: CreditTopo, seq: seq}, emitSend, vrtime.SecondsToTime(offset))
		evtMgr.Schedule(gs, pktEvt{topo: ReadyTopo, seq: seq}, emitSend, vrtime.SecondsToTime(offset))
	}

	// run far enough past the last send for every arrival to land
	horizon := float64(tg.Packets*tg.GapNs + 4*tg.LatencyNs + 16)
	evtMgr.Run(horizon)

	return gs.w.Flush()
}
