// Package trace is an opt-in io.Writer sink for the per-instruction
// execution trace, kept separate from the CPU's hot path so the cost of
// formatting a trace line is only paid when tracing is actually enabled.
// It mirrors cmd/cpurunner's hand-rolled writerFunc/ring-buffer trace
// lines, generalized into something cmd/gbemu and cmd/cpurunner can both
// use.
package trace

import (
	"fmt"
	"io"

	"github.com/dmgcore/gbcore/internal/disasm"
)

// Reader is the disassembler's read-only bus surface.
type Reader = disasm.Reader

// CPUState is the subset of register/flag state a trace line reports.
// Callers fill this from whatever concrete CPU type they hold; trace
// does not import internal/cpu to avoid coupling the hot-path package to
// the trace format.
type CPUState struct {
	PC                     uint16
	SP                     uint16
	A, F, B, C, D, E, H, L byte
	IME                    bool
	IF, IE                 byte
}

// Writer formats and writes one trace line per Step call to an
// underlying io.Writer. A nil or zero-value Writer is a no-op, so callers
// can leave tracing wired in unconditionally and only set Out when
// -trace is passed.
type Writer struct {
	Out io.Writer
}

// Step emits one trace line for the instruction about to execute at
// s.PC, reading mem to disassemble it. Cycles is the machine-cycle count
// the instruction took; pass 0 before execution if unknown.
func (w *Writer) Step(mem Reader, s CPUState, cycles int) {
	if w == nil || w.Out == nil {
		return
	}
	inst := disasm.At(mem, s.PC)
	fmt.Fprintf(w.Out,
		"%04X: %-20s A=%02X F=%02X B=%02X C=%02X D=%02X E=%02X H=%02X L=%02X SP=%04X cyc=%d IME=%t IF=%02X IE=%02X\n",
		s.PC, inst.Text, s.A, s.F, s.B, s.C, s.D, s.E, s.H, s.L, s.SP, cycles, s.IME, s.IF, s.IE)
}

// Ring is a fixed-size ring buffer of recent CPU states, used to print a
// window of trace lines leading up to a failure without retaining an
// unbounded history. It mirrors cmd/cpurunner's -traceOnFail ring.
type Ring struct {
	entries []entry
	next    int
	filled  int
}

type entry struct {
	state  CPUState
	cycles int
	op     byte
}

// NewRing allocates a ring holding up to size recent entries.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 1
	}
	return &Ring{entries: make([]entry, size)}
}

// Push records one instruction's state into the ring, overwriting the
// oldest entry once full.
func (r *Ring) Push(mem Reader, s CPUState, cycles int) {
	op := mem.Read(s.PC)
	r.entries[r.next] = entry{state: s, cycles: cycles, op: op}
	r.next = (r.next + 1) % len(r.entries)
	if r.filled < len(r.entries) {
		r.filled++
	}
}

// Dump writes every retained entry, oldest first, to out.
func (r *Ring) Dump(out io.Writer, mem Reader) {
	start := (r.next - r.filled + len(r.entries)) % len(r.entries)
	for i := 0; i < r.filled; i++ {
		e := r.entries[(start+i)%len(r.entries)]
		inst := disasm.At(mem, e.state.PC)
		fmt.Fprintf(out, "%04X: OP=%02X %-20s A=%02X F=%02X SP=%04X cyc=%d IME=%t\n",
			e.state.PC, e.op, inst.Text, e.state.A, e.state.F, e.state.SP, e.cycles, e.state.IME)
	}
}
