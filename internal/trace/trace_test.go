package trace

import (
	"bytes"
	"strings"
	"testing"
)

type fakeMem map[uint16]byte

func (f fakeMem) Read(addr uint16) byte { return f[addr] }

func TestWriter_NilSinkIsNoop(t *testing.T) {
	var w Writer
	w.Step(fakeMem{}, CPUState{}, 4) // must not panic with Out == nil
}

func TestWriter_Step_FormatsLine(t *testing.T) {
	var buf bytes.Buffer
	w := Writer{Out: &buf}
	mem := fakeMem{0x0100: 0x00} // NOP
	w.Step(mem, CPUState{PC: 0x0100, A: 0x01, SP: 0xFFFE}, 4)
	got := buf.String()
	if !strings.Contains(got, "0100:") || !strings.Contains(got, "NOP") {
		t.Fatalf("trace line missing PC/mnemonic: %q", got)
	}
}

func TestRing_DumpsOldestFirstAndWraps(t *testing.T) {
	r := NewRing(2)
	mem := fakeMem{0x0000: 0x00, 0x0001: 0x00, 0x0002: 0x00}
	r.Push(mem, CPUState{PC: 0x0000}, 4)
	r.Push(mem, CPUState{PC: 0x0001}, 4)
	r.Push(mem, CPUState{PC: 0x0002}, 4) // overwrites PC=0x0000 entry

	var buf bytes.Buffer
	r.Dump(&buf, mem)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines want 2 (ring size)", len(lines))
	}
	if !strings.HasPrefix(lines[0], "0001:") {
		t.Fatalf("oldest retained entry got %q want prefix 0001:", lines[0])
	}
	if !strings.HasPrefix(lines[1], "0002:") {
		t.Fatalf("newest entry got %q want prefix 0002:", lines[1])
	}
}
