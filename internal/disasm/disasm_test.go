package disasm

import "testing"

type fakeMem map[uint16]byte

func (f fakeMem) Read(addr uint16) byte { return f[addr] }

func TestAt_TableDriven(t *testing.T) {
	cases := []struct {
		name string
		mem  fakeMem
		want string
		len  int
	}{
		{"nop", fakeMem{0: 0x00}, "NOP", 1},
		{"ld_b_d8", fakeMem{0: 0x06, 1: 0x42}, "LD B,0x42", 2},
		{"ld_b_c", fakeMem{0: 0x41}, "LD B,C", 1},
		{"add_a_hl", fakeMem{0: 0x86}, "ADD A,(HL)", 1},
		{"jp_nn", fakeMem{0: 0xC3, 1: 0x00, 2: 0x01}, "JP 0x0100", 3},
		{"jr_nz", fakeMem{0: 0x20, 1: 0xFE}, "JR NZ,-2", 2},
		{"call_nn", fakeMem{0: 0xCD, 1: 0x34, 2: 0x12}, "CALL 0x1234", 3},
		{"push_bc", fakeMem{0: 0xC5}, "PUSH BC", 1},
		{"rst_38", fakeMem{0: 0xFF}, "RST 0x38", 1},
		{"cb_bit", fakeMem{0: 0xCB, 1: 0x7F}, "BIT 7,A", 2},
		{"cb_rlc", fakeMem{0: 0xCB, 1: 0x00}, "RLC B", 2},
		{"halt", fakeMem{0: 0x76}, "HALT", 1},
		{"invalid", fakeMem{0: 0xD3}, "DB 0xd3", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inst := At(tc.mem, 0)
			if inst.Text != tc.want {
				t.Fatalf("Text got %q want %q", inst.Text, tc.want)
			}
			if inst.Len != tc.len {
				t.Fatalf("Len got %d want %d", inst.Len, tc.len)
			}
		})
	}
}
