// Package asmkit disassembles ARM machine code so that patched
// code can be reviewed by a human.
package asmkit

import (
	"fmt"

	"golang.org/x/arch/arm/armasm"
)

const (
	SkipSyntax DisassemblySyntax = ""
	GNUSyntax  DisassemblySyntax = "gnu"
	GoSyntax   DisassemblySyntax = "go"
)

type DisassemblySyntax string

// DisassemblerConfig configures a Disassembler. Only 32-bit ARM mode
// is supported because armasm does not decode Thumb.
type DisassemblerConfig struct {
	Syntax DisassemblySyntax
}

func NewDisassembler(config DisassemblerConfig) (*Disassembler, error) {
	var syntaxFn func(inst armasm.Inst, addr int) string

	switch config.Syntax {
	case SkipSyntax:
		// Do nothing.
	case GNUSyntax:
		syntaxFn = func(inst armasm.Inst, _ int) string {
			return armasm.GNUSyntax(inst)
		}
	case GoSyntax:
		syntaxFn = func(inst armasm.Inst, addr int) string {
			return armasm.GoSyntax(inst, uint64(addr), nil, nil)
		}
	default:
		return nil, fmt.Errorf("unsupported syntax type for arm: %q", config.Syntax)
	}

	return &Disassembler{
		syntaxFn: syntaxFn,
	}, nil
}

type Disassembler struct {
	syntaxFn func(inst armasm.Inst, addr int) string
}

// All decodes every instruction in code, calling onDecodeFn for each.
// baseAddr is added to each instruction's index to produce its address.
func (o *Disassembler) All(code []byte, baseAddr int, onDecodeFn func(Inst) error) error {
	index := 0

	for index < len(code) {
		inst, err := o.decode(code[index:], baseAddr+index)
		if err != nil {
			return fmt.Errorf("failed to decode instruction at 0x%x - %w - remaining data: 0x%x",
				baseAddr+index, err, code[index:])
		}

		inst.Index = index

		err = onDecodeFn(inst)
		if err != nil {
			return fmt.Errorf("on decode function failed for instruction at 0x%x (%q) - %w",
				inst.Addr, inst.Dis, err)
		}

		index += inst.Len
	}

	return nil
}

// Range decodes the instructions in code[start:end], aligning start
// down and end up to a word boundary. Instruction addresses are
// indexes into code.
func (o *Disassembler) Range(code []byte, start int, end int) ([]Inst, error) {
	const align = 4

	start = max(start-start%align, 0)

	if rem := end % align; rem != 0 {
		end += align - rem
	}

	end = min(end, len(code))

	if start >= end {
		return nil, nil
	}

	var insts []Inst

	err := o.All(code[start:end], start, func(inst Inst) error {
		insts = append(insts, inst)
		return nil
	})
	if err != nil {
		return insts, err
	}

	return insts, nil
}

// Next decodes the first instruction in code.
func (o *Disassembler) Next(code []byte) (Inst, error) {
	return o.decode(code, 0)
}

func (o *Disassembler) decode(code []byte, addr int) (Inst, error) {
	armInst, err := armasm.Decode(code, armasm.ModeARM)
	if err != nil {
		return Inst{}, err
	}

	var disassembly string
	if o.syntaxFn != nil {
		disassembly = o.syntaxFn(armInst, addr)
	}

	bin := make([]byte, armInst.Len)
	copy(bin, code[:armInst.Len])

	return Inst{
		Bin:  bin,
		Len:  armInst.Len,
		Addr: addr,
		Dis:  disassembly,
		Inst: armInst,
	}, nil
}

type Inst struct {
	Bin   []byte
	Len   int
	Index int
	Addr  int
	Dis   string
	Inst  armasm.Inst
}
