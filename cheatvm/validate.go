package cheatvm

import (
	"fmt"

	"github.com/colorfulnotion/dmnt/cheaterrors"
)

// construct is an open conditional block or loop; loop holds the loop
// register, or -1 for a conditional.
type construct struct {
	loop int
	at   int
}

// Validate rejects opcode streams the VM cannot run safely: streams that do
// not decode to the end, zero-iteration loops, and conditionals and loops
// that do not nest properly. Conditionals and loops share one stack, so an
// End or Else must close the innermost construct, which must be a
// conditional, and a loop end must close the innermost construct, which must
// be a loop on the same register.
func Validate(words []uint32) error {
	ops, off, ok := DecodeAll(words)
	if !ok {
		return fmt.Errorf("%w: undecodable opcode at word %d", cheaterrors.ErrVMInvalidProgram, off)
	}
	var stack []construct
	var loopOpen [NumRegisters]bool
	for i, op := range ops {
		if op.BeginsConditional() {
			stack = append(stack, construct{loop: -1, at: i})
			continue
		}
		switch o := op.(type) {
		case *EndConditional:
			if len(stack) == 0 {
				return fmt.Errorf("%w: opcode %d %s outside a conditional block", cheaterrors.ErrVMInvalidProgram, i, o)
			}
			if top := stack[len(stack)-1]; top.loop >= 0 {
				return fmt.Errorf("%w: opcode %d %s inside loop r%d opened at %d", cheaterrors.ErrVMInvalidProgram, i, o, top.loop, top.at)
			}
			if !o.IsElse {
				stack = stack[:len(stack)-1]
			}
		case *ControlLoop:
			reg := int(o.RegIndex)
			if o.StartLoop {
				if o.NumIters == 0 {
					return fmt.Errorf("%w: opcode %d loop r%d has zero iterations", cheaterrors.ErrVMInvalidProgram, i, reg)
				}
				if loopOpen[reg] {
					return fmt.Errorf("%w: opcode %d loop r%d already open", cheaterrors.ErrVMInvalidProgram, i, reg)
				}
				loopOpen[reg] = true
				stack = append(stack, construct{loop: reg, at: i})
				continue
			}
			if len(stack) == 0 {
				return fmt.Errorf("%w: opcode %d loop end r%d without start", cheaterrors.ErrVMInvalidProgram, i, reg)
			}
			top := stack[len(stack)-1]
			if top.loop < 0 {
				return fmt.Errorf("%w: opcode %d loop end r%d inside conditional opened at %d", cheaterrors.ErrVMInvalidProgram, i, reg, top.at)
			}
			if top.loop != reg {
				return fmt.Errorf("%w: opcode %d loop end r%d closes loop r%d", cheaterrors.ErrVMInvalidProgram, i, reg, top.loop)
			}
			loopOpen[reg] = false
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) != 0 {
		return fmt.Errorf("%w: %d block(s) left open", cheaterrors.ErrVMInvalidProgram, len(stack))
	}
	return nil
}
