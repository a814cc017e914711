package cheatvm

import (
	"fmt"
	"strings"

	"github.com/xlab/treeprint"
)

// Disassemble renders one line per opcode: word offset, raw words and the
// opcode, indented by conditional depth. Lines decoded before a failure are
// returned together with the error.
func Disassemble(words []uint32) ([]string, error) {
	d := NewDecoder(words)
	var lines []string
	depth := 0
	for {
		start := d.Pos()
		op, ok := d.Next()
		if !ok {
			if d.Failed() {
				return lines, fmt.Errorf("decode failed at word %d (%08X)", start, wordAt(words, start))
			}
			return lines, nil
		}
		indent := depth
		if e, isEnd := op.(*EndConditional); isEnd && depth > 0 {
			indent = depth - 1
			if !e.IsElse {
				depth--
			}
		}
		lines = append(lines, formatLine(words[start:d.Pos()], start, indent, op))
		if op.BeginsConditional() {
			depth++
		}
	}
}

func wordAt(words []uint32, i int) uint32 {
	if i < len(words) {
		return words[i]
	}
	return 0
}

func formatLine(raw []uint32, off, depth int, op Opcode) string {
	hex := make([]string, len(raw))
	for i, w := range raw {
		hex[i] = fmt.Sprintf("%08X", w)
	}
	return fmt.Sprintf("%04d  %-28s %s%s", off, strings.Join(hex, " "), strings.Repeat("  ", depth), op)
}

// DisassembleTree renders conditional blocks as branches under name.
func DisassembleTree(name string, words []uint32) (treeprint.Tree, error) {
	tree := treeprint.New()
	tree.SetValue(name)
	stack := []treeprint.Tree{tree}
	d := NewDecoder(words)
	for {
		op, ok := d.Next()
		if !ok {
			if d.Failed() {
				return tree, fmt.Errorf("decode failed at word %d", d.Pos())
			}
			return tree, nil
		}
		top := stack[len(stack)-1]
		switch {
		case op.BeginsConditional():
			stack = append(stack, top.AddBranch(op.String()))
		case op.Type() == OpEndConditional && len(stack) > 1:
			if op.(*EndConditional).IsElse {
				parent := stack[len(stack)-2]
				stack[len(stack)-1] = parent.AddBranch(op.String())
			} else {
				stack = stack[:len(stack)-1]
				stack[len(stack)-1].AddNode(op.String())
			}
		default:
			top.AddNode(op.String())
		}
	}
}
