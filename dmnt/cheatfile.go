package dmnt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/colorfulnotion/dmnt/cheaterrors"
	"github.com/colorfulnotion/dmnt/cheatvm"
	log "github.com/colorfulnotion/dmnt/log"
	"github.com/colorfulnotion/dmnt/types"
)

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// NewCheatTable returns an empty table with slot ids assigned.
func NewCheatTable() []types.CheatEntry {
	table := make([]types.CheatEntry, types.CheatTableSize)
	for i := range table {
		table[i].CheatID = uint32(i)
	}
	return table
}

// firstFree returns the first non-master slot with no opcodes, or -1.
func firstFree(table []types.CheatEntry) int {
	for i := 1; i < len(table); i++ {
		if table[i].Definition.NumOpcodes() == 0 {
			return i
		}
	}
	return -1
}

// scanName returns the text between s[i] and the closing delimiter, and the
// index just past it.
func scanName(s string, i int, closing byte) (string, int, bool) {
	j := strings.IndexByte(s[i+1:], closing)
	if j < 0 {
		return "", 0, false
	}
	return types.ClampName(s[i+1 : i+1+j]), i + 2 + j, true
}

// ParseCheats parses a cheat text file into a fresh table.
//
//	[Readable name]   opens the next free entry
//	{Master name}     opens the master entry, at most once
//	0123ABCD          one opcode word for the open entry
//
// Entries named but never given opcodes stay free and are reused by the next
// header. Parsed entries are enabled per enableByDefault and the master is
// always enabled. A definition that does not validate as a program is dropped
// with a warning.
func ParseCheats(s string, enableByDefault bool) ([]types.CheatEntry, error) {
	table := NewCheatTable()
	cur := -1
	line := 1
	fail := func(format string, args ...any) ([]types.CheatEntry, error) {
		return nil, fmt.Errorf("%w: line %d: %s", cheaterrors.ErrInvalid, line, fmt.Sprintf(format, args...))
	}
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case isSpace(c):
			if c == '\n' {
				line++
			}
			i++
		case c == '[':
			cur = firstFree(table)
			if cur < 0 {
				return fail("more than %d cheats", types.MaxCheatCount)
			}
			name, next, ok := scanName(s, i, ']')
			if !ok {
				return fail("unterminated cheat name")
			}
			table[cur].Definition.ReadableName = name
			i = next
		case c == '{':
			cur = types.MasterCheatID
			if table[cur].Definition.NumOpcodes() > 0 {
				return fail("second master cheat")
			}
			name, next, ok := scanName(s, i, '}')
			if !ok {
				return fail("unterminated master cheat name")
			}
			table[cur].Definition.ReadableName = name
			i = next
		case isHexDigit(c):
			if cur < 0 {
				return fail("opcode outside of a cheat")
			}
			def := &table[cur].Definition
			if def.NumOpcodes() >= types.MaxCheatOpcodes {
				return fail("cheat %q has more than %d opcodes", def.ReadableName, types.MaxCheatOpcodes)
			}
			if i+8 > len(s) {
				return fail("truncated opcode")
			}
			for j := 1; j < 8; j++ {
				if !isHexDigit(s[i+j]) {
					return fail("opcode %q is not 8 hex digits", s[i:i+j+1])
				}
			}
			word, err := strconv.ParseUint(s[i:i+8], 16, 32)
			if err != nil {
				return fail("%v", err)
			}
			def.Opcodes = append(def.Opcodes, uint32(word))
			i += 8
		default:
			return fail("unexpected character %q", c)
		}
	}

	for i := range table {
		e := &table[i]
		if e.Definition.NumOpcodes() == 0 {
			e.Definition = types.CheatDefinition{}
			continue
		}
		if err := cheatvm.Validate(e.Definition.Opcodes); err != nil {
			log.Warn(log.CheatMonitoring, "dropping cheat", "name", e.Definition.ReadableName, "err", err)
			e.Definition = types.CheatDefinition{}
			continue
		}
		e.Enabled = enableByDefault || e.IsMaster()
	}
	return table, nil
}

// ParseCheatToggles applies a toggle file to table. Each record is a
// bracketed cheat name followed by 1/true/on or 0/false/off. Names not in
// the table and unrecognized values are ignored. The master entry is never
// matched.
func ParseCheatToggles(table []types.CheatEntry, s string) error {
	line := 1
	fail := func(msg string) error {
		return fmt.Errorf("%w: toggles line %d: %s", cheaterrors.ErrInvalid, line, msg)
	}
	for i := 0; i < len(s); {
		c := s[i]
		if isSpace(c) {
			if c == '\n' {
				line++
			}
			i++
			continue
		}
		if c != '[' {
			return fail(fmt.Sprintf("unexpected character %q", c))
		}
		name, next, ok := scanName(s, i, ']')
		if !ok {
			return fail("unterminated cheat name")
		}
		i = next
		for i < len(s) && isSpace(s[i]) {
			if s[i] == '\n' {
				line++
			}
			i++
		}
		if i >= len(s) {
			return fail("missing toggle value")
		}
		j := i
		for j < len(s) && !isSpace(s[j]) {
			j++
		}
		if j-i >= 8 {
			return fail("toggle value too long")
		}
		toggle := strings.ToLower(s[i:j])
		i = j
		idx := findByName(table, name)
		if idx < 0 {
			continue
		}
		switch toggle {
		case "1", "true", "on":
			table[idx].Enabled = true
		case "0", "false", "off":
			table[idx].Enabled = false
		}
	}
	return nil
}

func findByName(table []types.CheatEntry, name string) int {
	for i := 1; i < len(table); i++ {
		if table[i].Definition.NumOpcodes() > 0 && table[i].Definition.ReadableName == name {
			return i
		}
	}
	return -1
}

// SerializeCheatToggles renders the enabled state of every non-master entry
// in the format ParseCheatToggles reads.
func SerializeCheatToggles(table []types.CheatEntry) string {
	var sb strings.Builder
	for i := 1; i < len(table); i++ {
		e := &table[i]
		if e.Definition.NumOpcodes() == 0 {
			continue
		}
		fmt.Fprintf(&sb, "[%s]\n%t\n\n", e.Definition.ReadableName, e.Enabled)
	}
	return sb.String()
}
