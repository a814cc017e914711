package cheaterrors

import (
	"errors"
	"strings"
)

// Cheat (C) Errors
var (
	ErrNotAttached    = errors.New("C1|NotAttached: No cheat process is attached.")
	ErrNullBuffer     = errors.New("C2|NullBuffer: A required buffer was empty.")
	ErrInvalidBuffer  = errors.New("C3|InvalidBuffer: A buffer had an invalid size.")
	ErrUnknownId      = errors.New("C4|UnknownId: No cheat exists with the given id.")
	ErrOutOfResource  = errors.New("C5|OutOfResource: The cheat table is full.")
	ErrInvalid        = errors.New("C6|Invalid: The cheat definition or argument is malformed.")
	ErrCannotDisable  = errors.New("C7|CannotDisable: The master cheat cannot be disabled or removed.")
	ErrNotFound       = errors.New("C8|NotFound: No entry matches the lookup.")
	ErrStoreNotExists = errors.New("C9|StoreNotExists: The cheat store has no file for this program.")
)

// Frozen Address (F) Errors
var (
	ErrFrozenInvalidWidth  = errors.New("F1|InvalidWidth: Frozen address width must be 1, 2, 4 or 8.")
	ErrFrozenAlreadyExists = errors.New("F2|AlreadyExists: The address is already frozen.")
	ErrFrozenNotFound      = errors.New("F3|NotFound: The address is not frozen.")
	ErrFrozenOutOfResource = errors.New("F4|OutOfResource: The frozen address table is full.")
)

// Virtual Machine (V) Errors
var (
	ErrVMInvalidConditionDepth = errors.New("V1|InvalidConditionDepth: Mismatched conditional block nesting.")
	ErrVMInvalidProgram        = errors.New("V2|InvalidProgram: The opcode stream does not decode.")
	ErrVMProgramTooLarge       = errors.New("V3|ProgramTooLarge: Enabled cheats exceed the program capacity.")
)

var known = []error{
	ErrNotAttached, ErrNullBuffer, ErrInvalidBuffer, ErrUnknownId, ErrOutOfResource,
	ErrInvalid, ErrCannotDisable, ErrNotFound, ErrStoreNotExists,
	ErrFrozenInvalidWidth, ErrFrozenAlreadyExists, ErrFrozenNotFound, ErrFrozenOutOfResource,
	ErrVMInvalidConditionDepth, ErrVMInvalidProgram, ErrVMProgramTooLarge,
}

// IsFatal reports whether err belongs to the internal consistency class that
// must abort the host rather than be reported to a caller.
func IsFatal(err error) bool {
	return errors.Is(err, ErrVMInvalidConditionDepth)
}

// Sentinel returns the registered error wrapped by err, or nil.
func Sentinel(err error) error {
	for _, k := range known {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// FromString maps an error message that crossed a transport (net/rpc only
// carries strings) back onto its sentinel. Unknown messages become plain errors.
func FromString(msg string) error {
	if msg == "" {
		return nil
	}
	for _, k := range known {
		if strings.Contains(msg, k.Error()) {
			if msg == k.Error() {
				return k
			}
			return &remoteError{msg: msg, sentinel: k}
		}
	}
	return errors.New(msg)
}

type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	if s := Sentinel(err); s != nil {
		err = s
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if s := Sentinel(err); s != nil {
		err = s
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}
