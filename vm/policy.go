package vm

import (
	"fmt"

	"github.com/wippyai/qvm/errors"
)

// SourcePolicy selects which kinds of module file are tried, and in which order.
type SourcePolicy int

const (
	NativeOnly SourcePolicy = iota
	NativePreferred
	BytecodePreferred
	BytecodeOnly
)

var policyNames = map[SourcePolicy]string{
	NativeOnly:        "native-only",
	NativePreferred:   "native-preferred",
	BytecodePreferred: "bytecode-preferred",
	BytecodeOnly:      "bytecode-only",
}

func (p SourcePolicy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParseSourcePolicy parses a policy name such as "native-preferred".
func ParseSourcePolicy(s string) (SourcePolicy, error) {
	for p, name := range policyNames {
		if name == s {
			return p, nil
		}
	}
	return 0, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown source policy %q", s))
}

// DefaultPolicy is used when no policy is configured for a module: native
// requests prefer native files, everything else only loads bytecode.
func DefaultPolicy(mode Mode) SourcePolicy {
	if mode == ModeNative {
		return NativePreferred
	}
	return BytecodeOnly
}

// kinds returns the candidate kinds in probe order; true means native.
func (p SourcePolicy) kinds() []bool {
	switch p {
	case NativeOnly:
		return []bool{true}
	case NativePreferred:
		return []bool{true, false}
	case BytecodePreferred:
		return []bool{false, true}
	default:
		return []bool{false}
	}
}
