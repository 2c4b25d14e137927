package symbols

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/qvm/errors"
)

// parseHex parses an unprefixed hexadecimal token of at most 32 bits.
func parseHex(tok string) (int32, bool) {
	v, err := strconv.ParseUint(tok, 16, 32)
	if err != nil {
		return 0, false
	}
	return int32(v), true
}

// Parse reads a debug map of "<segment-hex> <value-hex> <name>" records.
// Only segment 0 (code) records are kept. Values inside [0, instructionCount)
// are instruction numbers and are converted with ip; other values are kept
// as code offsets.
//
// A malformed value or truncated record stops parsing. The records read so
// far are returned together with an error describing where parsing stopped.
func Parse(r io.Reader, instructionCount int32, ip func(int32) int32) (*Table, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return sc.Text(), true
	}

	t := &Table{}
	var stop error
	for {
		tok, ok := next()
		if !ok {
			break
		}
		segment, ok := parseHex(tok)
		if !ok {
			stop = errors.InvalidData(errors.PhaseSymbols, nil, fmt.Sprintf("bad segment %q", tok))
			break
		}
		if segment != 0 {
			next()
			next()
			continue
		}

		valTok, ok := next()
		if !ok {
			stop = errors.InvalidData(errors.PhaseSymbols, nil, "incomplete line at end of file")
			break
		}
		name, ok := next()
		if !ok {
			stop = errors.InvalidData(errors.PhaseSymbols, nil, "incomplete line at end of file")
			break
		}
		value, ok := parseHex(valTok)
		if !ok {
			stop = errors.InvalidData(errors.PhaseSymbols, nil, fmt.Sprintf("bad value %q for %s", valTok, name))
			break
		}

		if value >= 0 && value < instructionCount && ip != nil {
			value = ip(value)
		}
		t.syms = append(t.syms, Symbol{Addr: value, Name: name})
	}
	if err := sc.Err(); err != nil && stop == nil {
		stop = errors.Wrap(errors.PhaseSymbols, errors.KindInvalidData, err, "read map")
	}

	t.sort()
	if stop != nil {
		Logger().Warn("symbol parse stopped", zap.Int("parsed", len(t.syms)), zap.Error(stop))
	}
	return t, stop
}
