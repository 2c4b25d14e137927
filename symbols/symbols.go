// Package symbols maps module code offsets to function names and keeps
// per-function profile counters.
package symbols

import (
	"cmp"
	"slices"
	"strconv"
)

// NoSymbols is returned by Resolve when the table is empty.
const NoSymbols = "NO SYMBOLS"

// Symbol is one named code address.
type Symbol struct {
	Addr         int32
	Name         string
	ProfileCount int64
}

// Table is an address-sorted symbol table.
type Table struct {
	syms []Symbol
}

// New builds a table from syms. Entries are stable-sorted by address.
func New(syms ...Symbol) *Table {
	t := &Table{syms: slices.Clone(syms)}
	t.sort()
	return t
}

func (t *Table) sort() {
	slices.SortStableFunc(t.syms, func(a, b Symbol) int {
		return cmp.Compare(a.Addr, b.Addr)
	})
}

// Len returns the number of symbols.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.syms)
}

// Symbols returns a copy of the table in address order.
func (t *Table) Symbols() []Symbol {
	if t == nil {
		return nil
	}
	return slices.Clone(t.syms)
}

// nearest returns the index of the last symbol whose address is <= addr.
// A query below the first symbol reports the first symbol.
func (t *Table) nearest(addr int32) int {
	i, _ := slices.BinarySearchFunc(t.syms, addr, func(s Symbol, a int32) int {
		return cmp.Compare(s.Addr, a)
	})
	// i is the first index with Addr >= addr
	if i < len(t.syms) && t.syms[i].Addr == addr {
		for i+1 < len(t.syms) && t.syms[i+1].Addr == addr {
			i++
		}
		return i
	}
	if i == 0 {
		return 0
	}
	return i - 1
}

// Resolve returns the name for addr: the bare name on an exact match,
// "name+delta" for the nearest symbol below it, or NoSymbols.
func (t *Table) Resolve(addr int32) string {
	if t.Len() == 0 {
		return NoSymbols
	}
	s := t.syms[t.nearest(addr)]
	if s.Addr == addr {
		return s.Name
	}
	return s.Name + "+" + strconv.Itoa(int(addr-s.Addr))
}

// Lookup returns the symbol containing addr, or nil for an empty table.
func (t *Table) Lookup(addr int32) *Symbol {
	if t.Len() == 0 {
		return nil
	}
	return &t.syms[t.nearest(addr)]
}

// ValueOf returns the address of the first symbol named name.
func (t *Table) ValueOf(name string) (int32, bool) {
	if t == nil {
		return 0, false
	}
	for _, s := range t.syms {
		if s.Name == name {
			return s.Addr, true
		}
	}
	return 0, false
}

// Hit increments the profile counter of the symbol containing addr.
func (t *Table) Hit(addr int32) {
	if s := t.Lookup(addr); s != nil {
		s.ProfileCount++
	}
}
