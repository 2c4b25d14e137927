package symbols

import (
	"bytes"
	"strings"
	"testing"

	"github.com/wippyai/qvm/errors"
)

func TestResolve(t *testing.T) {
	tab := New(Symbol{Addr: 200, Name: "run"}, Symbol{Addr: 100, Name: "init"})

	tests := []struct {
		addr int32
		want string
	}{
		{100, "init"},
		{150, "init+50"},
		{200, "run"},
		{201, "run+1"},
		{90, "init+-10"},
	}
	for _, tt := range tests {
		if got := tab.Resolve(tt.addr); got != tt.want {
			t.Errorf("Resolve(%d) = %q, want %q", tt.addr, got, tt.want)
		}
	}

	var empty *Table
	if got := empty.Resolve(5); got != NoSymbols {
		t.Errorf("nil table Resolve = %q, want %q", got, NoSymbols)
	}
	if got := New().Resolve(5); got != NoSymbols {
		t.Errorf("empty table Resolve = %q, want %q", got, NoSymbols)
	}
}

func TestResolve_DuplicateAddresses(t *testing.T) {
	tab := New(
		Symbol{Addr: 10, Name: "a"},
		Symbol{Addr: 10, Name: "b"},
		Symbol{Addr: 30, Name: "c"},
	)
	if got := tab.Resolve(10); got != "b" {
		t.Errorf("Resolve(10) = %q, want b (last at address)", got)
	}
	if got := tab.Resolve(12); got != "b+2" {
		t.Errorf("Resolve(12) = %q, want b+2", got)
	}
}

func TestValueOf(t *testing.T) {
	tab := New(Symbol{Addr: 0, Name: "vmMain"}, Symbol{Addr: 64, Name: "G_Printf"})

	if v, ok := tab.ValueOf("vmMain"); !ok || v != 0 {
		t.Errorf("ValueOf(vmMain) = %d, %v; want 0, true", v, ok)
	}
	if v, ok := tab.ValueOf("G_Printf"); !ok || v != 64 {
		t.Errorf("ValueOf(G_Printf) = %d, %v", v, ok)
	}
	if _, ok := tab.ValueOf("missing"); ok {
		t.Error("ValueOf(missing) reported present")
	}
	var empty *Table
	if _, ok := empty.ValueOf("vmMain"); ok {
		t.Error("nil table reported a symbol")
	}
}

func TestParse(t *testing.T) {
	ip := func(i int32) int32 {
		if i == 10 {
			return 0x1000
		}
		return i * 4
	}

	t.Run("instruction index converted", func(t *testing.T) {
		tab, err := Parse(strings.NewReader("0 a game_exit\n"), 20, ip)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		syms := tab.Symbols()
		if len(syms) != 1 || syms[0].Name != "game_exit" || syms[0].Addr != 0x1000 {
			t.Errorf("symbols = %+v", syms)
		}
	})

	t.Run("out of range value kept", func(t *testing.T) {
		tab, _ := Parse(strings.NewReader("0 ff big\n"), 20, ip)
		if v, ok := tab.ValueOf("big"); !ok || v != 0xff {
			t.Errorf("ValueOf(big) = %#x, %v", v, ok)
		}
	})

	t.Run("non-code segments skipped", func(t *testing.T) {
		src := "0 1 first\n3 10 data_sym\n1 20 bss_sym\n0 2 second\n"
		tab, err := Parse(strings.NewReader(src), 20, ip)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if tab.Len() != 2 {
			t.Fatalf("Len = %d, want 2", tab.Len())
		}
		if _, ok := tab.ValueOf("data_sym"); ok {
			t.Error("data segment symbol was kept")
		}
	})

	t.Run("sorted by address", func(t *testing.T) {
		tab, _ := Parse(strings.NewReader("0 200 late\n0 100 early\n"), 0, nil)
		syms := tab.Symbols()
		if syms[0].Name != "early" || syms[1].Name != "late" {
			t.Errorf("order = %+v", syms)
		}
	})

	t.Run("incomplete record stops", func(t *testing.T) {
		tab, err := Parse(strings.NewReader("0 1 first\n0 2"), 20, ip)
		if err == nil || !strings.Contains(err.Error(), "incomplete line") {
			t.Errorf("err = %v, want incomplete line", err)
		}
		if tab.Len() != 1 {
			t.Errorf("Len = %d, want 1 (partial table kept)", tab.Len())
		}
	})

	t.Run("bad hex stops", func(t *testing.T) {
		tab, err := Parse(strings.NewReader("0 1 first\n0 zz second\n0 3 third\n"), 20, ip)
		if !errors.IsKind(err, errors.KindInvalidData) {
			t.Errorf("err = %v, want invalid data", err)
		}
		if tab.Len() != 1 {
			t.Errorf("Len = %d, want 1", tab.Len())
		}
	})

	t.Run("overlong value stops", func(t *testing.T) {
		tab, err := Parse(strings.NewReader("0 1 first\n0 100000001 wraps\n"), 20, ip)
		if err == nil || !strings.Contains(err.Error(), "bad value") {
			t.Errorf("err = %v, want bad value", err)
		}
		if _, ok := tab.ValueOf("wraps"); ok {
			t.Error("overlong value was truncated and kept")
		}
	})

	t.Run("full width value", func(t *testing.T) {
		tab, err := Parse(strings.NewReader("0 ffffffff top\n"), 0, nil)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if v, _ := tab.ValueOf("top"); v != -1 {
			t.Errorf("ValueOf(top) = %#x, want -1", v)
		}
	})
}

func TestReport(t *testing.T) {
	tab := New(
		Symbol{Addr: 0, Name: "vmMain"},
		Symbol{Addr: 100, Name: "G_RunFrame"},
		Symbol{Addr: 200, Name: "G_Say"},
	)
	for i := 0; i < 3; i++ {
		tab.Hit(150)
	}
	tab.Hit(10)

	var buf bytes.Buffer
	if err := tab.Report(&buf); err != nil {
		t.Fatalf("Report: %v", err)
	}
	want := "75%         3 G_RunFrame\n" +
		"25%         1 vmMain\n" +
		" 0%         0 G_Say\n" +
		"            4 total\n"
	if buf.String() != want {
		t.Errorf("Report =\n%s\nwant\n%s", buf.String(), want)
	}

	for _, s := range tab.Symbols() {
		if s.ProfileCount != 0 {
			t.Errorf("%s count = %d after report, want 0", s.Name, s.ProfileCount)
		}
	}
}

func TestReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := New().Report(&buf); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty table wrote %q", buf.String())
	}

	tab := New(Symbol{Addr: 0, Name: "idle"})
	if err := tab.Report(&buf); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !strings.HasPrefix(buf.String(), " 0%") {
		t.Errorf("zero total report = %q", buf.String())
	}
}
