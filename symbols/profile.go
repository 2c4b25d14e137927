package symbols

import (
	"cmp"
	"fmt"
	"io"
	"slices"
)

// Report writes every symbol's share of the profile samples, highest first,
// followed by the total. Counters are reset afterwards so each report covers
// the samples since the previous one.
func (t *Table) Report(w io.Writer) error {
	if t.Len() == 0 {
		return nil
	}

	sorted := make([]*Symbol, len(t.syms))
	var total float64
	for i := range t.syms {
		sorted[i] = &t.syms[i]
		total += float64(t.syms[i].ProfileCount)
	}
	slices.SortStableFunc(sorted, func(a, b *Symbol) int {
		return cmp.Compare(b.ProfileCount, a.ProfileCount)
	})

	for _, s := range sorted {
		perc := 0
		if total > 0 {
			perc = int(100 * float64(s.ProfileCount) / total)
		}
		if _, err := fmt.Fprintf(w, "%2d%% %9d %s\n", perc, s.ProfileCount, s.Name); err != nil {
			return err
		}
		s.ProfileCount = 0
	}

	_, err := fmt.Fprintf(w, "    %9.0f total\n", total)
	return err
}
