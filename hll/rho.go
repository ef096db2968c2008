package hll

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/kwertop/gostatix-hlldb"
)

// ThresholdTable caches table[i] = 2^i for i in [0, 160-b], the table rho
// searches against. Building it involves 161-b big.Int shifts, so callers
// opening many HLLs at the same error_rate (store.Container does exactly
// this, one per key) share a single table rather than rebuilding it per key.
type ThresholdTable []*big.Int

// BuildThresholdTable returns the threshold table for a tail width of
// 160-b bits.
func BuildThresholdTable(b uint) ThresholdTable {
	tailWidth := hash160Width - b
	table := make(ThresholdTable, tailWidth+1)
	for i := uint(0); i <= tailWidth; i++ {
		table[i] = new(big.Int).Lsh(big.NewInt(1), i)
	}
	return table
}

// rho computes 1 + the number of leading zeros of w within its tail width,
// as len(table) - upper_bound(table, w): the position of the first
// threshold strictly greater than w, counted from the top of the table.
// Ported from the original Python's `len(arr) - bisect_right(arr, w)` via
// sort.Search, Go's equivalent of bisect_right on a table ordered by >.
func rho(w *big.Int, table ThresholdTable) (uint8, error) {
	idx := sort.Search(len(table), func(i int) bool {
		return table[i].Cmp(w) > 0
	})
	r := len(table) - idx
	if r <= 0 {
		return 0, fmt.Errorf("%w: tail exceeds threshold table width", hlldb.ErrOverflow)
	}
	return uint8(r), nil
}
