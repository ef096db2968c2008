/*
Package hll implements the HyperLogLog cardinality estimator: hashing,
register update, bias-corrected estimation, and register-wise merge
(spec §4.3). It is the direct descendant of gostatix's count.HyperLogLog
and the original Python hyperloglogdb/hll.py, generalized to own a
register.View instead of an in-process []uint8 slice or a Redis list, so
the same estimator works whether its registers live in RAM, in a memory
mapped file, or (absent here, since spec.md scopes out a network protocol)
behind a remote store.
*/
package hll

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/kwertop/gostatix-hlldb"
	"github.com/kwertop/gostatix-hlldb/hash"
	"github.com/kwertop/gostatix-hlldb/register"
)

const hash160Width = hash.Width

// HLL is a HyperLogLog cardinality estimator backed by a register.View.
type HLL struct {
	b         uint
	m         uint64
	errorRate float64
	alphaM    float64
	view      *register.View
	table     ThresholdTable
}

// New constructs an HLL for the given target relative error, backed by
// view. table may be nil, in which case a fresh one is built; callers
// opening many HLLs at the same error_rate should share a table built once
// via BuildThresholdTable.
//
// New fails with hlldb.ErrInvalidParameter when error_rate is not in (0,1)
// or the derived b is outside [4,16], and with hlldb.ErrMismatchedBacking
// when view's length does not equal the derived m.
func New(errorRate float64, view *register.View, table ThresholdTable) (*HLL, error) {
	b, m, err := DeriveParams(errorRate)
	if err != nil {
		return nil, err
	}
	if view.Length() != m {
		return nil, fmt.Errorf("%w: register view length %d != m %d", hlldb.ErrMismatchedBacking, view.Length(), m)
	}
	if table == nil {
		table = BuildThresholdTable(b)
	}
	return &HLL{
		b:         b,
		m:         m,
		errorRate: errorRate,
		alphaM:    alpha(b, m),
		view:      view,
		table:     table,
	}, nil
}

// B returns the derived register-count exponent (m = 2^B()).
func (h *HLL) B() uint { return h.b }

// NumRegisters returns m, the number of registers.
func (h *HLL) NumRegisters() uint64 { return h.m }

// RelativeError returns the realized relative standard error 1.04/sqrt(m),
// which may be tighter than the error_rate originally requested since b is
// rounded up to the nearest integer. Ported from
// count.AbstractHyperLogLog.Accuracy.
func (h *HLL) RelativeError() float64 {
	return 1.04 / math.Sqrt(float64(h.m))
}

// Add hashes value, derives a register index and tail, and folds the
// resulting rho into that register if it's larger than the current value.
//
// Fails with hlldb.ErrOverflow if the tail's rho computation exceeds the
// threshold table's width; this is statistically unreachable with a
// 160-bit hash and is fatal for this Add when it happens.
func (h *HLL) Add(value []byte) error {
	x := hash.Sum160(value)

	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), h.b), big.NewInt(1))
	j := new(big.Int).And(x, mask).Uint64()
	w := new(big.Int).Rsh(x, h.b)

	r, err := rho(w, h.table)
	if err != nil {
		return err
	}

	cur, err := h.view.Get(j)
	if err != nil {
		return err
	}
	return h.view.Set(j, byte(hlldb.Max(uint(cur), uint(r))))
}

// Merge folds every register of each of others into h's registers by
// element-wise maximum, in place. All of h and others must share the same
// m, else Merge fails with hlldb.ErrPrecisionMismatch and h is left
// unmodified.
func (h *HLL) Merge(others ...*HLL) error {
	for _, o := range others {
		if o.m != h.m {
			return fmt.Errorf("%w: number of registers %d, %d don't match", hlldb.ErrPrecisionMismatch, h.m, o.m)
		}
	}
	if len(others) == 0 {
		return nil
	}

	merged, err := h.view.ReadAll()
	if err != nil {
		return err
	}
	for _, o := range others {
		regs, err := o.view.ReadAll()
		if err != nil {
			return err
		}
		for i := range merged {
			if regs[i] > merged[i] {
				merged[i] = regs[i]
			}
		}
	}
	return h.view.WriteAll(merged)
}

// Equals reports whether h and g have the same m and identical register
// contents. Ported from count.HyperLogLog.Equals.
func (h *HLL) Equals(g *HLL) (bool, error) {
	if h.m != g.m {
		return false, nil
	}
	return h.view.Equals(g.view)
}

// Reset zeroes every register. Ported from count.HyperLogLog.Reset.
func (h *HLL) Reset() error {
	zeros := make([]byte, h.m)
	return h.view.WriteAll(zeros)
}

// Estimate returns the current cardinality estimate, applying the
// small-range, intermediate-range and large-range corrections of spec
// §4.3. Estimate never fails.
func (h *HLL) Estimate() (float64, error) {
	regs, err := h.view.ReadAll()
	if err != nil {
		return 0, err
	}

	z := 0.0
	zeros := 0
	for _, r := range regs {
		z += math.Pow(2, -float64(r))
		if r == 0 {
			zeros++
		}
	}

	m := float64(h.m)
	e := h.alphaM * m * m / z

	const twoPow160 = 1.4615016373309029182e48 // math.Pow(2, 160)

	if e <= 2.5*m {
		if zeros > 0 {
			return m * math.Log(m/float64(zeros)), nil
		}
		return e, nil
	}
	if e <= twoPow160/30.0 {
		return e, nil
	}
	return -twoPow160 * math.Log(1-e/twoPow160), nil
}

// Count returns round(Estimate()).
func (h *HLL) Count() (uint64, error) {
	e, err := h.Estimate()
	if err != nil {
		return 0, err
	}
	return uint64(math.Round(e)), nil
}

// Export serializes the HLL's parameters and register bytes using
// encoding/binary, exactly as count.HyperLogLog.WriteTo/ReadFrom do,
// but returning a single buffer rather than writing to an io.Writer,
// since the only caller (this package's round-trip test) wants an
// in-memory round trip.
func (h *HLL) Export() ([]byte, error) {
	regs, err := h.view.ReadAll()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 16, 16+len(regs))
	binary.BigEndian.PutUint64(buf[0:8], uint64(h.b))
	binary.BigEndian.PutUint64(buf[8:16], h.m)
	buf = append(buf, regs...)
	return buf, nil
}

// Import overwrites h's registers from data produced by Export. The
// encoded b and m must match h's; Import does not change h's parameters.
func (h *HLL) Import(data []byte) error {
	if len(data) < 16 {
		return fmt.Errorf("%w: hll export too short", hlldb.ErrCorruptIndex)
	}
	b := binary.BigEndian.Uint64(data[0:8])
	m := binary.BigEndian.Uint64(data[8:16])
	if b != uint64(h.b) || m != h.m {
		return fmt.Errorf("%w: export params b=%d,m=%d don't match this hll's b=%d,m=%d", hlldb.ErrMismatchedBacking, b, m, h.b, h.m)
	}
	regs := data[16:]
	if uint64(len(regs)) != h.m {
		return fmt.Errorf("%w: export has %d register bytes, want %d", hlldb.ErrMismatchedBacking, len(regs), h.m)
	}
	return h.view.WriteAll(regs)
}
