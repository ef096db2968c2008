package hll

import (
	"fmt"
	"math"

	"github.com/kwertop/gostatix-hlldb"
)

// DeriveParams computes b = ceil(log2((1.04/errorRate)^2)) and m = 2^b for
// the given target relative error, validating spec.md's invariant
// 4 <= b <= 16. store.Container uses this directly to size register arrays
// before any HLL exists; New uses it to validate its own argument.
func DeriveParams(errorRate float64) (b uint, m uint64, err error) {
	if !(errorRate > 0 && errorRate < 1) {
		return 0, 0, fmt.Errorf("%w: error_rate %v must be in (0, 1)", hlldb.ErrInvalidParameter, errorRate)
	}
	b = uint(math.Ceil(math.Log2(math.Pow(1.04/errorRate, 2))))
	if b < 4 || b > 16 {
		return 0, 0, fmt.Errorf("%w: derived b=%d not in [4,16] for error_rate %v", hlldb.ErrInvalidParameter, b, errorRate)
	}
	return b, uint64(1) << b, nil
}
