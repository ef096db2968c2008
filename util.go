package hlldb

// Max returns the larger of a and b. Ported from gostatix's own utils.go,
// where every in-memory and Redis-backed HyperLogLog uses it to fold a new
// rho observation into a register: registers[j] = Max(registers[j], rho).
func Max(a, b uint) uint {
	if a > b {
		return a
	}
	return b
}
