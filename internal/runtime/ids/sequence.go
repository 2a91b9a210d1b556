package ids

import (
	"strconv"
	"sync/atomic"
)

// Sequence hands out decimal string identifiers starting at "1". Values are
// strictly increasing and never reused for the lifetime of the Sequence.
type Sequence struct {
	last atomic.Uint64
}

// Next returns the next identifier.
func (s *Sequence) Next() string {
	return strconv.FormatUint(s.last.Add(1), 10)
}
