package resumable

import (
	"io"
	"sync"
)

// blockSource hands out the blocks of a precomputed plan, in order, to
// however many worker goroutines are reading from the shared reader.
// Reading and plan advancement happen under the same lock, so two
// workers can never be handed overlapping or out-of-order ranges even
// though the underlying reader itself has no notion of concurrency.
type blockSource struct {
	mu    sync.Mutex
	r     io.Reader
	plans []blockPlan
	idx   int
}

// newBlockSource hands out plans[startIdx:] in order, reading their
// bytes from r, which must already be seeked to plans[startIdx].Offset
// (or to EOF, if startIdx == len(plans)).
func newBlockSource(r io.Reader, plans []blockPlan, startIdx int) *blockSource {
	return &blockSource{r: r, plans: plans, idx: startIdx}
}

// next reads and returns the next planned block, or io.EOF once every
// plan has been handed out.
func (s *blockSource) next() (blockPlan, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx >= len(s.plans) {
		return blockPlan{}, nil, io.EOF
	}
	plan := s.plans[s.idx]
	s.idx++

	buf := make([]byte, plan.Size)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return blockPlan{}, nil, err
	}
	return plan, buf, nil
}
