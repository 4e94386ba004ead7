package resumable

import "sync"

// zonePin lets every call in one upload session converge onto whichever
// zone answered the first successful call, instead of letting each
// subsequent call independently re-escalate from zone zero. An upload
// session is zone-scoped: once committed to a zone, every later call
// in the session must stay there.
type zonePin struct {
	mu       sync.Mutex
	allZones [][]string
	pinned   [][]string
}

func newZonePin(zones [][]string) *zonePin {
	return &zonePin{allZones: zones}
}

// zones returns the pinned zone alone once one has been chosen,
// otherwise the full candidate list.
func (z *zonePin) zones() [][]string {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.pinned != nil {
		return z.pinned
	}
	return z.allZones
}

// pin commits the session to allZones[idx], a no-op once already pinned.
func (z *zonePin) pin(idx int) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.pinned != nil {
		return
	}
	if idx < 0 || idx >= len(z.allZones) {
		return
	}
	z.pinned = [][]string{z.allZones[idx]}
}

// pinTo commits the session directly to zone, used when resuming a
// recorded session whose up_urls are already known rather than
// discovered by index from a fresh init_parts response.
func (z *zonePin) pinTo(zone []string) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.pinned != nil {
		return
	}
	z.pinned = [][]string{zone}
}
