// Package auth turns observed door hits into time-limited access grants.
package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"doorknock/internal/porthop"
)

// Observable reports whether a door can be seen through ordinary sockets.
// ICMP doors and TCP flag bits need raw sockets, so both peers skip ICMP
// doors and match TCP/UDP doors on port and protocol only.
func Observable(d porthop.Door) bool {
	switch d.Protocol() {
	case porthop.ProtoTCP, porthop.ProtoUDP:
		return true
	}
	return false
}

// Knockable filters a sequence down to its observable doors.
func Knockable(doors []porthop.Door) []porthop.Door {
	out := make([]porthop.Door, 0, len(doors))
	for _, d := range doors {
		if Observable(d) {
			out = append(out, d)
		}
	}
	return out
}

type Grant struct {
	ID      string
	Source  string
	Slot    int64
	Expires time.Time
}

type sequence struct {
	slot  int64
	doors []porthop.Door
}

type progress struct {
	next         map[int64]int
	lastSeen     time.Time
	blockedUntil time.Time
}

// Tracker follows each source through the sequences of the current window.
// A source that hits every observable door of one sequence in order is
// granted access for the grant TTL. A hit that continues no sequence blocks
// the source for the idle TTL and revokes its grant, so scanning the knock
// range never completes a sequence.
type Tracker struct {
	mu       sync.Mutex
	seqs     []sequence
	sources  map[string]*progress
	grants   map[string]Grant
	grantTTL time.Duration
	idleTTL  time.Duration
	now      func() time.Time
}

func NewTracker(grantTTL, idleTTL time.Duration) *Tracker {
	return &Tracker{
		sources:  map[string]*progress{},
		grants:   map[string]Grant{},
		grantTTL: grantTTL,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// SetWindow replaces the accepted sequences. seqs[i] belongs to
// firstSlot+i. Progress towards slots that left the window is dropped.
func (t *Tracker) SetWindow(firstSlot int64, seqs [][]porthop.Door) {
	next := make([]sequence, 0, len(seqs))
	live := map[int64]struct{}{}
	for i, doors := range seqs {
		k := Knockable(doors)
		if len(k) == 0 {
			continue
		}
		slot := firstSlot + int64(i)
		next = append(next, sequence{slot: slot, doors: k})
		live[slot] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.seqs = next
	for _, p := range t.sources {
		for slot := range p.next {
			if _, ok := live[slot]; !ok {
				delete(p.next, slot)
			}
		}
	}
}

// Observe records a hit on port/proto from src and returns a grant when the
// hit completes a sequence.
func (t *Tracker) Observe(src string, port uint16, proto porthop.Protocol) (Grant, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	p := t.sources[src]
	if p == nil {
		p = &progress{next: map[int64]int{}}
		t.sources[src] = p
	}
	p.lastSeen = now
	if now.Before(p.blockedUntil) {
		p.blockedUntil = now.Add(t.idleTTL)
		return Grant{}, false
	}

	hit := func(d porthop.Door) bool { return d.Port == port && d.Protocol() == proto }
	matched := false
	for _, s := range t.seqs {
		i := p.next[s.slot]
		switch {
		case hit(s.doors[i]):
			i++
		case i > 0 && hit(s.doors[i-1]):
			// repeated hit on the door just matched
		case hit(s.doors[0]):
			i = 1
		default:
			p.next[s.slot] = 0
			continue
		}
		matched = true
		if i == len(s.doors) {
			delete(t.sources, src)
			g := Grant{
				ID:      uuid.NewString(),
				Source:  src,
				Slot:    s.slot,
				Expires: now.Add(t.grantTTL),
			}
			t.grants[src] = g
			return g, true
		}
		p.next[s.slot] = i
	}
	if !matched {
		p.next = map[int64]int{}
		p.blockedUntil = now.Add(t.idleTTL)
		delete(t.grants, src)
	}
	return Grant{}, false
}

// Blocked reports whether src is locked out after an off-sequence hit.
func (t *Tracker) Blocked(src string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.sources[src]
	return p != nil && t.now().Before(p.blockedUntil)
}

// Allowed returns the live grant for src, if any.
func (t *Tracker) Allowed(src string) (Grant, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.grants[src]
	if !ok {
		return Grant{}, false
	}
	if !t.now().Before(g.Expires) {
		delete(t.grants, src)
		return Grant{}, false
	}
	return g, true
}

// Revoke drops the grant for src.
func (t *Tracker) Revoke(src string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.grants, src)
}

// Sweep drops expired grants and sources idle longer than the idle TTL.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for src, g := range t.grants {
		if !now.Before(g.Expires) {
			delete(t.grants, src)
		}
	}
	for src, p := range t.sources {
		// blocks end idleTTL after the last hit, so idle sources are unblocked
		if now.Sub(p.lastSeen) > t.idleTTL {
			delete(t.sources, src)
		}
	}
}
