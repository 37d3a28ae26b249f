package core

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// IdentifierPool hands out small integer ids for owners and recycles released
// slots. Id 0 is reserved so it can act as a null handle.
type IdentifierPool struct {
	mu     sync.Mutex
	owners []interface{}
}

func NewIdentifierPool(capacity int) *IdentifierPool {
	if capacity < 1 {
		capacity = 1
	}
	return &IdentifierPool{
		owners: make([]interface{}, 1, capacity+1),
	}
}

func (p *IdentifierPool) Acquire(owner interface{}) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	length := uint32(len(p.owners))
	for i := uint32(1); i < length; i++ {
		// Existing free spot. Take it.
		if p.owners[i] == nil {
			p.owners[i] = owner
			return i
		}
	}

	// No free slot, push a new one.
	p.owners = append(p.owners, owner)
	return uint32(len(p.owners) - 1)
}

func (p *IdentifierPool) Owner(id uint32) (interface{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id == 0 || id >= uint32(len(p.owners)) || p.owners[id] == nil {
		return nil, false
	}
	return p.owners[id], true
}

func (p *IdentifierPool) Release(id uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	length := uint32(len(p.owners))
	if id == 0 || id >= length {
		return errors.Newf("identifier release: id '%d' out of range (max=%d). Nothing was done", id, length)
	}
	if p.owners[id] == nil {
		return errors.Newf("identifier release: id '%d' is not in use. Nothing was done", id)
	}
	// Just zero out the entry, making it available for use.
	p.owners[id] = nil
	return nil
}

// Len returns the number of ids currently in use.
func (p *IdentifierPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, o := range p.owners[1:] {
		if o != nil {
			n++
		}
	}
	return n
}

// Range calls fn for every id in use, in ascending order, until fn returns
// false. fn must not call back into the pool.
func (p *IdentifierPool) Range(fn func(id uint32, owner interface{}) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 1; i < len(p.owners); i++ {
		if p.owners[i] == nil {
			continue
		}
		if !fn(uint32(i), p.owners[i]) {
			return
		}
	}
}
