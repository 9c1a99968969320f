package service

import (
	"sync"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
)

// Permissions records the platform grants. Unknown permissions count as denied.
type Permissions struct {
	mu     sync.RWMutex
	grants map[domain.Permission]bool
}

func NewPermissions(initial map[domain.Permission]bool) *Permissions {
	grants := make(map[domain.Permission]bool, len(domain.AllPermissions))
	for _, p := range domain.AllPermissions {
		grants[p] = initial[p]
	}
	return &Permissions{grants: grants}
}

func (p *Permissions) Granted(perm domain.Permission) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.grants[perm]
}

func (p *Permissions) Set(perm domain.Permission, granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grants[perm] = granted
}

func (p *Permissions) All() map[domain.Permission]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[domain.Permission]bool, len(p.grants))
	for k, v := range p.grants {
		out[k] = v
	}
	return out
}
