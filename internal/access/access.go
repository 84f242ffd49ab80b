package access

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Role names a capability checked at the start of privileged operations.
// Risk updates, barks, purchases and resets are permissionless; only
// configuration changes and auction cancellation are role-gated.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAuction Role = "auction"
)

// ErrUnauthorized is returned when the caller lacks the required role.
var ErrUnauthorized = errors.New("access: unauthorized")

// Controller is an explicit grant registry injected into each component
// constructor, replacing ambient global role state.
type Controller struct {
	mu     sync.RWMutex
	grants map[uuid.UUID]map[Role]bool
}

func NewController() *Controller {
	return &Controller{grants: make(map[uuid.UUID]map[Role]bool)}
}

func (c *Controller) Grant(caller uuid.UUID, role Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.grants[caller] == nil {
		c.grants[caller] = make(map[Role]bool)
	}
	c.grants[caller][role] = true
}

func (c *Controller) Revoke(caller uuid.UUID, role Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.grants[caller], role)
}

// Require returns ErrUnauthorized unless caller holds role. Admin
// implies every other role.
func (c *Controller) Require(caller uuid.UUID, role Role) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	roles := c.grants[caller]
	if roles[role] || roles[RoleAdmin] {
		return nil
	}
	return fmt.Errorf("%w: caller %s lacks role %q", ErrUnauthorized, caller, role)
}
