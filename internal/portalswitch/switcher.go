// Package portalswitch moves a multi-role user between portals. The server records the
// new portal before any navigation happens, so client and server never disagree about
// which portal is current.
package portalswitch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
)

// ErrPortalUnavailable is returned for a portal the user's roles do not grant.
var ErrPortalUnavailable = errors.New("portal not available to this user")

// Mode describes how the switcher is presented.
type Mode int

const (
	// ModeHidden means there is no portal to show.
	ModeHidden Mode = iota
	// ModeLabel shows the single available portal as static text.
	ModeLabel
	// ModeMenu offers a choice between two or more portals.
	ModeMenu
)

func (m Mode) String() string {
	switch m {
	case ModeLabel:
		return "label"
	case ModeMenu:
		return "menu"
	case ModeHidden:
		return "hidden"
	default:
		return "hidden"
	}
}

// Option is one entry of the switcher.
type Option struct {
	Portal domainauth.Portal
	Label  string
	Path   string
	Active bool
}

// View is the presentation of the switcher for a role set.
type View struct {
	Mode    Mode
	Options []Option
}

// ViewFor builds the switcher view for roles with active marked, in policy order.
func ViewFor(roles []domainauth.Role, active domainauth.Portal) View {
	portals := domainauth.AvailablePortals(roles)
	v := View{Options: make([]Option, 0, len(portals))}
	for _, p := range portals {
		v.Options = append(v.Options, Option{
			Portal: p,
			Label:  p.Label(),
			Path:   p.RootPath(),
			Active: p == active,
		})
	}
	switch {
	case len(portals) == 0:
		v.Mode = ModeHidden
	case len(portals) == 1:
		v.Mode = ModeLabel
	default:
		v.Mode = ModeMenu
	}
	return v
}

// Server records the active portal. sessionclient.Client satisfies it.
type Server interface {
	SwitchPortal(ctx context.Context, portal domainauth.Portal) (domainauth.User, error)
}

// Navigator moves the browser to a path.
type Navigator interface {
	Navigate(ctx context.Context, path string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, path string) error

// Navigate calls f.
func (f NavigatorFunc) Navigate(ctx context.Context, path string) error { return f(ctx, path) }

// Switcher holds the user's current portal and performs switches.
type Switcher struct {
	server Server
	nav    Navigator

	op sync.Mutex // serializes Switch calls

	mu     sync.Mutex
	user   domainauth.User
	active domainauth.Portal
}

// New returns a Switcher for user, currently in active.
func New(server Server, nav Navigator, user domainauth.User, active domainauth.Portal) *Switcher {
	return &Switcher{server: server, nav: nav, user: user, active: active}
}

// Active returns the current portal.
func (s *Switcher) Active() domainauth.Portal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// User returns the last user record confirmed by the server.
func (s *Switcher) User() domainauth.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// View returns the switcher presentation for the current state.
func (s *Switcher) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ViewFor(s.user.Roles, s.active)
}

// Switch moves to target. It is a no-op when target is already active. The server write
// must succeed before navigation; when it fails nothing navigates and the active portal
// is unchanged.
func (s *Switcher) Switch(ctx context.Context, target domainauth.Portal) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	active, roles := s.active, s.user.Roles
	s.mu.Unlock()

	if target == active {
		return nil
	}
	if !domainauth.CanAccessPortal(roles, target) {
		return fmt.Errorf("switch to %q: %w", target, ErrPortalUnavailable)
	}

	user, err := s.server.SwitchPortal(ctx, target)
	if err != nil {
		return fmt.Errorf("switch to %q: %w", target, err)
	}

	s.mu.Lock()
	s.user = user
	s.active = target
	s.mu.Unlock()

	if err := s.nav.Navigate(ctx, target.RootPath()); err != nil {
		return fmt.Errorf("navigate to %s: %w", target.RootPath(), err)
	}
	return nil
}
