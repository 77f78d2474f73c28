// Package guard decides whether a navigation may render a protected page.
// Every failure to establish a session with the required roles ends Unauthorized.
package guard

import (
	"context"
	"strings"
	"sync"

	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
	"github.com/shipnorth/portal-auth/internal/sessionclient"
)

// State is the guard's view of the current navigation.
type State int

const (
	StateLoading State = iota
	StateAuthorized
	StateUnauthorized
)

func (s State) String() string {
	switch s {
	case StateAuthorized:
		return "authorized"
	case StateUnauthorized:
		return "unauthorized"
	case StateLoading:
		return "loading"
	default:
		return "loading"
	}
}

// Decision is the outcome of one Navigate call.
type Decision struct {
	State State
	Path  string
	User  domainauth.User
	// RedirectURL is set for unauthorized decisions and returns to Path after sign-in.
	RedirectURL string
	// Stale marks a result superseded by a newer Navigate. It was not committed.
	Stale bool
	// Err is the session client failure that forced the decision, if any.
	Err error
}

// Guard protects one page for a required role set. It is safe for concurrent use.
type Guard struct {
	src      sessionclient.Source
	required []domainauth.Role

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	current Decision
}

// New returns a Guard admitting sessions holding any of roles. With no roles any
// authenticated session is admitted.
func New(src sessionclient.Source, roles ...domainauth.Role) *Guard {
	return &Guard{
		src:      src,
		required: append([]domainauth.Role(nil), roles...),
		current:  Decision{State: StateLoading},
	}
}

// Staff guards the staff portal.
func Staff(src sessionclient.Source) *Guard {
	return New(src, domainauth.RoleStaff, domainauth.RoleAdmin)
}

// Driver guards the driver portal.
func Driver(src sessionclient.Source) *Guard { return New(src, domainauth.RoleDriver) }

// Customer guards the customer portal.
func Customer(src sessionclient.Source) *Guard { return New(src, domainauth.RoleCustomer) }

// Admin guards the admin area of the staff portal.
func Admin(src sessionclient.Source) *Guard { return New(src, domainauth.RoleAdmin) }

const adminPath = "/staff/admin"

// ForPath returns the guard protecting path, or nil when path belongs to no portal.
func ForPath(src sessionclient.Source, path string) *Guard {
	if path == adminPath || strings.HasPrefix(path, adminPath+"/") {
		return Admin(src)
	}
	portal, ok := domainauth.PortalForPath(path)
	if !ok {
		return nil
	}
	switch portal {
	case domainauth.PortalStaff:
		return Staff(src)
	case domainauth.PortalDriver:
		return Driver(src)
	case domainauth.PortalCustomer:
		return Customer(src)
	default:
		return nil
	}
}

// Navigate checks path against a fresh session. A newer call cancels this one; the
// superseded result comes back with Stale set and never becomes Current.
func (g *Guard) Navigate(ctx context.Context, path string) Decision {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
	}
	g.gen++
	gen := g.gen
	g.cancel = cancel
	g.current = Decision{State: StateLoading, Path: path}
	g.mu.Unlock()

	sess, err := sessionclient.NewPageLoad(g.src).Session(ctx)
	d := g.decide(path, sess, err)

	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.gen {
		d.Stale = true
		return d
	}
	g.current = d
	g.cancel = nil
	return d
}

// Current returns the last committed decision.
func (g *Guard) Current() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// State returns the state of the last committed decision.
func (g *Guard) State() State {
	return g.Current().State
}

func (g *Guard) decide(path string, sess sessionclient.Session, err error) Decision {
	deny := Decision{State: StateUnauthorized, Path: path, RedirectURL: domainauth.LoginURL(path), Err: err}
	if err != nil || !sess.IsAuthenticated {
		return deny
	}
	if !domainauth.HasAnyRole(sess.User.Roles, g.required) {
		return deny
	}
	return Decision{State: StateAuthorized, Path: path, User: sess.User}
}
