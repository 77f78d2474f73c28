package authagent

import (
	"fmt"
	"io"
	"time"

	"github.com/shipnorth/portal-auth/internal/devseed"
	domainauth "github.com/shipnorth/portal-auth/internal/domain/auth"
)

// Fixture is one account exercised by TestAllUsers.
type Fixture struct {
	Email    string
	Password string
	// Landing is the portal root the account must reach after login.
	Landing string
	// Extra lists further paths the account must be able to open.
	Extra []string
}

// DefaultFixtures derives fixtures from the demo accounts. Admins also check the admin area.
func DefaultFixtures() []Fixture {
	accounts := devseed.DemoAccounts()
	out := make([]Fixture, 0, len(accounts))
	for _, a := range accounts {
		f := Fixture{Email: a.Email, Password: a.Password, Landing: a.Landing}
		if domainauth.HasAdminAccess(domainauth.NormalizeRoles(a.Roles)) {
			f.Extra = append(f.Extra, "/staff/admin")
		}
		out = append(out, f)
	}
	return out
}

// Step is one executed check.
type Step struct {
	Name     string
	Err      error
	Duration time.Duration
}

// OK reports whether the step passed.
func (s Step) OK() bool { return s.Err == nil }

// UserReport lists the steps run for one fixture. Execution stops at the first failure.
type UserReport struct {
	Email string
	Steps []Step
}

// Passed reports whether every step passed.
func (u UserReport) Passed() bool {
	for _, s := range u.Steps {
		if !s.OK() {
			return false
		}
	}
	return len(u.Steps) > 0
}

// Report is the result of TestAllUsers.
type Report struct {
	Users []UserReport
}

// Passed reports whether every user passed.
func (r Report) Passed() bool {
	for _, u := range r.Users {
		if !u.Passed() {
			return false
		}
	}
	return true
}

// Failures counts users with a failed step.
func (r Report) Failures() int {
	n := 0
	for _, u := range r.Users {
		if !u.Passed() {
			n++
		}
	}
	return n
}

// Write prints a plain-text summary.
func (r Report) Write(w io.Writer) error {
	for _, u := range r.Users {
		status := "PASS"
		if !u.Passed() {
			status = "FAIL"
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", status, u.Email); err != nil {
			return err
		}
		for _, s := range u.Steps {
			mark := "ok"
			detail := ""
			if !s.OK() {
				mark = "!!"
				detail = ": " + s.Err.Error()
			}
			if _, err := fmt.Fprintf(w, "  [%s] %s (%s)%s\n", mark, s.Name, s.Duration.Round(time.Millisecond), detail); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "%d/%d users passed\n", len(r.Users)-r.Failures(), len(r.Users))
	return err
}
