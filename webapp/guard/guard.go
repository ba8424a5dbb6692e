// Package guard decides whether a navigation may proceed for the current
// session, and where to send the user when it may not.
package guard

import (
	"github.com/edulane/shule/core/user"
	"github.com/edulane/shule/webapp/session"
)

const LoginPath = "/login"

type (
	// Location is a navigation target. Resume, when set, is the route the
	// user originally asked for before being bounced to this one.
	Location struct {
		Path   string
		Resume *Location
	}

	// Redirect tells the router where to go instead. Replace redirects
	// overwrite the current history entry so Back does not loop.
	Redirect struct {
		TargetPath string
		Resume     *Location
		Replace    bool
	}

	// Decision is the outcome of a guard check: proceed, or follow the
	// redirect.
	Decision struct {
		Allow    bool
		Redirect *Redirect
	}

	Guard interface {
		Check(sess session.Session, loc Location) Decision
	}
)

func allow() Decision { return Decision{Allow: true} }

// toLogin bounces an unauthenticated navigation to the login page,
// carrying the requested route so a later sign-in can resume it.
func toLogin(loc Location) Decision {
	return Decision{Redirect: &Redirect{
		TargetPath: LoginPath,
		Resume:     &Location{Path: loc.Path},
	}}
}

// RoleGuard admits sessions whose role is in Allowed. An empty Allowed
// list admits any authenticated session.
type RoleGuard struct {
	Allowed []user.Role
}

var _ Guard = (*RoleGuard)(nil)

func (g *RoleGuard) Check(sess session.Session, loc Location) Decision {
	if !sess.IsAuthenticated() {
		return toLogin(loc)
	}
	if len(g.Allowed) == 0 {
		return allow()
	}
	role := sess.Role()
	for _, r := range g.Allowed {
		if role == r {
			return allow()
		}
	}
	// signed in, wrong area: send them home without polluting history
	return Decision{Redirect: &Redirect{
		TargetPath: role.DashboardPath(),
		Replace:    true,
	}}
}

// PermissionGuard admits sessions holding Permission. A denied navigation
// lands on the route the location carries as its recorded intent; without
// one, on Fallback, and without that, on the session role's dashboard.
type PermissionGuard struct {
	Permission string
	Fallback   string
}

var _ Guard = (*PermissionGuard)(nil)

func (g *PermissionGuard) Check(sess session.Session, loc Location) Decision {
	if !sess.IsAuthenticated() {
		return toLogin(loc)
	}
	if sess.HasPermission(g.Permission) {
		return allow()
	}
	target := g.Fallback
	if loc.Resume != nil && loc.Resume.Path != "" {
		target = loc.Resume.Path
	}
	if target == "" {
		target = sess.Role().DashboardPath()
	}
	return Decision{Redirect: &Redirect{TargetPath: target, Replace: true}}
}

// Chain runs guards in order and stops at the first denial, so stacked
// guards yield exactly one redirect.
type Chain []Guard

var _ Guard = (Chain)(nil)

func (c Chain) Check(sess session.Session, loc Location) Decision {
	for _, g := range c {
		if d := g.Check(sess, loc); !d.Allow {
			return d
		}
	}
	return allow()
}
