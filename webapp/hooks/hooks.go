// Package hooks wires form submissions to the auth client, the router and
// the notifier. Each hook is single-flight: a submission in progress
// rejects re-entry instead of firing a duplicate request.
package hooks

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/edulane/shule/core/user"
	"github.com/edulane/shule/webapp/authclient"
	"github.com/edulane/shule/webapp/guard"
)

var ErrSubmissionPending = errors.New("a submission is already in progress")

type (
	// Navigator abstracts the router. Push adds a history entry, Replace
	// overwrites the current one.
	Navigator interface {
		Push(path string)
		Replace(path string)
	}

	// Notifier surfaces outcomes to the user.
	Notifier interface {
		Success(msg string)
		Error(msg string)
	}
)

// singleFlight admits one submission at a time.
type singleFlight int32

func (sf *singleFlight) begin() bool {
	return atomic.CompareAndSwapInt32((*int32)(sf), 0, 1)
}

func (sf *singleFlight) end() {
	atomic.StoreInt32((*int32)(sf), 0)
}

func (sf *singleFlight) Pending() bool {
	return atomic.LoadInt32((*int32)(sf)) == 1
}

// LoginHook drives the sign-in form.
type LoginHook struct {
	singleFlight

	Client *authclient.Client
	Nav    Navigator
	Notify Notifier
}

// Submit authenticates and navigates onward: to the route the user was
// originally after when one was carried here, otherwise to their role's
// dashboard. The login page is replaced in history either way.
func (h *LoginHook) Submit(ctx context.Context, creds user.Credentials, resume *guard.Location) error {
	if !h.begin() {
		return ErrSubmissionPending
	}
	defer h.end()

	sess, err := h.Client.Login(ctx, creds)
	if err != nil {
		h.Notify.Error(errorText(err))
		return err
	}

	target := sess.Role().DashboardPath()
	if resume != nil && resume.Path != "" {
		target = resume.Path
	}
	h.Nav.Replace(target)
	return nil
}

// ChangePasswordHook drives the forced first-login password change.
type ChangePasswordHook struct {
	singleFlight

	Client *authclient.Client
	Nav    Navigator
	Notify Notifier
}

// Submit changes the password. The client installs the fresh token pair,
// so the user continues to their dashboard instead of being logged out.
func (h *ChangePasswordHook) Submit(ctx context.Context, cp user.ChangeUserPassword) error {
	if !h.begin() {
		return ErrSubmissionPending
	}
	defer h.end()

	sess, err := h.Client.ChangePassword(ctx, cp)
	if err != nil {
		h.Notify.Error(errorText(err))
		return err
	}

	h.Notify.Success("Your password has been changed.")
	h.Nav.Replace(sess.Role().DashboardPath())
	return nil
}

// PasswordResetHook drives the two-step forgot/reset password flow.
type PasswordResetHook struct {
	singleFlight

	Client *authclient.Client
	Nav    Navigator
	Notify Notifier

	confirming int32
}

// Confirming reports whether the flow has advanced to the code entry step.
func (h *PasswordResetHook) Confirming() bool {
	return atomic.LoadInt32(&h.confirming) == 1
}

// RequestOTP asks for a reset code. The notification is identical whether
// or not the email is registered; only transport and server failures are
// surfaced.
func (h *PasswordResetHook) RequestOTP(ctx context.Context, email string) error {
	if !h.begin() {
		return ErrSubmissionPending
	}
	defer h.end()

	if err := h.Client.ForgotPassword(ctx, email); err != nil {
		h.Notify.Error(errorText(err))
		return err
	}

	atomic.StoreInt32(&h.confirming, 1)
	h.Notify.Success("If that email is registered, a reset code is on its way.")
	return nil
}

// Confirm consumes the emailed code and sets the new password, then sends
// the user to the login page.
func (h *PasswordResetHook) Confirm(ctx context.Context, rp user.ResetUserPassword) error {
	if !h.begin() {
		return ErrSubmissionPending
	}
	defer h.end()

	if err := h.Client.ResetPassword(ctx, rp); err != nil {
		h.Notify.Error(errorText(err))
		return err
	}

	atomic.StoreInt32(&h.confirming, 0)
	h.Notify.Success("Password has been reset. Sign in with your new password.")
	h.Nav.Push(guard.LoginPath)
	return nil
}

// LogoutHook drops the session and returns to the login page.
type LogoutHook struct {
	Client *authclient.Client
	Nav    Navigator
}

func (h *LogoutHook) Submit() {
	h.Client.Logout()
	h.Nav.Replace(guard.LoginPath)
}

func errorText(err error) string {
	if aerr, ok := err.(*authclient.APIError); ok {
		return aerr.Error()
	}
	return err.Error()
}
