package user

import (
	"context"
	"net/mail"
	texttmpl "text/template"
	"time"

	"github.com/pkg/errors"

	"github.com/edulane/shule/core"
)

var (
	// errors
	ErrNotFound           = errors.New("user not found")
	ErrEmailExists        = errors.New("a user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account deactivated")
	ErrInvalidOTP         = errors.New("invalid or expired code")
)

var passwordResetTmpl = texttmpl.Must(texttmpl.New("password-reset").Parse(
	`Hi {{.Data.Name}},

You (or someone else) requested a password reset for your {{.AppName}} account.

Your one-time code is: {{.Data.OTP}}

It expires in {{.Data.Timeout}}. If you did not request this, you can safely
ignore this email; your password will not change.

{{.FrontendBaseURL}}/reset-password
`))

type (
	Repository interface {
		CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		QueryAllUsers(ctx context.Context) ([]User, error)
		GetUserByID(ctx context.Context, id int) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of
		// User.FirstName, User.LastName or User.Email.
		FilterUsers(ctx context.Context, filter QueryFilter, orderings ...core.DBOrdering) ([]User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		DeleteUsersByID(ctx context.Context, ids ...int) error
	}

	ServiceInterface interface {
		CheckUniqueness(ctx context.Context, email string, exclUsers ...User) error
		Create(ctx context.Context, nu NewUser) (User, error)
		QueryAll(ctx context.Context) ([]User, error)
		Filter(ctx context.Context, filter QueryFilter, orderings ...core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id int) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		Update(ctx context.Context, id int, uu UpdateUser) (User, error)
		Delete(ctx context.Context, ids ...int) error
		Authenticate(ctx context.Context, email, pwd string) (User, error)
		ChangePassword(ctx context.Context, cp ChangeUserPassword) (User, error)
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, rp ResetUserPassword) error
	}

	Service struct {
		repo Repository
		mail core.EmailService
		conf *core.Config
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) *Service {
	return &Service{repo: repo, mail: mailSvc, conf: conf}
}

func (svc *Service) CheckUniqueness(ctx context.Context, email string, exclUsers ...User) error {
	if err := svc.repo.CheckEmailUniqueness(ctx, email, exclUsers...); err != nil {
		if errors.Cause(err) == ErrEmailExists {
			return core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		FirstName:        nu.FirstName,
		LastName:         nu.LastName,
		Email:            nu.Email,
		Role:             nu.Role,
		ExtraPermissions: nu.ExtraPermissions,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) QueryAll(ctx context.Context) ([]User, error) {
	return svc.repo.QueryAllUsers(ctx)
}

func (svc *Service) Filter(ctx context.Context, filter QueryFilter, orderings ...core.DBOrdering) ([]User, error) {
	return svc.repo.FilterUsers(ctx, filter, orderings...)
}

func (svc *Service) GetByID(ctx context.Context, id int) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}

func (svc *Service) Update(ctx context.Context, id int, uu UpdateUser) (User, error) {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		return User{}, err
	}

	if uu.FirstName != "" {
		usr.FirstName = uu.FirstName
	}
	if uu.LastName != "" {
		usr.LastName = uu.LastName
	}
	if uu.Email != "" {
		usr.Email = uu.Email
	}
	if uu.Role != "" {
		usr.Role = uu.Role
	}
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.ExtraPermissions != nil {
		usr.ExtraPermissions = uu.ExtraPermissions
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) Delete(ctx context.Context, ids ...int) error {
	return svc.repo.DeleteUsersByID(ctx, ids...)
}

// Authenticate checks the given credentials and stamps the last login on
// success. Unknown emails and password mismatches are indistinguishable to
// the caller.
func (svc *Service) Authenticate(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, ErrInvalidCredentials
		}
		return User{}, errors.Wrap(err, "finding user by email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !usr.IsActive {
		return User{}, ErrAccountDeactivated
	}

	usr.LastLogin = time.Now().UTC()
	usr, err = svc.repo.UpdateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "setting last login")
	}
	return usr, nil
}

// ChangePassword authenticates the old password and replaces it with the
// new one. Meant for the first-login forced password change; the caller is
// expected to re-issue tokens so the user is not sent back to login.
func (svc *Service) ChangePassword(ctx context.Context, cp ChangeUserPassword) (User, error) {
	usr, err := svc.GetByEmail(ctx, cp.Email)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, ErrInvalidCredentials
		}
		return User{}, errors.Wrap(err, "finding user by email")
	}
	if err = usr.CheckPassword(cp.OldPassword); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !usr.IsActive {
		return User{}, ErrAccountDeactivated
	}

	if err = usr.SetPassword(cp.NewPassword); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// RequestPasswordReset generates a one-time code and emails it to the user.
// Callers surfacing the result to untrusted parties must swallow ErrNotFound
// (anti-enumeration).
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}

	otp := MakeOTP(usr, svc.conf.SecretKey)
	svc.mail.SendMessages(&core.EmailMessage{
		To:       []mail.Address{{Name: usr.FullName(), Address: usr.Email}},
		Subject:  "Password Reset",
		Template: passwordResetTmpl,
		TemplateData: map[string]interface{}{
			"Name":    usr.FirstName,
			"OTP":     otp,
			"Timeout": svc.conf.PasswordResetTimeout.String(),
		},
	})
	return nil
}

// ResetPassword consumes a one-time code and sets the new password.
// Any failure to locate or verify maps to ErrInvalidOTP; the caller learns
// nothing about whether the email is registered.
func (svc *Service) ResetPassword(ctx context.Context, rp ResetUserPassword) error {
	usr, err := svc.GetByEmail(ctx, rp.Email)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return ErrInvalidOTP
		}
		return errors.Wrap(err, "finding user by email")
	}

	if err = VerifyOTP(usr, rp.OTP, svc.conf.SecretKey, svc.conf.PasswordResetTimeout); err != nil {
		return ErrInvalidOTP
	}

	if err = usr.SetPassword(rp.NewPassword); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	if _, err = svc.repo.UpdateUser(ctx, usr); err != nil {
		return errors.Wrap(err, "updating user")
	}
	return nil
}
