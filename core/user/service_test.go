package user_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulane/shule/core"
	"github.com/edulane/shule/core/user"
	"github.com/edulane/shule/services/email"
	"github.com/edulane/shule/storage/database/inmem"
)

var otpRegex = regexp.MustCompile(`code is: (\d{6})`)

func testConfig() *core.Config {
	return &core.Config{
		Env:                       "TEST",
		TestMode:                  true,
		AppName:                   "Shule",
		SecretKey:                 "secret",
		FrontendBaseURL:           "http://localhost:3000",
		DefaultFromEmail:          "noreply@test.test",
		JWTExpirationDelta:        10 * time.Minute,
		JWTRefreshExpirationDelta: 4 * time.Hour,
		PasswordResetTimeout:      15 * time.Minute,
	}
}

func setupService(t *testing.T) (*user.Service, user.Repository) {
	t.Helper()
	db, err := inmemdb.Open()
	require.NoError(t, err)
	repo := inmemdb.NewUserRepository(db)

	conf := testConfig()
	emailsvc.ResetSentMessages()
	return user.NewService(repo, emailsvc.NewConsoleService(conf), conf), repo
}

func createUser(t *testing.T, svc user.ServiceInterface, email, pwd string, role user.Role, active bool) user.User {
	t.Helper()
	usr, err := svc.Create(context.Background(), user.NewUser{
		FirstName:       "Jane",
		LastName:        "Doe",
		Email:           email,
		Role:            role,
		Password:        pwd,
		PasswordConfirm: pwd,
	})
	require.NoError(t, err)

	if !active {
		usr, err = svc.Update(context.Background(), usr.ID, user.UpdateUser{IsActive: &active})
		require.NoError(t, err)
	}
	return usr
}

func lastOTP(t *testing.T) string {
	t.Helper()
	msg, ok := emailsvc.LastSentMessage()
	require.True(t, ok, "no email was sent")
	m := otpRegex.FindStringSubmatch(msg.TextContent)
	require.Len(t, m, 2, "no code found in email body: %s", msg.TextContent)
	return m[1]
}

func Test_Service_Authenticate(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	createUser(t, svc, "jane@test.cd", "s3cr3t-pwd", user.RoleTeacher, true)
	createUser(t, svc, "gone@test.cd", "s3cr3t-pwd", user.RoleStudent, false)

	tests := []struct {
		name    string
		email   string
		pwd     string
		wantErr error
	}{
		{name: "unknown email", email: "nobody@test.cd", pwd: "s3cr3t-pwd", wantErr: user.ErrInvalidCredentials},
		{name: "wrong password", email: "jane@test.cd", pwd: "nope", wantErr: user.ErrInvalidCredentials},
		{name: "deactivated account", email: "gone@test.cd", pwd: "s3cr3t-pwd", wantErr: user.ErrAccountDeactivated},
		{name: "ok", email: "jane@test.cd", pwd: "s3cr3t-pwd"},
		{name: "ok (case-insensitive email)", email: "JANE@test.cd", pwd: "s3cr3t-pwd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr, err := svc.Authenticate(ctx, tt.email, tt.pwd)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.False(t, usr.LastLogin.IsZero(), "last login not stamped")
		})
	}
}

func Test_Service_ChangePassword(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	createUser(t, svc, "jane@test.cd", "old-pwd-123", user.RoleStudent, true)

	// wrong old password
	_, err := svc.ChangePassword(ctx, user.ChangeUserPassword{
		Email: "jane@test.cd", OldPassword: "nope", NewPassword: "new-pwd-456", NewPasswordConfirm: "new-pwd-456",
	})
	assert.Equal(t, user.ErrInvalidCredentials, errors.Cause(err))

	// ok
	usr, err := svc.ChangePassword(ctx, user.ChangeUserPassword{
		Email: "jane@test.cd", OldPassword: "old-pwd-123", NewPassword: "new-pwd-456", NewPasswordConfirm: "new-pwd-456",
	})
	require.NoError(t, err)
	assert.NoError(t, usr.CheckPassword("new-pwd-456"))

	// old password no longer works
	_, err = svc.Authenticate(ctx, "jane@test.cd", "old-pwd-123")
	assert.Equal(t, user.ErrInvalidCredentials, errors.Cause(err))
	_, err = svc.Authenticate(ctx, "jane@test.cd", "new-pwd-456")
	assert.NoError(t, err)
}

func Test_Service_ResetPasswordFlow(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	createUser(t, svc, "jane@test.cd", "old-pwd-123", user.RoleParent, true)

	// unknown email bubbles ErrNotFound for the API layer to swallow
	err := svc.RequestPasswordReset(ctx, "nobody@test.cd")
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))

	require.NoError(t, svc.RequestPasswordReset(ctx, "jane@test.cd"))
	otp := lastOTP(t)

	// wrong code
	err = svc.ResetPassword(ctx, user.ResetUserPassword{
		Email: "jane@test.cd", OTP: "000000", NewPassword: "new-pwd-456", NewPasswordConfirm: "new-pwd-456",
	})
	assert.Equal(t, user.ErrInvalidOTP, errors.Cause(err))

	// unknown email is indistinguishable from a wrong code
	err = svc.ResetPassword(ctx, user.ResetUserPassword{
		Email: "nobody@test.cd", OTP: otp, NewPassword: "new-pwd-456", NewPasswordConfirm: "new-pwd-456",
	})
	assert.Equal(t, user.ErrInvalidOTP, errors.Cause(err))

	// ok
	require.NoError(t, svc.ResetPassword(ctx, user.ResetUserPassword{
		Email: "jane@test.cd", OTP: otp, NewPassword: "new-pwd-456", NewPasswordConfirm: "new-pwd-456",
	}))
	_, err = svc.Authenticate(ctx, "jane@test.cd", "new-pwd-456")
	assert.NoError(t, err)

	// the code is single-use: the reset rotated the password hash
	err = svc.ResetPassword(ctx, user.ResetUserPassword{
		Email: "jane@test.cd", OTP: otp, NewPassword: "other-pwd-789", NewPasswordConfirm: "other-pwd-789",
	})
	assert.Equal(t, user.ErrInvalidOTP, errors.Cause(err))
}

func Test_Service_ResetPassword_invalidatedByLogin(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	createUser(t, svc, "jane@test.cd", "old-pwd-123", user.RoleStudent, true)
	require.NoError(t, svc.RequestPasswordReset(ctx, "jane@test.cd"))
	otp := lastOTP(t)

	// logging in stamps LastLogin, which voids outstanding codes
	_, err := svc.Authenticate(ctx, "jane@test.cd", "old-pwd-123")
	require.NoError(t, err)

	err = svc.ResetPassword(ctx, user.ResetUserPassword{
		Email: "jane@test.cd", OTP: otp, NewPassword: "new-pwd-456", NewPasswordConfirm: "new-pwd-456",
	})
	assert.Equal(t, user.ErrInvalidOTP, errors.Cause(err))
}

func Test_Service_RequestPasswordReset_inactiveAccount(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	createUser(t, svc, "gone@test.cd", "old-pwd-123", user.RoleStudent, false)
	emailsvc.ResetSentMessages()

	err := svc.RequestPasswordReset(ctx, "gone@test.cd")
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))
	_, sent := emailsvc.LastSentMessage()
	assert.False(t, sent, "no email should go to a deactivated account")
}

func Test_Service_CheckUniqueness(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	usr := createUser(t, svc, "jane@test.cd", "s3cr3t-pwd", user.RoleAdmin, true)

	err := svc.CheckUniqueness(ctx, "jane@test.cd")
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr), "want *core.ValidationError, got %v", err)

	// excluding the user themselves passes (update case)
	assert.NoError(t, svc.CheckUniqueness(ctx, "jane@test.cd", usr))
	assert.NoError(t, svc.CheckUniqueness(ctx, "free@test.cd"))
}
