package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/edulane/shule/core"
	"github.com/edulane/shule/core/user"
)

// addUser creates a user, or resets the password and reactivates an
// existing one.
func (cli *commandLine) addUser(email, first, last string, role user.Role, pwd string) error {
	ctx := context.Background()
	email = core.CleanString(email, true /* lower */)

	if !role.Valid() {
		return errors.Errorf("invalid role: %s", role)
	}

	usr, err := cli.usrRepo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		_, err = cli.usrSvc.Create(ctx, user.NewUser{
			FirstName:       core.CleanString(first),
			LastName:        core.CleanString(last),
			Email:           email,
			Role:            role,
			Password:        pwd,
			PasswordConfirm: pwd,
		})
		return err
	}

	usr.Role = role
	usr.IsActive = true
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = cli.usrRepo.UpdateUser(ctx, usr)
	return err
}
