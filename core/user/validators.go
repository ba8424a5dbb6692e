package user

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/edulane/shule/core"
)

var (
	roleTag  = "role"
	roleText = "invalid role"

	permissionTag  = "permission"
	permissionText = "invalid permission"

	// password policy
	pwdMinLen     = 6
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to user attributes"

	allPermissions = getAllPermissions()
)

func getAllPermissions() map[string]struct{} {
	all := make(map[string]struct{})
	for _, perms := range rolePermissions {
		for _, p := range perms {
			all[p] = struct{}{}
		}
	}
	return all
}

func init() {
	_ = core.Validate.RegisterValidation(roleTag, roleValidation)
	core.RegisterCustomTranslation(roleTag, roleText)

	_ = core.Validate.RegisterValidation(permissionTag, permissionValidation)
	core.RegisterCustomTranslation(permissionTag, permissionText)

	core.Validate.RegisterStructValidation(newUserStructValidation, NewUser{})
	core.Validate.RegisterStructValidation(changePasswordStructValidation, ChangeUserPassword{})
	core.Validate.RegisterStructValidation(resetPasswordStructValidation, ResetUserPassword{})
	core.RegisterCustomTranslation(pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(pwdAttrSimTag, pwdAttrSimText)
}

func roleValidation(fl validator.FieldLevel) bool {
	return Role(fl.Field().String()).Valid()
}

func permissionValidation(fl validator.FieldLevel) bool {
	_, ok := allPermissions[fl.Field().String()]
	return ok
}

func newUserStructValidation(sl validator.StructLevel) {
	nu := sl.Current().Interface().(NewUser)
	validatePassword(sl, nu.Password, "Password", "password", nu.Email, nu.FirstName, nu.LastName)
}

func changePasswordStructValidation(sl validator.StructLevel) {
	cp := sl.Current().Interface().(ChangeUserPassword)
	validatePassword(sl, cp.NewPassword, "NewPassword", "newPassword", cp.Email)
}

func resetPasswordStructValidation(sl validator.StructLevel) {
	rp := sl.Current().Interface().(ResetUserPassword)
	validatePassword(sl, rp.NewPassword, "NewPassword", "newPassword", rp.Email)
}

// validatePassword enforces the password policy: minimum length, no
// whitespace, not entirely numeric and not too similar to the given
// user attributes.
func validatePassword(sl validator.StructLevel, pwd, field, alias string, attrs ...string) {
	if pwd == "" {
		return // required is reported separately
	}

	if len(pwd) < pwdMinLen {
		sl.ReportError(pwd, field, alias, pwdMinLenTag, "")
		return
	}
	if strings.IndexFunc(pwd, unicode.IsSpace) >= 0 {
		sl.ReportError(pwd, field, alias, pwdNoSpaceTag, "")
		return
	}

	allNum := true
	for _, r := range pwd {
		if !unicode.IsDigit(r) {
			allNum = false
			break
		}
	}
	if allNum {
		sl.ReportError(pwd, field, alias, pwdNotAllNumTag, "")
		return
	}

	lower := strings.ToLower(pwd)
	for _, attr := range attrs {
		attr = strings.ToLower(strings.TrimSpace(attr))
		if attr == "" {
			continue
		}
		matcher := difflib.NewMatcher(strings.Split(lower, ""), strings.Split(attr, ""))
		if matcher.QuickRatio() >= pwdMaxSim {
			sl.ReportError(pwd, field, alias, pwdAttrSimTag, "")
			return
		}
	}
}
