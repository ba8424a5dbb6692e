package user

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/edulane/shule/core"
)

// Role is the closed set of user categories. It determines the default
// navigation target and the coarse-grained permission grant.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
	RoleParent  Role = "PARENT"
)

var AllRoles = []Role{RoleAdmin, RoleTeacher, RoleStudent, RoleParent}

// Permissions: fine-grained capability strings, independent of Role.
const (
	PermStudentsRead       = "students:read"
	PermStudentsWrite      = "students:write"
	PermTeachersRead       = "teachers:read"
	PermTeachersWrite      = "teachers:write"
	PermClassesRead        = "classes:read"
	PermClassesWrite       = "classes:write"
	PermCoursesRead        = "courses:read"
	PermCoursesWrite       = "courses:write"
	PermSchedulesRead      = "schedules:read"
	PermSchedulesWrite     = "schedules:write"
	PermAnnouncementsRead  = "announcements:read"
	PermAnnouncementsWrite = "announcements:write"
	PermAssignmentsRead    = "assignments:read"
	PermAssignmentsWrite   = "assignments:write"
	PermUsersManage        = "users:manage"
)

var rolePermissions = map[Role][]string{
	RoleAdmin: {
		PermStudentsRead, PermStudentsWrite,
		PermTeachersRead, PermTeachersWrite,
		PermClassesRead, PermClassesWrite,
		PermCoursesRead, PermCoursesWrite,
		PermSchedulesRead, PermSchedulesWrite,
		PermAnnouncementsRead,
		PermAssignmentsRead,
		PermUsersManage,
	},
	RoleTeacher: {
		PermStudentsRead,
		PermClassesRead,
		PermCoursesRead,
		PermSchedulesRead,
		PermAnnouncementsRead,
		PermAssignmentsRead, PermAssignmentsWrite,
	},
	RoleStudent: {
		PermCoursesRead,
		PermSchedulesRead,
		PermAnnouncementsRead,
		PermAssignmentsRead,
	},
	RoleParent: {
		PermSchedulesRead,
		PermAnnouncementsRead,
	},
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleParent:
		return true
	}
	return false
}

// DashboardPath is the role's default landing route.
// Every member of the closed enum maps to an existing route; guard tests
// enforce this when a role is added.
func (r Role) DashboardPath() string {
	return "/" + strings.ToLower(string(r)) + "/dashboard"
}

// Permissions returns the coarse grant attached to the role.
func (r Role) Permissions() []string {
	perms := rolePermissions[r]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

type User struct {
	ID               int       `json:"id"`
	Email            string    `json:"email"`
	FirstName        string    `json:"firstName"`
	LastName         string    `json:"lastName"`
	Role             Role      `json:"role"`
	IsActive         bool      `json:"isActive"`
	ExtraPermissions []string  `json:"-"`
	PasswordHash     []byte    `json:"-"`
	CreatedAt        time.Time `json:"createdAt"` // UTC
	UpdatedAt        time.Time `json:"updatedAt"` // UTC
	LastLogin        time.Time `json:"lastLogin"` // UTC
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Permissions returns the union of the role grant and any extra
// per-user grants, sorted and deduplicated.
func (u *User) Permissions() []string {
	perms := u.Role.Permissions()
	perms = append(perms, u.ExtraPermissions...)
	sort.Strings(perms)

	out := perms[:0]
	var prev string
	for _, p := range perms {
		if p != prev {
			out = append(out, p)
			prev = p
		}
	}
	return out
}

func (u *User) HasPermission(perm string) bool {
	perms := u.Permissions()
	if i := sort.SearchStrings(perms, perm); i < len(perms) {
		return perms[i] == perm
	}
	return false
}

// Credentials is the login request payload. It is validated client-side
// before submission and never persisted beyond the request lifetime.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

func (c *Credentials) Validate() error {
	c.Email = core.CleanString(c.Email, true /* lower */)
	return core.Validate.Struct(c)
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	FirstName        string   `json:"firstName" validate:"required"`
	LastName         string   `json:"lastName" validate:"required"`
	Email            string   `json:"email" validate:"required,email"`
	Role             Role     `json:"role" validate:"required,role"`
	ExtraPermissions []string `json:"permissions" validate:"omitempty,dive,permission"`
	Password         string   `json:"password" validate:"required"`
	PasswordConfirm  string   `json:"passwordConfirm" validate:"required,eqfield=Password"`
}

func (nu *NewUser) Validate(ctx context.Context, svc ServiceInterface) error {
	nu.FirstName = core.CleanString(nu.FirstName)
	nu.LastName = core.CleanString(nu.LastName)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := core.Validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	FirstName        string   `json:"firstName"`
	LastName         string   `json:"lastName"`
	Email            string   `json:"email" validate:"omitempty,email"`
	Role             Role     `json:"role" validate:"omitempty,role"`
	IsActive         *bool    `json:"isActive"`
	ExtraPermissions []string `json:"permissions" validate:"omitempty,dive,permission"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, svc ServiceInterface) error {
	uu.FirstName = core.CleanString(uu.FirstName)
	uu.LastName = core.CleanString(uu.LastName)

	email := core.CleanString(uu.Email, true /* lower */)
	if email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if err := core.Validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.Email, origUsr)
}

// ChangeUserPassword is the first-login forced password change payload.
type ChangeUserPassword struct {
	Email              string `json:"email" validate:"required,email"`
	OldPassword        string `json:"oldPassword" validate:"required"`
	NewPassword        string `json:"newPassword" validate:"required"`
	NewPasswordConfirm string `json:"newPasswordConfirm" validate:"required,eqfield=NewPassword"`
}

func (cp *ChangeUserPassword) Validate() error {
	cp.Email = core.CleanString(cp.Email, true /* lower */)
	return core.Validate.Struct(cp)
}

// ResetUserPassword finalizes an OTP-based password reset.
type ResetUserPassword struct {
	Email              string `json:"email" validate:"required,email"`
	OTP                string `json:"otp" validate:"required,len=6,numeric"`
	NewPassword        string `json:"newPassword" validate:"required"`
	NewPasswordConfirm string `json:"newPasswordConfirm" validate:"required,eqfield=NewPassword"`
}

func (rp *ResetUserPassword) Validate() error {
	rp.Email = core.CleanString(rp.Email, true /* lower */)
	return core.Validate.Struct(rp)
}

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []Role    `query:"role"`
	IsActive    *bool     `query:"is_active"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsActive == nil &&
		qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
