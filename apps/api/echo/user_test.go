package echoapi_test

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulane/shule/core/user"
)

func Test_userApi_create(t *testing.T) {
	app, svc := setup(t)

	admin := createUser(t, svc, "Admin", "admin@test.cd", "s3cr3t-pwd", user.RoleAdmin, true)
	student := createUser(t, svc, "Student", "student@test.cd", "s3cr3t-pwd", user.RoleStudent, true)

	newUser := func(email string, role user.Role) []byte {
		return marchallObj(t, user.NewUser{
			FirstName: "New", LastName: "Comer", Email: email, Role: role,
			Password: "s3cr3t-pwd", PasswordConfirm: "s3cr3t-pwd",
		})
	}

	tests := []httpTest{
		{name: "auth required", body: newUser("a@test.cd", user.RoleStudent), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "users:manage required", token: getToken(t, student), body: newUser("a@test.cd", user.RoleStudent),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "invalid role rejected", token: getToken(t, admin), body: newUser("a@test.cd", "PRINCIPAL"),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "duplicate email rejected", token: getToken(t, admin), body: newUser("student@test.cd", user.RoleStudent),
			wantCode: http.StatusBadRequest,
		},
		{name: "ok", token: getToken(t, admin), body: newUser("a@test.cd", user.RoleTeacher), wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/users", tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_query(t *testing.T) {
	app, svc := setup(t)

	admin := createUser(t, svc, "Admin", "admin@test.cd", "s3cr3t-pwd", user.RoleAdmin, true)
	teacher := createUser(t, svc, "Teacher", "teacher@test.cd", "s3cr3t-pwd", user.RoleTeacher, true)
	student := createUser(t, svc, "Student", "student@test.cd", "s3cr3t-pwd", user.RoleStudent, true)
	adminToken := getToken(t, admin)

	path := func(search, ordering string, roles ...user.Role) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if ordering != "" {
			v.Add("ordering", ordering)
		}
		for _, r := range roles {
			v.Add("role", string(r))
		}
		return "/v1/users?" + v.Encode()
	}

	tests := []httpTest{
		{name: "auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "users:manage required", path: "/v1/users", token: getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "get all", path: "/v1/users", token: adminToken, wantData: marchallList(t, admin, teacher, student)},
		{name: "search (unknown)", path: path("lol", ""), token: adminToken, wantData: marchallList(t)},
		{name: "search", path: path("teach", ""), token: adminToken, wantData: marchallList(t, teacher)},
		{name: "role", path: path("", "", user.RoleStudent), token: adminToken, wantData: marchallList(t, student)},
		{
			name: "roles", path: path("", "", user.RoleStudent, user.RoleTeacher), token: adminToken,
			wantData: marchallList(t, teacher, student),
		},
		{
			name: "ordering", path: path("", "-first_name"), token: adminToken,
			wantData: marchallList(t, teacher, student, admin),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodGet
			if tt.wantCode == 0 {
				tt.wantCode = http.StatusOK
			}
			req, rec := newAuthRequest(tt.method, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_detail(t *testing.T) {
	app, svc := setup(t)

	admin := createUser(t, svc, "Admin", "admin@test.cd", "s3cr3t-pwd", user.RoleAdmin, true)
	student := createUser(t, svc, "Student", "student@test.cd", "s3cr3t-pwd", user.RoleStudent, true)
	other := createUser(t, svc, "Other", "other@test.cd", "s3cr3t-pwd", user.RoleStudent, true)

	adminToken := getToken(t, admin)
	studentToken := getToken(t, student)
	detail := func(id int) string { return fmt.Sprintf("/v1/users/%d", id) }

	// retrieve
	tests := []httpTest{
		{name: "auth required", path: detail(student.ID), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "self ok", path: detail(student.ID), token: studentToken, wantCode: http.StatusOK, wantData: marchallObj(t, student)},
		{
			name: "someone else is a 404, not a 403", path: detail(other.ID), token: studentToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{name: "admin sees anyone", path: detail(other.ID), token: adminToken, wantCode: http.StatusOK, wantData: marchallObj(t, other)},
		{name: "unknown id", path: detail(999), token: adminToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})},
	}
	for _, tt := range tests {
		t.Run("retrieve/"+tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	// update: non-admin cannot touch admin-only fields
	t.Run("update/role change forbidden for non-admin", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"role": string(user.RoleAdmin)})
		req, rec := newAuthRequest(http.MethodPut, detail(student.ID), studentToken, body)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("update/self name ok", func(t *testing.T) {
		body := marchallObj(t, map[string]string{"firstName": "Renamed"})
		req, rec := newAuthRequest(http.MethodPut, detail(student.ID), studentToken, body)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})
	t.Run("update/admin sets role and permissions", func(t *testing.T) {
		body := marchallObj(t, map[string]interface{}{
			"role":        string(user.RoleTeacher),
			"permissions": []string{user.PermAnnouncementsWrite},
		})
		req, rec := newAuthRequest(http.MethodPut, detail(other.ID), adminToken, body)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		updated, err := svc.GetByID(req.Context(), other.ID)
		require.NoError(t, err)
		assert.Equal(t, user.RoleTeacher, updated.Role)
		assert.True(t, updated.HasPermission(user.PermAnnouncementsWrite))
	})

	// destroy
	t.Run("destroy/non-admin forbidden", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, detail(student.ID), studentToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("destroy/admin cannot delete themselves", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, detail(admin.ID), adminToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("destroy/ok", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, detail(other.ID), adminToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		req, rec = newAuthRequest(http.MethodGet, detail(other.ID), adminToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_userApi_queryRoles(t *testing.T) {
	app, svc := setup(t)

	admin := createUser(t, svc, "Admin", "admin@test.cd", "s3cr3t-pwd", user.RoleAdmin, true)
	student := createUser(t, svc, "Student", "student@test.cd", "s3cr3t-pwd", user.RoleStudent, true)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "admin role required", token: getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "ok", token: getToken(t, admin), wantCode: http.StatusOK, wantData: marchallObj(t, user.AllRoles)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/users/roles", tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
