package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	. "github.com/edulane/shule/apps/api/echo"
	"github.com/edulane/shule/core"
	"github.com/edulane/shule/core/user"
	"github.com/edulane/shule/services/email"
	"github.com/edulane/shule/services/logger"
	"github.com/edulane/shule/storage/database/inmem"
)

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	otpRegex        = regexp.MustCompile(`code is: (\d{6})`)
)

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

func setup(t *testing.T) (Server, user.ServiceInterface) {
	t.Helper()

	db, err := inmemdb.Open()
	require.NoError(t, err)
	usrRepo := inmemdb.NewUserRepository(db)

	conf := testConfig()
	emailsvc.ResetSentMessages()
	usrSvc := user.NewService(usrRepo, emailsvc.NewConsoleService(conf), conf)

	app := NewServer(
		&Options{
			DisableReqLogs: true,
			Conf:           conf,
			Logger:         logsvc.NewStdLogger(log.New(os.Stdout, "TEST : ", log.LstdFlags)),
			UserSvc:        usrSvc,
		},
	)
	return app, usrSvc
}

func createUser(t *testing.T, svc user.ServiceInterface, first, email, pwd string, role user.Role, active bool) user.User {
	t.Helper()
	usr, err := svc.Create(context.Background(), user.NewUser{
		FirstName:       first,
		LastName:        "Test",
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

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, usr user.User) string {
	t.Helper()
	claims := GetUserClaims(usr)
	token, err := GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj(): %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList(): %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body = %s", rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func lastOTP(t *testing.T) string {
	t.Helper()
	msg, ok := emailsvc.LastSentMessage()
	require.True(t, ok, "no email was sent")
	m := otpRegex.FindStringSubmatch(msg.TextContent)
	require.Len(t, m, 2, "no code found in email body: %s", msg.TextContent)
	return m[1]
}
