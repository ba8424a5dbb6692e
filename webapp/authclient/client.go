// Package authclient is the HTTP client for the authentication API. It
// validates payloads before hitting the network, translates HTTP failures
// into a small error taxonomy and keeps the session store in sync.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/edulane/shule/core"
	"github.com/edulane/shule/core/user"
	"github.com/edulane/shule/webapp/session"
)

const apiPrefix = "/v1"

type Client struct {
	baseURL string
	http    *http.Client
	store   *session.Store
}

func NewClient(baseURL string, store *session.Store) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		store:   store,
	}
}

// NewClientWithHTTP allows swapping the transport, e.g. for tests.
func NewClientWithHTTP(baseURL string, store *session.Store, hc *http.Client) *Client {
	c := NewClient(baseURL, store)
	c.http = hc
	return c
}

func (c *Client) Store() *session.Store { return c.store }

type loginResponse struct {
	User         user.User `json:"user"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	Permissions  []string  `json:"permissions"`
}

// Login authenticates the credentials and installs the resulting session.
// Payload validation happens before any network call.
func (c *Client) Login(ctx context.Context, creds user.Credentials) (session.Session, error) {
	if err := creds.Validate(); err != nil {
		return session.Session{}, err
	}

	var resp loginResponse
	if err := c.post(ctx, "/auth/login", creds, &resp, KindInvalidCredentials); err != nil {
		return session.Session{}, err
	}
	return c.installSession(resp)
}

// ChangePassword performs the forced first-login password change. On
// success the server issues a fresh token pair, which replaces the current
// session so the user stays signed in.
func (c *Client) ChangePassword(ctx context.Context, cp user.ChangeUserPassword) (session.Session, error) {
	if err := cp.Validate(); err != nil {
		return session.Session{}, err
	}

	var resp loginResponse
	if err := c.post(ctx, "/auth/change-password", cp, &resp, KindInvalidCredentials); err != nil {
		return session.Session{}, err
	}
	return c.installSession(resp)
}

// ForgotPassword requests a reset code. The server answers identically
// whether or not the email is registered.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	payload := struct {
		Email string `json:"email" validate:"required,email"`
	}{Email: email}
	if err := validateEmailPayload(&payload.Email); err != nil {
		return err
	}
	return c.post(ctx, "/auth/forgot-password", payload, nil, KindServer)
}

// ResetPassword consumes the emailed code and sets the new password.
func (c *Client) ResetPassword(ctx context.Context, rp user.ResetUserPassword) error {
	if err := rp.Validate(); err != nil {
		return err
	}
	return c.post(ctx, "/auth/reset-password", rp, nil, KindInvalidOTP)
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken trades the stored refresh token for a new pair. A denial
// clears the session; the caller should send the user back to login.
func (c *Client) RefreshToken(ctx context.Context) error {
	sess := c.store.Get()
	if !sess.IsAuthenticated() || sess.RefreshToken == "" {
		return &APIError{Kind: KindInvalidCredentials, Message: "not signed in"}
	}

	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/auth/token-refresh", sess.RefreshToken, nil, &resp, KindInvalidCredentials)
	if err != nil {
		if IsInvalidCredentials(err) {
			c.store.Clear()
		}
		return err
	}

	sess.AccessToken = resp.AccessToken
	sess.RefreshToken = resp.RefreshToken
	return c.store.Set(sess)
}

// Logout drops the session. Tokens are self-contained so there is nothing
// to revoke server side.
func (c *Client) Logout() {
	c.store.Clear()
}

func (c *Client) installSession(resp loginResponse) (session.Session, error) {
	usr := resp.User
	sess := session.Session{
		User:         &usr,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		Permissions:  resp.Permissions,
	}
	if err := c.store.Set(sess); err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

// post fires an unauthenticated request. rejectKind is the error kind a
// 4xx rejection maps to on this endpoint.
func (c *Client) post(ctx context.Context, path string, payload, out interface{}, rejectKind ErrorKind) error {
	return c.do(ctx, http.MethodPost, path, "", payload, out, rejectKind)
}

func (c *Client) do(ctx context.Context, method, path, bearer string, payload, out interface{}, rejectKind ErrorKind) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return errors.Wrap(err, "encoding payload")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, &body)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &APIError{Kind: KindServer, StatusCode: resp.StatusCode, Err: err}
		}
		return nil
	case resp.StatusCode >= 500:
		return &APIError{Kind: KindServer, StatusCode: resp.StatusCode, Message: errorMessage(resp)}
	default:
		return &APIError{Kind: rejectKind, StatusCode: resp.StatusCode, Message: errorMessage(resp)}
	}
}

func validateEmailPayload(email *string) error {
	*email = core.CleanString(*email, true /* lower */)
	return core.Validate.Var(*email, "required,email")
}

func errorMessage(resp *http.Response) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return body.Error
	}
	return http.StatusText(resp.StatusCode)
}
