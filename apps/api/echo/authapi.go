package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/edulane/shule/core"
	"github.com/edulane/shule/core/user"
)

const forgotPasswordMsg = "If the email address supplied is associated with an active account on this system, " +
	"an email will arrive in your inbox shortly with a code to reset your password."

type authApi struct {
	svc user.ServiceInterface
}

func registerAuthAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := authApi{svc: opts.UserSvc}

	ag := g.Group("/auth")

	// un-authed endpoints
	// TODO: rate limit `/forgot-password` & `/reset-password`
	ag.POST("/login", api.login)
	ag.POST("/change-password", api.changePassword)
	ag.POST("/forgot-password", api.forgotPassword)
	ag.POST("/reset-password", api.resetPassword)

	// authed endpoints
	ag.POST("/token-refresh", api.refreshToken, jwt)
}

// Handlers

func (api *authApi) login(ctx echo.Context) error {
	var data user.Credentials
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Credentials")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	usr, err := api.svc.Authenticate(ctx.Request().Context(), data.Email, data.Password)
	if err != nil {
		switch errors.Cause(err) {
		case user.ErrInvalidCredentials:
			return errAuthenticationFailed
		case user.ErrAccountDeactivated:
			return errAccountDeactivated
		}
		return errors.Wrap(err, "authenticating")
	}

	access, refresh, err := generateTokenPair(usr)
	if err != nil {
		return errors.Wrap(err, "generating token pair")
	}

	return ctx.JSON(http.StatusOK, LoginResponse{
		User:         usr,
		AccessToken:  access,
		RefreshToken: refresh,
		Permissions:  usr.Permissions(),
	})
}

func (api *authApi) changePassword(ctx echo.Context) error {
	var data user.ChangeUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChangeUserPassword")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	usr, err := api.svc.ChangePassword(ctx.Request().Context(), data)
	if err != nil {
		switch errors.Cause(err) {
		case user.ErrInvalidCredentials:
			return errAuthenticationFailed
		case user.ErrAccountDeactivated:
			return errAccountDeactivated
		}
		return errors.Wrap(err, "changing password")
	}

	// a fresh token pair so the session survives the password change
	access, refresh, err := generateTokenPair(usr)
	if err != nil {
		return errors.Wrap(err, "generating token pair")
	}

	return ctx.JSON(http.StatusOK, LoginResponse{
		User:         usr,
		AccessToken:  access,
		RefreshToken: refresh,
		Permissions:  usr.Permissions(),
	})
}

func (api *authApi) forgotPassword(ctx echo.Context) error {
	var data ForgotPasswordRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ForgotPasswordRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || errors.Cause(err) == user.ErrNotFound) {
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: forgotPasswordMsg})
}

func (api *authApi) resetPassword(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	if err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		if errors.Cause(err) == user.ErrInvalidOTP {
			return errInvalidOTP
		}
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (api *authApi) refreshToken(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if !claims.Refresh {
		return errUnauthorized
	}

	access, refresh, err := refreshToken(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{AccessToken: access, RefreshToken: refresh})
}

type (
	ForgotPasswordRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	LoginResponse struct {
		User         user.User `json:"user"`
		AccessToken  string    `json:"accessToken"`
		RefreshToken string    `json:"refreshToken"`
		Permissions  []string  `json:"permissions"`
	}

	TokenResponse struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (fr *ForgotPasswordRequest) Validate() error {
	fr.Email = core.CleanString(fr.Email, true /* lower */)
	return core.Validate.Struct(fr)
}
