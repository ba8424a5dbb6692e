package echoapi

import (
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/edulane/shule/core"
	"github.com/edulane/shule/core/user"
)

var (
	// appJWTConfig is the JWT auth middleware config; set by configureAuth.
	appJWTConfig   middleware.JWTConfig
	authConf       *core.Config
	contextUserKey = "user"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64     `json:"oriat,omitempty"`
	Email        string    `json:"email,omitempty"`
	FirstName    string    `json:"firstName,omitempty"`
	LastName     string    `json:"lastName,omitempty"`
	Role         user.Role `json:"role,omitempty"`
	Permissions  []string  `json:"perms,omitempty"`
	Refresh      bool      `json:"refresh,omitempty"`
}

func configureAuth(conf *core.Config) echo.MiddlewareFunc {
	authConf = conf
	appJWTConfig = middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    "userToken",
		Claims:        new(Claims),
	}
	return middleware.JWTWithConfig(appJWTConfig)
}

// GetUserClaims builds access token claims for a user. origIat carries the
// original issue time across token refreshes so the refresh window is
// anchored to the initial login.
func GetUserClaims(usr user.User, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	var oriat int64
	if len(origIat) > 0 {
		oriat = origIat[0]
	} else {
		oriat = nownix
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    authConf.AppName,
			Subject:   strconv.Itoa(usr.ID),
			Audience:  "Shule",
			ExpiresAt: now.Add(authConf.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
			Id:        uuid.New().String(),
		},
		OrigIssuedAt: oriat,
		Email:        usr.Email,
		FirstName:    usr.FirstName,
		LastName:     usr.LastName,
		Role:         usr.Role,
		Permissions:  usr.Permissions(),
	}
}

// getRefreshClaims builds the longer-lived refresh token claims.
func getRefreshClaims(usr user.User, origIat int64) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    authConf.AppName,
			Subject:   strconv.Itoa(usr.ID),
			Audience:  "Shule",
			ExpiresAt: now.Add(authConf.JWTRefreshExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
			Id:        uuid.New().String(),
		},
		OrigIssuedAt: origIat,
		Refresh:      true,
	}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(appJWTConfig.SigningMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(appJWTConfig.SigningKey)
	if err != nil {
		return "", errors.New("signing token")
	}
	return ss, nil
}

// generateTokenPair mints the access/refresh token pair for a user.
func generateTokenPair(usr user.User, origIat ...int64) (access, refresh string, err error) {
	claims := GetUserClaims(usr, origIat...)
	if access, err = GenerateToken(claims); err != nil {
		return "", "", err
	}
	if refresh, err = GenerateToken(getRefreshClaims(usr, claims.OrigIssuedAt)); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(appJWTConfig.ContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextUser(ctx echo.Context, svc user.ServiceInterface, clms ...Claims) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}

	var claims Claims
	var err error
	if len(clms) > 0 {
		claims = clms[0]
	} else {
		claims, err = getContextClaims(ctx)
		if err != nil {
			return user.User{}, errors.Wrap(err, "getting context claims")
		}
	}

	uid, err := strconv.Atoi(claims.Subject)
	if err != nil {
		return user.User{}, errUnauthorized
	}
	usr, err := svc.GetByID(ctx.Request().Context(), uid)
	if err != nil {
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}

func contextHasAnyRole(ctx echo.Context, roles []user.Role) bool {
	if len(roles) == 0 {
		return true
	}
	if claims, err := getContextClaims(ctx); err == nil {
		for _, role := range roles {
			if claims.Role == role {
				return true
			}
		}
	}
	return false
}

func contextHasPermission(ctx echo.Context, perm string) bool {
	if claims, err := getContextClaims(ctx); err == nil {
		for _, p := range claims.Permissions {
			if p == perm {
				return true
			}
		}
	}
	return false
}

// refreshToken re-issues a token pair while the original issue window allows.
func refreshToken(ctx echo.Context, svc user.ServiceInterface) (string, string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", "", errors.Wrap(err, "getting context claims")
	}

	usr, err := getContextUser(ctx, svc, claims)
	if err != nil {
		return "", "", errors.Wrap(err, "getting context user")
	}

	// check if user is still active
	if !usr.IsActive {
		return "", "", errAccountDeactivated
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(authConf.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", "", errRefreshExpired
	}

	access, refresh, err := generateTokenPair(usr, claims.OrigIssuedAt)
	return access, refresh, errors.Wrap(err, "generating token pair")
}
