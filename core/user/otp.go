package user

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Password-reset OTPs are self-validating: the 6-digit code is an HMAC over
// the user's identity, current password hash and last login, keyed by the
// app secret and a time bucket. No server-side state is kept; a successful
// reset (new password hash) or a login (new last login) invalidates any
// outstanding code.

var (
	otpSalt   = []byte("shule.core.user.otp")
	NowFunc   = time.Now // mockable
	otpBucket = time.Minute

	errInvalidOTP = errors.New("invalid or expired code")
)

// MakeOTP generates the password reset code currently valid for a given User.
func MakeOTP(usr User, secret string) string {
	return makeOTPAt(usr, secret, bucketOf(NowFunc()))
}

// VerifyOTP checks a password reset code for a given User, accepting codes
// minted within the timeout window.
func VerifyOTP(usr User, code, secret string, timeout time.Duration) error {
	if len(code) == 0 {
		return errInvalidOTP
	}

	now := bucketOf(NowFunc())
	window := int64(timeout / otpBucket)
	for b := now; b >= now-window; b-- {
		candidate := makeOTPAt(usr, secret, b)
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			return nil
		}
	}
	return errInvalidOTP
}

func bucketOf(t time.Time) int64 {
	return t.UTC().Unix() / int64(otpBucket/time.Second)
}

func makeOTPAt(usr User, secret string, bucket int64) string {
	key := sha256.Sum256(append(otpSalt, secret...))
	h := hmac.New(sha256.New, key[:])
	h.Write(hashValue(usr, bucket))
	sum := h.Sum(nil)

	// dynamic truncation as in RFC 4226
	off := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", bin%1000000)
}

func hashValue(usr User, bucket int64) []byte {
	val := make([]byte, 0, 64)
	val = append(val, usr.Email...)
	val = append(val, usr.PasswordHash...)
	if !usr.LastLogin.IsZero() {
		val = append(val, usr.LastLogin.UTC().String()...)
	}
	val = append(val, strconv.FormatInt(bucket, 10)...)
	return val
}
