package nightcap

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const otpSecretBytes = 20

// otpParams is the self-describing shape stored alongside every ledger
// record, so a code stays verifiable even after the engine-wide defaults
// change.
type otpParams struct {
	Algorithm string
	Digits    int
	Period    int
	CharSet   string
}

func (c Config) otpParams() otpParams {
	return otpParams{
		Algorithm: c.OTP.Algorithm,
		Digits:    c.OTP.Digits,
		Period:    c.OTP.Period,
		CharSet:   c.OTP.CharSet,
	}
}

// emailOTPParams shapes codes for the email-bound flows. The time step
// spans the whole challenge window, so an emailed code stays redeemable
// until the ledger record itself expires; the short authenticator period
// only applies to the two-factor flows. The configured skew still covers a
// step boundary landing inside the window.
func (c Config) emailOTPParams() otpParams {
	p := c.otpParams()
	p.Period = int(c.Verification.ChallengeTTL / time.Second)
	return p
}

func newOTPSecret() ([]byte, error) {
	raw := make([]byte, otpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func encodeOTPSecret(secret []byte) string {
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret)
}

// otpCodeAt derives the code for one time-step counter. The HMAC output is
// dynamically truncated to a 31-bit integer and then written out in base
// len(charSet); for the decimal charset this is exactly the RFC 4226 code,
// for wider alphabets the integer simply renders in the larger base. Codes
// therefore never exercise more than 31 bits of the HMAC regardless of
// alphabet; that bound is inherent to the truncation scheme and documented
// in DESIGN.md.
func otpCodeAt(secret []byte, counter int64, p otpParams) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty otp secret")
	}

	hf, err := otpHashFunc(p.Algorithm)
	if err != nil {
		return "", err
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	base := len(p.CharSet)
	out := make([]byte, p.Digits)
	for i := p.Digits - 1; i >= 0; i-- {
		out[i] = p.CharSet[bin%base]
		bin /= base
	}
	return string(out), nil
}

// otpVerify checks code against the secret across the configured skew
// window. Comparison is constant time per candidate step. It returns the
// matched counter so callers can pin replay protection to it.
func otpVerify(secret []byte, code string, p otpParams, skew int, now time.Time) (bool, int64) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != p.Digits {
		return false, 0
	}

	baseCounter := now.Unix() / int64(p.Period)
	for step := -skew; step <= skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		expected, err := otpCodeAt(secret, counter, p)
		if err != nil {
			return false, 0
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(trimmed)) == 1 {
			return true, counter
		}
	}
	return false, 0
}

// provisioningURI renders the otpauth:// URI an authenticator app enrolls
// from. Only meaningful for the decimal charset; apps assume RFC semantics.
func provisioningURI(issuer, account, secretBase32 string, p otpParams) string {
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(p.Period))
	v.Set("digits", strconv.Itoa(p.Digits))
	v.Set("algorithm", strings.ToUpper(p.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

func otpHashFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported otp algorithm")
	}
}
