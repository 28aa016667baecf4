package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/and161185/untis-auth/internal/errs"
	"github.com/and161185/untis-auth/internal/model"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	appConfigPath = "/WebUntis/api/app/config"

	// minSecretLen is the shortest secret the OTP generator accepts; some QR codes carry
	// truncated secrets which the backend still honours once padded.
	minSecretLen = 26
	secretFiller = "A"
)

var sessionIDPattern = regexp.MustCompile(`JSESSIONID=([^;]+)`)

// QRParams are the login parameters carried by a QR-code URL.
type QRParams struct {
	School string
	Server string
	Secret string
	User   string
}

// ParseQR extracts school, url, key and user from a QR-code URL.
func ParseQR(qrURL string) (QRParams, error) {
	u, err := url.Parse(strings.TrimSpace(qrURL))
	if err != nil {
		return QRParams{}, fmt.Errorf("%w: %v", errs.ErrInvalidQRCode, err)
	}
	q := u.Query()
	p := QRParams{
		School: q.Get("school"),
		Server: q.Get("url"),
		Secret: q.Get("key"),
		User:   q.Get("user"),
	}
	if p.School == "" || p.Server == "" || p.Secret == "" || p.User == "" {
		return QRParams{}, fmt.Errorf("%w: school, url, key and user are required", errs.ErrInvalidQRCode)
	}
	return p, nil
}

// PadSecret right-pads a short OTP secret with a fixed filler up to the minimum length.
func PadSecret(secret string) string {
	if len(secret) >= minSecretLen {
		return secret
	}
	return secret + strings.Repeat(secretFiller, minSecretLen-len(secret))
}

// GenerateOTP returns the 6-digit SHA1 TOTP code for secret at t.
func GenerateOTP(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(PadSecret(secret), t, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// SchoolCookie renders the schoolname cookie the app config endpoint expects.
func SchoolCookie(school string) string {
	return `schoolname="_` + base64.StdEncoding.EncodeToString([]byte(school)) + `"`
}

// AuthenticateWithQR runs the QR/OTP login and resolves the logged-in person.
func (c *Client) AuthenticateWithQR(ctx context.Context, qrURL string) (model.QRLogin, error) {
	p, err := ParseQR(qrURL)
	if err != nil {
		return model.QRLogin{}, err
	}

	now := c.now()
	code, err := GenerateOTP(p.Secret, now)
	if err != nil {
		return model.QRLogin{}, fmt.Errorf("%w: generate otp: %w", errs.ErrQRAuthFailed, err)
	}

	target := c.endpoint(p.Server, rpcInternPath, url.Values{
		"m":      {methodUserData},
		"school": {p.School},
		"v":      {"i2.2"},
	})
	params := []map[string]any{{
		"auth": map[string]any{
			"clientTime": now.UnixMilli(),
			"user":       p.User,
			"otp":        code,
		},
	}}
	res, err := c.invoke(ctx, target, methodUserData, params, "")
	if err != nil {
		return model.QRLogin{}, fmt.Errorf("%w: %w", errs.ErrQRAuthFailed, err)
	}

	cookies := c.jar.RecordHeader(res.cookies, p.Server)
	m := sessionIDPattern.FindStringSubmatch(cookies)
	if m == nil {
		return model.QRLogin{}, fmt.Errorf("%s: %w", methodUserData, errs.ErrNoSessionCookie)
	}
	sessionID := m[1]

	personID, personType, err := c.appConfig(ctx, p.Server, p.School, sessionID)
	if err != nil {
		return model.QRLogin{}, err
	}

	return model.QRLogin{
		Cookies:    cookies,
		SessionID:  sessionID,
		PersonID:   personID,
		PersonType: personType,
		School:     p.School,
		Server:     p.Server,
	}, nil
}

type appConfigResponse struct {
	Data struct {
		LoginServiceConfig struct {
			User struct {
				PersonID *int64 `json:"personId"`
				Persons  []struct {
					ID   int64  `json:"id"`
					Type string `json:"type"`
				} `json:"persons"`
			} `json:"user"`
		} `json:"loginServiceConfig"`
	} `json:"data"`
}

func (c *Client) appConfig(ctx context.Context, server, school, sessionID string) (int64, string, error) {
	headers := map[string]string{
		"Accept": "application/json",
		"Cookie": "JSESSIONID=" + sessionID + "; " + SchoolCookie(school),
	}
	resp, err := c.do(ctx, c.protocolTimeout, http.MethodGet, c.endpoint(server, appConfigPath, nil), headers, nil)
	if err != nil {
		return 0, "", fmt.Errorf("app config: %w", err)
	}
	if resp.status != http.StatusOK {
		return 0, "", statusError("app config", resp)
	}

	var cfg appConfigResponse
	if err := json.Unmarshal(resp.body, &cfg); err != nil {
		return 0, "", fmt.Errorf("app config: parse response: %w", err)
	}
	user := cfg.Data.LoginServiceConfig.User
	if user.PersonID == nil {
		return 0, "", fmt.Errorf("app config: %w", errs.ErrMissingPersonID)
	}

	var personType string
	for _, p := range user.Persons {
		if p.ID == *user.PersonID {
			personType = p.Type
			break
		}
	}
	return *user.PersonID, personType, nil
}
