package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/untis-auth/internal/crypto"
	"github.com/and161185/untis-auth/internal/errs"
	"github.com/and161185/untis-auth/internal/model"
	"go.uber.org/zap"
)

// errNotApplicable tells the strategy loop to try the next strategy.
var errNotApplicable = errors.New("strategy not applicable")

// authRequest is the normalized input of one authentication attempt.
type authRequest struct {
	key                string
	qrURL              string
	creds              model.Credentials
	existing           *model.Session
	forceFreshMetadata bool
}

// sessionResult is what a strategy produces: a session plus recovered warnings.
type sessionResult struct {
	session  model.Session
	warnings []model.Warning
}

type strategy interface {
	name() string
	authenticate(ctx context.Context, req authRequest, forced bool) (sessionResult, error)
}

// strategies returns the login strategies in the order they are tried.
func (s *AuthServiceImpl) strategies() []strategy {
	return []strategy{
		existingSessionStrategy{s: s},
		qrStrategy{s: s},
		credentialStrategy{s: s},
	}
}

// authenticate runs the strategies in order until one applies.
func (s *AuthServiceImpl) authenticate(ctx context.Context, req authRequest, forced bool) (sessionResult, error) {
	for _, st := range s.strategies() {
		res, err := st.authenticate(ctx, req, forced)
		if errors.Is(err, errNotApplicable) {
			continue
		}
		if err != nil {
			return sessionResult{}, err
		}
		s.log.Debug("session established",
			zap.String("strategy", st.name()),
			zap.String("key", crypto.Fingerprint(req.key)),
		)
		return res, nil
	}
	return sessionResult{}, errs.ErrMissingUsername
}

// existingSessionStrategy reuses cookies from a login performed elsewhere.
type existingSessionStrategy struct{ s *AuthServiceImpl }

func (existingSessionStrategy) name() string { return "existing-session" }

func (e existingSessionStrategy) authenticate(ctx context.Context, req authRequest, forced bool) (sessionResult, error) {
	if forced || req.existing == nil {
		return sessionResult{}, errNotApplicable
	}
	sess := *req.existing
	if sess.CookieString == "" {
		return sessionResult{}, errs.ErrNoCookies
	}
	if sess.Server == "" {
		sess.Server = req.creds.Server
	}
	if sess.School == "" {
		sess.School = req.creds.School
	}

	token, err := e.s.tr.GetBearerToken(ctx, sess.Server, sess.CookieString)
	if err == nil {
		sess.Token = token
		return sessionResult{session: sess}, nil
	}

	// Half-stale state is never mixed with a credential login when a QR code can
	// restart the whole flow.
	if req.qrURL != "" || req.creds.Username != "" {
		e.s.log.Info("existing session rejected, falling back to full login",
			zap.String("key", crypto.Fingerprint(req.key)),
			zap.Error(err),
		)
		return sessionResult{}, errNotApplicable
	}

	e.s.log.Warn("existing session token refresh failed, continuing without token",
		zap.String("key", crypto.Fingerprint(req.key)),
		zap.Error(err),
	)
	sess.Token = ""
	return sessionResult{
		session:  sess,
		warnings: []model.Warning{{Op: "token refresh", Err: err}},
	}, nil
}

// qrStrategy runs the QR/OTP login followed by a token exchange.
type qrStrategy struct{ s *AuthServiceImpl }

func (qrStrategy) name() string { return "qr" }

func (q qrStrategy) authenticate(ctx context.Context, req authRequest, _ bool) (sessionResult, error) {
	if req.qrURL == "" {
		return sessionResult{}, errNotApplicable
	}
	// Alongside credentials, the QR code only restarts a stale existing session.
	if req.creds.Username != "" && req.existing == nil {
		return sessionResult{}, errNotApplicable
	}
	var sess model.Session
	err := q.s.limited(ctx, req.key, func() error {
		login, err := q.s.tr.AuthenticateWithQR(ctx, req.qrURL)
		if err != nil {
			return err
		}
		token, err := q.s.tr.GetBearerToken(ctx, login.Server, login.Cookies)
		if err != nil {
			return err
		}
		sess = model.Session{
			CookieString: login.Cookies,
			Token:        token,
			PersonID:     login.PersonID,
			PersonType:   login.PersonType,
			School:       login.School,
			Server:       login.Server,
		}
		return nil
	})
	if err != nil {
		return sessionResult{}, err
	}
	return sessionResult{session: sess}, nil
}

// credentialStrategy runs a username/password login followed by a token exchange.
type credentialStrategy struct{ s *AuthServiceImpl }

func (credentialStrategy) name() string { return "credentials" }

func (c credentialStrategy) authenticate(ctx context.Context, req authRequest, _ bool) (sessionResult, error) {
	if req.creds.Username == "" {
		return sessionResult{}, errNotApplicable
	}
	var sess model.Session
	err := c.s.limited(ctx, req.key, func() error {
		login, err := c.s.tr.AuthenticateWithCredentials(ctx, req.creds)
		if err != nil {
			return err
		}
		token, err := c.s.tr.GetBearerToken(ctx, login.Server, login.Cookies)
		if err != nil {
			return err
		}
		sess = model.Session{
			CookieString: login.Cookies,
			Token:        token,
			PersonID:     login.PersonID,
			School:       login.School,
			Server:       login.Server,
		}
		return nil
	})
	if err != nil {
		return sessionResult{}, err
	}
	return sessionResult{session: sess}, nil
}

// limited gates a protocol login through the limiter and reports its outcome.
func (s *AuthServiceImpl) limited(ctx context.Context, key string, login func() error) error {
	allowed, retry, err := s.lim.Allow(ctx, key)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, retry)
	}

	if err := login(); err != nil {
		if blocked, d, ferr := s.lim.Failure(ctx, key); ferr == nil && blocked {
			s.log.Warn("login attempts blocked",
				zap.String("key", crypto.Fingerprint(key)),
				zap.Duration("for", d),
			)
		}
		return err
	}
	_ = s.lim.Success(ctx, key)
	return nil
}
