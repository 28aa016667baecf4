// Package service contains the authentication broker: a TTL cache of identity bundles with
// single-flight logins, cookie-liveness revalidation and forced re-authentication.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/and161185/untis-auth/internal/convert"
	"github.com/and161185/untis-auth/internal/crypto"
	"github.com/and161185/untis-auth/internal/errs"
	"github.com/and161185/untis-auth/internal/limiter"
	"github.com/and161185/untis-auth/internal/model"
	"github.com/and161185/untis-auth/internal/transport"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache timing defaults. DefaultTTL stays below the backend's 15 minute token lifetime.
const (
	DefaultTTL                      = 14 * time.Minute
	DefaultRefreshMargin            = 2 * time.Minute
	DefaultCookieValidationInterval = 5 * time.Minute
)

// Transport is the protocol layer the broker drives.
type Transport interface {
	AuthenticateWithQR(ctx context.Context, qrURL string) (model.QRLogin, error)
	AuthenticateWithCredentials(ctx context.Context, cr model.Credentials) (model.CredentialLogin, error)
	GetBearerToken(ctx context.Context, server, cookies string) (string, error)
	AppData(ctx context.Context, server, cookies, token string) (json.RawMessage, error)
	Logout(ctx context.Context, server, school, cookies string) model.LogoutResult
}

// AuthService defines the operations callers use to obtain and drop identity bundles.
type AuthService interface {
	// GetAuth returns a bundle for a credential login or an existing session.
	GetAuth(ctx context.Context, req AuthRequest) (*model.IdentityBundle, error)
	// GetAuthFromQR returns a bundle for a QR-code login.
	GetAuthFromQR(ctx context.Context, qrURL string, opts QROptions) (*model.IdentityBundle, error)
	// InvalidateCache drops the bundle for key and forces a clean login on next use.
	InvalidateCache(key string) bool
	// Stats reports cache contents for diagnostics.
	Stats() CacheStats
}

// AuthRequest describes a credential login. Alongside a Username, QRURL is only used as
// the fallback if ExistingSession turns out to be stale. Without a Username it logs in over QR.
type AuthRequest struct {
	School             string
	Username           string
	Password           string
	Server             string
	CacheKey           string
	QRURL              string
	ExistingSession    *model.Session
	ForceFreshMetadata bool
}

// QROptions tune GetAuthFromQR.
type QROptions struct {
	CacheKey           string
	ForceFreshMetadata bool
}

// CacheStats is a diagnostics snapshot.
type CacheStats struct {
	Size    int      `json:"size"`
	Keys    []string `json:"keys"`
	Pending int      `json:"pending"`
}

// Config tunes the broker. Zero fields take defaults.
type Config struct {
	TTL                      time.Duration
	RefreshMargin            time.Duration
	CookieValidationInterval time.Duration
	KeepRawAppData           bool
	Now                      func() time.Time
}

// attempt marks one in-flight authentication for a key.
type attempt struct {
	id  uuid.UUID
	gen uint64
}

// errPendingLost is reported if a join finds no running attempt to share. The in-flight
// table and the singleflight group are updated together, so this is not expected.
var errPendingLost = errors.New("pending authentication vanished")

func joinLost() (any, error) { return nil, errPendingLost }

// forceMarker is a one-shot forced re-auth flag; launched is set once the forced
// attempt has started so concurrent callers join it instead of starting another.
type forceMarker struct {
	launched bool
}

// AuthServiceImpl is the broker. Use one long-lived instance per process.
type AuthServiceImpl struct {
	tr  Transport
	lim limiter.Limiter
	log *zap.Logger
	cfg Config

	mu       sync.Mutex
	cache    map[string]*model.IdentityBundle
	inflight map[string]*attempt
	force    map[string]*forceMarker
	gen      map[string]uint64
	group    singleflight.Group
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs the broker with required dependencies.
func NewAuthService(tr Transport, lim limiter.Limiter, log *zap.Logger, cfg Config) *AuthServiceImpl {
	if lim == nil {
		lim = limiter.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.CookieValidationInterval <= 0 {
		cfg.CookieValidationInterval = DefaultCookieValidationInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &AuthServiceImpl{
		tr:       tr,
		lim:      lim,
		log:      log,
		cfg:      cfg,
		cache:    make(map[string]*model.IdentityBundle),
		inflight: make(map[string]*attempt),
		force:    make(map[string]*forceMarker),
		gen:      make(map[string]uint64),
	}
}

// GetAuthFromQR returns a bundle for a QR-code login.
func (s *AuthServiceImpl) GetAuthFromQR(ctx context.Context, qrURL string, opts QROptions) (*model.IdentityBundle, error) {
	if strings.TrimSpace(qrURL) == "" {
		return nil, errs.ErrInvalidQRCode
	}
	key := opts.CacheKey
	if key == "" {
		key = CacheKeyForQR(qrURL)
	}
	return s.acquire(ctx, authRequest{
		key:                key,
		qrURL:              qrURL,
		forceFreshMetadata: opts.ForceFreshMetadata,
	})
}

// GetAuth returns a bundle for a credential login or a supplied existing session.
func (s *AuthServiceImpl) GetAuth(ctx context.Context, req AuthRequest) (*model.IdentityBundle, error) {
	if req.Username == "" && req.QRURL == "" && req.ExistingSession == nil {
		return nil, errs.ErrMissingUsername
	}
	key := req.CacheKey
	switch {
	case key != "":
	case req.Username != "":
		key = CacheKeyForUser(req.Username, req.Server, req.School)
	case req.QRURL != "":
		key = CacheKeyForQR(req.QRURL)
	default:
		key = CacheKeyForUser("", req.Server, req.School)
	}
	return s.acquire(ctx, authRequest{
		key:   key,
		qrURL: req.QRURL,
		creds: model.Credentials{
			School:   req.School,
			Username: req.Username,
			Password: req.Password,
			Server:   req.Server,
		},
		existing:           req.ExistingSession,
		forceFreshMetadata: req.ForceFreshMetadata,
	})
}

// acquire is the per-key state machine: forced miss, cache hit, liveness check,
// single-flight join, or fresh attempt. Table checks and registration happen under
// one lock; network I/O never does.
func (s *AuthServiceImpl) acquire(ctx context.Context, req authRequest) (*model.IdentityBundle, error) {
	key := req.key

	s.mu.Lock()
	now := s.cfg.Now()
	var ch <-chan singleflight.Result

	if fm, forced := s.force[key]; forced {
		if fm.launched && s.inflight[key] != nil {
			ch = s.group.DoChan(key, joinLost)
		} else {
			delete(s.cache, key)
			fm.launched = true
			ch = s.start(ctx, req, nil, fm)
		}
	} else {
		if req.forceFreshMetadata {
			delete(s.cache, key)
		}
		b := s.cache[key]
		valid := b != nil && b.ExpiresAt.After(now.Add(s.cfg.RefreshMargin))
		switch {
		case valid && now.Sub(b.LastCookieValidation) < s.cfg.CookieValidationInterval:
			s.mu.Unlock()
			s.log.Debug("auth cache hit", zap.String("key", crypto.Fingerprint(key)))
			return b, nil
		case s.inflight[key] != nil:
			ch = s.group.DoChan(key, joinLost)
		case valid:
			ch = s.start(ctx, req, b, nil)
		default:
			ch = s.start(ctx, req, nil, nil)
		}
	}
	s.mu.Unlock()

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*model.IdentityBundle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// start registers and launches a new attempt for req.key. Callers hold s.mu.
func (s *AuthServiceImpl) start(ctx context.Context, req authRequest, stale *model.IdentityBundle, fm *forceMarker) <-chan singleflight.Result {
	key := req.key
	id, err := uuid.NewV4()
	if err != nil {
		id = uuid.Nil
	}
	a := &attempt{id: id, gen: s.gen[key]}
	s.inflight[key] = a

	// The attempt outlives callers that stop waiting so the cache still gets populated.
	runCtx := transport.WithAttemptID(context.WithoutCancel(ctx), id)

	s.group.Forget(key)
	return s.group.DoChan(key, func() (any, error) {
		defer s.finish(key, a, fm)
		return s.run(runCtx, req, a, stale, fm != nil)
	})
}

// finish removes the pending entry and, for forced attempts, the force marker.
func (s *AuthServiceImpl) finish(key string, a *attempt, fm *forceMarker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[key] == a {
		delete(s.inflight, key)
	}
	if fm != nil && s.force[key] == fm {
		delete(s.force, key)
	}
}

func (s *AuthServiceImpl) run(ctx context.Context, req authRequest, a *attempt, stale *model.IdentityBundle, forced bool) (*model.IdentityBundle, error) {
	log := s.log.With(
		zap.String("key", crypto.Fingerprint(req.key)),
		zap.String("attempt", a.id.String()),
	)

	if stale != nil {
		token, err := s.tr.GetBearerToken(ctx, stale.Server, stale.CookieString)
		if err == nil {
			refreshed := *stale
			refreshed.Token = token
			refreshed.LastCookieValidation = s.cfg.Now()
			s.store(req.key, a, &refreshed)
			log.Debug("session cookies revalidated")
			return &refreshed, nil
		}
		log.Info("cookie liveness check failed, re-authenticating", zap.Error(err))
		s.evict(req.key, stale)
	}

	res, err := s.authenticate(ctx, req, forced)
	if err != nil {
		log.Warn("authentication failed", zap.Bool("forced", forced), zap.Error(err))
		return nil, err
	}

	b := s.buildBundle(ctx, res)
	s.store(req.key, a, b)
	log.Info("authenticated",
		zap.Bool("forced", forced),
		zap.Int64("person", b.PersonID),
		zap.String("role", string(b.Role)),
		zap.Int("warnings", len(b.Warnings)),
	)
	return b, nil
}

func (s *AuthServiceImpl) buildBundle(ctx context.Context, res sessionResult) *model.IdentityBundle {
	sess := res.session
	warnings := append([]model.Warning(nil), res.warnings...)

	md := s.fetchAppData(ctx, sess.Server, sess.CookieString, sess.Token)
	if md.Warning != nil {
		warnings = append(warnings, *md.Warning)
	}

	role := RoleFromAppData(md.AppData)
	if role == model.RoleUnknown && sess.PersonType != "" {
		role = model.Role(strings.ToUpper(sess.PersonType))
	}

	personID := sess.PersonID
	if personID == 0 {
		if id, ok := convert.PersonID(md.AppData); ok {
			personID = id
		} else if id, ok := PersonIDFromJWT(sess.Token); ok {
			personID = id
		}
	}

	now := s.cfg.Now()
	b := &model.IdentityBundle{
		Token:                sess.Token,
		CookieString:         sess.CookieString,
		TenantID:             md.TenantID,
		SchoolYearID:         md.SchoolYearID,
		AppData:              md.AppData,
		PersonID:             personID,
		Role:                 role,
		School:               sess.School,
		Server:               sess.Server,
		ExpiresAt:            now.Add(s.cfg.TTL),
		LastCookieValidation: now,
		Warnings:             warnings,
	}
	if s.cfg.KeepRawAppData {
		b.RawAppData = md.Raw
	}
	return b
}

// store publishes b unless the key was invalidated while the attempt ran.
func (s *AuthServiceImpl) store(key string, a *attempt, b *model.IdentityBundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen[key] != a.gen {
		return
	}
	s.cache[key] = b
}

// evict drops old from the cache if it is still the published bundle.
func (s *AuthServiceImpl) evict(key string, old *model.IdentityBundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache[key] == old {
		delete(s.cache, key)
	}
}

// InvalidateCache drops the bundle and any pending attempt for key and flags it so the
// next call performs a clean login. It reports whether anything was invalidated.
func (s *AuthServiceImpl) InvalidateCache(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, cached := s.cache[key]
	_, pending := s.inflight[key]
	if !cached && !pending {
		return false
	}
	delete(s.cache, key)
	delete(s.inflight, key)
	s.group.Forget(key)
	s.gen[key]++
	s.force[key] = &forceMarker{}

	s.log.Info("auth cache invalidated",
		zap.String("key", crypto.Fingerprint(key)),
		zap.Bool("pending", pending),
	)
	return true
}

// Logout ends the backend session of the bundle cached for key and invalidates it.
// Logout never fails; problems are reported as a warning.
func (s *AuthServiceImpl) Logout(ctx context.Context, key string) model.LogoutResult {
	s.mu.Lock()
	b := s.cache[key]
	s.mu.Unlock()
	if b == nil {
		return model.LogoutResult{Warning: &model.Warning{Op: "logout", Err: errors.New("no cached session")}}
	}

	res := s.tr.Logout(ctx, b.Server, b.School, b.CookieString)
	s.InvalidateCache(key)
	return res
}

// Stats reports the cached keys (sorted) and the number of pending attempts.
func (s *AuthServiceImpl) Stats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.cache))
	for k := range s.cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return CacheStats{Size: len(keys), Keys: keys, Pending: len(s.inflight)}
}
