// Package authclient holds the client's authentication state: the bearer
// token, the identity it belongs to, and the hook that drops both when the
// backend answers 401.
package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"productsearch/internal/transport"
	"productsearch/internal/util"
	"productsearch/pkg/clienterr"
	"productsearch/pkg/domain"
	"productsearch/pkg/kv"
)

// Keys of the two persisted entries. They are always written and cleared
// together.
const (
	TokenKey = "access_token"
	UserKey  = "user_info"
)

// Store is the AuthStore: it owns the bearer token and user identity and
// mirrors them into durable storage.
type Store struct {
	api     *transport.Client
	storage kv.Store
	now     func() time.Time

	// writeMu orders state changes together with their storage writes, so
	// storage always ends in the state of the last change made in memory.
	writeMu sync.Mutex

	mu    sync.RWMutex
	token string
	user  domain.User
}

// NewStore builds an unauthenticated store. Call Restore to load persisted
// credentials.
func NewStore(api *transport.Client, storage kv.Store) *Store {
	if storage == nil {
		storage = kv.NewMemoryStore()
	}
	return &Store{api: api, storage: storage, now: time.Now}
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Email       string `json:"email"`
	UserID      string `json:"user_id"`
}

// Login exchanges credentials for a token, then stores and persists it.
func (s *Store) Login(ctx context.Context, username, password string) (domain.AuthSession, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.AuthSession{}, &clienterr.Error{Kind: clienterr.KindAuth, Message: "username and password are required"}
	}
	var resp loginResponse
	creds := domain.Credentials{Username: username, Password: password}
	if err := s.api.DoAnonymousJSON(ctx, http.MethodPost, "/auth/login", creds, &resp); err != nil {
		util.LoggerFromContext(ctx).Info("login rejected", "username", username, "status", clienterr.StatusOf(err))
		return domain.AuthSession{}, transport.Failure(clienterr.KindAuth, "login failed", err)
	}
	token := strings.TrimSpace(resp.AccessToken)
	if token == "" {
		return domain.AuthSession{}, &clienterr.Error{Kind: clienterr.KindAuth, Message: "login failed: no access token in response"}
	}
	user := domain.User{
		Username: username,
		Email:    strings.TrimSpace(resp.Email),
		UserID:   strings.TrimSpace(resp.UserID),
	}
	if user.Email == "" {
		user.Email = username
	}
	if user.UserID == "" {
		user.UserID = tokenSubject(token)
	}

	s.writeMu.Lock()
	s.mu.Lock()
	s.token = token
	s.user = user
	s.mu.Unlock()
	if err := s.persist(ctx, token, user); err != nil {
		util.LoggerFromContext(ctx).Warn("persist credentials failed", "err", err)
	}
	s.writeMu.Unlock()
	util.LoggerFromContext(ctx).Info("logged in", "username", username, "user_id", user.UserID)
	return domain.AuthSession{Token: token, User: user}, nil
}

// Signup registers a new account. It does not log in.
func (s *Store) Signup(ctx context.Context, req domain.SignupRequest) error {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Password == "" {
		return &clienterr.Error{Kind: clienterr.KindAuth, Message: "username and password are required"}
	}
	if req.Email == "" {
		req.Email = req.Username
	}
	if err := s.api.DoAnonymousJSON(ctx, http.MethodPost, "/auth/signup", req, nil); err != nil {
		return transport.Failure(clienterr.KindAuth, "signup failed", err)
	}
	util.LoggerFromContext(ctx).Info("signed up", "username", req.Username)
	return nil
}

// Logout clears in-memory and persisted state. Safe to call repeatedly.
func (s *Store) Logout(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.clearMemory()
	s.clearPersisted(ctx)
}

func (s *Store) clearMemory() {
	s.mu.Lock()
	s.token = ""
	s.user = domain.User{}
	s.mu.Unlock()
}

// ExpireToken logs out only if token is still the held token. It reports
// whether this call performed the logout.
func (s *Store) ExpireToken(ctx context.Context, token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	if s.token == "" || s.token != token {
		s.mu.Unlock()
		return false
	}
	s.token = ""
	s.user = domain.User{}
	s.mu.Unlock()
	s.clearPersisted(ctx)
	return true
}

// IsAuthenticated reports whether a token is held.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// Token returns the held token or "".
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Session returns a snapshot of the current session.
func (s *Store) Session() (domain.AuthSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return domain.AuthSession{}, false
	}
	return domain.AuthSession{Token: s.token, User: s.user}, true
}

// Restore loads persisted credentials. Missing or corrupt entries, or a token
// that has already expired, leave the store unauthenticated and are cleared.
// A storage read error also leaves it unauthenticated but keeps the entries
// for the next attempt. It never fails.
func (s *Store) Restore(ctx context.Context) {
	logger := util.LoggerFromContext(ctx)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	session, err := s.load(ctx)
	if err != nil {
		s.clearMemory()
		if !isUnusable(err) {
			logger.Warn("read persisted credentials failed", "err", err)
			return
		}
		logger.Info("no usable persisted credentials", "reason", err.Error())
		s.clearPersisted(ctx)
		return
	}
	s.mu.Lock()
	s.token = session.Token
	s.user = session.User
	s.mu.Unlock()
	logger.Debug("restored credentials", "username", session.User.Username)
}

var (
	errNoToken      = errors.New("token missing")
	errNoUser       = errors.New("user info missing")
	errCorruptUser  = errors.New("user info corrupt")
	errTokenExpired = errors.New("token expired")
)

func isUnusable(err error) bool {
	return errors.Is(err, errNoToken) || errors.Is(err, errNoUser) ||
		errors.Is(err, errCorruptUser) || errors.Is(err, errTokenExpired)
}

func (s *Store) load(ctx context.Context) (domain.AuthSession, error) {
	token, ok, err := s.storage.Get(ctx, TokenKey)
	if err != nil {
		return domain.AuthSession{}, err
	}
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return domain.AuthSession{}, errNoToken
	}
	raw, ok, err := s.storage.Get(ctx, UserKey)
	if err != nil {
		return domain.AuthSession{}, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return domain.AuthSession{}, errNoUser
	}
	var user domain.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil || strings.TrimSpace(user.Username) == "" {
		return domain.AuthSession{}, errCorruptUser
	}
	if tokenExpired(token, s.now()) {
		return domain.AuthSession{}, errTokenExpired
	}
	return domain.AuthSession{Token: token, User: user}, nil
}

func (s *Store) persist(ctx context.Context, token string, user domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.storage.SetMany(ctx, map[string]string{
		TokenKey: token,
		UserKey:  string(data),
	})
}

func (s *Store) clearPersisted(ctx context.Context) {
	if err := s.storage.Delete(ctx, TokenKey, UserKey); err != nil {
		util.LoggerFromContext(ctx).Warn("clear persisted credentials failed", "err", err)
	}
}

// tokenExpired reports whether token is a JWT whose exp lies in the past.
// Opaque tokens are never considered expired; the backend decides.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}

func tokenSubject(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	if id, ok := claims["user_id"].(string); ok && id != "" {
		return id
	}
	sub, _ := claims.GetSubject()
	return sub
}
