package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/badoux/checkmail"
	"github.com/golang-jwt/jwt"
	"github.com/jonboulle/clockwork"

	"github.com/arafsarkar/bazarbook/internal/api"
	"github.com/arafsarkar/bazarbook/internal/secure"
)

var (
	ErrInvalidToken = errors.New("access token is invalid")
	ErrExpiredToken = errors.New("access token is expired")
	ErrInvalidEmail = errors.New("email address is not valid")
)

// State is the identity session's explicit three-state model. Unknown means
// the stored credential has not been resolved yet; caches must not clear
// themselves on Unknown.
type State int

const (
	StateUnknown State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

type User struct {
	ID    string
	Email string
	Name  string
	Role  string
}

type accessTokenClaims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	jwt.StandardClaims
}

// Session owns the current authenticated identity. It persists the bearer
// token through the secure store and notifies subscribers on every state
// transition; each transition bumps the epoch so in-flight responses issued
// under an older identity can be discarded.
type Session struct {
	mu          sync.RWMutex
	store       *secure.Store
	client      *api.Client
	clock       clockwork.Clock
	state       State
	user        *User
	epoch       uint64
	subscribers []func(State)
}

func New(store *secure.Store, client *api.Client, clock clockwork.Clock) *Session {
	return &Session{
		store:  store,
		client: client,
		clock:  clock,
		state:  StateUnknown,
	}
}

// Load resolves the stored credential at startup. An expired or malformed
// token is discarded, exactly as if the user had logged out.
func (s *Session) Load() error {
	token, err := s.store.Get(secure.KeyAccessToken)
	if err != nil {
		return err
	}
	if token == "" {
		s.transition(StateUnauthenticated, nil)
		return nil
	}

	user, err := s.decodeUser(token)
	if err != nil {
		log.Printf("Stored token rejected: %v", err)
		return s.Logout()
	}
	s.transition(StateAuthenticated, user)
	return nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (s *Session) Login(ctx context.Context, email, password string) error {
	if err := checkmail.ValidateFormat(email); err != nil {
		return ErrInvalidEmail
	}

	var resp tokenResponse
	if err := s.client.Post(ctx, "/auth/login", credentials{Email: email, Password: password}, &resp); err != nil {
		return err
	}
	return s.acceptToken(resp.Token)
}

// Register creates an account. The backend issues a token on success, so a
// successful registration also signs the user in.
func (s *Session) Register(ctx context.Context, name, email, password string) error {
	if err := checkmail.ValidateFormat(email); err != nil {
		return ErrInvalidEmail
	}

	var resp tokenResponse
	if err := s.client.Post(ctx, "/auth/register", registration{Name: name, Email: email, Password: password}, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		return nil
	}
	return s.acceptToken(resp.Token)
}

func (s *Session) acceptToken(token string) error {
	user, err := s.decodeUser(token)
	if err != nil {
		return err
	}
	if err := s.store.Set(secure.KeyAccessToken, token); err != nil {
		return err
	}
	s.transition(StateAuthenticated, user)
	return nil
}

func (s *Session) Logout() error {
	if err := s.store.Delete(secure.KeyAccessToken); err != nil {
		return err
	}
	s.transition(StateUnauthenticated, nil)
	return nil
}

func (s *Session) decodeUser(token string) (*User, error) {
	claims := &accessTokenClaims{}
	parser := jwt.Parser{}
	// The client holds no signing secret; the backend verifies the token on
	// every request. We only read the claims and reject obvious expiry.
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt != 0 && claims.ExpiresAt < s.clock.Now().Unix() {
		return nil, ErrExpiredToken
	}
	if claims.ID == "" {
		return nil, ErrInvalidToken
	}

	name := claims.Name
	if name == "" {
		name = strings.SplitN(claims.Email, "@", 2)[0]
	}
	return &User{
		ID:    claims.ID,
		Email: claims.Email,
		Name:  name,
		Role:  claims.Role,
	}, nil
}

func (s *Session) transition(state State, user *User) {
	s.mu.Lock()
	changed := s.state != state || state == StateAuthenticated
	s.state = state
	s.user = user
	if changed {
		s.epoch++
	}
	subscribers := make([]func(State), len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range subscribers {
		fn(state)
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// User returns the current identity; ok is false unless authenticated.
func (s *Session) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateAuthenticated || s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// Epoch increases on every identity transition. Callers snapshot it before a
// slow operation and drop the result if it moved.
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// OnChange registers a subscriber invoked after every state transition.
// Subscribers run synchronously on the transitioning goroutine.
func (s *Session) OnChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Session) CompleteOnboarding() error {
	return s.store.Set(secure.KeyHasLaunched, "true")
}

func (s *Session) HasOnboarded() (bool, error) {
	v, err := s.store.Get(secure.KeyHasLaunched)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// TokenTTL reports how long the stored token remains valid, zero when there
// is none or it carries no expiry.
func (s *Session) TokenTTL() time.Duration {
	token, err := s.store.Get(secure.KeyAccessToken)
	if err != nil || token == "" {
		return 0
	}
	claims := &accessTokenClaims{}
	parser := jwt.Parser{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil || claims.ExpiresAt == 0 {
		return 0
	}
	ttl := time.Unix(claims.ExpiresAt, 0).Sub(s.clock.Now())
	if ttl < 0 {
		return 0
	}
	return ttl
}
