// Package auth registers identities, issues session tokens and verifies them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	httpxmiddleware "file-server-go/internal/httpx/middleware"
	"file-server-go/internal/identity"
	"file-server-go/internal/session"
	"file-server-go/internal/workspace"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// DefaultTokenTTL is the lifetime of issued tokens.
const DefaultTokenTTL = time.Hour

// dummyHash is compared against when the username is unknown so that both
// paths cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("file-server-dummy-password"), bcrypt.DefaultCost)

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Fields, ", ")
}

// RegisterRequest is the registration payload.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,identityname"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Email    string `json:"email" validate:"required,email,max=254"`
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=72"`
}

// User is the public view of an identity.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func userOf(ident identity.Identity) User {
	return User{ID: ident.ID, Username: ident.Name, Email: ident.Email}
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

// Claims are the JWT claims of a session token. The registered ID claim
// (jti) names the server-side session.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Config configures the auth service.
type Config struct {
	Secret   []byte
	TokenTTL time.Duration
	Issuer   string
}

// Service implements registration, login and token verification.
type Service struct {
	identities *identity.Store
	resolver   *workspace.Resolver
	sessions   *session.Store
	validate   *validator.Validate
	secret     []byte
	ttl        time.Duration
	issuer     string
	now        func() time.Time
}

// NewService creates an auth service. The secret must not be empty.
func NewService(cfg Config, identities *identity.Store, resolver *workspace.Resolver, sessions *session.Store) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "file-server"
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("identityname", func(fl validator.FieldLevel) bool {
		return workspace.ValidIdentityName(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("auth: register validation: %w", err)
	}

	return &Service{
		identities: identities,
		resolver:   resolver,
		sessions:   sessions,
		validate:   v,
		secret:     cfg.Secret,
		ttl:        cfg.TokenTTL,
		issuer:     cfg.Issuer,
		now:        time.Now,
	}, nil
}

func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
	}
	return &ValidationError{Fields: fields}
}

// Register creates an identity and its storage root.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (User, error) {
	if err := s.check(req); err != nil {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	// The root comes first so a failed mkdir never leaves an identity without
	// storage. An orphaned directory is reused by the next registration.
	if _, err := s.resolver.EnsureRoot(req.Username); err != nil {
		return User{}, fmt.Errorf("create storage root: %w", err)
	}

	ident, err := s.identities.Create(ctx, identity.Identity{
		Name:         req.Username,
		Email:        req.Email,
		PasswordHash: hash,
	})
	if errors.Is(err, identity.ErrExists) {
		return User{}, ErrUsernameTaken
	}
	if err != nil {
		return User{}, err
	}
	return userOf(ident), nil
}

// Login verifies credentials and issues a token bound to a new session.
func (s *Service) Login(ctx context.Context, req LoginRequest, info session.Info) (LoginResult, error) {
	if err := s.check(req); err != nil {
		return LoginResult{}, err
	}

	ident, err := s.identities.Get(ctx, req.Username)
	if errors.Is(err, identity.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword(ident.PasswordHash, []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	info.IdentityID = ident.ID
	info.Username = ident.Name
	sess := s.sessions.Create(info)

	expiresAt := time.UnixMilli(sess.ExpiresAt)
	if ttlEnd := s.now().Add(s.ttl); ttlEnd.Before(expiresAt) {
		expiresAt = ttlEnd
	}

	claims := Claims{
		Username: ident.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Subject:   ident.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		s.sessions.Delete(sess.ID)
		return LoginResult{}, fmt.Errorf("sign token: %w", err)
	}

	return LoginResult{Token: token, ExpiresAt: expiresAt, User: userOf(ident)}, nil
}

// ParseToken verifies the signature and expiry of token.
func (s *Service) ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" || claims.Subject == "" || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate implements httpxmiddleware.Authenticator. A token is accepted
// only while its session is alive.
func (s *Service) Authenticate(ctx context.Context, token string) (httpxmiddleware.Principal, error) {
	claims, err := s.ParseToken(token)
	if err != nil {
		return httpxmiddleware.Principal{}, err
	}

	sess, ok := s.sessions.Get(claims.ID)
	if !ok || sess.IdentityID != claims.Subject {
		return httpxmiddleware.Principal{}, ErrInvalidToken
	}

	return httpxmiddleware.Principal{
		ID:      claims.Subject,
		Name:    sess.Username,
		TokenID: claims.ID,
		Token:   token,
	}, nil
}

// Logout revokes the session named by tokenID.
func (s *Service) Logout(tokenID string) {
	s.sessions.Delete(tokenID)
}

// User returns the public view of the identity with the given ID.
func (s *Service) User(ctx context.Context, id string) (User, error) {
	ident, err := s.identities.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	return userOf(ident), nil
}
