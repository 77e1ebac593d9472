package cloud

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind names a backend implementation.
type Kind string

const (
	Google     Kind = "google"
	Folderfort Kind = "folderfort"
	Dropbox    Kind = "dropbox"
	S3         Kind = "s3"
	Memory     Kind = "memory"
)

// Constructor builds a service instance bound to token. An empty token
// yields an unauthenticated instance.
type Constructor func(token string) (Service, error)

// Authenticator runs the interactive login for svc and returns the token to
// bind new instances to.
type Authenticator func(ctx context.Context, svc Service) (string, error)

// TokenStore persists tokens between runs.
type TokenStore interface {
	Token(service string) string
	SaveToken(service, token string) error
}

type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Factory resolves backend names to service instances. Registration happens
// once at startup, before Create is called concurrently.
type Factory struct {
	mu             sync.RWMutex
	constructors   map[Kind]Constructor
	authenticators map[Kind]Authenticator
	tokens         TokenStore
	logger         Logger
}

func NewFactory(tokens TokenStore, logger Logger) *Factory {
	return &Factory{
		constructors:   make(map[Kind]Constructor),
		authenticators: make(map[Kind]Authenticator),
		tokens:         tokens,
		logger:         logger,
	}
}

func (f *Factory) Register(kind Kind, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) RegisterAuthenticator(kind Kind, auth Authenticator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authenticators[kind] = auth
}

// Available returns the registered backend names, sorted.
func (f *Factory) Available() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.constructors))
	for kind := range f.constructors {
		names = append(names, string(kind))
	}
	sort.Strings(names)
	return names
}

func (f *Factory) lookup(name string) (Kind, Constructor, Authenticator, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(name)))
	f.mu.RLock()
	ctor, ok := f.constructors[kind]
	auth := f.authenticators[kind]
	f.mu.RUnlock()
	if !ok {
		return kind, nil, nil, NewServiceError("factory",
			fmt.Sprintf("Service '%s' not available. Available: %s", name, strings.Join(f.Available(), ", ")), nil)
	}
	return kind, ctor, auth, nil
}

// Create returns a service for name. Without autoAuthenticate the instance
// carries no token and callers must authenticate it explicitly. With it, the
// stored token is attached and an instance that still reports itself
// unauthenticated goes through the registered interactive login first.
func (f *Factory) Create(ctx context.Context, name string, autoAuthenticate bool) (Service, error) {
	kind, ctor, auth, err := f.lookup(name)
	if err != nil {
		return nil, err
	}
	if !autoAuthenticate {
		return ctor("")
	}

	token := f.storedToken(kind)
	svc, err := ctor(token)
	if err != nil {
		return nil, err
	}
	if svc.IsAuthenticated() || auth == nil {
		return svc, nil
	}

	if f.logger != nil {
		f.logger.Infof("Service '%s' is not authenticated, starting login", kind)
	}
	token, err = auth(ctx, svc)
	if err != nil {
		if IsAuthError(err) {
			return nil, err
		}
		return nil, &AuthenticationError{ServiceError{Service: string(kind), Message: "authentication failed", Err: err}}
	}
	if f.tokens != nil {
		if err := f.tokens.SaveToken(string(kind), token); err != nil && f.logger != nil {
			f.logger.Errorf("Failed to save token for '%s': %v", kind, err)
		}
	}
	return ctor(token)
}

// CreateStored returns a service bound to whatever token is stored for name,
// possibly none. It never prompts, so servers and background jobs use it.
func (f *Factory) CreateStored(name string) (Service, error) {
	kind, ctor, _, err := f.lookup(name)
	if err != nil {
		return nil, err
	}
	return ctor(f.storedToken(kind))
}

func (f *Factory) storedToken(kind Kind) string {
	if f.tokens == nil {
		return ""
	}
	return f.tokens.Token(string(kind))
}

// CreateWithToken returns a service bound to an explicit token.
func (f *Factory) CreateWithToken(name, token string) (Service, error) {
	_, ctor, _, err := f.lookup(name)
	if err != nil {
		return nil, err
	}
	return ctor(token)
}
