// Package credentials resolves the API keys and session tokens an agent
// family's adapter requires before it can be spawned, so a missing key
// surfaces as apperrors.AuthMissing instead of a bare process-spawn failure.
// Grounded on the teacher's agent/credentials package (Manager/
// CredentialProvider/EnvProvider), trimmed of the file- and
// vault-backed providers that don't apply to a direct CLI subprocess.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/converse/internal/common/logger"
)

// Credential is one resolved secret value.
type Credential struct {
	Key    string
	Value  string
	Source string
}

// Provider resolves credentials from one backing source.
type Provider interface {
	GetCredential(ctx context.Context, key string) (*Credential, error)
	ListAvailable(ctx context.Context) ([]string, error)
	Name() string
}

// Manager resolves credentials across an ordered list of providers, caching
// successful lookups.
type Manager struct {
	mu        sync.RWMutex
	providers []Provider
	cache     map[string]*Credential
	logger    *logger.Logger
}

// NewManager builds an empty credentials manager; call AddProvider to wire
// in a lookup source.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		cache:  make(map[string]*Credential),
		logger: log.WithFields(zap.String("component", "credentials")),
	}
}

// AddProvider appends provider to the lookup chain.
func (m *Manager) AddProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, provider)
	m.logger.Info("added credential provider", zap.String("provider", provider.Name()))
}

// GetCredential resolves key against the cache, then each provider in order.
func (m *Manager) GetCredential(ctx context.Context, key string) (*Credential, error) {
	m.mu.RLock()
	if cred, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return cred, nil
	}
	providers := m.providers
	m.mu.RUnlock()

	for _, provider := range providers {
		cred, err := provider.GetCredential(ctx, key)
		if err == nil {
			m.mu.Lock()
			m.cache[key] = cred
			m.mu.Unlock()
			return cred, nil
		}
	}
	return nil, fmt.Errorf("credentials: %q not found", key)
}

// HasCredential reports whether key resolves against any provider.
func (m *Manager) HasCredential(ctx context.Context, key string) bool {
	_, err := m.GetCredential(ctx, key)
	return err == nil
}

// ResolveEnv resolves every key in required into a "KEY=value" slice,
// returning the first missing key as an error so the caller (the agent
// manager, ahead of spawning a process) can report precisely which
// credential the member's agent family is missing.
func (m *Manager) ResolveEnv(ctx context.Context, required []string) ([]string, string, error) {
	env := make([]string, 0, len(required))
	for _, key := range required {
		cred, err := m.GetCredential(ctx, key)
		if err != nil {
			return nil, key, err
		}
		env = append(env, fmt.Sprintf("%s=%s", cred.Key, cred.Value))
	}
	return env, "", nil
}

// ListAvailable returns the union of every provider's available keys.
func (m *Manager) ListAvailable(ctx context.Context) []string {
	m.mu.RLock()
	providers := m.providers
	m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, provider := range providers {
		keys, err := provider.ListAvailable(ctx)
		if err != nil {
			m.logger.Warn("failed to list credentials", zap.String("provider", provider.Name()), zap.Error(err))
			continue
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}

// EnvProvider resolves credentials directly from the process environment,
// optionally under a prefix (e.g. "CONVERSE_ANTHROPIC_API_KEY" as a fallback
// for "ANTHROPIC_API_KEY").
type EnvProvider struct {
	prefix string
}

// NewEnvProvider builds an EnvProvider. An empty prefix disables the
// prefixed fallback lookup.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "environment" }

func (p *EnvProvider) GetCredential(ctx context.Context, key string) (*Credential, error) {
	if value := os.Getenv(key); value != "" {
		return &Credential{Key: key, Value: value, Source: "environment"}, nil
	}
	if p.prefix != "" {
		if value := os.Getenv(p.prefix + key); value != "" {
			return &Credential{Key: key, Value: value, Source: "environment"}, nil
		}
	}
	return nil, fmt.Errorf("credentials: env var %q not set", key)
}

// ListAvailable scans the environment for variable names that look like API
// keys or tokens, stripping the configured prefix if present.
func (p *EnvProvider) ListAvailable(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, entry := range os.Environ() {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || v == "" {
			continue
		}
		lower := strings.ToLower(k)
		if !strings.Contains(lower, "api_key") && !strings.Contains(lower, "apikey") &&
			!strings.Contains(lower, "_token") && !strings.Contains(lower, "_secret") {
			continue
		}
		if p.prefix != "" && strings.HasPrefix(k, p.prefix) {
			k = strings.TrimPrefix(k, p.prefix)
		}
		seen[k] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out, nil
}
