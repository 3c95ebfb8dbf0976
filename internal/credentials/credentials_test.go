package credentials

import (
	"context"
	"os"
	"testing"

	"github.com/kandev/converse/internal/common/logger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return NewManager(log)
}

func TestEnvProviderExactMatch(t *testing.T) {
	t.Setenv("CONVERSE_TEST_API_KEY", "secret-value")

	m := newTestManager(t)
	m.AddProvider(NewEnvProvider(""))

	cred, err := m.GetCredential(context.Background(), "CONVERSE_TEST_API_KEY")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if cred.Value != "secret-value" {
		t.Fatalf("unexpected value: %q", cred.Value)
	}
}

func TestEnvProviderPrefixedFallback(t *testing.T) {
	t.Setenv("MYAPP_ANTHROPIC_API_KEY", "prefixed-value")

	m := newTestManager(t)
	m.AddProvider(NewEnvProvider("MYAPP_"))

	cred, err := m.GetCredential(context.Background(), "ANTHROPIC_API_KEY")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if cred.Value != "prefixed-value" {
		t.Fatalf("unexpected value: %q", cred.Value)
	}
}

func TestResolveEnvReportsFirstMissingKey(t *testing.T) {
	t.Setenv("PRESENT_KEY", "value")

	m := newTestManager(t)
	m.AddProvider(NewEnvProvider(""))

	_, missing, err := m.ResolveEnv(context.Background(), []string{"PRESENT_KEY", "MISSING_KEY"})
	if err == nil {
		t.Fatal("expected an error for the missing key")
	}
	if missing != "MISSING_KEY" {
		t.Fatalf("expected missing key to be reported, got %q", missing)
	}
}

func TestGetCredentialCachesAcrossProviders(t *testing.T) {
	t.Setenv("CACHED_KEY", "value")

	m := newTestManager(t)
	m.AddProvider(NewEnvProvider(""))

	first, err := m.GetCredential(context.Background(), "CACHED_KEY")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}

	os.Unsetenv("CACHED_KEY")
	second, err := m.GetCredential(context.Background(), "CACHED_KEY")
	if err != nil {
		t.Fatalf("expected cached credential to still resolve, got error: %v", err)
	}
	if first.Value != second.Value {
		t.Fatalf("expected cached value to match: %q vs %q", first.Value, second.Value)
	}
}
