// Package agentconfig implements the AgentConfigManager collaborator: a
// lookup from a configId to the AgentConfig a Member references. Grounded
// on apps/backend/internal/agent/registry.Registry / DefaultAgents, with
// the Docker image/mount/resource-limit fields dropped since this config
// now only has to describe a CLI invocation, not a container.
package agentconfig

import (
	"fmt"
	"sync"
)

// ModelEntry is one selectable model for an agent type.
type ModelEntry struct {
	ID            string
	Name          string
	ContextWindow int
	IsDefault     bool
}

// AgentConfig is the per-agent-type configuration a Member's agentType
// resolves to.
type AgentConfig struct {
	ID             string
	DisplayName    string
	Description    string
	DefaultModel   string
	AvailableModels []ModelEntry
	Capabilities   []string
	Enabled        bool
}

// Manager is the AgentConfigManager collaborator.
type Manager struct {
	mu      sync.RWMutex
	configs map[string]*AgentConfig
}

// NewManager builds a manager pre-populated with DefaultConfigs.
func NewManager() *Manager {
	m := &Manager{configs: make(map[string]*AgentConfig)}
	for _, cfg := range DefaultConfigs() {
		m.configs[cfg.ID] = cfg
	}
	return m
}

// Get returns the AgentConfig for configID.
func (m *Manager) Get(configID string) (*AgentConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[configID]
	if !ok {
		return nil, fmt.Errorf("agentconfig: unknown config id %q", configID)
	}
	return cfg, nil
}

// Put registers or replaces a config, e.g. loaded from an external team
// config file the core only consumes through this interface.
func (m *Manager) Put(cfg *AgentConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.ID] = cfg
}

// List returns every registered config.
func (m *Manager) List() []*AgentConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*AgentConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, cfg)
	}
	return out
}

// DefaultConfigs mirrors registry.DefaultAgents: a starter set covering the
// three supported CLI families.
func DefaultConfigs() []*AgentConfig {
	return []*AgentConfig{
		{
			ID:          "claude",
			DisplayName: "Claude Code",
			Description: "Anthropic's Claude Code CLI agent.",
			DefaultModel: "claude-sonnet-4-5",
			AvailableModels: []ModelEntry{
				{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", ContextWindow: 200000, IsDefault: true},
				{ID: "claude-opus-4-1", Name: "Claude Opus 4.1", ContextWindow: 200000},
			},
			Capabilities: []string{"code_generation", "code_review", "shell_execution"},
			Enabled:      true,
		},
		{
			ID:          "codex",
			DisplayName: "Codex CLI",
			Description: "OpenAI's Codex CLI agent.",
			DefaultModel: "gpt-5-codex",
			AvailableModels: []ModelEntry{
				{ID: "gpt-5-codex", Name: "GPT-5 Codex", ContextWindow: 128000, IsDefault: true},
			},
			Capabilities: []string{"code_generation", "shell_execution"},
			Enabled:      true,
		},
		{
			ID:          "gemini",
			DisplayName: "Gemini CLI",
			Description: "Google's Gemini CLI agent.",
			DefaultModel: "gemini-2.5-pro",
			AvailableModels: []ModelEntry{
				{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", ContextWindow: 1000000, IsDefault: true},
			},
			Capabilities: []string{"code_generation", "web_search"},
			Enabled:      true,
		},
	}
}
