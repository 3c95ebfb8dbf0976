// Package agentfamily implements the AdapterFactory collaborator: given a
// Member's agentType, produce the concrete command line and stream parser
// for that CLI family. Grounded on the teacher's
// apps/backend/internal/agent/registry.AgentTypeConfig, trimmed of the
// Docker-image/mount fields that don't apply to a direct subprocess.
package agentfamily

import (
	"fmt"

	"github.com/kandev/converse/internal/model"
	"github.com/kandev/converse/internal/stream"
)

// Config is the per-family launch recipe.
type Config struct {
	AgentType     string
	Binary        string
	BaseArgs      []string
	RequiredEnv   []string
	ModelFlag     string
	WorkspaceFlag string
}

// Adapter produces the concrete launch spec and parser for one member.
type Adapter interface {
	AgentType() string
	Binary() string
	RequiredEnv() []string
	BuildArgs(member *model.Member, workspacePath string) []string
	NewParser() stream.Parser
}

// Factory resolves an agentType to its Adapter.
type Factory struct {
	adapters map[string]Adapter
}

// NewFactory builds the default factory covering claude/codex/gemini.
func NewFactory() *Factory {
	f := &Factory{adapters: make(map[string]Adapter)}
	f.Register(claudeAdapter{cfg: Config{
		AgentType:     "claude",
		Binary:        "claude",
		BaseArgs:      []string{"--output-format", "stream-json", "--verbose"},
		RequiredEnv:   []string{"ANTHROPIC_API_KEY"},
		ModelFlag:     "--model",
		WorkspaceFlag: "--add-dir",
	}})
	f.Register(codexAdapter{cfg: Config{
		AgentType:     "codex",
		Binary:        "codex",
		BaseArgs:      []string{"proto"},
		RequiredEnv:   []string{"OPENAI_API_KEY"},
		ModelFlag:     "--model",
		WorkspaceFlag: "--cd",
	}})
	f.Register(geminiAdapter{cfg: Config{
		AgentType:     "gemini",
		Binary:        "gemini",
		BaseArgs:      []string{"--output-format", "json"},
		RequiredEnv:   []string{"GEMINI_API_KEY"},
		ModelFlag:     "--model",
		WorkspaceFlag: "--include-directories",
	}})
	return f
}

// Register adds or replaces the adapter for an agent type.
func (f *Factory) Register(a Adapter) {
	f.adapters[a.AgentType()] = a
}

// Create resolves an agentType to its Adapter.
func (f *Factory) Create(agentType string) (Adapter, error) {
	a, ok := f.adapters[agentType]
	if !ok {
		return nil, fmt.Errorf("agentfamily: unknown agent type %q", agentType)
	}
	return a, nil
}

type claudeAdapter struct{ cfg Config }

func (a claudeAdapter) AgentType() string     { return a.cfg.AgentType }
func (a claudeAdapter) Binary() string       { return a.cfg.Binary }
func (a claudeAdapter) RequiredEnv() []string { return a.cfg.RequiredEnv }
func (a claudeAdapter) NewParser() stream.Parser { return stream.NewClaudeParser() }
func (a claudeAdapter) BuildArgs(member *model.Member, workspacePath string) []string {
	args := append([]string(nil), a.cfg.BaseArgs...)
	if workspacePath != "" {
		args = append(args, a.cfg.WorkspaceFlag, workspacePath)
	}
	args = append(args, member.ExtraArgs...)
	return args
}

type codexAdapter struct{ cfg Config }

func (a codexAdapter) AgentType() string     { return a.cfg.AgentType }
func (a codexAdapter) Binary() string       { return a.cfg.Binary }
func (a codexAdapter) RequiredEnv() []string { return a.cfg.RequiredEnv }
func (a codexAdapter) NewParser() stream.Parser { return stream.NewCodexParser() }
func (a codexAdapter) BuildArgs(member *model.Member, workspacePath string) []string {
	args := append([]string(nil), a.cfg.BaseArgs...)
	if workspacePath != "" {
		args = append(args, a.cfg.WorkspaceFlag, workspacePath)
	}
	args = append(args, member.ExtraArgs...)
	return args
}

type geminiAdapter struct{ cfg Config }

func (a geminiAdapter) AgentType() string     { return a.cfg.AgentType }
func (a geminiAdapter) Binary() string       { return a.cfg.Binary }
func (a geminiAdapter) RequiredEnv() []string { return a.cfg.RequiredEnv }
func (a geminiAdapter) NewParser() stream.Parser { return stream.NewGeminiParser() }
func (a geminiAdapter) BuildArgs(member *model.Member, workspacePath string) []string {
	args := append([]string(nil), a.cfg.BaseArgs...)
	if workspacePath != "" {
		args = append(args, a.cfg.WorkspaceFlag, workspacePath)
	}
	args = append(args, member.ExtraArgs...)
	return args
}
