// Package teamconfig loads a team definition file (the one piece of "team
// config storage" the core consumes only through model.Team, never owns)
// into the domain model. Grounded on the teacher's config package's
// file-plus-defaults loading convention, trimmed to the single YAML decode
// a team roster needs rather than viper's full precedence chain.
package teamconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kandev/converse/internal/model"
)

// memberFile is the on-disk shape of one team member; it decouples the YAML
// schema from model.Member the way internal/httpapi/requests.go decouples
// the wire schema from the domain type.
type memberFile struct {
	ID                string            `yaml:"id"`
	Name              string            `yaml:"name"`
	DisplayName       string            `yaml:"display_name"`
	Role              string            `yaml:"role"` // "ai" | "human"
	Order             int               `yaml:"order"`
	AgentType         string            `yaml:"agent_type"`
	SystemInstruction string            `yaml:"system_instruction"`
	EnvOverrides      map[string]string `yaml:"env_overrides"`
	ExtraArgs         []string          `yaml:"extra_args"`
	ThemeColor        string            `yaml:"theme_color"`
	InstructionFile   string            `yaml:"instruction_file"`
	Sandboxed         bool              `yaml:"sandboxed"`
}

type teamFile struct {
	ID      string       `yaml:"id"`
	Name    string       `yaml:"name"`
	Members []memberFile `yaml:"members"`
}

// Load reads a YAML team definition from path and converts it to a
// model.Team. Every member needs a non-empty id and a role of "ai" or
// "human"; an "ai" member additionally needs an agentType the agentfamily
// factory recognizes (checked later, at dispatch time, not here).
func Load(path string) (*model.Team, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("teamconfig: read %q: %w", path, err)
	}

	var tf teamFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("teamconfig: parse %q: %w", path, err)
	}

	if len(tf.Members) == 0 {
		return nil, fmt.Errorf("teamconfig: %q defines no members", path)
	}

	team := &model.Team{ID: tf.ID, Name: tf.Name}
	for i, mf := range tf.Members {
		if mf.ID == "" {
			return nil, fmt.Errorf("teamconfig: member %d in %q has no id", i, path)
		}

		var role model.Role
		switch mf.Role {
		case "ai":
			role = model.RoleAI
		case "human":
			role = model.RoleHuman
		default:
			return nil, fmt.Errorf("teamconfig: member %q has unknown role %q (want ai|human)", mf.ID, mf.Role)
		}
		if role == model.RoleAI && mf.AgentType == "" {
			return nil, fmt.Errorf("teamconfig: ai member %q has no agent_type", mf.ID)
		}

		team.Members = append(team.Members, &model.Member{
			ID:                mf.ID,
			Name:              mf.Name,
			DisplayName:       mf.DisplayName,
			Role:              role,
			Order:             mf.Order,
			AgentType:         mf.AgentType,
			SystemInstruction: mf.SystemInstruction,
			EnvOverrides:      mf.EnvOverrides,
			ExtraArgs:         mf.ExtraArgs,
			ThemeColor:        mf.ThemeColor,
			InstructionFile:   mf.InstructionFile,
			Sandboxed:         mf.Sandboxed,
		})
	}

	return team, nil
}
