package actor

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed profiles/default.yaml
var defaultCast []byte

// CastSpec is the on-disk profile file: the NPC and the player character.
type CastSpec struct {
	NPC    NPCProfile `yaml:"npc"`
	Player PCSpec     `yaml:"player"`
}

// Cast is a loaded, validated CastSpec with both d20 sheets built.
type Cast struct {
	NPC    *NPC
	Player *PC
}

// ParseCast decodes a YAML profile and builds both characters.
func ParseCast(data []byte) (*Cast, error) {
	var spec CastSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	npc, err := NewNPCFromProfile(&spec.NPC)
	if err != nil {
		return nil, err
	}
	pc, err := NewPCFromSpec(&spec.Player)
	if err != nil {
		return nil, err
	}
	return &Cast{NPC: npc, Player: pc}, nil
}

// LoadCast reads a YAML profile from path. An empty path loads the built-in
// default profile.
func LoadCast(path string) (*Cast, error) {
	if path == "" {
		return DefaultCast()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}
	return ParseCast(data)
}

// DefaultCast returns the built-in profile.
func DefaultCast() (*Cast, error) {
	return ParseCast(defaultCast)
}
