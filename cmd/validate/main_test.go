package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validProfile = `
npc:
  name: Maren
  protected: true
  stats: {wisdom: 14}
  open_topics: [weather]
  protected_topics: [altar_vault]
  deflection_lines: ["Not now."]
  suspicion_lines: ["Leave."]
  situational_rules:
    - description: respect
      actions: [persuade]
      topics: [weather]
      bonus: 1
player:
  skills: {persuasion: 2}
`

func TestValidate_DefaultProfile(t *testing.T) {
	v := &ProfileValidator{}
	require.NoError(t, v.validateFile(filepath.Join("..", "..", "pkg", "actor", "profiles", "default.yaml")))
}

func TestValidate_ValidProfile(t *testing.T) {
	v := &ProfileValidator{}
	assert.NoError(t, v.validate("npc.yaml", []byte(validProfile)))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		wantErr string
	}{
		{
			name:    "unknown field",
			profile: "npc:\n  name: Maren\n  mood: grumpy\n  deflection_lines: [x]\n",
			wantErr: "strict YAML decoding",
		},
		{
			name:    "loader rejects missing deflections",
			profile: "npc:\n  name: Maren\n",
			wantErr: "deflection line",
		},
		{
			name:    "blank deflection line",
			profile: "npc:\n  name: Maren\n  deflection_lines: [\"\"]\n",
			wantErr: "deflection line 0 is blank",
		},
		{
			name:    "whitespace suspicion line",
			profile: "npc:\n  name: Maren\n  protected: true\n  protected_topics: [past]\n  deflection_lines: [x]\n  suspicion_lines: [x, \"  \"]\n",
			wantErr: "suspicion line 1 is blank",
		},
		{
			name: "unknown rule action",
			profile: `
npc:
  name: Maren
  deflection_lines: [x]
  situational_rules:
    - description: flattery
      actions: [flatter]
      bonus: 1
`,
			wantErr: `unknown action "flatter"`,
		},
		{
			name: "topic not normalized",
			profile: `
npc:
  name: Maren
  deflection_lines: [x]
  open_topics: [Shrine History]
`,
			wantErr: `should be written "shrine_history"`,
		},
		{
			name: "topic open and protected",
			profile: `
npc:
  name: Maren
  protected: true
  deflection_lines: [x]
  suspicion_lines: [y]
  open_topics: [relic]
  protected_topics: [relic]
`,
			wantErr: `"relic" is both open and protected`,
		},
		{
			name: "unused player skill",
			profile: `
npc:
  name: Maren
  deflection_lines: [x]
player:
  skills: {athletics: 3}
`,
			wantErr: `player skill "athletics"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &ProfileValidator{}
			err := v.validate("npc.yaml", []byte(tt.profile))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateFile_Extension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "npc.json")
	require.NoError(t, os.WriteFile(path, []byte(validProfile), 0o600))

	v := &ProfileValidator{}
	err := v.validateFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".yaml or .yml")
}
