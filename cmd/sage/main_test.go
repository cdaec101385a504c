package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRulesValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "7"
matchThreshold: 1.5
possibleMatchThreshold: 1.0
rules:
  - {name: family, matcher: string, weight: 1.0, appliesTo: "name[0].family", blocking: true}
  - {name: dob, matcher: date, weight: 0.6, appliesTo: birthDate, blocking: true}
`), 0o600))

	out, err := runCommand(t, "rules", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, `version "7", 2 rules`)
	assert.Contains(t, out, "family")
	assert.Contains(t, out, "warning:")
}

func TestRulesValidate_DefaultRuleSet(t *testing.T) {
	out, err := runCommand(t, "rules", "validate", filepath.Join("..", "..", "rules.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "9 rules")
	assert.NotContains(t, out, "warning:")
}

func TestRulesValidate_Rejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"matchThreshold": 1, "possibleMatchThreshold": 0.5, "rules": [{"name": "a", "matcher": "telepathy", "weight": 1, "appliesTo": "x"}]}`), 0o600))

	_, err := runCommand(t, "rules", "validate", path)
	require.Error(t, err)
	assert.True(t, mdmerror.IsConfiguration(err))
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	cfg, _, err := (&options{envFile: filepath.Join(t.TempDir(), "none.env")}).load()
	require.NoError(t, err)

	cfg.LogLevel = "chatty"
	_, err = newLogger(cfg)
	assert.Error(t, err)
}
