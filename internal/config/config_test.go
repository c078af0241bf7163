package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
calendars:
  - name: UK
    source: en.uk#holiday@group.v.calendar.google.com
    target: abc@group.calendar.google.com
    ignore_events:
      - Boxing Day
  - name: France
    source: fr.french#holiday@group.v.calendar.google.com
    target: def@group.calendar.google.com
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calendars.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendGoogle, cfg.Backend)
	assert.Equal(t, defaultWorkers, cfg.Workers)
	assert.Zero(t, cfg.Retries)
	require.Len(t, cfg.Calendars, 2)
	assert.Equal(t, "UK", cfg.Calendars[0].Name)
	assert.Equal(t, []string{"Boxing Day"}, cfg.Calendars[0].IgnoreEvents)
	assert.Equal(t, []string{}, cfg.Calendars[1].IgnoreEvents)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseSettings(t *testing.T) {
	cfg, err := Parse([]byte(`
backend: caldav
workers: 2
retries: 3
calendars:
  - {name: Home, source: /cal/a/, target: /cal/b/}
`))
	require.NoError(t, err)
	assert.Equal(t, BackendCalDAV, cfg.Backend)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, uint64(3), cfg.Retries)
}

func TestParseInvalid(t *testing.T) {
	cases := map[string]string{
		"no calendars":   `calendars: []`,
		"missing name":   `calendars: [{source: a, target: b}]`,
		"missing target": `calendars: [{name: x, source: a}]`,
		"duplicate name": `calendars: [{name: x, source: a, target: b}, {name: x, source: c, target: d}]`,
		"bad backend":    "backend: outlook\ncalendars: [{name: x, source: a, target: b}]",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.ErrorIs(t, err, ErrInvalid, name)
	}
}

func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("calendars: ["))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}
