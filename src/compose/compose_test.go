package compose

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
name: myproject
x-common: &common
  - shared:/shared
services:
  app:
    image: nginx
    volumes:
      - data:/var/data
      - ./rel:/x
      - type: bind
        source: /srv/static/
        target: /static
        read_only: true
      - type: tmpfs
        target: /tmp
  worker:
    image: busybox
    volumes: *common
  docker-backup:
    image: backup
    volumes:
      - cache:/cache
  noop:
volumes:
  data:
  shared:
    name: team_shared
`

func writeCompose(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadPreservesOrder(t *testing.T) {
	decl, err := Read(writeCompose(t, sample))
	require.NoError(t, err)

	names := make([]string, 0, len(decl.Services))
	for _, s := range decl.Services {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"app", "worker", "docker-backup", "noop"}, names)

	app, ok := decl.Volumes("app")
	require.True(t, ok)
	assert.Equal(t, []string{"data:/var/data", "./rel:/x", "/srv/static/:/static:ro"}, app)

	worker, _ := decl.Volumes("worker")
	assert.Equal(t, []string{"shared:/shared"}, worker)

	noop, ok := decl.Volumes("noop")
	assert.True(t, ok)
	assert.Empty(t, noop)

	assert.Equal(t, map[string]string{"shared": "team_shared"}, decl.VolumeNames)
}

func TestReadWithoutServices(t *testing.T) {
	decl, err := Read(writeCompose(t, "version: '3'\n"))
	require.NoError(t, err)
	assert.Empty(t, decl.Services)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		target  error
	}{
		{"empty", "", ErrEmpty},
		{"scalar root", "just a string\n", ErrNotMapping},
		{"sequence root", "- a\n- b\n", ErrNotMapping},
		{"malformed", "services: [unclosed\n", nil},
		{"services not mapping", "services:\n  - app\n", nil},
		{"volumes not sequence", "services:\n  app:\n    volumes: data\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(writeCompose(t, tt.content))
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %v", err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.yml"))
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
