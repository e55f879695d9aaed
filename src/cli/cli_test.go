package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compose-backup/src/backend"
	"compose-backup/src/backup"
	"compose-backup/src/cli"
	"compose-backup/src/config"
	"compose-backup/src/lock"
	"compose-backup/src/rclone"
	"compose-backup/src/util/command"
	"compose-backup/src/version"
)

// fakeTools answers docker and rclone invocations without running them.
type fakeTools struct {
	mu      sync.Mutex
	volumes []string
	remote  []rclone.Object
	copyErr error
	calls   [][]string
}

func (f *fakeTools) install(t *testing.T) {
	t.Helper()
	t.Cleanup(cli.SetCommandRunnerForTest(func(zerolog.Logger, time.Duration) command.Runner {
		return command.RunnerFunc(f.run)
	}))
}

func (f *fakeTools) run(_ context.Context, name string, args ...string) (command.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{filepath.Base(name)}, args...))
	switch {
	case filepath.Base(name) == "docker" && args[0] == "version":
		return command.Result{Stdout: "24.0.7\n"}, nil
	case filepath.Base(name) == "docker" && args[0] == "volume":
		return command.Result{Stdout: strings.Join(f.volumes, "\n") + "\n"}, nil
	case filepath.Base(name) == "docker" && args[0] == "run":
		var staging, out string
		for i, a := range args {
			if a == "-v" && strings.HasSuffix(args[i+1], ":/backup_dir") {
				staging = strings.TrimSuffix(args[i+1], ":/backup_dir")
			}
			if a == "czf" {
				out = strings.TrimPrefix(args[i+1], "/backup_dir/")
			}
		}
		return command.Result{}, os.WriteFile(filepath.Join(staging, out), []byte("tar"), 0o644)
	case filepath.Base(name) == "rclone" && args[0] == "version":
		return command.Result{Stdout: "rclone v1.65.0\n"}, nil
	case filepath.Base(name) == "rclone" && args[0] == "lsjson":
		if len(f.remote) == 0 {
			return command.Result{Stderr: "directory not found"}, errors.New("exit status 3")
		}
		data, _ := json.Marshal(f.remote)
		return command.Result{Stdout: string(data)}, nil
	case filepath.Base(name) == "rclone" && args[0] == "copy":
		return command.Result{}, f.copyErr
	}
	return command.Result{}, errors.New("unexpected command " + name)
}

func (f *fakeTools) find(prefix ...string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if len(c) >= len(prefix) && strings.Join(c[:len(prefix)], " ") == strings.Join(prefix, " ") {
			return c
		}
	}
	return nil
}

type project struct {
	composeFile string
	hostFile    string
}

func newProject(t *testing.T) project {
	t.Helper()
	for _, k := range []string{config.KeyRemoteName, config.KeyRemoteFolder, config.KeyFailNotify, config.KeyRcloneFlags} {
		t.Setenv(k, "")
	}
	root := t.TempDir()
	dir := filepath.Join(root, "blog")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	composeFile := filepath.Join(dir, "docker-compose.yml")
	require.NoError(t, os.WriteFile(composeFile, []byte(`services:
  app:
    volumes:
      - data:/var/lib/data
      - ./conf:/etc/app
  docker-backup:
    volumes:
      - state:/state
`), 0o644))
	hostFile := filepath.Join(root, "host_hostname")
	require.NoError(t, os.WriteFile(hostFile, []byte("web01\n"), 0o644))
	return project{composeFile: composeFile, hostFile: hostFile}
}

func (p project) args(extra ...string) []string {
	return append([]string{
		"--remote-name", "remote",
		"--remote-folder", "backups",
		"--hostname-file", p.hostFile,
		"--log-level", "error",
	}, extra...)
}

func execute(args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	cmd := cli.NewRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	_, err := cmd.ExecuteC()
	return out.String(), errOut.String(), err
}

func TestRootHelp_ShowsUsage(t *testing.T) {
	out, _, err := execute("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Usage:") || !strings.Contains(out, "compose-backup") {
		t.Fatalf("help output missing expected content; got: %s", out)
	}
}

func TestVersionCommand_PrintsVersion(t *testing.T) {
	out, _, err := execute("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, version.Version) {
		t.Fatalf("expected version %q in output; got: %s", version.Version, out)
	}
}

func TestGlobalFlags_Present(t *testing.T) {
	cmd := cli.NewRootCmd(nil, nil)
	for _, name := range []string{"env-file", "log-level", "log-format", "command-timeout", "remote-name", "remote-folder", "notify-url", "hostname-file", "image"} {
		if f := cmd.PersistentFlags().Lookup(name); f == nil {
			t.Fatalf("missing global flag --%s", name)
		}
	}
	for _, name := range []string{"staging-dir", "concurrency", "dry-run", "progress"} {
		if f := cmd.Flags().Lookup(name); f == nil {
			t.Fatalf("missing run flag --%s", name)
		}
	}
}

func TestUsageErrors(t *testing.T) {
	tools := &fakeTools{}
	tools.install(t)

	cases := map[string][]string{
		"no arguments":     {},
		"two files":        {"a.yml", "b.yml"},
		"unknown flag":     {"--bogus", "a.yml"},
		"bad log level":    {"--log-level", "loud", "a.yml"},
		"bad concurrency":  {"--concurrency", "0", "a.yml"},
		"plan without arg": {"plan"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := execute(args...)
			require.Error(t, err)
			assert.Equal(t, cli.ExitUsage, cli.ExitCode(err))
		})
	}
	assert.Empty(t, tools.calls)
}

func TestBackupRun(t *testing.T) {
	tools := &fakeTools{volumes: []string{"blog_data", "blog_state"}}
	tools.install(t)
	p := newProject(t)

	out, _, err := execute(p.args(p.composeFile)...)
	require.NoError(t, err)
	assert.Equal(t, cli.ExitOK, cli.ExitCode(err))
	assert.Contains(t, out, "Backed up 1 target(s) to remote:/backups/web01/blog/")

	run := tools.find("docker", "run")
	require.NotNil(t, run)
	assert.Contains(t, run, "blog_data:/backup:ro")

	cp := tools.find("rclone", "copy")
	require.NotNil(t, cp)
	assert.Equal(t, "remote:/backups/web01/blog/", cp[3])
	assert.Contains(t, cp, "remote:/backups-old/web01/blog/")
	assert.Contains(t, cp, "--suffix-keep-extension")

	entries, err := os.ReadDir(backup.WorkspaceDir(backup.DefaultStagingDir(p.composeFile)))
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, lock.FileName, e.Name())
	}
}

func TestBackupRunSyncFailure(t *testing.T) {
	tools := &fakeTools{volumes: []string{"blog_data"}, copyErr: errors.New("exit status 5")}
	tools.install(t)
	p := newProject(t)

	_, _, err := execute(p.args(p.composeFile)...)
	require.Error(t, err)
	assert.Equal(t, cli.ExitFailure, cli.ExitCode(err))
	var se *backup.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, backup.StageSynced, se.Stage)
}

func TestBackupRunMissingConfig(t *testing.T) {
	tools := &fakeTools{}
	tools.install(t)
	p := newProject(t)

	_, _, err := execute("--log-level", "error", p.composeFile)
	require.Error(t, err)
	assert.Equal(t, cli.ExitFailure, cli.ExitCode(err))
	var ce *config.ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, config.KeyRemoteName, ce.Field)
	assert.Empty(t, tools.calls)
}

func TestBackupDryRun(t *testing.T) {
	tools := &fakeTools{volumes: []string{"blog_data"}}
	tools.install(t)
	p := newProject(t)

	out, _, err := execute(p.args("--dry-run", p.composeFile)...)
	require.NoError(t, err)
	assert.Contains(t, out, "blog_data")
	assert.Contains(t, out, "relative-path")
	assert.Nil(t, tools.find("docker", "run"))
	assert.Nil(t, tools.find("rclone", "copy"))
}

func TestPlanCommand(t *testing.T) {
	tools := &fakeTools{volumes: []string{"blog_data", "blog_state"}}
	tools.install(t)
	p := newProject(t)

	out, _, err := execute("--log-level", "error", "plan", p.composeFile)
	require.NoError(t, err)
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "blog_data.tar.gz")
	assert.Contains(t, out, "self-service")
	assert.NotContains(t, out, "blog_state.tar.gz")
}

func TestListCommand(t *testing.T) {
	tools := &fakeTools{remote: []rclone.Object{
		{Path: "backup-20240101000000.zip", Name: "backup-20240101000000.zip", Size: 1536},
	}}
	tools.install(t)
	p := newProject(t)

	out, _, err := execute(p.args("list", "--kind", "retained", "-o", "json", p.composeFile)...)
	require.NoError(t, err)
	var entries []backend.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "20240101000000", entries[0].RunTag)
	assert.Equal(t, "remote:/backups-old/web01/blog/backup-20240101000000.zip", entries[0].Path)

	out, _, err = execute(p.args("list", p.composeFile)...)
	require.NoError(t, err)
	assert.Contains(t, out, "RUN TAG")
	assert.Contains(t, out, "1.5 KiB")
}

func TestCheckCommand(t *testing.T) {
	tools := &fakeTools{}
	tools.install(t)
	t.Cleanup(rclone.SetLookPathForTest(func(string) (string, error) { return "/usr/bin/rclone", nil }))

	out, _, err := execute("check")
	require.NoError(t, err)
	assert.Contains(t, out, "docker: 24.0.7")
	assert.Contains(t, out, "rclone: 1.65.0 at /usr/bin/rclone")
}

func TestCheckCommandMissingRclone(t *testing.T) {
	tools := &fakeTools{}
	tools.install(t)
	t.Cleanup(rclone.SetLookPathForTest(func(string) (string, error) { return "", errors.New("not found") }))

	out, _, err := execute("check")
	require.Error(t, err)
	assert.Equal(t, cli.ExitFailure, cli.ExitCode(err))
	assert.Contains(t, out, "rclone: unavailable")
}
