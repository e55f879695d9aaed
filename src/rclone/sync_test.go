package rclone

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compose-backup/src/destination"
)

func testDest(t *testing.T) destination.Destination {
	t.Helper()
	d, err := destination.New("remote", "backups", "web01", "blog")
	require.NoError(t, err)
	return d
}

func TestSuffixedName(t *testing.T) {
	cases := []struct{ name, want string }{
		{"backup.zip", "backup-20240101000000.zip"},
		{"data.tar.gz", "data-20240101000000.tar.gz"},
		{"noext", "noext-20240101000000"},
		{"a.b.c", "a.b-20240101000000.c"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SuffixedName(tc.name, Suffix("20240101000000")), tc.name)
	}
}

func TestSyncArgs(t *testing.T) {
	s := NewSyncer(nil, "", []string{"--transfers", "2"}, zerolog.Nop())
	args := s.SyncArgs("/stage/backup.zip", testDest(t), "20240101000000")
	assert.Equal(t, []string{
		"copy", "/stage/backup.zip", "remote:/backups/web01/blog/",
		"--backup-dir", "remote:/backups-old/web01/blog/",
		"--suffix", "-20240101000000",
		"--suffix-keep-extension",
		"--transfers", "2",
	}, args)
	assert.Equal(t, "rclone", s.Binary)
}

func TestSyncArgsProgressUsesStderrStats(t *testing.T) {
	s := NewSyncer(nil, "", []string{"-v"}, zerolog.Nop())
	s.Progress = true
	args := s.SyncArgs("/stage/backup.zip", testDest(t), "20240101000000")
	assert.NotContains(t, args, "--progress")
	assert.Equal(t, []string{"--stats", "5s", "--stats-one-line", "--stats-log-level", "NOTICE", "-v"}, args[len(args)-6:])
}

func TestSyncRetainsPreviousArtifacts(t *testing.T) {
	remote := newFakeRemote()
	s := NewSyncer(remote, "rclone", nil, zerolog.Nop())
	dest := testDest(t)
	ctx := context.Background()

	require.NoError(t, s.Sync(ctx, "/stage/backup.zip", dest, "20231231000000"))
	require.NoError(t, s.Sync(ctx, "/stage/backup.zip", dest, "20240101000000"))
	require.NoError(t, s.Sync(ctx, "/stage/backup.zip", dest, "20240101000100"))

	current, err := s.List(ctx, dest.Current())
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "backup.zip", current[0].Name)

	retained, err := s.List(ctx, dest.Retained())
	require.NoError(t, err)
	var names []string
	for _, o := range retained {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{"backup-20240101000000.zip", "backup-20240101000100.zip"}, names)
}

func TestSyncFailureKeepsExistingArtifact(t *testing.T) {
	remote := newFakeRemote()
	s := NewSyncer(remote, "rclone", nil, zerolog.Nop())
	dest := testDest(t)
	ctx := context.Background()
	require.NoError(t, s.Sync(ctx, "/stage/backup.zip", dest, "20240101000000"))

	remote.copyErr = errors.New("exit status 1")
	err := s.Sync(ctx, "/stage/backup.zip", dest, "20240101000100")
	require.Error(t, err)
	var serr *SyncError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, dest.Current(), serr.Remote)

	ok, err := s.Exists(ctx, dest.Current(), "backup.zip")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncRequiresRunTag(t *testing.T) {
	s := NewSyncer(newFakeRemote(), "rclone", nil, zerolog.Nop())
	err := s.Sync(context.Background(), "/stage/backup.zip", testDest(t), "")
	var serr *SyncError
	assert.True(t, errors.As(err, &serr))
}

func TestListMissingDirectory(t *testing.T) {
	s := NewSyncer(newFakeRemote(), "rclone", nil, zerolog.Nop())
	objs, err := s.List(context.Background(), "remote:/nothing/")
	require.NoError(t, err)
	assert.Empty(t, objs)
}
