package dockerapi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FakeClient is an in-memory implementation for unit tests. Archive writes
// a small placeholder file so later stages see real staged content.
type FakeClient struct {
	VersionStr string
	Volumes    []string
	// FailOn makes Archive fail for the given source.
	FailOn map[string]error
	// ListErr makes ListVolumes fail.
	ListErr error

	mu       sync.Mutex
	archived []ArchiveRequest
}

func NewFake(volumes ...string) *FakeClient {
	return &FakeClient{VersionStr: "fake", Volumes: volumes, FailOn: map[string]error{}}
}

func (f *FakeClient) Version(context.Context) (string, error) {
	return f.VersionStr, nil
}

func (f *FakeClient) ListVolumes(context.Context) ([]string, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]string, len(f.Volumes))
	copy(out, f.Volumes)
	return out, nil
}

func (f *FakeClient) Archive(ctx context.Context, req ArchiveRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.archived = append(f.archived, req)
	f.mu.Unlock()
	if err := f.FailOn[req.Source]; err != nil {
		return err
	}
	content := fmt.Sprintf("archive of %s\n", req.Source)
	return os.WriteFile(filepath.Join(req.StagingDir, req.ArchiveName), []byte(content), 0o644)
}

// Archived returns the requests seen so far.
func (f *FakeClient) Archived() []ArchiveRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ArchiveRequest, len(f.archived))
	copy(out, f.archived)
	return out
}
