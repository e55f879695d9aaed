package dockerapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"compose-backup/src/util/command"
)

const (
	sourceMount  = "/backup"
	stagingMount = "/backup_dir"
)

// DockerClient drives the docker CLI.
type DockerClient struct {
	Runner command.Runner
	// Binary defaults to "docker".
	Binary string
	// Image runs the archival tar command and must provide tar and gzip.
	Image string
}

// NewDocker returns a DockerClient running image for archive jobs.
func NewDocker(runner command.Runner, image string) *DockerClient {
	return &DockerClient{Runner: runner, Binary: "docker", Image: image}
}

func (d *DockerClient) bin() string {
	if d.Binary == "" {
		return "docker"
	}
	return d.Binary
}

func (d *DockerClient) Version(ctx context.Context) (string, error) {
	res, err := d.Runner.Run(ctx, d.bin(), "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", fmt.Errorf("docker: query version: %w", err)
	}
	v := strings.TrimSpace(res.Stdout)
	if v == "" {
		return "", errors.New("docker: empty version output")
	}
	return v, nil
}

func (d *DockerClient) ListVolumes(ctx context.Context) ([]string, error) {
	res, err := d.Runner.Run(ctx, d.bin(), "volume", "ls", "--format", "{{.Name}}")
	if err != nil {
		return nil, fmt.Errorf("docker: list volumes: %w", err)
	}
	var names []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (d *DockerClient) Archive(ctx context.Context, req ArchiveRequest) error {
	args, err := d.ArchiveArgs(req)
	if err != nil {
		return err
	}
	if _, err := d.Runner.Run(ctx, d.bin(), args...); err != nil {
		return fmt.Errorf("docker: archive %s: %w", req.Source, err)
	}
	return nil
}

// ArchiveArgs builds the `docker run` argument list for req.
func (d *DockerClient) ArchiveArgs(req ArchiveRequest) ([]string, error) {
	if req.Source == "" || req.StagingDir == "" || req.ArchiveName == "" {
		return nil, errors.New("docker: archive request needs source, staging dir, and archive name")
	}
	if strings.ContainsRune(req.ArchiveName, '/') {
		return nil, fmt.Errorf("docker: archive name %q must not contain '/'", req.ArchiveName)
	}
	image := d.Image
	if image == "" {
		image = "ubuntu"
	}
	return []string{
		"run", "--rm",
		"--network=none",
		"-v", req.Source + ":" + sourceMount + ":ro",
		"-v", req.StagingDir + ":" + stagingMount,
		image,
		"tar", "czf", stagingMount + "/" + req.ArchiveName, "-C", sourceMount, ".",
	}, nil
}
