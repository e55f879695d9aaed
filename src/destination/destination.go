package destination

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// RetainedSuffix is appended to the remote folder to form the namespace
// holding displaced artifacts.
const RetainedSuffix = "-old"

// DefaultHostnameFile is read before falling back to the system hostname.
const DefaultHostnameFile = "/etc/host_hostname"

// Destination names where one project's artifact lives on a remote.
// Example: backups:/docker/web01/blog/
type Destination struct {
	Remote  string
	Folder  string
	Host    string
	Project string
}

// New builds a destination from its parts, rejecting values that would escape
// their path segment.
func New(remote, folder, host, project string) (Destination, error) {
	d := Destination{
		Remote:  strings.TrimSpace(remote),
		Folder:  strings.Trim(strings.TrimSpace(folder), "/"),
		Host:    strings.TrimSpace(host),
		Project: strings.TrimSpace(project),
	}
	if d.Remote == "" {
		return d, errors.New("destination: remote name must not be empty")
	}
	if strings.ContainsAny(d.Remote, ":/") {
		return d, fmt.Errorf("destination: invalid remote name %q", d.Remote)
	}
	if d.Folder == "" {
		return d, errors.New("destination: remote folder must not be empty")
	}
	for name, v := range map[string]string{"host": d.Host, "project": d.Project} {
		if v == "" || v == "." || v == ".." || strings.Contains(v, "/") {
			return d, fmt.Errorf("destination: invalid %s segment %q", name, v)
		}
	}
	return d, nil
}

// ProjectName derives the project segment from the compose file's folder.
func ProjectName(composeFile string) (string, error) {
	abs, err := filepath.Abs(composeFile)
	if err != nil {
		return "", err
	}
	name := filepath.Base(filepath.Dir(abs))
	if name == "/" || name == "." {
		return "", fmt.Errorf("destination: cannot derive project name from %s", composeFile)
	}
	return name, nil
}

// Current is the directory holding the newest artifact.
func (d Destination) Current() string {
	return d.remotePath(d.Folder)
}

// Retained is the directory receiving displaced artifacts.
func (d Destination) Retained() string {
	return d.remotePath(d.Folder + RetainedSuffix)
}

func (d Destination) remotePath(folder string) string {
	return fmt.Sprintf("%s:/%s/", d.Remote, path.Join(folder, d.Host, d.Project))
}

// String returns the current path.
func (d Destination) String() string { return d.Current() }

var osHostname = os.Hostname

// Hostname returns the trimmed content of overrideFile, or the system hostname
// when the file is absent or blank.
func Hostname(overrideFile string) (string, error) {
	if overrideFile != "" {
		data, err := os.ReadFile(overrideFile)
		switch {
		case err == nil:
			if h := strings.TrimSpace(string(data)); h != "" {
				return h, nil
			}
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("read host identity %s: %w", overrideFile, err)
		}
	}
	h, err := osHostname()
	if err != nil {
		return "", fmt.Errorf("system hostname: %w", err)
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return "", errors.New("system hostname is empty")
	}
	return h, nil
}

// SetHostnameForTest overrides the system hostname lookup.
func SetHostnameForTest(fn func() (string, error)) func() {
	prev := osHostname
	osHostname = fn
	return func() { osHostname = prev }
}
