// Package resolve reconciles the volumes a compose file declares against the
// volumes the container runtime actually has, producing the set of things
// to back up.
//
// Resolution is conservative. A declared short name is matched against the
// runtime inventory by substring so that `data` finds the project-prefixed
// `myproject_data`; the first inventory entry containing the token wins.
// This can pick the wrong volume when names overlap (`db` matches both
// `myapp_db` and `otherapp_db`), so every multi-match is reported in
// Result.Ambiguous. Unmatched names are skipped rather than failing the run,
// since the volume may belong to a stack that has not been started yet.
package resolve

import (
	"path/filepath"
	"strings"

	"github.com/juju/collections/set"

	"compose-backup/src/compose"
)

// Kind distinguishes runtime-managed volumes from host bind mounts.
type Kind string

const (
	KindVolume Kind = "volume"
	KindBind   Kind = "bind"
)

// Target is one thing to archive. ID is the runtime volume name for
// KindVolume and an absolute, cleaned host path for KindBind.
type Target struct {
	Kind    Kind
	ID      string
	Service string
	// RelPath is the bind path relative to the compose directory when the
	// path lies under it.
	RelPath string
}

// Reason explains why a declared spec produced no target.
type Reason string

const (
	ReasonSelfService  Reason = "self-service"
	ReasonEmptySource  Reason = "empty-source"
	ReasonRelativePath Reason = "relative-path"
	ReasonFileBind     Reason = "file-bind"
	ReasonNoMatch      Reason = "no-runtime-match"
	ReasonDuplicate    Reason = "duplicate"
)

// Skip records a declared spec that was left out.
type Skip struct {
	Service string
	Spec    string
	Reason  Reason
}

// Ambiguity records a token that matched several inventory entries.
type Ambiguity struct {
	Token   string
	Matches []string
	Chosen  string
}

// Result is the outcome of Resolve. Targets are unique by ID and keep the
// order in which they were first declared.
type Result struct {
	Targets   []Target
	Skipped   []Skip
	Ambiguous []Ambiguity
}

// IDs returns the target identifiers in order.
func (r Result) IDs() []string {
	ids := make([]string, 0, len(r.Targets))
	for _, t := range r.Targets {
		ids = append(ids, t.ID)
	}
	return ids
}

// Options tunes Resolve.
type Options struct {
	// SelfServices are service names that never contribute targets.
	// Defaults to "docker-backup".
	SelfServices []string
	// VolumeNames maps compose volume keys to explicit runtime names.
	VolumeNames map[string]string
	// EvalSymlinks resolves links in bind paths. Defaults to
	// filepath.EvalSymlinks; paths that cannot be resolved are kept cleaned.
	EvalSymlinks func(string) (string, error)
}

const defaultSelfService = "docker-backup"

// Resolve computes the backup targets for decl given the runtime volume
// inventory and the compose project directory.
func Resolve(decl compose.Declaration, inventory []string, baseDir string, opts Options) Result {
	self := set.NewStrings(opts.SelfServices...)
	if self.IsEmpty() {
		self.Add(defaultSelfService)
	}
	eval := opts.EvalSymlinks
	if eval == nil {
		eval = filepath.EvalSymlinks
	}
	base := normalizeDir(baseDir, eval)

	var res Result
	seen := set.NewStrings()
	for _, svc := range decl.Services {
		for _, spec := range svc.Volumes {
			if self.Contains(svc.Name) {
				res.Skipped = append(res.Skipped, Skip{Service: svc.Name, Spec: spec, Reason: ReasonSelfService})
				continue
			}
			target, reason := resolveSpec(spec, svc.Name, inventory, base, opts.VolumeNames, eval, &res)
			if reason == "" && seen.Contains(target.ID) {
				reason = ReasonDuplicate
			}
			if reason != "" {
				res.Skipped = append(res.Skipped, Skip{Service: svc.Name, Spec: spec, Reason: reason})
				continue
			}
			seen.Add(target.ID)
			res.Targets = append(res.Targets, target)
		}
	}
	return res
}

// SourceToken returns the part of a volume spec before the first colon.
func SourceToken(spec string) string {
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		return spec[:i]
	}
	return spec
}

func resolveSpec(spec, service string, inventory []string, base string, names map[string]string, eval func(string) (string, error), res *Result) (Target, Reason) {
	token := strings.TrimSpace(SourceToken(spec))
	if token == "" {
		return Target{}, ReasonEmptySource
	}
	// Compose treats these as host paths even without a slash.
	if strings.HasPrefix(token, ".") || strings.HasPrefix(token, "~") {
		return Target{}, ReasonRelativePath
	}

	if !strings.Contains(token, "/") {
		search := token
		if explicit, ok := names[token]; ok {
			search = explicit
		}
		match, all := matchInventory(search, inventory)
		if match == "" {
			return Target{}, ReasonNoMatch
		}
		if len(all) > 1 {
			res.Ambiguous = append(res.Ambiguous, Ambiguity{Token: search, Matches: all, Chosen: match})
		}
		return Target{Kind: KindVolume, ID: match, Service: service}, ""
	}

	if !filepath.IsAbs(token) {
		return Target{}, ReasonRelativePath
	}
	if !strings.HasSuffix(token, "/") {
		return Target{}, ReasonFileBind
	}

	path := normalizeDir(token, eval)
	t := Target{Kind: KindBind, ID: path, Service: service}
	if rel, ok := under(base, path); ok {
		t.RelPath = rel
	}
	return t, ""
}

// matchInventory returns the first inventory entry containing token and
// every entry that does.
func matchInventory(token string, inventory []string) (string, []string) {
	var all []string
	for _, name := range inventory {
		if strings.Contains(name, token) {
			all = append(all, name)
		}
	}
	if len(all) == 0 {
		return "", nil
	}
	return all[0], all
}

func normalizeDir(path string, eval func(string) (string, error)) string {
	if path == "" {
		return ""
	}
	clean := filepath.Clean(path)
	if !filepath.IsAbs(clean) {
		if abs, err := filepath.Abs(clean); err == nil {
			clean = abs
		}
	}
	if resolved, err := eval(clean); err == nil && filepath.IsAbs(resolved) {
		return filepath.Clean(resolved)
	}
	return clean
}

func under(base, path string) (string, bool) {
	if base == "" {
		return "", false
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
