// Package compose reads the volume declarations out of a compose file.
package compose

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseError covers a missing file, malformed YAML, or a document whose
// shape is not a compose description.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("compose: parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	ErrNotMapping = errors.New("document root is not a mapping")
	ErrEmpty      = errors.New("document is empty")
)

// Service is one compose service and its raw volume specs in declaration
// order. Each spec has the short form source[:target[:mode]].
type Service struct {
	Name    string
	Volumes []string
}

// Declaration is the service -> volumes mapping of a compose file, in
// document order.
type Declaration struct {
	Services []Service
	// VolumeNames maps a top-level volume key to its explicit `name:`.
	VolumeNames map[string]string
}

// Volumes returns the specs declared by the named service.
func (d Declaration) Volumes(service string) ([]string, bool) {
	for _, s := range d.Services {
		if s.Name == service {
			return s.Volumes, true
		}
	}
	return nil, false
}

// longVolume is the long-syntax form of a service volume entry.
type longVolume struct {
	Type     string `yaml:"type"`
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"read_only"`
}

type topLevelVolume struct {
	Name string `yaml:"name"`
}

// Read parses the compose file at path.
func Read(path string) (Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Declaration{}, &ParseError{Path: path, Err: err}
	}
	decl, err := Parse(data)
	if err != nil {
		return Declaration{}, &ParseError{Path: path, Err: err}
	}
	return decl, nil
}

// Parse parses compose YAML already held in memory.
func Parse(data []byte) (Declaration, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Declaration{}, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return Declaration{}, ErrEmpty
	}
	root := deref(doc.Content[0])
	if root.Kind != yaml.MappingNode {
		return Declaration{}, ErrNotMapping
	}

	var decl Declaration
	if vols := lookup(root, "volumes"); vols != nil && vols.Kind == yaml.MappingNode {
		decl.VolumeNames = map[string]string{}
		for i := 0; i+1 < len(vols.Content); i += 2 {
			var tv topLevelVolume
			if v := deref(vols.Content[i+1]); v.Kind == yaml.MappingNode {
				if err := v.Decode(&tv); err != nil {
					return Declaration{}, fmt.Errorf("volumes.%s: %w", vols.Content[i].Value, err)
				}
			}
			if tv.Name != "" {
				decl.VolumeNames[vols.Content[i].Value] = tv.Name
			}
		}
	}

	services := lookup(root, "services")
	if services == nil || isNull(services) {
		return decl, nil
	}
	if services.Kind != yaml.MappingNode {
		return Declaration{}, fmt.Errorf("services: expected a mapping, got %s", kindName(services))
	}
	for i := 0; i+1 < len(services.Content); i += 2 {
		name := services.Content[i].Value
		svc, err := parseService(name, deref(services.Content[i+1]))
		if err != nil {
			return Declaration{}, err
		}
		decl.Services = append(decl.Services, svc)
	}
	return decl, nil
}

func parseService(name string, node *yaml.Node) (Service, error) {
	svc := Service{Name: name}
	if isNull(node) {
		return svc, nil
	}
	if node.Kind != yaml.MappingNode {
		return svc, fmt.Errorf("services.%s: expected a mapping, got %s", name, kindName(node))
	}
	vols := lookup(node, "volumes")
	if vols == nil || isNull(vols) {
		return svc, nil
	}
	if vols.Kind != yaml.SequenceNode {
		return svc, fmt.Errorf("services.%s.volumes: expected a sequence, got %s", name, kindName(vols))
	}
	for idx, item := range vols.Content {
		item = deref(item)
		switch item.Kind {
		case yaml.ScalarNode:
			svc.Volumes = append(svc.Volumes, item.Value)
		case yaml.MappingNode:
			var lv longVolume
			if err := item.Decode(&lv); err != nil {
				return svc, fmt.Errorf("services.%s.volumes[%d]: %w", name, idx, err)
			}
			if spec, ok := lv.short(); ok {
				svc.Volumes = append(svc.Volumes, spec)
			}
		default:
			return svc, fmt.Errorf("services.%s.volumes[%d]: unexpected %s", name, idx, kindName(item))
		}
	}
	return svc, nil
}

// short renders a long-syntax entry as a short spec. Entries without a host
// side (tmpfs, anonymous volumes) have nothing to back up.
func (lv longVolume) short() (string, bool) {
	if lv.Source == "" {
		return "", false
	}
	switch lv.Type {
	case "", "volume", "bind":
	default:
		return "", false
	}
	spec := lv.Source + ":" + lv.Target
	if lv.ReadOnly {
		spec += ":ro"
	}
	return spec, true
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return deref(m.Content[i+1])
		}
	}
	return nil
}

func deref(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	default:
		return "node"
	}
}
