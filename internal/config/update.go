package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cscs-keygen/cscs-keygen/internal/errors"
)

// Keys lists the settable config keys with a short description each.
var Keys = map[string]string{
	"backend":        "password manager: bw or op",
	"item":           "vault item holding the CSCS credentials",
	"endpoint":       "key issuance URL",
	"timeout":        "timeout of each issuance request",
	"retries":        "retries after a transient failure",
	"key_dir":        "directory the key pair is written to",
	"agent.enabled":  "add fetched keys to the ssh-agent",
	"agent.lifetime": "agent lifetime of added keys (0 for no limit)",
	"output.color":   "auto, always or never",
}

// KeyNames returns the config keys in sorted order.
func KeyNames() []string {
	names := make([]string, 0, len(Keys))
	for k := range Keys {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// fileConfig is the on-disk layout. Durations are written as strings so
// the file stays readable.
type fileConfig struct {
	Version  int    `yaml:"version"`
	Backend  string `yaml:"backend"`
	Item     string `yaml:"item"`
	Endpoint string `yaml:"endpoint"`
	Timeout  string `yaml:"timeout"`
	Retries  int    `yaml:"retries"`
	KeyDir   string `yaml:"key_dir"`
	Agent    struct {
		Enabled  bool   `yaml:"enabled"`
		Lifetime string `yaml:"lifetime"`
	} `yaml:"agent"`
	Output struct {
		Color string `yaml:"color"`
	} `yaml:"output"`
}

// Render encodes cfg as commented YAML.
func Render(cfg *Config) ([]byte, error) {
	fc := fileConfig{
		Version:  cfg.Version,
		Backend:  cfg.Backend,
		Item:     cfg.Item,
		Endpoint: cfg.Endpoint,
		Timeout:  cfg.Timeout.String(),
		Retries:  cfg.Retries,
		KeyDir:   cfg.KeyDir,
	}
	fc.Agent.Enabled = cfg.Agent.Enabled
	fc.Agent.Lifetime = cfg.Agent.Lifetime.String()
	fc.Output.Color = cfg.Output.Color

	var root yaml.Node
	if err := root.Encode(fc); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	root.HeadComment = "# cscs-keygen configuration.\n# Environment variables CSCS_KEYGEN_<KEY> override these values."
	annotate(&root, "")

	return encode(&root)
}

// annotate attaches the key descriptions as line comments.
func annotate(node *yaml.Node, prefix string) {
	if node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i < len(node.Content)-1; i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		name := key.Value
		if prefix != "" {
			name = prefix + "." + key.Value
		}
		if value.Kind == yaml.MappingNode {
			annotate(value, name)
			continue
		}
		if desc, ok := Keys[name]; ok {
			value.LineComment = "# " + desc
		}
	}
}

func encode(node *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(node); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes cfg to path, creating parent directories. An existing
// file is only replaced when force is set.
func WriteFile(path string, cfg *Config, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.New(errors.ErrConfig,
			"Config file already exists: "+path,
			"Use --force to overwrite it")
	}

	data, err := Render(cfg)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Couldn't encode the config", "")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't create "+filepath.Dir(path),
			"Check directory permissions")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't write "+path,
			"Check file permissions")
	}
	return nil
}

// SetValue sets a dotted key in the config file at path. It preserves the
// existing YAML structure and comments. The result must still validate,
// otherwise the file is left untouched.
func SetValue(path, key, value string) error {
	if _, ok := Keys[key]; !ok {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown config key '%s'", key),
			"Valid keys: "+strings.Join(KeyNames(), ", "))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't read "+path,
			"Run 'cscs-keygen config init' to create it")
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to parse config file",
			"Check the YAML syntax in "+path)
	}
	if root.Kind == 0 {
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return errors.New(errors.ErrConfig,
			"Expected a mapping at the top of "+path,
			"Check the YAML syntax in "+path)
	}

	node := root.Content[0]
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		child := findMapValue(node, part)
		if child == nil {
			child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			node.Content = append(node.Content, scalar(part), child)
		}
		node = child
	}

	leaf := parts[len(parts)-1]
	if existing := findMapValue(node, leaf); existing != nil {
		existing.Kind = yaml.ScalarNode
		existing.Tag = ""
		existing.Value = value
		existing.Content = nil
	} else {
		v := scalar(value)
		v.Tag = ""
		node.Content = append(node.Content, scalar(leaf), v)
	}

	out, err := encode(&root)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Couldn't encode the config", "")
	}

	v := NewViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(out)); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' isn't a valid value for %s", value, key), "")
	}
	cfg, err := parseConfig(v, path)
	if err != nil {
		return err
	}
	if err := Validate(cfg); err != nil {
		return err
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't write "+path,
			"Check file permissions")
	}
	return nil
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

// findMapValue finds a value in a mapping node by key name.
func findMapValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i < len(node.Content)-1; i += 2 {
		keyNode := node.Content[i]
		valueNode := node.Content[i+1]

		if keyNode.Kind == yaml.ScalarNode && keyNode.Value == key {
			return valueNode
		}
	}

	return nil
}
