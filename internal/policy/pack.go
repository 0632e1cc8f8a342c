package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pack extends the base policy for one family of targets, for example a
// NiFi pack that allows nifi-toolkit-cli status and blocks nifi.sh stop.
type Pack struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	PackVersion  string   `yaml:"version"`
	Author       string   `yaml:"author"`
	DenyTokens   []string `yaml:"deny_tokens"`
	DenyCommands []string `yaml:"deny_commands"`
	AllowVerbs   []string `yaml:"allow_verbs"`
	Rules        []Rule   `yaml:"rules"`
}

// PackInfo describes one pack file. Err is set when the file could not be
// parsed; such a pack is listed but never merged.
type PackInfo struct {
	Name        string
	Description string
	Version     string
	Author      string
	Enabled     bool
	Path        string
	RuleCount   int
	VerbCount   int
	DenyCount   int
	Err         error
}

// ErrPackNotFound is returned when no enabled or disabled file exists for a
// pack name.
var ErrPackNotFound = errors.New("pack not found")

const disabledPrefix = "_"

// LoadPacks merges every enabled pack in packsDir into a copy of base. Pack
// rules follow the base rules; token, command and verb lists are unioned.
// A missing directory yields base unchanged.
func LoadPacks(packsDir string, base *Policy) (*Policy, []PackInfo, error) {
	entries, err := os.ReadDir(packsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return base, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	merged := clonePolicy(base)
	var infos []PackInfo
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		path := filepath.Join(packsDir, entry.Name())
		stem := packStem(entry.Name())

		pack, err := ReadPack(path)
		info := PackInfo{
			Name:    strings.TrimPrefix(stem, disabledPrefix),
			Enabled: !strings.HasPrefix(stem, disabledPrefix),
			Path:    path,
			Err:     err,
		}
		if err == nil {
			if pack.Name != "" {
				info.Name = pack.Name
			}
			info.Description = pack.Description
			info.Version = pack.PackVersion
			info.Author = pack.Author
			info.RuleCount = len(pack.Rules)
			info.VerbCount = len(pack.AllowVerbs)
			info.DenyCount = len(pack.DenyCommands) + len(pack.DenyTokens)
			if info.Enabled {
				merged.merge(pack)
			}
		}
		infos = append(infos, info)
	}
	return merged, infos, nil
}

func ReadPack(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parsing pack %s: %w", path, err)
	}
	return &pack, nil
}

// FindPack locates the file for a pack by its file name (without the
// extension or the underscore that marks it disabled).
func FindPack(packsDir, name string) (path string, enabled bool, err error) {
	for _, ext := range []string{".yaml", ".yml"} {
		for _, prefix := range []string{"", disabledPrefix} {
			p := filepath.Join(packsDir, prefix+name+ext)
			if _, err := os.Stat(p); err == nil {
				return p, prefix == "", nil
			}
		}
	}
	return "", false, fmt.Errorf("%w: %q in %s", ErrPackNotFound, name, packsDir)
}

// SetPackEnabled renames the pack file to add or drop the disabled prefix.
// It reports whether anything changed.
func SetPackEnabled(packsDir, name string, enabled bool) (bool, error) {
	path, isEnabled, err := FindPack(packsDir, name)
	if err != nil {
		return false, err
	}
	if isEnabled == enabled {
		return false, nil
	}
	base := filepath.Base(path)
	if enabled {
		base = strings.TrimPrefix(base, disabledPrefix)
	} else {
		base = disabledPrefix + base
	}
	if err := os.Rename(path, filepath.Join(packsDir, base)); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Policy) merge(pack *Pack) {
	p.Rules = append(p.Rules, pack.Rules...)
	p.DenyTokens = union(p.DenyTokens, pack.DenyTokens)
	p.DenyCommands = union(p.DenyCommands, pack.DenyCommands)
	p.AllowVerbs = union(p.AllowVerbs, pack.AllowVerbs)
}

func union(dst, src []string) []string {
	for _, s := range src {
		if !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func clonePolicy(p *Policy) *Policy {
	return &Policy{
		Version:      p.Version,
		Defaults:     p.Defaults,
		DenyTokens:   slices.Clone(p.DenyTokens),
		DenyCommands: slices.Clone(p.DenyCommands),
		AllowVerbs:   slices.Clone(p.AllowVerbs),
		Rules:        slices.Clone(p.Rules),
	}
}

func packStem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func isYAMLFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
