// Package repoindex reads the repository fact file produced by the
// external indexer. The file is never written here.
package repoindex

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// Index is the fact file layout (version 1).
type Index struct {
	Version     int          `json:"version"`
	GeneratedAt time.Time    `json:"generatedAt"`
	Root        string       `json:"root"`
	Services    Services     `json:"services"`
	Ports       []Port       `json:"ports"`
	Env         Env          `json:"env"`
	Entrypoints []Entrypoint `json:"entrypoints"`
	Routes      []Route      `json:"routes"`
}

// Services groups everything the indexer recognized as runnable.
type Services struct {
	Compose     []ComposeFile   `json:"compose"`
	Scripts     []ScriptService `json:"scripts"`
	Directories []string        `json:"directories"`
}

// ComposeFile is one compose file and its services.
type ComposeFile struct {
	File     string           `json:"file"`
	Services []ComposeService `json:"services"`
}

// ComposeService is one service declared in a compose file.
type ComposeService struct {
	Name       string `json:"name"`
	Image      string `json:"image,omitempty"`
	Command    string `json:"command,omitempty"`
	Entrypoint string `json:"entrypoint,omitempty"`
	Ports      []int  `json:"ports"`
}

// ScriptService is a package.json script that starts something.
type ScriptService struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Package string `json:"package"`
}

// Port is one port reference with where it was found.
type Port struct {
	Port    int    `json:"port"`
	File    string `json:"file"`
	Context string `json:"context"`
	Source  string `json:"source"`
}

// Env lists environment variables and env files.
type Env struct {
	Vars  []EnvVar `json:"vars"`
	Files []string `json:"files"`
}

// EnvVar is one referenced variable.
type EnvVar struct {
	Name     string   `json:"name"`
	Files    []string `json:"files"`
	Contexts []string `json:"contexts"`
}

// Entrypoint is a start command or script.
type Entrypoint struct {
	Type   string `json:"type"`
	Value  string `json:"value"`
	File   string `json:"file,omitempty"`
	Source string `json:"source,omitempty"`
}

// Route is an HTTP route or page.
type Route struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	File   string `json:"file"`
	Source string `json:"source"`
}

// Load reads the index at path. A missing file returns nil, nil.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return &idx, nil
}

// ServiceNames returns every service name the index knows about,
// compose services first, deduplicated and sorted.
func (idx *Index) ServiceNames() []string {
	if idx == nil {
		return nil
	}
	seen := map[string]bool{}
	var names []string
	for _, cf := range idx.Services.Compose {
		for _, s := range cf.Services {
			if s.Name != "" && !seen[s.Name] {
				seen[s.Name] = true
				names = append(names, s.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// PortNumbers returns the distinct ports, ascending.
func (idx *Index) PortNumbers() []int {
	if idx == nil {
		return nil
	}
	seen := map[int]bool{}
	var ports []int
	for _, p := range idx.Ports {
		if !seen[p.Port] {
			seen[p.Port] = true
			ports = append(ports, p.Port)
		}
	}
	sort.Ints(ports)
	return ports
}

// EnvNames returns the referenced variable names, sorted.
func (idx *Index) EnvNames() []string {
	if idx == nil {
		return nil
	}
	names := make([]string, 0, len(idx.Env.Vars))
	for _, v := range idx.Env.Vars {
		names = append(names, v.Name)
	}
	sort.Strings(names)
	return names
}
