package pipeline

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/studio-agent/internal/catalog"
	serrors "github.com/p-blackswan/studio-agent/internal/errors"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompts holds every prompt template. Placeholders are written {name}.
type Prompts struct {
	Text      map[catalog.Code]string `yaml:"text"`
	Image     string                  `yaml:"image"`
	Smalltalk string                  `yaml:"smalltalk"`
}

// DefaultPrompts returns the embedded templates.
func DefaultPrompts() *Prompts {
	p, err := ParsePrompts(defaultPrompts)
	if err != nil {
		panic(fmt.Sprintf("embedded prompts are invalid: %v", err))
	}
	return p
}

// LoadPrompts reads templates from path, or the embedded defaults when path
// is empty.
func LoadPrompts(path string) (*Prompts, error) {
	if path == "" {
		return DefaultPrompts(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompts: read %s: %w", path, err)
	}
	p, err := ParsePrompts(raw)
	if err != nil {
		return nil, fmt.Errorf("prompts: %s: %w", path, err)
	}
	return p, nil
}

// ParsePrompts expands ${VAR} references, decodes the YAML and checks that
// every text template in the catalogue has a prompt.
func ParsePrompts(data []byte) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &p); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Prompts) validate() error {
	var missing []string
	for _, t := range catalog.All() {
		if t.Media != catalog.MediaText {
			continue
		}
		if strings.TrimSpace(p.Text[t.Code]) == "" {
			missing = append(missing, "text."+string(t.Code))
		}
	}
	for code := range p.Text {
		if _, ok := catalog.Lookup(code); !ok {
			return serrors.Invalid("prompts", fmt.Sprintf("unknown template %q", code))
		}
	}
	if strings.TrimSpace(p.Image) == "" {
		missing = append(missing, "image")
	}
	if strings.TrimSpace(p.Smalltalk) == "" {
		missing = append(missing, "smalltalk")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return serrors.Invalid("prompts", "missing "+strings.Join(missing, ", "))
	}
	return nil
}

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// Render substitutes {name} placeholders. Unknown placeholders are kept.
func Render(tmpl string, fields map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		if v, ok := fields[match[1:len(match)-1]]; ok {
			return v
		}
		return match
	})
}

// envVarPattern matches ${VAR_NAME}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} with the environment value. Missing vars
// become empty strings.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}
