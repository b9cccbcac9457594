package boundary

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"opsgate/internal/security"
	"opsgate/pkg/glob"
)

// ActorPolicy holds the compiled rules of one actor.
type ActorPolicy struct {
	Allowed   []glob.Pattern
	Forbidden []glob.Pattern
}

// Policy is the compiled form of control/boundaries.yaml.
type Policy struct {
	GlobalForbidden []glob.Pattern
	Actors          map[string]ActorPolicy
}

// PolicyConfig is the YAML form of the policy.
type PolicyConfig struct {
	GlobalForbidden []string               `yaml:"global_forbidden"`
	Actors          map[string]ActorConfig `yaml:"actors"`
}

// ActorConfig is the YAML form of an actor's rules.
type ActorConfig struct {
	Allowed   []string `yaml:"allowed"`
	Forbidden []string `yaml:"forbidden"`
}

// LoadPolicy reads and compiles a policy file. A missing file yields an
// empty policy, under which every actor is unknown and denied.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Policy{Actors: map[string]ActorPolicy{}}, nil
		}
		return nil, fmt.Errorf("failed to read boundary policy: %w", err)
	}

	if err := security.ValidatePolicyFile(path); err != nil {
		return nil, fmt.Errorf("refusing boundary policy: %w", err)
	}

	var config PolicyConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse boundary policy: %w", err)
	}

	return CompilePolicy(config)
}

// CompilePolicy validates every pattern and returns itemized errors.
func CompilePolicy(config PolicyConfig) (*Policy, error) {
	var errs []string

	global, err := glob.CompileAll(config.GlobalForbidden)
	if err != nil {
		errs = append(errs, fmt.Sprintf("  - global_forbidden: %v", err))
	}

	policy := &Policy{
		GlobalForbidden: global,
		Actors:          make(map[string]ActorPolicy, len(config.Actors)),
	}

	names := make([]string, 0, len(config.Actors))
	for name := range config.Actors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		actor := config.Actors[name]
		if strings.TrimSpace(name) == "" {
			errs = append(errs, "  - actors: empty actor id")
			continue
		}
		allowed, err := glob.CompileAll(actor.Allowed)
		if err != nil {
			errs = append(errs, fmt.Sprintf("  - actor '%s' allowed: %v", name, err))
		}
		forbidden, err := glob.CompileAll(actor.Forbidden)
		if err != nil {
			errs = append(errs, fmt.Sprintf("  - actor '%s' forbidden: %v", name, err))
		}
		policy.Actors[name] = ActorPolicy{Allowed: allowed, Forbidden: forbidden}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid boundary policy:\n%s", strings.Join(errs, "\n"))
	}
	return policy, nil
}

func firstMatch(patterns []glob.Pattern, path string) (glob.Pattern, bool) {
	for _, p := range patterns {
		if p.Match(path) {
			return p, true
		}
	}
	return glob.Pattern{}, false
}
