package catalog

import (
	"fmt"
	"os"
	"time"

	"warden/core"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// yamlIndicator is the file schema for a pattern indicator.
type yamlIndicator struct {
	ID       string      `yaml:"id"`
	Field    string      `yaml:"field"`
	Operator string      `yaml:"operator"`
	Value    interface{} `yaml:"value,omitempty"`
}

// yamlPattern is the file schema for a pattern entry.
type yamlPattern struct {
	ID                    string          `yaml:"id"`
	Name                  string          `yaml:"name"`
	Description           string          `yaml:"description,omitempty"`
	Category              string          `yaml:"category"`
	Indicators            []yamlIndicator `yaml:"indicators"`
	ConfidenceThreshold   float64         `yaml:"confidence_threshold"`
	ProtectedSubjectBonus bool            `yaml:"protected_subject_bonus,omitempty"`
	Enabled               *bool           `yaml:"enabled,omitempty"`
	Tags                  []string        `yaml:"tags,omitempty"`
}

// yamlRule is the file schema for a mitigation rule entry. Durations are
// written as Go duration strings ("300s", "5m").
type yamlRule struct {
	ID                string   `yaml:"id"`
	Name              string   `yaml:"name"`
	Description       string   `yaml:"description,omitempty"`
	Category          string   `yaml:"category"`
	SeverityThreshold string   `yaml:"severity_threshold"`
	Actions           []string `yaml:"actions"`
	Enabled           *bool    `yaml:"enabled,omitempty"`
	CooldownPeriod    string   `yaml:"cooldown_period,omitempty"`

	Conditions *struct {
		MaxAttempts    int    `yaml:"max_attempts,omitempty"`
		Window         string `yaml:"window,omitempty"`
		RequireSubject bool   `yaml:"require_subject,omitempty"`
		MinSubjectAge  *int   `yaml:"min_subject_age,omitempty"`
		MaxSubjectAge  *int   `yaml:"max_subject_age,omitempty"`
	} `yaml:"conditions,omitempty"`
}

type patternsFile struct {
	Patterns []yamlPattern `yaml:"patterns"`
}

type rulesFile struct {
	Rules []yamlRule `yaml:"rules"`
}

// Loader reads pattern and rule catalog files.
type Loader struct {
	patternsPath string
	rulesPath    string
	regexTimeout time.Duration
	logger       *zap.SugaredLogger
}

// NewLoader creates a catalog loader. regexTimeout bounds every compiled
// regex indicator's match time.
func NewLoader(patternsPath, rulesPath string, regexTimeout time.Duration, logger *zap.SugaredLogger) *Loader {
	return &Loader{
		patternsPath: patternsPath,
		rulesPath:    rulesPath,
		regexTimeout: regexTimeout,
		logger:       logger,
	}
}

// Load reads and validates both catalog files and returns an immutable snapshot.
func (l *Loader) Load() (*Catalog, error) {
	patterns, err := l.loadPatterns()
	if err != nil {
		return nil, fmt.Errorf("loading patterns from %s: %w", l.patternsPath, err)
	}
	rules, err := l.loadRules()
	if err != nil {
		return nil, fmt.Errorf("loading rules from %s: %w", l.rulesPath, err)
	}

	l.logger.Infow("Catalog loaded",
		"patterns", len(patterns),
		"rules", len(rules))

	return &Catalog{
		Patterns: patterns,
		Rules:    rules,
		LoadedAt: time.Now().UTC(),
	}, nil
}

func (l *Loader) loadPatterns() ([]core.Pattern, error) {
	data, err := os.ReadFile(l.patternsPath)
	if err != nil {
		return nil, err
	}
	return l.ParsePatterns(data)
}

// ParsePatterns decodes, validates, and compiles a patterns document.
func (l *Loader) ParsePatterns(data []byte) ([]core.Pattern, error) {
	var file patternsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Patterns))
	patterns := make([]core.Pattern, 0, len(file.Patterns))
	for _, yp := range file.Patterns {
		p, err := l.convertPattern(yp)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("duplicate pattern id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

func (l *Loader) convertPattern(yp yamlPattern) (core.Pattern, error) {
	p := core.Pattern{
		ID:                    yp.ID,
		Name:                  yp.Name,
		Description:           yp.Description,
		Category:              core.Category(yp.Category),
		ConfidenceThreshold:   yp.ConfidenceThreshold,
		ProtectedSubjectBonus: yp.ProtectedSubjectBonus,
		Enabled:               yp.Enabled == nil || *yp.Enabled,
		Tags:                  yp.Tags,
	}
	for _, yi := range yp.Indicators {
		ind := core.Indicator{
			ID:       yi.ID,
			Field:    yi.Field,
			Operator: yi.Operator,
			Value:    yi.Value,
		}
		if ind.Operator == core.OpRegex {
			expr, ok := yi.Value.(string)
			if !ok {
				return core.Pattern{}, fmt.Errorf("pattern %s: indicator %s: regex value must be a string", yp.ID, yi.ID)
			}
			re, err := regexp2.Compile(expr, regexp2.RE2)
			if err != nil {
				return core.Pattern{}, fmt.Errorf("pattern %s: indicator %s: compiling regex: %w", yp.ID, yi.ID, err)
			}
			re.MatchTimeout = l.regexTimeout
			ind.Regex = re
		}
		p.Indicators = append(p.Indicators, ind)
	}
	if err := p.Validate(); err != nil {
		return core.Pattern{}, err
	}
	return p, nil
}

func (l *Loader) loadRules() ([]*core.MitigationRule, error) {
	data, err := os.ReadFile(l.rulesPath)
	if err != nil {
		return nil, err
	}
	return l.ParseRules(data)
}

// ParseRules decodes and validates a rules document.
func (l *Loader) ParseRules(data []byte) ([]*core.MitigationRule, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Rules))
	rules := make([]*core.MitigationRule, 0, len(file.Rules))
	for _, yr := range file.Rules {
		r, err := convertRule(yr)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		rules = append(rules, r)
	}
	return rules, nil
}

func convertRule(yr yamlRule) (*core.MitigationRule, error) {
	r := &core.MitigationRule{
		ID:                yr.ID,
		Name:              yr.Name,
		Description:       yr.Description,
		Category:          core.Category(yr.Category),
		SeverityThreshold: core.Severity(yr.SeverityThreshold),
		Enabled:           yr.Enabled == nil || *yr.Enabled,
	}
	for _, a := range yr.Actions {
		r.Actions = append(r.Actions, core.ActionKind(a))
	}
	if yr.CooldownPeriod != "" {
		d, err := time.ParseDuration(yr.CooldownPeriod)
		if err != nil {
			return nil, fmt.Errorf("rule %s: parsing cooldown_period: %w", yr.ID, err)
		}
		r.CooldownPeriod = d
	}
	if yc := yr.Conditions; yc != nil {
		c := &core.RuleConditions{
			MaxAttempts:    yc.MaxAttempts,
			RequireSubject: yc.RequireSubject,
			MinSubjectAge:  yc.MinSubjectAge,
			MaxSubjectAge:  yc.MaxSubjectAge,
		}
		if yc.Window != "" {
			d, err := time.ParseDuration(yc.Window)
			if err != nil {
				return nil, fmt.Errorf("rule %s: parsing window: %w", yr.ID, err)
			}
			c.Window = d
		}
		r.Conditions = c
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
