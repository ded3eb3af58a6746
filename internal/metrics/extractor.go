package metrics

import (
	"fmt"
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MatchRule counts ingested lines that match a pattern
type MatchRule struct {
	Name    string
	Pattern string
}

// DefaultMatchRules count error-like and warning-like lines
func DefaultMatchRules() []MatchRule {
	return []MatchRule{
		{Name: "error", Pattern: `(?i)\b(error|err|fatal|panic|critical)\b`},
		{Name: "warning", Pattern: `(?i)\b(warn|warning)\b`},
	}
}

// Extractor turns tailed lines into per-rule counters
type Extractor struct {
	rules   []compiledRule
	matches *prometheus.CounterVec
}

type compiledRule struct {
	name string
	re   *regexp.Regexp
}

// NewExtractor compiles the rules and registers the match counter on the collector registry
func (c *Collector) NewExtractor(rules []MatchRule) (*Extractor, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Name == "" {
			return nil, fmt.Errorf("match rule has no name")
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern for rule %s: %w", rule.Name, err)
		}
		compiled = append(compiled, compiledRule{name: rule.Name, re: re})
	}

	return &Extractor{
		rules: compiled,
		matches: promauto.With(c.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "matched_lines_total",
				Help:      "Total number of ingested lines matching each rule",
			},
			[]string{"path", "rule"},
		),
	}, nil
}

// ObserveLines counts rule matches for a batch of lines read from path.
// A line counts once per rule it matches.
func (e *Extractor) ObserveLines(path string, lines []string) map[string]int {
	counts := make(map[string]int, len(e.rules))
	for _, line := range lines {
		for _, rule := range e.rules {
			if rule.re.MatchString(line) {
				counts[rule.name]++
			}
		}
	}

	for name, n := range counts {
		e.matches.WithLabelValues(path, name).Add(float64(n))
	}
	return counts
}
