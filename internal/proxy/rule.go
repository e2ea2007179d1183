package proxy

import (
	"net/http"
	"strings"

	"github.com/iTrooz/offline-cache/internal/config"
)

// Rule decides whether a request belongs to the worker's scope
type Rule interface {
	Match(requ *http.Request) bool
}

// ConfigRule implements Rule interface for config-based rules
type ConfigRule struct {
	config.ScopeRule
}

// Match checks if a request matches this rule
func (r *ConfigRule) Match(requ *http.Request) bool {
	// Check if URL starts with base URI
	if !strings.HasPrefix(getTargetURL(requ), r.BaseURI) {
		return false
	}

	// No methods means every method
	if len(r.Methods) == 0 {
		return true
	}

	for _, m := range r.Methods {
		if strings.EqualFold(m, requ.Method) {
			return true
		}
	}
	return false
}

func rulesFromConfig(cfg *config.Config) []Rule {
	rules := make([]Rule, 0, len(cfg.Scope.Rules))
	for _, rule := range cfg.Scope.Rules {
		rules = append(rules, &ConfigRule{ScopeRule: rule})
	}
	return rules
}
