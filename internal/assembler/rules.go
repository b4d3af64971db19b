package assembler

import (
	"strings"

	"github.com/omarluq/cc-router/internal/config"
)

// Target is one (provider, model) pair parsed from a routing rule.
// Rules are parsed once at assembly time; no string parsing happens per request.
type Target struct {
	Provider string
	Model    string
}

// parseRule parses a routing rule of the form "provider,model[;provider,model]*".
// Every malformed segment is reported; parsing never stops at the first error.
func parseRule(category, raw string, errs *config.ValidationError) []Target {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		errs.Addf("router.%s must not be empty", category)
		return nil
	}

	var targets []Target
	for _, segment := range strings.Split(raw, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			errs.Addf("router.%s contains an empty entry", category)
			continue
		}

		parts := strings.Split(segment, ",")
		if len(parts) != 2 {
			errs.Addf("router.%s entry %q must be provider,model", category, segment)
			continue
		}

		provider := strings.TrimSpace(parts[0])
		model := strings.TrimSpace(parts[1])
		if provider == "" || model == "" {
			errs.Addf("router.%s entry %q must be provider,model", category, segment)
			continue
		}

		targets = append(targets, Target{Provider: provider, Model: model})
	}
	return targets
}
