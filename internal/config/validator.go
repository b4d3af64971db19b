package config

import (
	"fmt"
	"net/url"
)

// Valid logging levels.
var validLogLevels = map[string]bool{
	"":      true, // Empty defaults to info
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Valid logging formats.
var validLogFormats = map[string]bool{
	"":        true, // Empty defaults to json
	"json":    true,
	"console": true,
	"pretty":  true,
}

// Validate checks the configuration for structural errors and collects every
// problem found. Cross-reference checks (routing rules against providers and
// tags against the system config) belong to the assembler.
// Returns a ValidationError containing all errors found, or nil if valid.
func (c *Config) Validate() error {
	errs := &ValidationError{}

	validateServer(c, errs)
	validateProviders(c, errs)
	validateRouterKeys(c, errs)
	validateBlacklist(c, errs)
	validateLogging(c, errs)

	return errs.ToError()
}

// validateServer validates the server configuration section.
func validateServer(c *Config, errs *ValidationError) {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs.Addf("server.port must be 0-65535 (got %d)", c.Server.Port)
	}
	if c.Server.TimeoutMS < 0 {
		errs.Add("server.timeout_ms must be >= 0")
	}
	if c.Server.MaxBodyBytes < 0 {
		errs.Add("server.max_body_bytes must be >= 0")
	}
}

// validateProviders validates the providers configuration section.
func validateProviders(c *Config, errs *ValidationError) {
	if len(c.Providers) == 0 {
		errs.Add("at least one provider is required")
		return
	}

	seenNames := make(map[string]bool)
	for i := range c.Providers {
		validateProvider(&c.Providers[i], i, seenNames, errs)
	}
}

// validateProvider validates a single provider configuration.
func validateProvider(p *ProviderConfig, index int, seenNames map[string]bool, errs *ValidationError) {
	prefix := func(field string) string {
		if p.Name != "" {
			return fmt.Sprintf("provider[%s].%s", p.Name, field)
		}
		return fmt.Sprintf("providers[%d].%s", index, field)
	}

	if p.Name == "" {
		errs.Addf("providers[%d].name is required", index)
	} else {
		if seenNames[p.Name] {
			errs.Addf("duplicate provider name: %s", p.Name)
		}
		seenNames[p.Name] = true
	}

	if p.BaseURL == "" {
		errs.Addf("%s is required", prefix("api_base_url"))
	} else if _, err := url.Parse(p.BaseURL); err != nil {
		errs.Addf("%s is not a valid URL", prefix("api_base_url"))
	}

	if len(p.APIKeys) == 0 {
		errs.Addf("%s requires at least one API key", prefix("api_key"))
	}
	for j, key := range p.APIKeys {
		if key == "" {
			errs.Addf("%s[%d] must not be empty", prefix("api_key"), j)
		}
	}

	if len(p.Models) == 0 {
		errs.Addf("%s requires at least one model", prefix("models"))
	}
	for j, m := range p.Models {
		if m.Name == "" {
			errs.Addf("%s[%d].name is required", prefix("models"), j)
		}
		if m.MaxTokens < 0 {
			errs.Addf("%s[%d].maxTokens must be >= 0", prefix("models"), j)
		}
	}

	if p.Weight < 0 {
		errs.Addf("%s must be >= 0 (got %d)", prefix("weight"), p.Weight)
	}
	if p.MaxTokens < 0 {
		errs.Addf("%s must be >= 0 (got %d)", prefix("maxTokens"), p.MaxTokens)
	}
	if p.MaxConcurrent < 0 {
		errs.Addf("%s must be >= 0 (got %d)", prefix("max_concurrent"), p.MaxConcurrent)
	}
	if p.RPMLimit < 0 {
		errs.Addf("%s must be >= 0 (got %d)", prefix("rpm_limit"), p.RPMLimit)
	}
}

// validateRouterKeys checks the routing rule map uses known categories and
// that the mandatory default rule is present. Rule syntax is parsed by the
// assembler, which reports per-rule errors there.
func validateRouterKeys(c *Config, errs *ValidationError) {
	known := make(map[string]bool, len(Categories))
	for _, cat := range Categories {
		known[cat] = true
	}

	for cat := range c.Router {
		if !known[cat] {
			errs.Addf("router.%s is not a recognized category (valid: default, coding, reasoning, longContext, webSearch)", cat)
		}
	}

	if c.Router[CategoryDefault] == "" {
		errs.Add("router.default is required and must not be empty")
	}
}

// validateBlacklist validates the blacklist window settings.
func validateBlacklist(c *Config, errs *ValidationError) {
	if c.Blacklist.Timeout429MS < 0 {
		errs.Add("blacklistSettings.timeout429 must be >= 0")
	}
	if c.Blacklist.TimeoutErrorMS < 0 {
		errs.Add("blacklistSettings.timeoutError must be >= 0")
	}
}

// validateLogging validates the logging configuration section.
func validateLogging(c *Config, errs *ValidationError) {
	if !validLogLevels[c.Logging.Level] {
		errs.Addf("logging.level is invalid (got %q, valid: debug, info, warn, error)",
			c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		errs.Addf("logging.format is invalid (got %q, valid: json, console, pretty)",
			c.Logging.Format)
	}
}
