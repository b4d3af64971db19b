package assembler

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/omarluq/cc-router/internal/config"
	"github.com/omarluq/cc-router/internal/transform"
)

// Known protocol-layer tags.
var validProtocolTags = map[string]bool{
	"openai":    true,
	"anthropic": true,
}

// Assemble validates the user and system configuration and expands them into
// an immutable Assembly. Validation collects every problem found before
// failing; a non-nil error is always a *config.ValidationError.
func Assemble(user *config.Config, system *config.SystemConfig) (*Assembly, error) {
	errs := &config.ValidationError{}

	// Structural validation first; semantic checks below still run so one
	// pass reports everything.
	if err := user.Validate(); err != nil {
		if verr, ok := err.(*config.ValidationError); ok {
			errs.Merge(verr)
		} else {
			errs.Add(err.Error())
		}
	}

	providers := make(map[string]config.ProviderConfig, len(user.Providers))
	for _, p := range user.Providers {
		if p.Name != "" {
			providers[p.Name] = p
		}
	}

	templates := resolveTemplates(user, system, errs)
	categoryTargets := resolveRules(user, providers, errs)

	if errs.HasErrors() {
		return nil, errs
	}

	categories, pipelines := expand(categoryTargets, providers, templates)

	asm := &Assembly{
		Table:       newRoutingTable(categories, pipelines),
		Providers:   providers,
		Blacklist:   user.Blacklist,
		GeneratedAt: time.Now().UTC(),
	}

	log.Info().
		Int("providers", len(providers)).
		Int("pipelines", len(pipelines)).
		Int("categories", len(categories)).
		Msg("assembled routing table")

	return asm, nil
}

// resolvedTemplate is a provider's fully-resolved layer tag set.
type resolvedTemplate struct {
	compatTag      string
	protocolTag    string
	transformerTag string
	endpoint       string
	timeout        time.Duration
	maxRetries     int
	options        map[string]string
}

// resolveTemplates binds each provider to its provider-type template and
// checks that every referenced tag resolves.
func resolveTemplates(
	user *config.Config,
	system *config.SystemConfig,
	errs *config.ValidationError,
) map[string]resolvedTemplate {
	resolved := make(map[string]resolvedTemplate, len(user.Providers))

	for _, p := range user.Providers {
		if p.Name == "" {
			continue
		}

		compatTag := p.ServerCompatibility.Use
		if compatTag == "" {
			compatTag = "generic"
		}

		tpl, ok := system.ProviderTypes[compatTag]
		if !ok {
			errs.Addf("provider[%s].serverCompatibility.use %q does not resolve in the system config", p.Name, compatTag)
			continue
		}

		transformerTag := tpl.Transformer
		if p.Transformer != "" {
			transformerTag = p.Transformer
		}
		if !transform.KnownTag(transformerTag) {
			errs.Addf("provider[%s].transformer %q does not resolve in the system config", p.Name, transformerTag)
		}

		protocolTag := tpl.Protocol
		if p.Protocol != "" {
			protocolTag = p.Protocol
		}
		if !validProtocolTags[protocolTag] {
			errs.Addf("provider[%s].protocol %q does not resolve in the system config", p.Name, protocolTag)
		}

		resolved[p.Name] = resolvedTemplate{
			compatTag:      tpl.ServerCompatibility,
			protocolTag:    protocolTag,
			transformerTag: transformerTag,
			endpoint:       tpl.Endpoint,
			timeout:        tpl.Timeout(),
			maxRetries:     tpl.Retries(),
			options:        p.ServerCompatibility.Options,
		}
	}

	return resolved
}

// resolveRules parses every routing rule and checks each target against the
// provider set and its model list.
func resolveRules(
	user *config.Config,
	providers map[string]config.ProviderConfig,
	errs *config.ValidationError,
) map[string][]Target {
	categoryTargets := make(map[string][]Target)

	for _, cat := range config.Categories {
		raw, present := user.Router[cat]
		if !present {
			continue
		}

		targets := parseRule(cat, raw, errs)
		valid := targets[:0]
		for _, t := range targets {
			p, ok := providers[t.Provider]
			if !ok {
				errs.Addf("router.%s references unknown provider %q", cat, t.Provider)
				continue
			}
			if !p.HasModel(t.Model) {
				errs.Addf("router.%s references model %q not listed by provider %q", cat, t.Model, t.Provider)
				continue
			}
			valid = append(valid, t)
		}
		if len(valid) > 0 {
			categoryTargets[cat] = valid
		}
	}

	if len(categoryTargets[config.CategoryDefault]) == 0 {
		errs.Add("router.default must resolve to at least one pipeline")
	}

	return categoryTargets
}

// expand applies the expansion rule: one PipelineConfig per
// (category target, API-key index), duplicates emitted once and referenced by
// every category that reaches them. Category lists are ordered by provider
// weight descending, then config-file (rule) order.
func expand(
	categoryTargets map[string][]Target,
	providers map[string]config.ProviderConfig,
	templates map[string]resolvedTemplate,
) (map[string][]string, []PipelineConfig) {
	categories := make(map[string][]string, len(categoryTargets))
	var pipelines []PipelineConfig
	emitted := make(map[string]bool)

	for _, cat := range config.Categories {
		targets, ok := categoryTargets[cat]
		if !ok {
			continue
		}

		ordered := make([]Target, len(targets))
		copy(ordered, targets)
		sort.SliceStable(ordered, func(i, j int) bool {
			return providers[ordered[i].Provider].Weight > providers[ordered[j].Provider].Weight
		})

		var ids []string
		for _, t := range ordered {
			p := providers[t.Provider]
			tpl := templates[t.Provider]

			for i := range p.APIKeys {
				id := fmt.Sprintf("%s-%s-key%d", t.Provider, t.Model, i)
				ids = append(ids, id)

				if emitted[id] {
					continue
				}
				emitted[id] = true
				pipelines = append(pipelines, buildPipeline(id, cat, t, i, p, tpl))
			}
		}
		categories[cat] = ids
	}

	return categories, pipelines
}

// buildPipeline resolves one pipeline's parameters, including the per-layer
// config records wired into the instance at registry construction.
func buildPipeline(
	id, category string,
	t Target,
	keyIndex int,
	p config.ProviderConfig,
	tpl resolvedTemplate,
) PipelineConfig {
	maxTokens := p.ResolveMaxTokens(t.Model)
	apiKey := p.APIKeys[keyIndex]

	return PipelineConfig{
		ID:          id,
		Category:    category,
		Provider:    t.Provider,
		TargetModel: t.Model,
		Endpoint:    p.BaseURL,
		KeyIndex:    keyIndex,
		APIKey:      apiKey,
		MaxTokens:   maxTokens,
		Timeout:     tpl.timeout,
		MaxRetries:  tpl.maxRetries,
		Weight:      p.Weight,
		Layers: LayerConfigs{
			Transformer: TransformerLayerConfig{
				Tag:         tpl.transformerTag,
				Provider:    t.Provider,
				TargetModel: t.Model,
			},
			Protocol: ProtocolLayerConfig{
				Tag:         tpl.protocolTag,
				Provider:    t.Provider,
				TargetModel: t.Model,
				Endpoint:    p.BaseURL,
				Timeout:     tpl.timeout,
				MaxRetries:  tpl.maxRetries,
			},
			Compat: CompatLayerConfig{
				Tag:         tpl.compatTag,
				Provider:    t.Provider,
				TargetModel: t.Model,
				Endpoint:    p.BaseURL,
				APIKey:      apiKey,
				Timeout:     tpl.timeout,
				MaxTokens:   maxTokens,
				Options:     tpl.options,
			},
			Server: ServerLayerConfig{
				Endpoint:   p.BaseURL,
				APIKey:     apiKey,
				Timeout:    tpl.timeout,
				MaxTokens:  maxTokens,
				MaxRetries: tpl.maxRetries,
			},
		},
	}
}
