package planner

import (
	"fmt"
	"os"

	"github.com/ternarybob/catchall/internal/models"
	"gopkg.in/yaml.v3"
)

// presetFile is the on-disk layout:
//
//	presets:
//	  acquisitions:
//	    context: deals announced by public companies
//	    limit: 25
//	    validators:
//	      - name: is_acquisition
//	        description: article announces an acquisition
//	    enrichments:
//	      - name: acquirer
//	        description: buying company
//	        type: company
type presetFile struct {
	Presets map[string]models.JobConfig `yaml:"presets"`
}

// LoadPresets reads named JobConfig templates from a YAML file
func LoadPresets(path string) (map[string]models.JobConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file %s: %w", path, err)
	}
	return ParsePresets(data)
}

// ParsePresets decodes preset YAML and validates each template's fields
func ParsePresets(data []byte) (map[string]models.JobConfig, error) {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse presets: %w", err)
	}

	for name, cfg := range file.Presets {
		for _, e := range cfg.Enrichments {
			if !e.Type.IsValid() {
				return nil, fmt.Errorf("preset %s: enrichment %s has unknown type %q", name, e.Name, e.Type)
			}
		}
		for i := range cfg.Validators {
			if cfg.Validators[i].Type == "" {
				cfg.Validators[i].Type = models.ValidatorTypeBoolean
			}
		}
		file.Presets[name] = cfg
	}

	if file.Presets == nil {
		file.Presets = make(map[string]models.JobConfig)
	}
	return file.Presets, nil
}

// ApplyPreset overlays a template on cfg. The template's validators and
// enrichments replace cfg's; its context and limit fill only empty fields.
func ApplyPreset(cfg, preset models.JobConfig) models.JobConfig {
	out := cfg.Clone()
	tmpl := preset.Clone()

	if len(tmpl.Validators) > 0 {
		out.Validators = tmpl.Validators
	}
	if len(tmpl.Enrichments) > 0 {
		out.Enrichments = tmpl.Enrichments
	}
	if out.Context == "" {
		out.Context = tmpl.Context
	}
	if out.Limit == 0 {
		out.Limit = tmpl.Limit
	}
	if out.Query == "" {
		out.Query = tmpl.Query
	}
	return out
}
