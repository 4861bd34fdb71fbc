package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/drawsync/internal/model"
)

// DefaultSources returns the built-in source set used when no sources file
// is configured.
func DefaultSources() []model.SourceDescriptor {
	return []model.SourceDescriptor{
		{
			ID:               "fdj",
			DisplayName:      "FDJ",
			BaseURL:          "https://www.fdj.fr/jeux-de-tirage/euromillions-my-million",
			Kind:             model.SourceOfficial,
			IsActive:         true,
			EndpointTemplate: "resultats/{weekday}-{dd}-{mm}-{yyyy}",
			Selectors: model.Selectors{
				Numbers:       "[data-testid='draw-result'] .result-ball:not(.is-star)",
				Stars:         "[data-testid='draw-result'] .result-ball.is-star",
				BreakdownRows: "table.result-table tbody tr",
			},
			Headers:   map[string]string{"Accept-Language": "fr-FR,fr;q=0.9"},
			RateLimit: model.RateLimit{MaxRequests: 6, PerWindow: time.Minute},
			Currency:  "EUR",
		},
		{
			ID:               "lotteryextreme",
			DisplayName:      "LotteryExtreme",
			BaseURL:          "https://www.lotteryextreme.com/euromillions",
			Kind:             model.SourceMirror,
			IsActive:         true,
			EndpointTemplate: "prize_breakdown({date})",
			Selectors: model.Selectors{
				Balls:         "ul.displayball li",
				BreakdownRows: "table.tbsg tr.sg1, table.tbsg tr.sg2",
			},
			RateLimit: model.DefaultRateLimit,
			Currency:  "EUR",
		},
		{
			ID:               "euro-millions",
			DisplayName:      "Euro-Millions.com",
			BaseURL:          "https://www.euro-millions.com/results",
			Kind:             model.SourceMirror,
			IsActive:         true,
			EndpointTemplate: "{dd}-{mm}-{yyyy}",
			Selectors: model.Selectors{
				Numbers:       ".balls li.ball",
				Stars:         ".balls li.lucky-star",
				BreakdownRows: "table.breakdown tbody tr",
			},
			RateLimit: model.DefaultRateLimit,
			Currency:  "EUR",
		},
		{
			ID:               "euromillones",
			DisplayName:      "Euromillones.com",
			BaseURL:          "https://www.euromillones.com/en/results",
			Kind:             model.SourceMirror,
			IsActive:         true,
			EndpointTemplate: "euromillions--results-{date}-{weekday}",
			Selectors: model.Selectors{
				Numbers:       ".numbers .ball",
				Stars:         ".stars .ball",
				BreakdownRows: "table.prizes tbody tr",
			},
			RateLimit: model.DefaultRateLimit,
			Currency:  "EUR",
		},
		{
			ID:               "draws-api",
			DisplayName:      "EuroMillions JSON API",
			BaseURL:          "https://euromillions.api.pedromealha.dev",
			Kind:             model.SourceAPI,
			IsActive:         false,
			EndpointTemplate: "v1/draws",
			Headers:          map[string]string{"Accept": "application/json"},
			RateLimit:        model.RateLimit{MaxRequests: 30, PerWindow: time.Minute},
			Currency:         "EUR",
		},
	}
}

// LoadSourcesFromFile reads source descriptors from a YAML or JSON file,
// chosen by extension. YAML files may list sources at the top level or under
// a "sources" key.
func LoadSourcesFromFile(path string) ([]model.SourceDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read sources file %s", path)
	}

	var sources []model.SourceDescriptor
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &sources); err != nil {
			return nil, eris.Wrap(err, "registry: parse sources json")
		}
	case ".yaml", ".yml":
		var wrapper struct {
			Sources []model.SourceDescriptor `yaml:"sources"`
		}
		if err := yaml.Unmarshal(data, &wrapper); err == nil && len(wrapper.Sources) > 0 {
			sources = wrapper.Sources
		} else if err := yaml.Unmarshal(data, &sources); err != nil {
			return nil, eris.Wrap(err, "registry: parse sources yaml")
		}
	default:
		return nil, eris.Errorf("registry: unsupported sources file extension %q", filepath.Ext(path))
	}

	for i := range sources {
		if err := sources[i].Validate(); err != nil {
			return nil, eris.Wrapf(err, "registry: source #%d in %s", i, path)
		}
	}
	return sources, nil
}

// Load builds a registry from path, or from DefaultSources when path is
// empty.
func Load(path string) (*SourceRegistry, error) {
	sources := DefaultSources()
	if path != "" {
		var err error
		if sources, err = LoadSourcesFromFile(path); err != nil {
			return nil, err
		}
	}
	r := New()
	if err := r.RegisterAll(sources); err != nil {
		return nil, err
	}
	return r, nil
}
