package dynconfig

import (
	"encoding/json"

	"github.com/go-viper/mapstructure/v2"
)

// Unmarshal decodes the resolved configuration tree into v, a
// pointer to a struct or map, using mapstructure's "mapstructure" struct tag
// convention (falling back to lower-cased field names).
func (p *Provider) Unmarshal(v any, opts *ConstructionOptions) error {
	tree, err := p.ConstructConfigurationObject(opts)
	if err != nil {
		return err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           v,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}

	return decoder.Decode(tree)
}

// DumpJSON renders the resolved configuration tree as JSON, for tools that
// want to dump the effective configuration.
func (p *Provider) DumpJSON(opts *ConstructionOptions) ([]byte, error) {
	tree, err := p.ConstructConfigurationObject(opts)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(tree, "", "  ")
}
