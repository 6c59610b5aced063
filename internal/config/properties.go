package config

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/magiconair/properties"
	"github.com/spf13/viper"
)

// propertiesCodec reads and writes Java-style properties files. Values are
// taken literally: ${...} references are not expanded.
type propertiesCodec struct{}

func (propertiesCodec) Decode(b []byte, v map[string]any) error {
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(b)
	if err != nil {
		return fmt.Errorf("parsing properties: %w", err)
	}
	for _, key := range p.Keys() {
		v[key], _ = p.Get(key)
	}
	return nil
}

func (propertiesCodec) Encode(v map[string]any) ([]byte, error) {
	p := properties.NewProperties()
	p.DisableExpansion = true

	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if _, _, err := p.Set(key, fmt.Sprint(v[key])); err != nil {
			return nil, fmt.Errorf("setting %s: %w", key, err)
		}
	}

	var buf bytes.Buffer
	if _, err := p.Write(&buf, properties.UTF8); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// newViper returns a viper instance that understands the properties format.
func newViper() (*viper.Viper, error) {
	codecs := viper.NewCodecRegistry()
	for _, format := range []string{"properties", "props", "prop"} {
		if err := codecs.RegisterCodec(format, propertiesCodec{}); err != nil {
			return nil, fmt.Errorf("registering %s codec: %w", format, err)
		}
	}
	return viper.NewWithOptions(viper.WithCodecRegistry(codecs)), nil
}
