package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

// cachedSchema memoizes the reflected JSON Schema: Config's shape is fixed
// at compile time, so reflecting it on every "config schema" invocation
// would just redo the same work.
var cachedSchema struct {
	once sync.Once
	json []byte
	err  error
}

// JSONSchema returns the JSON Schema for Config, keyed by its yaml tags so
// it matches what an operator actually writes in a config file rather than
// the Go field names. Exposed via the "agent-hub config schema" command for
// editor/CI validation ahead of any attempt to load the file for real.
func JSONSchema() ([]byte, error) {
	cachedSchema.once.Do(func() {
		reflector := &jsonschema.Reflector{FieldNameTag: "yaml"}
		cachedSchema.json, cachedSchema.err = json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
	})
	return cachedSchema.json, cachedSchema.err
}
