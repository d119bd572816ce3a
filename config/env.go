// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"os"
	"strings"

	"github.com/z5labs/spanbridge/config/key"
)

// EnvNestingSeparator separates nested keys in an environment variable name.
const EnvNestingSeparator = "__"

// Env represents a Source where its underlying values
// are extracted from environment variables.
type Env struct {
	prefix  string
	environ func() []string
}

// FromEnv returns a Source which will apply its config from the
// environment variables starting with prefix followed by an underscore.
// The remainder of the name is lower cased and split on
// [EnvNestingSeparator], so SPANBRIDGE_LAYER__FILE_PATH sets layer.file_path.
// An empty prefix applies every variable as is.
func FromEnv(prefix string) Env {
	return Env{
		prefix:  prefix,
		environ: os.Environ,
	}
}

// Apply implements the [Source] interface.
func (src Env) Apply(store Store) error {
	for _, pair := range src.environ() {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if src.prefix == "" {
			err := store.Set(key.Name(k), v)
			if err != nil {
				return err
			}
			continue
		}

		name, ok := strings.CutPrefix(k, src.prefix+"_")
		if !ok {
			continue
		}
		chain := key.Split(strings.ToLower(name), EnvNestingSeparator)
		if len(chain) == 0 {
			continue
		}
		err := store.Set(chain, v)
		if err != nil {
			return err
		}
	}
	return nil
}
