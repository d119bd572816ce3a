// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config reads layered configuration into Go structs.
//
// Each [Source] applies its key value pairs to a shared [Store]; later
// sources override earlier ones. [Manager.Unmarshal] then decodes the
// merged values into a struct using `config` field tags.
//
//	m, err := config.Read(
//	    config.FromYaml(config.RenderTextTemplate(f)),
//	    config.FromEnv("SPANBRIDGE"),
//	)
//	if err != nil {
//	    return err
//	}
//	var doc spanbridge.Document
//	err = m.Unmarshal(&doc)
package config
