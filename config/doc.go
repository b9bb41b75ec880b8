// Package config loads the colsink process configuration.
//
// A Loader starts from Defaults, merges each file layer in order (JSON or
// YAML, chosen by extension, last wins key by key), applies COLSINK_*
// environment overrides and optionally validates the result:
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.json")
//	loader.AddLayer("configs/production.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Component sections are kept as raw JSON; each component type decodes and
// validates its own config:
//
//	{
//	  "service": {"name": "events-sink"},
//	  "components": {
//	    "events": {
//	      "type": "columnstore",
//	      "enabled": true,
//	      "config": {"batch_size": 500, "ack_policy": "on_write"}
//	    }
//	  }
//	}
//
// # Environment Variable Overrides
//
//	COLSINK_SERVICE_NAME, COLSINK_LOG_LEVEL, COLSINK_LOG_FORMAT
//	COLSINK_NATS_URLS (comma-separated), COLSINK_NATS_RECONNECT_WAIT
//	COLSINK_NATS_USERNAME, COLSINK_NATS_PASSWORD, COLSINK_NATS_TOKEN
//	COLSINK_METRICS_ENABLED, COLSINK_METRICS_PORT
//
// # Security
//
// Layers must be regular .json, .yaml or .yml files of at most 1MB. Decoded
// layers deeper than 32 levels and override values containing NUL bytes are
// rejected.
package config
