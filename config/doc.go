// Package config holds the explicit configuration passed to a codec context.
//
// Nothing in the module reads environment variables after Load returns:
// a Config is built once, validated, and threaded through context
// creation. Load uses a private viper instance, so separate calls never
// share state.
//
//	cfg, err := config.Load("hwcodec.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//
// A YAML file uses the mapstructure names:
//
//	slots: 16
//	tasks: 2
//	input_timeout: 50ms
//	output_timeout: -1
//	frame_group:
//	  kind: dma
//	  count: 20
//	disable_error: true
package config
