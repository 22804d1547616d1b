// Package config loads obsmesh settings from an optional YAML file and
// OBSMESH_* environment variables using viper.
//
//	cfg, err := config.Load("obsmesh.yaml")
//	if err != nil {
//	  return err
//	}
//	mesh, err := obsmesh.New(cfg)
//
// Nested keys map to environment variables by upper-casing and replacing dots
// with underscores, so loop.max_concurrent is read from OBSMESH_LOOP_MAX_CONCURRENT.
package config
