// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlag ties a flag to a viper key so that an explicitly set flag wins
// over the config file and the environment.
func bindFlag(f *pflag.Flag, key string) {
	if f == nil {
		panic(fmt.Sprintf("binding missing flag to %s", key))
	}
	if err := viper.BindPFlag(key, f); err != nil {
		panic(err)
	}
}

// writeJSON writes v as indented JSON to dir/name.
func writeJSON(dir, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
