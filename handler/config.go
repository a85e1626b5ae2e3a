package handler

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/mvo5/slotupdate/errs"
	"github.com/mvo5/slotupdate/internal/subprocess"
)

// customHandlerEntry is one entry in a handlers.yaml file: a manifest
// [handler] filename key mapped to the external binary that implements
// it. Declaring these in YAML rather than the key-file config format
// follows the teacher's own getMapFromYaml pattern (helpers/helpers.go)
// for loose, structured configuration that isn't part of the fixed
// system/manifest key-file schemas.
type customHandlerEntry struct {
	Filename string `yaml:"filename"`
	Path     string `yaml:"path"`
}

// LoadCustomHandlersFile reads a handlers.yaml file and registers every
// entry it declares against reg.
func LoadCustomHandlersFile(reg *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.New(errs.UpdateNoHandler, "read custom handler config %s: %v", path, err)
	}

	var entries []customHandlerEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return errs.New(errs.UpdateNoHandler, "parse custom handler config %s: %v", path, err)
	}

	for _, e := range entries {
		if e.Filename == "" || e.Path == "" {
			return errs.New(errs.UpdateNoHandler, "custom handler entry missing filename or path")
		}
		reg.RegisterCustom(e.Filename, CustomHandler{Path: e.Path, Runner: subprocess.Exec})
	}
	return nil
}
