package backend

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/fsstore/internal/logger"
	"github.com/mitchellh/mapstructure"
)

// Options are the recognized storage properties.
type Options struct {
	// Dir is the storage directory relative to the backend root. Required.
	Dir string `mapstructure:"dir"`

	ReadOnly      bool   `mapstructure:"read_only"`
	OnClosure     string `mapstructure:"on_closure"`
	FollowLinks   bool   `mapstructure:"follow_links"`
	KeepMimeTypes bool   `mapstructure:"keep_mime_types"`

	// Index selects the metadata index: badger or memory.
	Index string `mapstructure:"index"`

	SyncWrites bool `mapstructure:"sync_writes"`

	// GCInterval and TombstoneRetention override the backend's reclamation
	// defaults when non-zero.
	GCInterval         time.Duration `mapstructure:"gc_interval"`
	TombstoneRetention time.Duration `mapstructure:"tombstone_retention"`
}

// defaultOptions returns the values used for absent properties.
func defaultOptions() Options {
	return Options{
		OnClosure:     "do_nothing",
		KeepMimeTypes: true,
		Index:         "badger",
		SyncWrites:    true,
	}
}

// ParseOptions decodes a property map over the defaults.
//
// Booleans accept true/yes/false/no in any case as well as real booleans.
// Durations accept Go duration strings. Unknown properties are logged and
// ignored.
func ParseOptions(props map[string]any) (Options, error) {
	opts := defaultOptions()

	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:   &opts,
		Metadata: &md,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			yesNoBoolHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return Options{}, fmt.Errorf("failed to create options decoder: %w", err)
	}

	if err := decoder.Decode(props); err != nil {
		return Options{}, fmt.Errorf("%w: %v", ErrInvalidProperties, err)
	}

	for _, key := range md.Unused {
		logger.Warn("Ignoring unknown storage property %q", key)
	}

	if opts.Dir == "" {
		return Options{}, fmt.Errorf("%w: dir is required", ErrInvalidProperties)
	}

	return opts, nil
}

// yesNoBoolHook converts the textual booleans hosts commonly pass.
func yesNoBoolHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Bool || from.Kind() != reflect.String {
		return data, nil
	}

	switch strings.ToLower(strings.TrimSpace(data.(string))) {
	case "true", "yes":
		return true, nil
	case "false", "no":
		return false, nil
	}
	return nil, fmt.Errorf("invalid boolean %q (expected true, yes, false or no)", data)
}
