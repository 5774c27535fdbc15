// Package config loads fault core settings from struct tag defaults, an
// optional YAML or JSON file, and environment variables, in that order of
// increasing priority:
//
//	envDefault struct tags  (lowest)
//	YAML/JSON config file
//	environment variables   (highest)
//
// # Struct Tags
//
//   - `env:"NAME"` maps a field to an environment variable. On a nested
//     struct the tag becomes a prefix for the child fields.
//   - `envDefault:"value"` sets a field that is still zero after decoding.
//   - `required:"true"` fails loading when the field remains zero.
//
// File loading goes through the yaml and json tags of each field.
//
// # Usage
//
//	cfg := config.MustLoad[faultcore.Config](
//	    config.New().WithEnvPrefix("FAULTCORE").WithFile("faultcore.yaml"),
//	)
//
// Every loading failure is a [kerr.Error] with code PARAM_001 so a
// misconfigured kernel is refused at boot with the same taxonomy as every
// other invalid argument.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
)

var durationType = reflect.TypeOf(time.Duration(0))

// LookupFunc resolves an environment variable. It has the signature of
// [os.LookupEnv].
type LookupFunc func(key string) (string, bool)

// Loader resolves configuration layers into a struct. A Loader is not
// safe for concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
	lookup    LookupFunc
}

// New creates a Loader that reads only the process environment.
func New() *Loader {
	return &Loader{lookup: os.LookupEnv}
}

// WithEnvPrefix sets a prefix joined with "_" to every env tag, so a
// field tagged `env:"MAX_ATTEMPTS"` is read from FAULTCORE_MAX_ATTEMPTS
// when the prefix is "FAULTCORE". The prefix is upper-cased.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets the config file. The extension picks the decoder (.yaml,
// .yml or .json). A missing file is not an error.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithLookup replaces the environment source, letting tests supply
// variables without touching the process environment. A nil fn restores
// [os.LookupEnv].
func (l *Loader) WithLookup(fn LookupFunc) *Loader {
	if fn == nil {
		fn = os.LookupEnv
	}
	l.lookup = fn
	return l
}

// Load fills cfg, which must be a non-nil pointer to a struct, then runs
// required-field checks and the struct's [Validator] if it has one.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return kerr.InvalidParam("config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return kerr.InvalidParam("config: Load requires a pointer to a struct")
	}

	if err := applyDefaults(rv); err != nil {
		return err
	}
	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}
	lookup := l.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(rv, l.envPrefix, lookup); err != nil {
		return err
	}
	return validate(cfg, rv)
}

// MustLoad loads a T or panics. Use it in main, where a bad configuration
// must stop the boot.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return kerr.InvalidParam("config: file path must not contain \"..\"")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return kerr.Wrapf(err, kerr.CodeInvalidParam, "config: failed to read %q", l.filePath)
	}

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return kerr.Wrapf(err, kerr.CodeInvalidParam, "config: failed to parse YAML %q", l.filePath)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return kerr.Wrapf(err, kerr.CodeInvalidParam, "config: failed to parse JSON %q", l.filePath)
		}
	default:
		return kerr.Newf(kerr.CodeInvalidParam,
			"config: unsupported file extension %q (use .yaml, .yml or .json)", ext)
	}
	return nil
}

// nested reports whether a field is a struct the loader descends into.
func nested(f reflect.Value) bool {
	return f.Kind() == reflect.Struct && f.Type() != durationType
}

func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		if nested(field) {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}
		def, ok := sf.Tag.Lookup("envDefault")
		if !ok || !field.IsZero() {
			continue
		}
		if err := setField(field, def); err != nil {
			return kerr.Wrapf(err, kerr.CodeInvalidParam,
				"config: bad default for field %q", sf.Name).WithDetail("field", sf.Name)
		}
	}
	return nil
}

func applyEnv(rv reflect.Value, prefix string, lookup LookupFunc) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		tag := sf.Tag.Get("env")

		if nested(field) {
			if err := applyEnv(field, joinKey(prefix, tag), lookup); err != nil {
				return err
			}
			continue
		}
		if tag == "" {
			continue
		}

		key := joinKey(prefix, tag)
		val, ok := lookup(key)
		if !ok {
			continue
		}
		if err := setField(field, val); err != nil {
			return kerr.Wrapf(err, kerr.CodeInvalidParam,
				"config: bad value in %s for field %q", key, sf.Name).WithDetail("field", sf.Name)
		}
	}
	return nil
}

func joinKey(prefix, tag string) string {
	switch {
	case prefix == "":
		return tag
	case tag == "":
		return prefix
	}
	return prefix + "_" + tag
}

// setField parses value into field. Supported kinds are strings (including
// named string types such as secrets), bools, signed and unsigned
// integers, floats, time.Duration and string slices (comma separated).
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse unsigned integer %q: %w", value, err)
		}
		field.SetUint(n)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse float %q: %w", value, err)
		}
		field.SetFloat(f)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(strings.TrimSpace(p))
		}
		field.Set(slice)

	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
