// Package config loads authgate configuration from struct tag defaults,
// per-environment profile defaults, an optional YAML/JSON file and
// environment variables. Values are resolved in priority order, lowest
// first:
//
//	envDefault struct tags
//	profileDefault struct tags for the active profile
//	YAML/JSON config file
//	environment variables
//
// Profiles exist because the gateway's latency budgets differ per
// deployment: the auth service timeout and the token reuse interval are
// shorter in staging than in development or production.
//
// # Struct Tags
//
//   - `env:"VAR_NAME"` maps the field to an environment variable
//   - `envDefault:"value"` sets a default when the field is zero-valued
//   - `profileDefault:"staging=500ms;production=1s"` overrides envDefault
//     for the named profiles (entries separated by ';')
//   - `required:"true"` fails validation if the field remains zero
//
// Nested structs extend the env prefix with their own env tag.
//
// # Usage
//
//	type UpstreamConfig struct {
//	    URL     string        `env:"URL" yaml:"url" required:"true"`
//	    Timeout time.Duration `env:"TIMEOUT" envDefault:"1s" profileDefault:"staging=500ms" yaml:"timeout"`
//	}
//
//	cfg := config.MustLoad[UpstreamConfig](
//	    config.New().WithEnvPrefix("AUTHGATE").WithProfile("staging"),
//	)
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

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// durationType distinguishes time.Duration from plain int64 fields.
var durationType = reflect.TypeOf(time.Duration(0))

// Loader executes layered configuration loading. Use [New] and the With*
// methods to configure it before calling [Loader.Load].
//
// Loader is not safe for concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
	profile   string
}

// New creates a Loader that reads environment variables only: no prefix,
// no file, no profile.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix sets an upper-cased prefix joined with "_" to every env
// var name. WithEnvPrefix("AUTHGATE") makes `env:"HOST"` read AUTHGATE_HOST.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets the path to a YAML (.yaml/.yml) or JSON (.json) file. A
// missing file is not an error. Paths containing ".." are rejected.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithProfile selects the deployment profile (e.g. "staging") whose
// profileDefault entries override envDefault values. Profile names are
// compared case-insensitively. An empty profile disables profile defaults.
func (l *Loader) WithProfile(profile string) *Loader {
	l.profile = strings.ToLower(strings.TrimSpace(profile))
	return l
}

// Profile returns the active profile name.
func (l *Loader) Profile() string {
	return l.profile
}

// Load populates cfg, which must be a non-nil pointer to a struct, and then
// validates it: `required:"true"` fields must be non-zero, and a struct
// implementing [Validator] has its Validate method called.
//
// Loading failures return [sserr.CodeInternalConfiguration]; validation
// failures return [sserr.CodeValidationRequired] or [sserr.CodeValidation].
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}

	if err := applyDefaults(rv, l.profile); err != nil {
		return err
	}

	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}

	if err := applyEnv(rv, l.envPrefix); err != nil {
		return err
	}

	return validate(cfg, rv)
}

// MustLoad loads a T with the given loader and panics on failure. Use it in
// func main where a broken configuration must stop startup.
//
//	cfg := config.MustLoad[GatewayConfig](config.New().WithEnvPrefix("AUTHGATE"))
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to parse YAML file %q", l.filePath)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to parse JSON file %q", l.filePath)
		}
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}
	return nil
}

// applyDefaults fills zero-valued fields from the active profile's
// profileDefault entry, falling back to envDefault.
func applyDefaults(rv reflect.Value, profile string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := applyDefaults(field, profile); err != nil {
				return err
			}
			continue
		}

		if !field.IsZero() {
			continue
		}

		value, ok, err := profileValue(sf.Tag.Get("profileDefault"), profile)
		if err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: malformed profileDefault tag on field %q", sf.Name)
		}
		if !ok {
			value = sf.Tag.Get("envDefault")
		}
		if value == "" {
			continue
		}

		if err := setField(field, value); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to apply default for field %q", sf.Name)
		}
	}

	return nil
}

// profileValue looks up profile in a "name=value;name=value" tag.
func profileValue(tag, profile string) (string, bool, error) {
	if tag == "" || profile == "" {
		return "", false, nil
	}
	for _, entry := range strings.Split(tag, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, value, found := strings.Cut(entry, "=")
		if !found || strings.TrimSpace(name) == "" {
			return "", false, fmt.Errorf("entry %q is not name=value", entry)
		}
		if strings.EqualFold(strings.TrimSpace(name), profile) {
			return strings.TrimSpace(value), true, nil
		}
	}
	return "", false, nil
}

// applyEnv sets fields from environment variables. A nested struct's env
// tag is appended to the prefix of its children.
func applyEnv(rv reflect.Value, prefix string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		envTag := sf.Tag.Get("env")

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := applyEnv(field, joinEnv(prefix, envTag)); err != nil {
				return err
			}
			continue
		}

		if envTag == "" {
			continue
		}

		envKey := joinEnv(prefix, envTag)
		val, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}

		if err := setField(field, val); err != nil {
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"config: failed to set field %q from env var %q", sf.Name, envKey)
		}
	}

	return nil
}

func joinEnv(prefix, name string) string {
	switch {
	case name == "":
		return prefix
	case prefix == "":
		return name
	default:
		return prefix + "_" + name
	}
}

// setField parses value into field. Supported kinds: string (including
// named string types such as postgres.Secret), bool, signed and unsigned
// integers, time.Duration, float64 and []string (comma-separated).
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
