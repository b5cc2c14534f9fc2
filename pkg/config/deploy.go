package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/sidkik/ship/pkg/errors"
	"github.com/sidkik/ship/pkg/sync"
)

// Environment variables read by Load.
const (
	ProjectDirEnv     = "SHIP_PROJECT_DIR"
	ServiceNameEnv    = "SHIP_SERVICE_NAME"
	SourceDirEnv      = "SHIP_SOURCE_DIR"
	OnStopFailureEnv  = "SHIP_ON_STOP_FAILURE"
	StopDelayEnv      = "SHIP_STOP_DELAY"
	MirrorToolEnv     = "SHIP_MIRROR_TOOL"
	ServiceManagerEnv = "SHIP_SERVICE_MANAGER"
	EntryModuleEnv    = "SHIP_ENTRY_MODULE"
	InterpreterEnv    = "SHIP_INTERPRETER"
	VerifyRootEnv     = "SHIP_VERIFY_ROOT"
	VerifyTimeoutEnv  = "SHIP_VERIFY_TIMEOUT"
	ConfigPathEnv     = "SHIP_CONFIG"
)

const (
	// InitialDeployConfigVersion is the first version of the deploy config.
	// Config files that do not specify a version default to this version.
	InitialDeployConfigVersion = "v1alpha1"

	// SupportedDeployConfigVersion is the version of the deploy config
	// understood by this binary.
	SupportedDeployConfigVersion = "v1alpha1"
)

// StopFailurePolicy decides what happens when the service can't be stopped
// before mirroring.
type StopFailurePolicy string

const (
	// StopFailureContinue logs a warning and mirrors anyway. Files held open
	// by the service show up as in-use skips in the mirror outcome.
	StopFailureContinue StopFailurePolicy = "continue"

	// StopFailureAbort fails the run before the destination is touched.
	StopFailureAbort StopFailurePolicy = "abort"
)

// MirrorTool selects the mirror backend.
type MirrorTool string

const (
	MirrorNative   MirrorTool = "native"
	MirrorRobocopy MirrorTool = "robocopy"
)

// ServiceManager selects how services are controlled.
type ServiceManager string

const (
	ServiceManagerSystemd   ServiceManager = "systemd"
	ServiceManagerSystemctl ServiceManager = "systemctl"
)

// VerifyRoot selects which tree the health check loads the entry module from.
type VerifyRoot string

const (
	VerifyDestination VerifyRoot = "destination"
	VerifySource      VerifyRoot = "source"
)

// DefaultExclusions are the path names that are never copied or deleted
// while mirroring. They're matched against every path component.
var DefaultExclusions = []string{
	".git",
	".github",
	".gitlab",
	".gitlab-ci.yml",
	"__pycache__",
	".pytest_cache",
	".mypy_cache",
	".venv",
	"venv",
	"env",
	"logs",
	"state",
}

// Duration is a time.Duration that is written as a Go duration string
// ("2s", "1m30s") in the config file.
type Duration time.Duration

// UnmarshalJSON parses either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		parsed, err := time.ParseDuration(str)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}

	var ns int64
	if err := json.Unmarshal(b, &ns); err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	*d = Duration(ns)
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Deploy contains everything needed for a single deployment run. It's built
// once at startup by Load and then passed explicitly to the sync engine and
// the health verifier.
type Deploy struct {
	Version string `json:"version,omitempty"`

	// ServiceName and DestinationPath make up the deployment target. Both
	// are required.
	ServiceName     string `json:"serviceName,omitempty"`
	DestinationPath string `json:"destinationPath,omitempty"`

	// SourcePath is the tree to deploy. Defaults to the working directory.
	SourcePath string `json:"sourcePath,omitempty"`

	// Exclude is appended to DefaultExclusions.
	Exclude []string `json:"exclude,omitempty"`

	OnStopFailure  StopFailurePolicy `json:"onStopFailure,omitempty"`
	StopDelay      Duration          `json:"stopDelay,omitempty"`
	MirrorTool     MirrorTool        `json:"mirrorTool,omitempty"`
	ServiceManager ServiceManager    `json:"serviceManager,omitempty"`

	EntryModule   string     `json:"entryModule,omitempty"`
	Interpreter   string     `json:"interpreter,omitempty"`
	VerifyRoot    VerifyRoot `json:"verifyRoot,omitempty"`
	VerifyTimeout Duration   `json:"verifyTimeout,omitempty"`
}

func (c Deploy) getVersion() string {
	return c.Version
}

// Default returns a Deploy with every optional field set to its default.
func Default() Deploy {
	return Deploy{
		Version:        InitialDeployConfigVersion,
		OnStopFailure:  StopFailureContinue,
		StopDelay:      Duration(2 * time.Second),
		MirrorTool:     MirrorNative,
		ServiceManager: ServiceManagerSystemd,
		EntryModule:    "main",
		Interpreter:    "python3",
		VerifyRoot:     VerifyDestination,
		VerifyTimeout:  Duration(60 * time.Second),
	}
}

// Exclusions returns the full, ordered exclusion list.
func (c Deploy) Exclusions() []string {
	return append(append([]string{}, DefaultExclusions...), c.Exclude...)
}

// VerifyPath returns the root that the health check should load from.
func (c Deploy) VerifyPath() string {
	if c.VerifyRoot == VerifySource {
		return c.SourcePath
	}
	return c.DestinationPath
}

// Load builds the deploy configuration. If `path` is empty, SHIP_CONFIG is
// consulted, and if that's empty too no file is read. Environment variables
// always take precedence over the file. The result is validated before it's
// returned.
func Load(path string) (Deploy, error) {
	cfg := Default()

	if path == "" {
		path = getenv(ConfigPathEnv)
	}
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return Deploy{}, errors.WithContext(err, "expand config path")
		}
		if err := parseConfig(expanded, &cfg, SupportedDeployConfigVersion); err != nil {
			return Deploy{}, errors.WithContext(err, "parse")
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Deploy{}, errors.WithContext(err, "read environment")
	}

	if cfg.SourcePath == "" {
		wd, err := getwd()
		if err != nil {
			return Deploy{}, errors.WithContext(err, "get working directory")
		}
		cfg.SourcePath = wd
	}

	for _, p := range []*string{&cfg.SourcePath, &cfg.DestinationPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return Deploy{}, errors.WithContext(err, "expand homedir")
		}
		*p = filepath.Clean(expanded)
	}

	// The source is resolved against the working directory, so that the
	// verify subprocess never depends on its own working directory.
	if !filepath.IsAbs(cfg.SourcePath) {
		wd, err := getwd()
		if err != nil {
			return Deploy{}, errors.WithContext(err, "get working directory")
		}
		cfg.SourcePath = filepath.Join(wd, cfg.SourcePath)
	}

	if err := cfg.Validate(); err != nil {
		return Deploy{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Deploy) error {
	strs := map[string]*string{
		ProjectDirEnv:  &cfg.DestinationPath,
		ServiceNameEnv: &cfg.ServiceName,
		SourceDirEnv:   &cfg.SourcePath,
		EntryModuleEnv: &cfg.EntryModule,
		InterpreterEnv: &cfg.Interpreter,
	}
	for key, field := range strs {
		if val := strings.TrimSpace(getenv(key)); val != "" {
			*field = val
		}
	}

	if val := getenv(OnStopFailureEnv); val != "" {
		cfg.OnStopFailure = StopFailurePolicy(strings.ToLower(val))
	}
	if val := getenv(MirrorToolEnv); val != "" {
		cfg.MirrorTool = MirrorTool(strings.ToLower(val))
	}
	if val := getenv(ServiceManagerEnv); val != "" {
		cfg.ServiceManager = ServiceManager(strings.ToLower(val))
	}
	if val := getenv(VerifyRootEnv); val != "" {
		cfg.VerifyRoot = VerifyRoot(strings.ToLower(val))
	}

	durations := map[string]*Duration{
		StopDelayEnv:     &cfg.StopDelay,
		VerifyTimeoutEnv: &cfg.VerifyTimeout,
	}
	for key, field := range durations {
		val := getenv(key)
		if val == "" {
			continue
		}
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return errors.NewFriendlyError("%s must be a duration such as \"2s\", got %q.", key, val)
		}
		*field = Duration(parsed)
	}
	return nil
}

// Validate checks the configuration before anything is mutated. A missing
// service name or destination is reported as a MissingFieldError naming the
// environment variable to set.
func (c Deploy) Validate() error {
	if c.ServiceName == "" {
		return errors.MissingFieldError{Field: ServiceNameEnv}
	}
	if c.DestinationPath == "" {
		return errors.MissingFieldError{Field: ProjectDirEnv}
	}
	if !filepath.IsAbs(c.DestinationPath) {
		return errors.NewFriendlyError("%s must be an absolute path, got %q.",
			ProjectDirEnv, c.DestinationPath)
	}

	if err := c.checkOverlap(); err != nil {
		return err
	}

	switch c.OnStopFailure {
	case StopFailureAbort, StopFailureContinue:
	default:
		return invalidChoice(OnStopFailureEnv, string(c.OnStopFailure), StopFailureAbort, StopFailureContinue)
	}

	switch c.MirrorTool {
	case MirrorNative, MirrorRobocopy:
	default:
		return invalidChoice(MirrorToolEnv, string(c.MirrorTool), MirrorNative, MirrorRobocopy)
	}

	switch c.ServiceManager {
	case ServiceManagerSystemd, ServiceManagerSystemctl:
	default:
		return invalidChoice(ServiceManagerEnv, string(c.ServiceManager),
			ServiceManagerSystemd, ServiceManagerSystemctl)
	}

	switch c.VerifyRoot {
	case VerifyDestination, VerifySource:
	default:
		return invalidChoice(VerifyRootEnv, string(c.VerifyRoot), VerifyDestination, VerifySource)
	}

	if c.StopDelay < 0 {
		return errors.NewFriendlyError("%s can't be negative.", StopDelayEnv)
	}
	if c.VerifyTimeout <= 0 {
		return errors.NewFriendlyError("%s must be positive.", VerifyTimeoutEnv)
	}
	if c.EntryModule == "" {
		return errors.MissingFieldError{Field: EntryModuleEnv}
	}
	return nil
}

// checkOverlap rejects a destination and source that contain each other,
// unless the nested one is excluded from the mirror.
func (c Deploy) checkOverlap() error {
	if c.SourcePath == "" {
		return nil
	}

	if filepath.Clean(c.SourcePath) == filepath.Clean(c.DestinationPath) {
		return errors.NewFriendlyError("%s and the source directory are both %q.",
			ProjectDirEnv, c.DestinationPath)
	}

	exclusions := sync.ExclusionSet(c.Exclusions())
	if rel, ok := nestedIn(c.SourcePath, c.DestinationPath); ok && !exclusions.Excludes(rel) {
		return errors.NewFriendlyError("%s (%q) is inside the source directory %q, "+
			"so it would be mirrored into itself. Exclude %q, or move the destination.",
			ProjectDirEnv, c.DestinationPath, c.SourcePath, rel)
	}
	if rel, ok := nestedIn(c.DestinationPath, c.SourcePath); ok && !exclusions.Excludes(rel) {
		return errors.NewFriendlyError("The source directory %q is inside %s (%q), "+
			"so the mirror would remove it. Exclude %q, or move the source.",
			c.SourcePath, ProjectDirEnv, c.DestinationPath, rel)
	}
	return nil
}

// nestedIn returns the path of `child` relative to `parent` if `child` is
// strictly inside `parent`.
func nestedIn(parent, child string) (string, bool) {
	rel, err := filepath.Rel(parent, child)
	if err != nil || rel == "." || rel == ".." ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func invalidChoice(key, actual string, choices ...interface{}) error {
	var strs []string
	for _, choice := range choices {
		strs = append(strs, fmt.Sprintf("%q", choice))
	}
	return errors.NewFriendlyError("%s must be one of %s, got %q.",
		key, strings.Join(strs, ", "), actual)
}
