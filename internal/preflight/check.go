package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forge-ai/forge/internal/config"
	"github.com/forge-ai/forge/internal/output"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker performs preflight validation checks.
type Checker struct {
	cfg        *config.Config
	configPath string
	verbose    bool
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) { c.verbose = verbose }
}

// WithConfigPath names the explicit config file the config check loads.
func WithConfigPath(path string) Option {
	return func(c *Checker) { c.configPath = path }
}

// New creates a Checker. cfg supplies the provider settings for the
// service checks; nil means defaults.
func New(cfg *config.Config, opts ...Option) *Checker {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	c := &Checker{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against the project at root.
func (c *Checker) RunAll(ctx context.Context, root string) []CheckResult {
	return []CheckResult{
		c.CheckConfig(root),
		c.CheckDiskSpace(root),
		c.CheckWritePermissions(root),
		c.CheckFileDescriptors(),
		c.CheckEmbedding(ctx),
		c.CheckSummarizer(ctx),
		c.CheckIndex(root),
	}
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns "failed", "ready_with_warnings" or "ready".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || r.Status == StatusFail {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to out.
func (c *Checker) PrintResults(out *output.Console, results []CheckResult) {
	out.Heading("forge system check")
	out.Newline()

	for _, r := range results {
		line := fmt.Sprintf("%s: %s", r.Name, r.Message)
		switch r.Status {
		case StatusPass:
			out.Successf("%s", line)
		case StatusWarn:
			out.Warningf("%s", line)
		default:
			out.Errorf("%s", line)
		}
		if c.verbose && r.Details != "" {
			out.Status("", r.Details)
		}
	}

	out.Newline()
	out.Field("Status", strings.ToUpper(c.SummaryStatus(results)))
}

// CheckConfig loads the layered configuration for root.
func (c *Checker) CheckConfig(root string) CheckResult {
	result := CheckResult{Name: "config", Required: true}

	if _, err := config.Load(root, c.configPath); err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	result.Status = StatusPass
	if p := config.FindProjectConfig(root); p != "" {
		result.Message = "valid (" + filepath.Base(p) + ")"
	} else {
		result.Message = "valid (defaults)"
	}
	return result
}

// CheckWritePermissions checks that the data directory can be created in
// the project.
func (c *Checker) CheckWritePermissions(root string) CheckResult {
	result := CheckResult{Name: "write_permissions", Required: true}

	testFile := filepath.Join(root, ".forge-preflight-test")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}
