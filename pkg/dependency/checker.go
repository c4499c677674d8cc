package dependency

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/samber/lo"
)

// Dependency describes an external binary the bot shells out to.
type Dependency struct {
	Name        string
	Command     string
	Args        []string
	Required    bool
	Description string
	InstallCmd  string
}

// CheckResult represents the result of a dependency check
type CheckResult struct {
	Dependency Dependency
	Available  bool
	Version    string
	Error      error
}

// Checker runs each dependency's version command under a timeout.
type Checker struct {
	timeout time.Duration
}

func NewChecker(timeout time.Duration) *Checker {
	return &Checker{timeout: timeout}
}

func (c *Checker) CheckAll(ctx context.Context, deps []Dependency) []CheckResult {
	return lo.Map(deps, func(dep Dependency, _ int) CheckResult {
		return c.Check(ctx, dep)
	})
}

// Check runs a single dependency's version command.
func (c *Checker) Check(ctx context.Context, dep Dependency) CheckResult {
	result := CheckResult{Dependency: dep}

	cmdCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	output, err := exec.CommandContext(cmdCtx, dep.Command, dep.Args...).Output()
	if err != nil {
		result.Error = err
		return result
	}

	result.Available = true
	result.Version = firstLine(string(output))
	return result
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// SystemDependencies lists ffmpeg, which the opus encoder pipes through, and
// yt-dlp, which backs the YouTube fallback downloader.
func SystemDependencies() []Dependency {
	return []Dependency{
		{
			Name:        "FFmpeg",
			Command:     "ffmpeg",
			Args:        []string{"-version"},
			Required:    true,
			Description: "Decodes source audio for the opus encoder",
			InstallCmd:  "brew install ffmpeg (macOS) | apt-get install ffmpeg (Ubuntu)",
		},
		{
			Name:        "yt-dlp",
			Command:     "yt-dlp",
			Args:        []string{"--version"},
			Required:    false,
			Description: "Fallback YouTube metadata and audio downloader",
			InstallCmd:  "pip install yt-dlp | brew install yt-dlp",
		},
	}
}

// EnvironmentReport contains the results of environment validation
type EnvironmentReport struct {
	CheckTime       time.Time
	Results         []CheckResult
	RequiredMissing []string
	OptionalMissing []string
	Severity        string
}

// ValidateEnvironment checks deps and classifies what is missing.
func ValidateEnvironment(ctx context.Context, checker *Checker, deps []Dependency) *EnvironmentReport {
	report := &EnvironmentReport{
		CheckTime: time.Now(),
		Results:   checker.CheckAll(ctx, deps),
	}
	report.analyze()
	return report
}

func (r *EnvironmentReport) analyze() {
	missing := lo.Filter(r.Results, func(res CheckResult, _ int) bool { return !res.Available })
	required, optional := lo.FilterReject(missing, func(res CheckResult, _ int) bool {
		return res.Dependency.Required
	})
	r.RequiredMissing = lo.Map(required, func(res CheckResult, _ int) string { return res.Dependency.Name })
	r.OptionalMissing = lo.Map(optional, func(res CheckResult, _ int) string { return res.Dependency.Name })

	switch {
	case len(r.RequiredMissing) > 0:
		r.Severity = "CRITICAL"
	case len(r.OptionalMissing) > 0:
		r.Severity = "WARNING"
	default:
		r.Severity = "OK"
	}
}

// IsHealthy returns true if all required dependencies are available
func (r *EnvironmentReport) IsHealthy() bool {
	return len(r.RequiredMissing) == 0
}

// Has reports whether the named dependency was found.
func (r *EnvironmentReport) Has(name string) bool {
	res, ok := lo.Find(r.Results, func(res CheckResult) bool { return res.Dependency.Name == name })
	return ok && res.Available
}

// GenerateReport renders the report for a terminal. Colour is disabled
// automatically when stdout is not a TTY.
func (r *EnvironmentReport) GenerateReport() string {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed, color.Bold).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	header := color.New(color.Bold).SprintFunc()

	var b strings.Builder
	b.WriteString(header("=== Songbird Environment Report ===") + "\n")
	fmt.Fprintf(&b, "Check Time: %s\n", r.CheckTime.Format("2006-01-02 15:04:05"))

	severity := ok(r.Severity)
	switch r.Severity {
	case "CRITICAL":
		severity = bad(r.Severity)
	case "WARNING":
		severity = warn(r.Severity)
	}
	fmt.Fprintf(&b, "Severity: %s\n\n", severity)

	for _, res := range r.Results {
		status := ok("available")
		if !res.Available {
			if res.Dependency.Required {
				status = bad("missing")
			} else {
				status = warn("missing")
			}
		}
		required := ""
		if res.Dependency.Required {
			required = " (required)"
		}
		fmt.Fprintf(&b, "  %s: %s%s\n", res.Dependency.Name, status, required)
		if res.Version != "" {
			fmt.Fprintf(&b, "    %s\n", res.Version)
		}
		if !res.Available && res.Dependency.InstallCmd != "" {
			fmt.Fprintf(&b, "    install: %s\n", res.Dependency.InstallCmd)
		}
	}

	return b.String()
}
