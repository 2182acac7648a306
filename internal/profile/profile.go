// Package profile manages the student's persistent proctor profile.
// The profile is stored at ~/.config/proctor/profile.json and is created
// once via the interactive setup flow, then referenced on every command.
package profile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/fakeyudi/proctor/internal/config"
)

// Profile holds student-level preferences set during first-run setup.
type Profile struct {
	Name          string `json:"name"`
	StudentID     string `json:"student_id"`
	CollectorURL  string `json:"collector_url,omitempty"` // overrides the config file when set
	DefaultFormat string `json:"default_format"`          // "markdown" | "json"
	OutputDir     string `json:"output_dir"`              // where session summaries go
}

// path returns the path to the profile file.
func path() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profile.json"), nil
}

// Exists reports whether a profile file is present on disk.
func Exists() bool {
	p, err := path()
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Load reads the profile from disk. Returns an error if the file is missing or malformed.
func Load() (*Profile, error) {
	p, err := path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("profile not found, run 'proctor setup' to configure: %w", err)
	}
	var prof Profile
	if err := json.Unmarshal(data, &prof); err != nil {
		return nil, fmt.Errorf("malformed profile at %s: %w", p, err)
	}
	return &prof, nil
}

// Save writes the profile to disk, creating the config directory if needed.
func Save(prof *Profile) error {
	p, err := path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(prof, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// Apply overlays the profile's preferences onto cfg.
func (p *Profile) Apply(cfg *config.Config) {
	if p.CollectorURL != "" {
		cfg.CollectorURL = p.CollectorURL
	}
	if p.DefaultFormat != "" {
		cfg.DefaultFormat = p.DefaultFormat
	}
	if p.OutputDir != "" {
		cfg.OutputDir = p.OutputDir
	}
}

// RunSetup runs the interactive setup wizard reading answers from in and
// writing prompts to out. If existing is non-nil, it is used as the default
// for each prompt (edit mode).
func RunSetup(in io.Reader, out io.Writer, existing *Profile) (*Profile, error) {
	r := bufio.NewReader(in)

	ask := func(prompt, defaultVal string) (string, error) {
		if defaultVal != "" {
			fmt.Fprintf(out, "%s [%s]: ", prompt, defaultVal)
		} else {
			fmt.Fprintf(out, "%s: ", prompt)
		}
		line, err := r.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return defaultVal, nil
		}
		return line, nil
	}

	prof := &Profile{
		DefaultFormat: "markdown",
		OutputDir:     ".",
	}
	if existing != nil {
		*prof = *existing
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ┌─────────────────────────────────┐")
	fmt.Fprintln(out, "  │   proctor · first-time setup    │")
	fmt.Fprintln(out, "  └─────────────────────────────────┘")
	fmt.Fprintln(out)

	var err error

	prof.Name, err = ask("  Your name (shown in summaries)", prof.Name)
	if err != nil {
		return nil, err
	}

	for {
		prof.StudentID, err = ask("  Student ID", prof.StudentID)
		if err != nil {
			return nil, err
		}
		if prof.StudentID != "" {
			break
		}
		fmt.Fprintln(out, "  A student ID is required.")
	}

	collector, err := ask("  Collector URL (blank for the configured default)", prof.CollectorURL)
	if err != nil {
		return nil, err
	}
	if collector != "" {
		if u, perr := url.Parse(collector); perr != nil || u.Scheme == "" || u.Host == "" {
			fmt.Fprintln(out, "  Not an absolute URL, keeping the configured default.")
			collector = ""
		}
	}
	prof.CollectorURL = collector

	format, err := ask("  Default summary format (markdown/json)", prof.DefaultFormat)
	if err != nil {
		return nil, err
	}
	if format == "json" {
		prof.DefaultFormat = "json"
	} else {
		prof.DefaultFormat = "markdown"
	}

	prof.OutputDir, err = ask("  Default output directory", prof.OutputDir)
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(out)
	return prof, nil
}
