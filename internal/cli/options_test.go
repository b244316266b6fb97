package cli

import (
	"errors"
	"flag"
	"strings"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	opts, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if opts.ConfigPath != "db-navigator.toml" {
		t.Fatalf("ConfigPath = %q, want %q", opts.ConfigPath, "db-navigator.toml")
	}
	if opts.Command != CommandTree {
		t.Fatalf("Command = %q, want %q", opts.Command, CommandTree)
	}
	if opts.StrictConfig {
		t.Fatalf("StrictConfig = true, want false")
	}
	if opts.Verbose {
		t.Fatalf("Verbose = true, want false")
	}
	if opts.Depth != 0 {
		t.Fatalf("Depth = %d, want 0", opts.Depth)
	}
	if len(opts.Args) != 0 {
		t.Fatalf("Args = %v, want empty slice", opts.Args)
	}
	if opts.ViewExplicit() {
		t.Fatalf("ViewExplicit() = true, want false")
	}
}

func TestParseOverrides(t *testing.T) {
	args := []string{
		"--config", "nav.toml",
		"--strict-config",
		"-v",
		"--pattern", "emp*, -*_audit",
		"--project", "acme",
		"--depth", "5",
		"--connected",
		"--all-projects",
	}

	opts, err := Parse(args)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if got, want := opts.ConfigPath, "nav.toml"; got != want {
		t.Fatalf("ConfigPath = %q, want %q", got, want)
	}
	if !opts.StrictConfig {
		t.Fatalf("StrictConfig = false, want true")
	}
	if !opts.Verbose {
		t.Fatalf("Verbose = false, want true")
	}
	if got, want := opts.Pattern, "emp*, -*_audit"; got != want {
		t.Fatalf("Pattern = %q, want %q", got, want)
	}
	if got, want := opts.Project, "acme"; got != want {
		t.Fatalf("Project = %q, want %q", got, want)
	}
	if opts.Depth != 5 {
		t.Fatalf("Depth = %d, want 5", opts.Depth)
	}
	if !opts.Connected {
		t.Fatalf("Connected = false, want true")
	}
	if !opts.AllProjects {
		t.Fatalf("AllProjects = false, want true")
	}
	if !opts.ViewExplicit() {
		t.Fatalf("ViewExplicit() = false, want true")
	}
}

func TestParseCommands(t *testing.T) {
	cases := []struct {
		name     string
		args     []string
		command  string
		wantArgs []string
	}{
		{name: "default tree", args: nil, command: CommandTree},
		{name: "explicit tree", args: []string{"tree"}, command: CommandTree},
		{name: "tree with path", args: []string{"tree", "acme/crm"}, command: CommandTree, wantArgs: []string{"acme/crm"}},
		{name: "bare path defaults to tree", args: []string{"acme/crm"}, command: CommandTree, wantArgs: []string{"acme/crm"}},
		{name: "describe", args: []string{"describe", "acme/crm/public"}, command: CommandDescribe, wantArgs: []string{"acme/crm/public"}},
		{name: "check-key", args: []string{"check-key", "acme/crm/public/t/columns/id"}, command: CommandCheckKey, wantArgs: []string{"acme/crm/public/t/columns/id"}},
		{name: "watch", args: []string{"watch"}, command: CommandWatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts, err := Parse(tc.args)
			if err != nil {
				t.Fatalf("Parse(%v) returned error: %v", tc.args, err)
			}
			if opts.Command != tc.command {
				t.Fatalf("Command = %q, want %q", opts.Command, tc.command)
			}
			if len(opts.Args) != len(tc.wantArgs) {
				t.Fatalf("Args = %v, want %v", opts.Args, tc.wantArgs)
			}
			for i := range tc.wantArgs {
				if opts.Args[i] != tc.wantArgs[i] {
					t.Fatalf("Args = %v, want %v", opts.Args, tc.wantArgs)
				}
			}
		})
	}
}

func TestParseFlagsAfterCommand(t *testing.T) {
	opts, err := Parse([]string{"tree", "-pattern", "crm", "-connected"})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if opts.Command != CommandTree {
		t.Fatalf("Command = %q, want %q", opts.Command, CommandTree)
	}
	if opts.Pattern != "crm" {
		t.Fatalf("Pattern = %q, want %q", opts.Pattern, "crm")
	}
	if !opts.Connected {
		t.Fatalf("Connected = false, want true")
	}
	if !opts.Explicit["pattern"] || !opts.Explicit["connected"] {
		t.Fatalf("Explicit = %v, want pattern and connected set", opts.Explicit)
	}
}

func TestParseArgumentCounts(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{name: "describe without path", args: []string{"describe"}},
		{name: "describe with two paths", args: []string{"describe", "a", "b"}},
		{name: "check-key without path", args: []string{"check-key"}},
		{name: "tree with two paths", args: []string{"tree", "a", "b"}},
		{name: "watch with path", args: []string{"watch", "a"}},
		{name: "negative depth", args: []string{"-depth", "-1", "tree"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.args)
			if err == nil {
				t.Fatalf("Parse(%v) expected error", tc.args)
			}
			if !strings.Contains(err.Error(), "Usage of db-navigator") {
				t.Fatalf("error = %q, want usage string", err.Error())
			}
		})
	}
}

func TestParseInvalidFlag(t *testing.T) {
	_, err := Parse([]string{"--unknown"})
	if err == nil {
		t.Fatalf("Parse expected error for unknown flag")
	}
	if !strings.Contains(err.Error(), "Usage of db-navigator") {
		t.Fatalf("error = %q, want usage string", err.Error())
	}
	if errors.Is(err, flag.ErrHelp) {
		t.Fatalf("error unexpectedly wraps flag.ErrHelp")
	}
}

func TestParseHelp(t *testing.T) {
	_, err := Parse([]string{"-h"})
	if err == nil {
		t.Fatalf("Parse expected flag.ErrHelp")
	}
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("error = %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(err.Error(), "Commands:") {
		t.Fatalf("error = %q, want command listing", err.Error())
	}
}

func TestUsage(t *testing.T) {
	fs := flag.NewFlagSet("db-navigator", flag.ContinueOnError)
	fs.String("flag", "value", "test flag")

	usage := Usage(fs)
	if !strings.Contains(usage, "Usage of db-navigator:") {
		t.Fatalf("usage missing header: %q", usage)
	}
	if !strings.Contains(usage, "check-key") {
		t.Fatalf("usage missing command listing: %q", usage)
	}
	if !strings.Contains(usage, "-flag") {
		t.Fatalf("usage missing flag definition: %q", usage)
	}
}
