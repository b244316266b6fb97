package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

// Commands accepted as the first positional argument. A missing or
// unrecognized first argument selects the tree command, so a bare
// object path prints the tree revealed at that path.
const (
	CommandTree     = "tree"
	CommandDescribe = "describe"
	CommandCheckKey = "check-key"
	CommandWatch    = "watch"
)

type Options struct {
	ConfigPath   string
	StrictConfig bool
	Verbose      bool

	Command string
	Args    []string

	Project     string
	Pattern     string
	Depth       int
	Connected   bool
	AllProjects bool

	// Explicit names the flags present on the command line. View flags
	// that were not given fall back to the persisted view state.
	Explicit map[string]bool
}

// viewFlags are the flags mirrored into the persisted view state.
var viewFlags = []string{"connected", "all-projects", "pattern", "project"}

// ViewExplicit reports whether any view flag was given, meaning the
// persisted view state should be rewritten after the command runs.
func (o Options) ViewExplicit() bool {
	for _, name := range viewFlags {
		if o.Explicit[name] {
			return true
		}
	}
	return false
}

func Parse(args []string) (Options, error) {
	const defaultConfig = "db-navigator.toml"

	opts := Options{
		ConfigPath: defaultConfig,
		Command:    CommandTree,
	}

	fs := flag.NewFlagSet("db-navigator", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "Path to settings file")
	fs.StringVar(&opts.ConfigPath, "c", opts.ConfigPath, "Path to settings file")
	fs.BoolVar(&opts.StrictConfig, "strict-config", false, "Treat settings and manifest warnings as errors")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.Verbose, "v", false, "Enable verbose logging")
	fs.StringVar(&opts.Project, "project", "", "Scope the view to one project")
	fs.StringVar(&opts.Pattern, "pattern", "", "Mask list filtering datasources, e.g. 'emp*, -*_audit'")
	fs.IntVar(&opts.Depth, "depth", 0, "Expansion depth; 0 uses the settings value")
	fs.BoolVar(&opts.Connected, "connected", false, "Show only connected datasources")
	fs.BoolVar(&opts.AllProjects, "all-projects", false, "Show every project instead of the active one")

	parse := func(arguments []string) error {
		if err := fs.Parse(arguments); err != nil {
			return fmt.Errorf("%w\n\n%s", err, Usage(fs))
		}
		return nil
	}

	if err := parse(args); err != nil {
		return Options{}, err
	}

	rest := fs.Args()
	if len(rest) > 0 && knownCommand(rest[0]) {
		opts.Command = rest[0]
		// Flags may follow the command name.
		if err := parse(rest[1:]); err != nil {
			return Options{}, err
		}
		rest = fs.Args()
	}
	opts.Args = rest

	opts.Explicit = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { opts.Explicit[f.Name] = true })

	if err := validate(opts); err != nil {
		return Options{}, fmt.Errorf("%s\n\n%s", err, Usage(fs))
	}
	return opts, nil
}

func knownCommand(name string) bool {
	switch name {
	case CommandTree, CommandDescribe, CommandCheckKey, CommandWatch:
		return true
	}
	return false
}

func validate(opts Options) error {
	if opts.Depth < 0 {
		return errors.New("depth must not be negative")
	}
	switch opts.Command {
	case CommandTree:
		if len(opts.Args) > 1 {
			return fmt.Errorf("tree takes at most one object path, got %d arguments", len(opts.Args))
		}
	case CommandDescribe, CommandCheckKey:
		if len(opts.Args) != 1 {
			return fmt.Errorf("%s requires exactly one object path", opts.Command)
		}
	case CommandWatch:
		if len(opts.Args) != 0 {
			return errors.New("watch takes no arguments")
		}
	}
	return nil
}

func Usage(fs *flag.FlagSet) string {
	if fs == nil {
		return ""
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "Usage of %s:\n", fs.Name())
	buf.WriteString("\nCommands:\n")
	buf.WriteString("  tree [path]       Print the visible metadata tree, revealed at path when given (default)\n")
	buf.WriteString("  describe <path>   Print the qualifiers of one object\n")
	buf.WriteString("  check-key <path>  Report whether a column is covered by a unique key\n")
	buf.WriteString("  watch             Reload on manifest edits and print tree changes\n")
	buf.WriteString("\nFlags:\n")
	out := fs.Output()
	fs.SetOutput(&buf)
	fs.PrintDefaults()
	fs.SetOutput(out)
	return buf.String()
}
