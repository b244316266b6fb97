// Package main implements the db-navigator CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/electwix/db-navigator/internal/cli"
	"github.com/electwix/db-navigator/internal/config"
	"github.com/electwix/db-navigator/internal/derived"
	"github.com/electwix/db-navigator/internal/diagnostics"
	"github.com/electwix/db-navigator/internal/filter"
	"github.com/electwix/db-navigator/internal/logging"
	"github.com/electwix/db-navigator/internal/meta"
	"github.com/electwix/db-navigator/internal/navigator"
	_ "github.com/electwix/db-navigator/internal/provider/builtin"
	"github.com/electwix/db-navigator/internal/session"
)

func main() {
	code := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := cli.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintln(stdout, err.Error())
			return 0
		}
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	logger := logging.New(logging.Options{
		Verbose: opts.Verbose,
		Writer:  stderr,
	})

	res, err := config.Load(opts.ConfigPath, config.LoadOptions{Strict: opts.StrictConfig})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	for _, warning := range res.Warnings {
		_, _ = fmt.Fprintf(stderr, "%s [warning]\n", warning)
	}

	state, err := config.LoadState(res.Settings.StateFile)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	applyViewFlags(&state, opts)

	v, err := buildView(res.Settings, state, opts)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	reporter := diagnostics.Formatter{Verbose: opts.Verbose}

	sess, diags, err := session.Open(session.Options{
		Settings: res.Settings,
		Logger:   logger,
		Strict:   opts.StrictConfig,
	})
	diags.SortByLocation()
	reporter.WriteAll(stderr, diags.All())
	if err != nil {
		var loadErr *session.LoadError
		if !errors.As(err, &loadErr) {
			_, _ = fmt.Fprintln(stderr, err.Error())
		}
		return 1
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("session close", "error", err)
		}
	}()

	resolver := derived.NewResolver(sess.Tree(), derived.Options{
		ExcludeKinds: res.Settings.DerivedExcludes,
		Logger:       logger,
	})

	var code int
	switch opts.Command {
	case cli.CommandDescribe:
		code = runDescribe(ctx, sess, resolver, opts.Args[0], stdout, stderr)
	case cli.CommandCheckKey:
		code = runCheckKey(ctx, sess, resolver, opts.Args[0], stdout, stderr)
	case cli.CommandWatch:
		code = runWatch(ctx, sess, v, stdout, stderr)
	default:
		target := ""
		if len(opts.Args) == 1 {
			target = opts.Args[0]
		}
		code = runTree(ctx, sess, v, target, stdout, stderr)
	}

	if code == 0 && opts.Command == cli.CommandTree && opts.ViewExplicit() {
		if err := config.SaveState(res.Settings.StateFile, state); err != nil {
			_, _ = fmt.Fprintln(stderr, err.Error())
			return 1
		}
	}

	sessDiags := sess.Diagnostics()
	sessDiags.SortByLocation()
	reporter.WriteAll(stderr, sessDiags.All())
	if line := reporter.Summarize(sessDiags.Summary()); opts.Verbose && line != "" {
		_, _ = fmt.Fprintln(stderr, line)
	}
	return code
}

// view bundles the resolved filtering rules of one invocation.
type view struct {
	state   filter.State
	opts    filter.Options
	project string
	depth   int
}

func applyViewFlags(st *config.State, opts cli.Options) {
	if opts.Explicit["connected"] {
		st.ShowConnected = opts.Connected
	}
	if opts.Explicit["all-projects"] {
		st.ShowAllProjects = opts.AllProjects
	}
	if opts.Explicit["pattern"] {
		st.Pattern = opts.Pattern
	}
	if opts.Explicit["project"] {
		st.ActiveProject = opts.Project
	}
}

func buildView(settings config.Settings, st config.State, opts cli.Options) (view, error) {
	matcher, err := filter.Compile(st.Pattern)
	if err != nil {
		return view{}, err
	}
	depth := settings.ExpandDepth
	if opts.Depth > 0 {
		depth = opts.Depth
	}
	return view{
		state: filter.State{
			ShowConnected:   st.ShowConnected,
			ShowAllProjects: st.ShowAllProjects,
			Pattern:         matcher,
		},
		opts:    filter.Options{Show: settings.ShowKinds, Leaves: settings.LeafKinds},
		project: st.ActiveProject,
		depth:   depth,
	}, nil
}

func runTree(ctx context.Context, sess *session.Session, v view, rawTarget string, stdout, stderr io.Writer) int {
	t := sess.Tree()

	var start *navigator.Node
	if rawTarget == "" {
		// Populate the workspace levels so connected-state and pattern
		// filtering have data to read.
		if _, err := t.Expand(ctx, t.Root(), "", v.depth); err != nil {
			_, _ = fmt.Fprintln(stderr, err.Error())
			return 1
		}
		start = filter.EffectiveRoot(t, v.state, v.project)
	} else {
		target := objectPath(rawTarget)
		found, err := t.Expand(ctx, t.Root(), target, target.Depth())
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err.Error())
			return 1
		}
		if found == nil {
			_, _ = fmt.Fprintf(stderr, "%s: object not found\n", target)
			return 1
		}
		start = found
	}

	if start.Kind() == meta.KindDataSource {
		// Dial before printing so the datasource line shows the live state.
		if _, err := t.Children(ctx, start); err != nil {
			_, _ = fmt.Fprintln(stderr, err.Error())
			return 1
		}
	}

	stopAtDataSource := isWorkspaceKind(start.Kind())
	err := t.Walk(ctx, start, v.depth, func(n *navigator.Node, depth int) bool {
		if depth > 0 && !filter.Visible(n, v.state, v.opts) {
			return false
		}
		_, _ = fmt.Fprintf(stdout, "%s%s\n", strings.Repeat("  ", depth), nodeLine(n))
		return !(stopAtDataSource && n.Kind() == meta.KindDataSource)
	})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	return 0
}

func runDescribe(ctx context.Context, sess *session.Session, resolver *derived.Resolver, raw string, stdout, stderr io.Writer) int {
	t := sess.Tree()
	node, code := resolveObject(ctx, t, raw, stderr)
	if node == nil {
		return code
	}

	attrs, err := t.Attributes(ctx, node)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "%s [%s]\n", node.Path(), node.Kind())
	if label := node.Label(); label != "" && label != node.ID() {
		_, _ = fmt.Fprintf(stdout, "label = %s\n", label)
	}
	for _, a := range attrs {
		_, _ = fmt.Fprintf(stdout, "%s = %s\n", a.Name, a.Value)
	}

	switch node.Kind() {
	case meta.KindTable, meta.KindView:
		return describeRelation(ctx, sess, resolver, node, stdout, stderr)
	}
	return 0
}

// describeRelation appends the column and key summary lines of a table
// or view.
func describeRelation(ctx context.Context, sess *session.Session, resolver *derived.Resolver, relation *navigator.Node, stdout, stderr io.Writer) int {
	cols, err := relationColumns(ctx, sess.Tree(), relation)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	_, _ = fmt.Fprintln(stdout, formatColumns(cols))

	keys, err := resolver.Keys(ctx, relation)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	_, _ = fmt.Fprintln(stdout, formatKeys(keys))
	return 0
}

func runCheckKey(ctx context.Context, sess *session.Session, resolver *derived.Resolver, raw string, stdout, stderr io.Writer) int {
	node, code := resolveObject(ctx, sess.Tree(), raw, stderr)
	if node == nil {
		return code
	}
	if node.Kind() != meta.KindColumn {
		_, _ = fmt.Fprintf(stderr, "%s is a %s, not a column\n", node.Path(), node.Kind())
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%s: in unique key: %t\n", node.Path(), resolver.InUniqueKey(ctx, node))
	return 0
}

func runWatch(ctx context.Context, sess *session.Session, v view, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := sess.Tree()
	if _, err := t.Expand(ctx, t.Root(), "", v.depth); err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	events, cancel := t.Subscribe(64)
	defer cancel()

	if err := sess.Watch(); err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "watching manifests; interrupt to stop")

	for {
		select {
		case <-ctx.Done():
			sum := sess.Summary()
			_, _ = fmt.Fprintf(stdout, "projects %d, connections %d, connected %d, cached nodes %d, errors %d, warnings %d\n",
				sum.Projects, sum.Connections, sum.Connected, sum.CachedNodes, sum.Errors, sum.Warnings)
			return 0
		case ev, ok := <-events:
			if !ok {
				return 0
			}
			_, _ = fmt.Fprintf(stdout, "%s %s\n", ev.Op, ev.Path)
		}
	}
}

// resolveObject finds the node at a user-supplied path, expanding the
// branch that leads to it when it is not cached yet.
func resolveObject(ctx context.Context, t *navigator.Tree, raw string, stderr io.Writer) (*navigator.Node, int) {
	target := objectPath(raw)
	if target.IsRoot() {
		return t.Root(), 0
	}
	if n, ok := t.Lookup(target); ok {
		return n, 0
	}
	n, err := t.Expand(ctx, t.Root(), target, target.Depth())
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return nil, 1
	}
	if n == nil {
		_, _ = fmt.Fprintf(stderr, "%s: object not found\n", target)
		return nil, 1
	}
	return n, 0
}

// objectPath parses a command line object path such as
// "acme/crm/public/orders" into the tree's path form.
func objectPath(raw string) meta.Path {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return meta.RootPath
	}
	return meta.JoinPath(strings.Split(trimmed, "/")...)
}

func isWorkspaceKind(k meta.Kind) bool {
	switch k {
	case meta.KindRoot, meta.KindProject, meta.KindFolder:
		return true
	}
	return false
}

func nodeLine(n *navigator.Node) string {
	switch n.Kind() {
	case meta.KindRoot:
		return n.Label()
	case meta.KindDataSource:
		state := "disconnected"
		if n.Connected() {
			state = "connected"
		}
		return fmt.Sprintf("%s [%s, %s]", n.Label(), n.Kind(), state)
	default:
		return fmt.Sprintf("%s [%s]", n.Label(), n.Kind())
	}
}

func relationColumns(ctx context.Context, t *navigator.Tree, relation *navigator.Node) ([]meta.ColumnDetails, error) {
	kids, err := t.Children(ctx, relation)
	if err != nil {
		return nil, err
	}
	var group *navigator.Node
	for _, kid := range kids {
		if kid.Kind() == meta.KindGroup && kid.ID() == meta.GroupColumns {
			group = kid
			break
		}
	}
	if group == nil {
		return nil, nil
	}

	colNodes, err := t.Children(ctx, group)
	if err != nil {
		return nil, err
	}
	cols := make([]meta.ColumnDetails, 0, len(colNodes))
	for _, cn := range colNodes {
		attrs, err := t.Attributes(ctx, cn)
		if err != nil {
			return nil, err
		}
		det, err := meta.ParseColumn(meta.Record{ID: cn.ID(), Kind: cn.Kind(), Attrs: attrs})
		if err != nil {
			return nil, err
		}
		cols = append(cols, det)
	}
	return cols, nil
}

func formatColumns(cols []meta.ColumnDetails) string {
	if len(cols) == 0 {
		return "columns: none"
	}
	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		segment := col.Name
		if col.TypeName != "" {
			segment += ":" + col.TypeName
		}
		if col.Nullable {
			segment += "?"
		}
		if col.Identity.Valid {
			segment += fmt.Sprintf(" [identity %s]", col.Identity.Decimal)
		}
		parts = append(parts, segment)
	}
	return "columns: " + strings.Join(parts, ", ")
}

func formatKeys(keys []meta.KeyDetails) string {
	if len(keys) == 0 {
		return "keys: none"
	}
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		segment := fmt.Sprintf("%s(%s)", key.Name, strings.Join(key.Columns, ","))
		if key.Unique {
			segment += " unique"
		}
		parts = append(parts, segment)
	}
	return "keys: " + strings.Join(parts, ", ")
}
