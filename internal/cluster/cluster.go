// Package cluster reports the current kube context and the stable cluster it
// should be compared against.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"github.com/jpalmerr/devpulse/internal/tools"
	"github.com/jpalmerr/devpulse/source"
)

// Config configures a [Fetcher].
type Config struct {
	// ContextFile is the kubeconfig path. Empty uses ~/.kube/config.
	ContextFile string

	// ListCommand prints one available cluster name per line. Empty lists
	// the clusters defined in ContextFile instead.
	ListCommand string

	// Selector picks the stable cluster. Nil uses a MarkerSelector with
	// DefaultMarkers and no fallback.
	Selector Selector

	// Runner executes ListCommand. Nil runs a local shell.
	Runner tools.Runner
}

// Fetcher is the [source.Fetcher] for [source.ClusterContext].
type Fetcher struct {
	path     string
	listCmd  string
	selector Selector
	runner   tools.Runner
}

// NewFetcher creates a fetcher from cfg.
func NewFetcher(cfg Config) *Fetcher {
	f := &Fetcher{
		path:     cfg.ContextFile,
		listCmd:  cfg.ListCommand,
		selector: cfg.Selector,
		runner:   cfg.Runner,
	}
	if f.path == "" {
		f.path = clientcmd.RecommendedHomeFile
	}
	if f.selector == nil {
		f.selector = MarkerSelector{}
	}
	if f.runner == nil {
		f.runner = tools.ShellRunner{}
	}
	return f
}

// ContextFile returns the kubeconfig path being read.
func (f *Fetcher) ContextFile() string {
	return f.path
}

// Fetch reads the current context and resolves the stable cluster.
func (f *Fetcher) Fetch(ctx context.Context) (source.Payload, error) {
	cfg, err := clientcmd.LoadFromFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, source.NotConfigured(fmt.Sprintf("context file %s not found", f.path))
		}
		return nil, source.ParseFailure(fmt.Sprintf("context file %s", f.path), err)
	}
	if cfg.CurrentContext == "" {
		return nil, source.NotConfigured("no current context set")
	}

	current, ok := contextRecord(cfg, cfg.CurrentContext)
	if !ok {
		return nil, source.ParseFailure(fmt.Sprintf("current context %q not defined", cfg.CurrentContext), nil)
	}

	clusters, err := f.clusters(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pair := source.ClusterPair{Current: current}
	if name, fallback, ok := f.selector.Select(clusters); ok {
		pair.Stable = source.ClusterContextRecord{
			Name:     name,
			Cluster:  name,
			Fallback: fallback,
		}
		if c, ok := cfg.Clusters[name]; ok && c != nil {
			pair.Stable.Server = c.Server
		}
	}
	return pair, nil
}

func contextRecord(cfg *clientcmdapi.Config, name string) (source.ClusterContextRecord, bool) {
	kctx, ok := cfg.Contexts[name]
	if !ok || kctx == nil {
		return source.ClusterContextRecord{}, false
	}
	rec := source.ClusterContextRecord{
		Name:      name,
		Cluster:   kctx.Cluster,
		Namespace: kctx.Namespace,
	}
	if c, ok := cfg.Clusters[kctx.Cluster]; ok && c != nil {
		rec.Server = c.Server
	}
	return rec, true
}

// clusters returns the available cluster names in a stable order.
func (f *Fetcher) clusters(ctx context.Context, cfg *clientcmdapi.Config) ([]string, error) {
	if f.listCmd == "" {
		names := make([]string, 0, len(cfg.Clusters))
		for name := range cfg.Clusters {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	}

	out, err := f.runner.Run(ctx, []string{"sh", "-c", f.listCmd})
	if err != nil {
		if ctx.Err() != nil {
			return nil, source.AsFetchError(ctx.Err())
		}
		var ec interface{ ExitCode() int }
		if errors.As(err, &ec) {
			return nil, source.Execution(fmt.Sprintf("list clusters: exit code %d", ec.ExitCode()), err)
		}
		return nil, source.Execution("list clusters", err)
	}
	return parseList(out), nil
}

// parseList splits command output into names, skipping blanks and comments.
func parseList(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	return names
}
