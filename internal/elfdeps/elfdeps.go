// Package elfdeps resolves the transitive shared-library closure of an ELF
// binary inside a jail root. It never parses ELF itself; it shells out to
// the platform's dynamic-linker introspection tool (ldd) and builds a
// closure over its output.
package elfdeps

import (
	"context"
	"regexp"
	"strings"

	"github.com/crateutil/crate"
	"github.com/crateutil/crate/internal/execrun"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// lddLine matches a single "lib.so.N => /resolved/path (0x...)" line of
// ldd(1) output, keeping only the resolved right-hand-side path.
var lddLine = regexp.MustCompile(`^\s*[^\s]+\s*=>\s*(/[^\s]+)`)

// Filter reports whether a resolved library path should be kept in a
// closure. Resolve and Closure apply it to every edge they discover.
type Filter func(resolvedPath string) bool

// ExcludePrefix returns a Filter that rejects paths under prefix, used
// during pruning to keep base-only closures free of third-party libraries.
func ExcludePrefix(prefix string) Filter {
	return func(path string) bool {
		return !strings.HasPrefix(path, prefix)
	}
}

// Any accepts every path; used when no filtering is required.
func Any(string) bool { return true }

// Resolve returns the immediate (non-transitive) shared-library
// dependencies of the ELF file at jailPath, as seen from inside jailRoot,
// by running ldd through chroot. Paths failing filter are dropped.
func Resolve(ctx context.Context, jailRoot, jailPath string, filter Filter) ([]string, error) {
	out, err := execrun.Run(ctx, "chroot", jailRoot, "ldd", jailPath)
	if err != nil {
		return nil, &crate.SysError{Call: "ldd " + jailPath, Err: err}
	}
	var deps []string
	for _, line := range strings.Split(out, "\n") {
		m := lddLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if filter == nil || filter(m[1]) {
			deps = append(deps, m[1])
		}
	}
	return deps, nil
}

// closureGraph builds a directed graph of path -> path edges lazily,
// resolving each newly-discovered node's dependencies on demand as the
// traversal visits it. Node IDs are interned string paths.
type closureGraph struct {
	ctx      context.Context
	jailRoot string
	filter   Filter
	ids      map[string]int64
	next     int64
	g        *simple.DirectedGraph
	resolved map[int64]bool
	err      error
}

func newClosureGraph(ctx context.Context, jailRoot string, filter Filter) *closureGraph {
	return &closureGraph{
		ctx:      ctx,
		jailRoot: jailRoot,
		filter:   filter,
		ids:      make(map[string]int64),
		g:        simple.NewDirectedGraph(),
		resolved: make(map[int64]bool),
	}
}

func (c *closureGraph) nodeID(path string) int64 {
	if id, ok := c.ids[path]; ok {
		return id
	}
	id := c.next
	c.next++
	c.ids[path] = id
	c.g.AddNode(simple.Node(id))
	return id
}

// expand resolves path's direct dependencies, if not already done, and adds
// edges for each into the graph.
func (c *closureGraph) expand(path string) {
	id := c.nodeID(path)
	if c.resolved[id] || c.err != nil {
		return
	}
	c.resolved[id] = true
	deps, err := Resolve(c.ctx, c.jailRoot, path, c.filter)
	if err != nil {
		c.err = err
		return
	}
	for _, dep := range deps {
		depID := c.nodeID(dep)
		if id != depID {
			c.g.SetEdge(c.g.NewEdge(simple.Node(id), simple.Node(depID)))
		}
	}
}

// Closure computes the transitive shared-library closure of seed (the set
// of absolute jail paths of ELF files to start from), via breadth-first
// traversal (gonum.org/v1/gonum/graph/traverse.BreadthFirst) over a
// directed graph built lazily as nodes are visited, rather than hand-rolled
// recursion.
func Closure(ctx context.Context, jailRoot string, seed []string, filter Filter) ([]string, error) {
	cg := newClosureGraph(ctx, jailRoot, filter)

	for _, s := range seed {
		cg.expand(s)
	}

	visited := make(map[int64]bool)
	bf := traverse.BreadthFirst{
		Visit: func(n graph.Node) {
			visited[n.ID()] = true
			cg.expand(pathOf(cg, n.ID()))
		},
	}
	for _, s := range seed {
		id := cg.nodeID(s)
		if cg.err != nil {
			return nil, cg.err
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		bf.Walk(cg.g, simple.Node(id), nil)
		if cg.err != nil {
			return nil, cg.err
		}
	}

	paths := make([]string, 0, len(visited))
	for path, id := range cg.ids {
		if visited[id] {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func pathOf(cg *closureGraph, id int64) string {
	for path, nid := range cg.ids {
		if nid == id {
			return path
		}
	}
	return ""
}
