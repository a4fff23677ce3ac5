// Package filtergraph models an ffmpeg -filter_complex description as an
// ordered list of typed nodes with counter-allocated labels.
//
// Nodes are appended in dependency order, so insertion order is a valid
// topological order. String validates that every consumed label was produced
// earlier and that no label is consumed twice.
package filtergraph

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrEmptyGraph is returned when serializing a graph with no nodes.
	ErrEmptyGraph = errors.New("filtergraph: empty graph")
	// ErrUnknownLabel is returned when a node consumes a label nothing produced.
	ErrUnknownLabel = errors.New("filtergraph: unknown label")
	// ErrLabelReused is returned when a produced label is consumed twice.
	ErrLabelReused = errors.New("filtergraph: label consumed more than once")
)

// Kind selects the label prefix for a node output.
type Kind string

const (
	Video Kind = "v"
	Audio Kind = "a"
)

// Param is a single filter option. An empty Key makes it positional.
type Param struct {
	Key   string
	Value string
}

// P builds a keyed parameter, formatting numbers without trailing zeros.
func P(key string, value any) Param {
	return Param{Key: key, Value: format(value)}
}

// Arg builds a positional parameter.
func Arg(value any) Param {
	return Param{Value: format(value)}
}

func format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Node is one filter invocation.
type Node struct {
	Inputs  []string
	Op      string
	Params  []Param
	Outputs []string
}

// Graph is an append-only filter graph.
type Graph struct {
	nodes    []Node
	counters map[Kind]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{counters: make(map[Kind]int)}
}

// Add appends a single-output filter and returns the label of its output.
func (g *Graph) Add(kind Kind, op string, inputs []string, params ...Param) string {
	return g.AddMulti(op, inputs, []Kind{kind}, params...)[0]
}

// AddMulti appends a filter with one output per entry in kinds and returns
// the output labels in order.
func (g *Graph) AddMulti(op string, inputs []string, kinds []Kind, params ...Param) []string {
	outputs := make([]string, len(kinds))
	for i, k := range kinds {
		outputs[i] = g.next(k)
	}
	g.nodes = append(g.nodes, Node{
		Inputs:  append([]string(nil), inputs...),
		Op:      op,
		Params:  append([]Param(nil), params...),
		Outputs: outputs,
	})
	return outputs
}

func (g *Graph) next(k Kind) string {
	g.counters[k]++
	return string(k) + strconv.Itoa(g.counters[k])
}

// Nodes returns a copy of the graph's nodes.
func (g *Graph) Nodes() []Node {
	return append([]Node(nil), g.nodes...)
}

// Len reports the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// String serializes the graph to filter_complex syntax.
func (g *Graph) String() (string, error) {
	if len(g.nodes) == 0 {
		return "", ErrEmptyGraph
	}

	produced := make(map[string]bool)
	consumed := make(map[string]bool)
	chains := make([]string, 0, len(g.nodes))

	for i, n := range g.nodes {
		var b strings.Builder
		for _, in := range n.Inputs {
			if !IsStreamSpecifier(in) {
				if !produced[in] {
					return "", fmt.Errorf("%w: node %d (%s) reads %q", ErrUnknownLabel, i, n.Op, in)
				}
				if consumed[in] {
					return "", fmt.Errorf("%w: node %d (%s) reads %q", ErrLabelReused, i, n.Op, in)
				}
				consumed[in] = true
			}
			b.WriteString("[" + in + "]")
		}

		b.WriteString(n.Op)
		for j, p := range n.Params {
			if j == 0 {
				b.WriteByte('=')
			} else {
				b.WriteByte(':')
			}
			if p.Key != "" {
				b.WriteString(p.Key + "=")
			}
			b.WriteString(escapeGraph(p.Value))
		}

		for _, out := range n.Outputs {
			produced[out] = true
			b.WriteString("[" + out + "]")
		}
		chains = append(chains, b.String())
	}

	return strings.Join(chains, ";"), nil
}

// Unconsumed returns produced labels that no node reads, in production order.
// These are the graph's sinks and must be mapped to the output.
func (g *Graph) Unconsumed() []string {
	consumed := make(map[string]bool)
	for _, n := range g.nodes {
		for _, in := range n.Inputs {
			consumed[in] = true
		}
	}
	var out []string
	for _, n := range g.nodes {
		for _, o := range n.Outputs {
			if !consumed[o] {
				out = append(out, o)
			}
		}
	}
	return out
}

// IsStreamSpecifier reports whether s refers to an input stream such as
// "0:v" or "2:a:0" rather than a graph label.
func IsStreamSpecifier(s string) bool {
	head, _, ok := strings.Cut(s, ":")
	if !ok || head == "" {
		return false
	}
	_, err := strconv.Atoi(head)
	return err == nil
}

// Stream returns the specifier for stream kind of input index.
func Stream(index int, kind Kind) string {
	return strconv.Itoa(index) + ":" + string(kind)
}

var graphEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"[", `\[`,
	"]", `\]`,
	",", `\,`,
	";", `\;`,
)

// escapeGraph applies the filtergraph-level escaping to an option value.
func escapeGraph(s string) string {
	return graphEscaper.Replace(s)
}

var optionEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	":", `\:`,
)

// Escape applies option-level escaping, for values such as file paths that
// may contain ':' or quotes.
func Escape(s string) string {
	return optionEscaper.Replace(s)
}

var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	":", `\:`,
	"%", `\%`,
	"\r\n", " ",
	"\n", " ",
	"\r", " ",
)

// Text escapes a literal string for the drawtext text option.
func Text(s string) string {
	return textEscaper.Replace(s)
}
