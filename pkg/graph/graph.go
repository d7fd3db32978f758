package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ha1tch/quill/pkg/relations"
	"github.com/ha1tch/quill/pkg/storage"
)

// Node is one catalog entity
type Node struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	Group string `json:"group,omitempty"`
}

// Link is a directed relation between two nodes
type Link struct {
	From     int    `json:"from"`
	To       int    `json:"to"`
	Type     string `json:"type"`
	Strength int    `json:"strength"`
}

// IndexedGraph holds nodes with forward and reverse adjacency lists
type IndexedGraph struct {
	nodes     map[int]Node
	adjacency map[int]map[int]Link // node -> {neighbor -> link}
	reverse   map[int]map[int]Link // reverse edges for incoming queries
	dangling  int
	mu        sync.RWMutex
}

// NewIndexedGraph creates an empty graph
func NewIndexedGraph() *IndexedGraph {
	return &IndexedGraph{
		nodes:     make(map[int]Node),
		adjacency: make(map[int]map[int]Link),
		reverse:   make(map[int]map[int]Link),
	}
}

// FromDocuments builds a graph from catalog documents. labelField and
// groupField name the document fields shown on nodes. Edges to documents
// outside docs are counted as dangling and left out.
func FromDocuments(docs []map[string]interface{}, labelField, groupField string) *IndexedGraph {
	g := NewIndexedGraph()

	for _, doc := range docs {
		id, ok := storage.IntField(doc, "id")
		if !ok {
			continue
		}
		label, _ := doc[labelField].(string)
		group, _ := doc[groupField].(string)
		g.AddNode(Node{ID: id, Label: label, Group: group})
	}

	for _, doc := range docs {
		id, ok := storage.IntField(doc, "id")
		if !ok {
			continue
		}
		for _, edge := range relations.Normalize(doc["relations"], id) {
			if err := g.AddEdge(id, edge.ToID, edge.Type, edge.Strength); err != nil {
				g.dangling++
			}
		}
	}

	return g
}

// AddNode adds or replaces a node
func (g *IndexedGraph) AddNode(node Node) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[node.ID] = node
	if _, exists := g.adjacency[node.ID]; !exists {
		g.adjacency[node.ID] = make(map[int]Link)
		g.reverse[node.ID] = make(map[int]Link)
	}
}

// RemoveNode removes a node and all its edges
func (g *IndexedGraph) RemoveNode(id int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for to := range g.adjacency[id] {
		delete(g.reverse[to], id)
	}
	for from := range g.reverse[id] {
		delete(g.adjacency[from], id)
	}
	delete(g.adjacency, id)
	delete(g.reverse, id)
	delete(g.nodes, id)
}

// AddEdge adds a directed edge between existing nodes. A later edge
// between the same pair replaces the earlier one.
func (g *IndexedGraph) AddEdge(from, to int, relType string, strength int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[from]; !exists {
		return fmt.Errorf("node %d not found", from)
	}
	if _, exists := g.nodes[to]; !exists {
		return fmt.Errorf("node %d not found", to)
	}

	link := Link{From: from, To: to, Type: relType, Strength: strength}
	g.adjacency[from][to] = link
	g.reverse[to][from] = link
	return nil
}

// Neighbors returns the outgoing links of a node ordered by target id
func (g *IndexedGraph) Neighbors(id int) []Link {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return sortedLinks(g.adjacency[id], func(l Link) int { return l.To })
}

// Incoming returns the links pointing at a node ordered by source id
func (g *IndexedGraph) Incoming(id int) []Link {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return sortedLinks(g.reverse[id], func(l Link) int { return l.From })
}

func sortedLinks(m map[int]Link, key func(Link) int) []Link {
	links := make([]Link, 0, len(m))
	for _, l := range m {
		links = append(links, l)
	}
	sort.Slice(links, func(i, j int) bool { return key(links[i]) < key(links[j]) })
	return links
}

// FindPath finds a shortest path between two nodes using BFS. maxDepth
// limits the number of hops.
func (g *IndexedGraph) FindPath(from, to int, maxDepth int) ([]int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, exists := g.nodes[from]; !exists {
		return nil, fmt.Errorf("node %d not found", from)
	}
	if _, exists := g.nodes[to]; !exists {
		return nil, fmt.Errorf("node %d not found", to)
	}

	queue := [][]int{{from}}
	visited := map[int]bool{from: true}

	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]

		current := path[len(path)-1]
		if current == to {
			return path, nil
		}
		if len(path) > maxDepth {
			continue
		}

		for _, link := range sortedLinks(g.adjacency[current], func(l Link) int { return l.To }) {
			if visited[link.To] {
				continue
			}
			visited[link.To] = true
			next := make([]int, len(path), len(path)+1)
			copy(next, path)
			queue = append(queue, append(next, link.To))
		}
	}

	return nil, fmt.Errorf("no path found")
}

// NodeCount returns the number of nodes in the graph
func (g *IndexedGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph
func (g *IndexedGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	count := 0
	for _, neighbors := range g.adjacency {
		count += len(neighbors)
	}
	return count
}

// Stats summarizes a graph
type Stats struct {
	Nodes    int `json:"nodes"`
	Edges    int `json:"edges"`
	Mutual   int `json:"mutual"`
	Dangling int `json:"dangling"`
}

// View is the serialized form served to the graph modal
type View struct {
	Nodes []Node `json:"nodes"`
	Edges []Link `json:"edges"`
	Stats Stats  `json:"stats"`
}

// View returns nodes and edges in id order
func (g *IndexedGraph) View() View {
	g.mu.RLock()
	defer g.mu.RUnlock()

	view := View{Nodes: make([]Node, 0, len(g.nodes)), Edges: []Link{}}
	for _, node := range g.nodes {
		view.Nodes = append(view.Nodes, node)
	}
	sort.Slice(view.Nodes, func(i, j int) bool { return view.Nodes[i].ID < view.Nodes[j].ID })

	mutual := 0
	for _, node := range view.Nodes {
		for _, link := range sortedLinks(g.adjacency[node.ID], func(l Link) int { return l.To }) {
			view.Edges = append(view.Edges, link)
			if _, back := g.adjacency[link.To][link.From]; back && link.From < link.To {
				mutual++
			}
		}
	}

	view.Stats = Stats{
		Nodes:    len(view.Nodes),
		Edges:    len(view.Edges),
		Mutual:   mutual,
		Dangling: g.dangling,
	}
	return view
}
