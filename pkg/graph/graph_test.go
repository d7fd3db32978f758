package graph_test

import (
	"bytes"
	"testing"

	"github.com/ha1tch/quill/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docs() []map[string]interface{} {
	return []map[string]interface{}{
		{"id": float64(1), "name": "Ada", "role": "Heldin", "relations": []interface{}{
			map[string]interface{}{"toId": float64(2), "type": "Mentor", "strength": float64(4)},
			map[string]interface{}{"toId": float64(9), "type": "Kennt"},
		}},
		{"id": float64(2), "name": "Bo", "relations": []interface{}{
			map[string]interface{}{"toId": float64(1), "type": "Schüler", "strength": float64(4)},
			map[string]interface{}{"toId": float64(3), "type": "Feind", "strength": float64(2)},
		}},
		{"id": float64(3), "name": "Cy", "relations": `[{"toId": 3, "type": "Freund"}]`},
	}
}

func TestFromDocuments(t *testing.T) {
	g := graph.FromDocuments(docs(), "name", "role")

	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 3, g.EdgeCount())

	neighbors := g.Neighbors(2)
	require.Len(t, neighbors, 2)
	assert.Equal(t, graph.Link{From: 2, To: 1, Type: "Schüler", Strength: 4}, neighbors[0])
	assert.Equal(t, 3, neighbors[1].To)

	incoming := g.Incoming(1)
	require.Len(t, incoming, 1)
	assert.Equal(t, 2, incoming[0].From)

	assert.Empty(t, g.Neighbors(42))
}

func TestView(t *testing.T) {
	view := graph.FromDocuments(docs(), "name", "role").View()

	require.Len(t, view.Nodes, 3)
	assert.Equal(t, graph.Node{ID: 1, Label: "Ada", Group: "Heldin"}, view.Nodes[0])
	assert.Len(t, view.Edges, 3)
	assert.Equal(t, graph.Stats{Nodes: 3, Edges: 3, Mutual: 1, Dangling: 1}, view.Stats)
}

func TestFindPath(t *testing.T) {
	g := graph.FromDocuments(docs(), "name", "role")

	path, err := g.FindPath(1, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, path)

	_, err = g.FindPath(1, 3, 1)
	assert.Error(t, err)

	_, err = g.FindPath(3, 1, 5)
	assert.Error(t, err)

	_, err = g.FindPath(1, 99, 5)
	assert.Error(t, err)

	path, err = g.FindPath(2, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, path)
}

func TestRemoveNode(t *testing.T) {
	g := graph.FromDocuments(docs(), "name", "role")
	g.RemoveNode(2)

	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 0, g.EdgeCount())
	assert.Empty(t, g.Incoming(1))
}

func TestAddEdgeRequiresNodes(t *testing.T) {
	g := graph.NewIndexedGraph()
	g.AddNode(graph.Node{ID: 1})

	assert.Error(t, g.AddEdge(1, 2, "Kennt", 3))
	assert.Error(t, g.AddEdge(2, 1, "Kennt", 3))
}

func TestRenderHTML(t *testing.T) {
	view := graph.FromDocuments(docs(), "name", "role").View()

	var buf bytes.Buffer
	require.NoError(t, graph.RenderHTML(&buf, "Beziehungen <Test>", view))

	page := buf.String()
	assert.Contains(t, page, "<svg")
	assert.Contains(t, page, "Ada")
	assert.Contains(t, page, `class="mutual"`)
	assert.Contains(t, page, "Beziehungen &lt;Test&gt;")
	assert.Contains(t, page, "3 Knoten")
}
