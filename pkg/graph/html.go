package graph

import (
	"html/template"
	"io"
	"math"
)

const (
	canvasSize = 800
	radius     = 320
)

type placedNode struct {
	Node
	X, Y float64
}

type placedLink struct {
	Link
	X1, Y1, X2, Y2 float64
	Width          int
	Mutual         bool
}

var pageTemplate = template.Must(template.New("graph").Parse(`<!DOCTYPE html>
<html lang="de">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { margin: 0; font-family: system-ui, sans-serif; background: #fafafa; }
svg { width: 100%; height: 100vh; }
line { stroke: #8a8a8a; stroke-opacity: .7; }
line.mutual { stroke: #4a6fa5; }
circle { fill: #fff; stroke: #4a6fa5; stroke-width: 2; }
text { font-size: 12px; text-anchor: middle; }
text.rel { fill: #666; font-size: 10px; }
.stats { position: fixed; left: 8px; bottom: 8px; color: #666; font-size: 12px; }
</style>
</head>
<body>
<svg viewBox="0 0 {{.Size}} {{.Size}}" xmlns="http://www.w3.org/2000/svg">
{{range .Links}}<line x1="{{printf "%.1f" .X1}}" y1="{{printf "%.1f" .Y1}}" x2="{{printf "%.1f" .X2}}" y2="{{printf "%.1f" .Y2}}" stroke-width="{{.Width}}"{{if .Mutual}} class="mutual"{{end}}><title>{{.Type}} ({{.Strength}})</title></line>
{{end}}{{range .Nodes}}<g><circle cx="{{printf "%.1f" .X}}" cy="{{printf "%.1f" .Y}}" r="18"><title>{{.Label}}{{if .Group}} · {{.Group}}{{end}}</title></circle><text x="{{printf "%.1f" .X}}" y="{{printf "%.1f" .Y}}" dy="34">{{.Label}}</text></g>
{{end}}</svg>
<div class="stats">{{.Stats.Nodes}} Knoten · {{.Stats.Edges}} Beziehungen</div>
</body>
</html>
`))

// RenderHTML writes a standalone page drawing the view on a circle
func RenderHTML(w io.Writer, title string, view View) error {
	positions := make(map[int]placedNode, len(view.Nodes))
	nodes := make([]placedNode, 0, len(view.Nodes))
	center := float64(canvasSize) / 2

	for i, node := range view.Nodes {
		angle := 2 * math.Pi * float64(i) / math.Max(1, float64(len(view.Nodes)))
		p := placedNode{
			Node: node,
			X:    center + radius*math.Cos(angle),
			Y:    center + radius*math.Sin(angle),
		}
		if len(view.Nodes) == 1 {
			p.X, p.Y = center, center
		}
		positions[node.ID] = p
		nodes = append(nodes, p)
	}

	pairs := make(map[[2]int]int)
	for _, link := range view.Edges {
		pairs[[2]int{link.From, link.To}]++
	}

	links := make([]placedLink, 0, len(view.Edges))
	for _, link := range view.Edges {
		from, okFrom := positions[link.From]
		to, okTo := positions[link.To]
		if !okFrom || !okTo {
			continue
		}
		links = append(links, placedLink{
			Link:   link,
			X1:     from.X,
			Y1:     from.Y,
			X2:     to.X,
			Y2:     to.Y,
			Width:  clampWidth(link.Strength),
			Mutual: pairs[[2]int{link.To, link.From}] > 0,
		})
	}

	return pageTemplate.Execute(w, struct {
		Title string
		Size  int
		Nodes []placedNode
		Links []placedLink
		Stats Stats
	}{title, canvasSize, nodes, links, view.Stats})
}

func clampWidth(strength int) int {
	switch {
	case strength < 1:
		return 1
	case strength > 5:
		return 5
	}
	return strength
}
