package index

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// ExportJSON writes the snapshot's graph as a plain JSON document with
// "nodes" and "edges" arrays, for downstream tools that do not read the
// snapshot format.
func (s *Snapshot) ExportJSON(w io.Writer) error {
	type node struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Type        string   `json:"type"`
		Aliases     []string `json:"aliases,omitempty"`
		Description string   `json:"description,omitempty"`
		Degree      int      `json:"degree"`
	}
	type edge struct {
		Source  string  `json:"source"`
		Target  string  `json:"target"`
		RelType string  `json:"rel_type"`
		Weight  float64 `json:"weight"`
	}

	doc := struct {
		Nodes []node `json:"nodes"`
		Edges []edge `json:"edges"`
	}{}

	for _, e := range s.Entities {
		doc.Nodes = append(doc.Nodes, node{
			ID:          e.ID,
			Name:        e.Name,
			Type:        e.Type,
			Aliases:     e.Aliases,
			Description: e.Description,
			Degree:      e.Degree,
		})
	}
	for _, rel := range s.Relationships {
		doc.Edges = append(doc.Edges, edge{
			Source:  rel.SourceID,
			Target:  rel.TargetID,
			RelType: rel.RelType,
			Weight:  rel.Weight,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// ExportGraphML writes the snapshot's graph in GraphML, readable by Gephi
// and yEd. Node labels carry the entity name, edges the relation type and
// weight.
func (s *Snapshot) ExportGraphML(w io.Writer) error {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(`<graphml xmlns="http://graphml.graphdrawing.org/xmlns">` + "\n")
	b.WriteString(`  <key id="name" for="node" attr.name="name" attr.type="string"/>` + "\n")
	b.WriteString(`  <key id="type" for="node" attr.name="type" attr.type="string"/>` + "\n")
	b.WriteString(`  <key id="description" for="node" attr.name="description" attr.type="string"/>` + "\n")
	b.WriteString(`  <key id="rel_type" for="edge" attr.name="rel_type" attr.type="string"/>` + "\n")
	b.WriteString(`  <key id="weight" for="edge" attr.name="weight" attr.type="double"/>` + "\n")
	b.WriteString(`  <graph id="G" edgedefault="undirected">` + "\n")

	for _, e := range s.Entities {
		b.WriteString(fmt.Sprintf(`    <node id="%s">`+"\n", escapeXML(e.ID)))
		b.WriteString(fmt.Sprintf(`      <data key="name">%s</data>`+"\n", escapeXML(e.Name)))
		b.WriteString(fmt.Sprintf(`      <data key="type">%s</data>`+"\n", escapeXML(e.Type)))
		if e.Description != "" {
			b.WriteString(fmt.Sprintf(`      <data key="description">%s</data>`+"\n", escapeXML(e.Description)))
		}
		b.WriteString("    </node>\n")
	}

	for i, rel := range s.Relationships {
		b.WriteString(fmt.Sprintf(`    <edge id="e%d" source="%s" target="%s">`+"\n",
			i, escapeXML(rel.SourceID), escapeXML(rel.TargetID)))
		b.WriteString(fmt.Sprintf(`      <data key="rel_type">%s</data>`+"\n", escapeXML(rel.RelType)))
		b.WriteString(fmt.Sprintf(`      <data key="weight">%g</data>`+"\n", rel.Weight))
		b.WriteString("    </edge>\n")
	}

	b.WriteString("  </graph>\n</graphml>\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func escapeXML(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
