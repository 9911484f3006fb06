package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/siterisk/internal/polygon"
)

// readPolygon loads GeoJSON from path, or from stdin when path is "-".
func readPolygon(path string, stdin io.Reader) (*polygon.Polygon, error) {
	var (
		data []byte
		err  error
	)
	switch path {
	case "":
		return nil, eris.New("--polygon is required (a GeoJSON file, or - for stdin)")
	case "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "read polygon %s", path)
	}
	return polygon.Parse(data)
}

// writeOutput renders v as indented JSON or as YAML. YAML keeps the JSON
// key order.
func writeOutput(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "encode output")
	}

	switch strings.ToLower(format) {
	case "", "json":
		_, err = w.Write(append(data, '\n'))
		return err
	case "yaml", "yml":
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return eris.Wrap(err, "convert output to yaml")
		}
		blockStyle(&node)
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&node); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		return eris.Errorf("unknown output format %q (want json or yaml)", format)
	}
}

// blockStyle drops the flow and quoting styles inherited from the JSON source.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
