package artifact

import "strings"

const artifactType = "ARArtifact"

var typePrefixes = []string{"", "schema:", "https://schema.org/", "http://schema.org/"}

// Decoder maps JSON-LD nodes onto Artifacts. The zero value is ready to use.
type Decoder struct{}

// NewDecoder returns a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode validates the shape of v and decodes every ARArtifact it contains.
func (d *Decoder) Decode(v any) ([]Artifact, error) {
	payload, err := NewPayload(v)
	if err != nil {
		return nil, err
	}
	return d.DecodePayload(payload), nil
}

// DecodePayload decodes an already validated payload. Entries of other types
// are skipped.
func (d *Decoder) DecodePayload(p Payload) []Artifact {
	out := []Artifact{}
	for _, obj := range p.Objects() {
		out = d.decodeNode(obj, out)
	}
	return out
}

func (d *Decoder) decodeNode(obj Object, out []Artifact) []Artifact {
	types := stringList(obj["@type"])
	if isArtifactType(types) {
		out = append(out, decodeArtifact(obj, types))
	}
	switch graph := obj["@graph"].(type) {
	case []any:
		for _, entry := range graph {
			if child, ok := entry.(map[string]any); ok {
				out = d.decodeNode(child, out)
			}
		}
	case map[string]any:
		out = d.decodeNode(graph, out)
	}
	return out
}

func isArtifactType(types []string) bool {
	for _, t := range types {
		for _, prefix := range typePrefixes {
			if t == prefix+artifactType {
				return true
			}
		}
	}
	return false
}

func decodeArtifact(obj Object, types []string) Artifact {
	a := Artifact{
		ID:    stringField(obj, "@id"),
		Types: types,
		Name:  stringField(obj, "name"),
		URL:   stringField(obj, "url"),
	}
	switch target := obj["arTarget"].(type) {
	case map[string]any:
		a.Targets = []Target{decodeTarget(target)}
	case []any:
		for _, entry := range target {
			if t, ok := entry.(map[string]any); ok {
				a.Targets = append(a.Targets, decodeTarget(t))
			}
		}
	}
	switch content := obj["arContent"].(type) {
	case map[string]any:
		a.Content = &Content{
			Type:        firstString(content["@type"]),
			URL:         stringField(content, "url"),
			Name:        stringField(content, "name"),
			Description: stringField(content, "description"),
			Image:       imageField(content["image"]),
		}
	case string:
		a.Content = &Content{URL: content}
	}
	return a
}

func decodeTarget(obj Object) Target {
	return Target{
		Type:  trimSchemaPrefix(firstString(obj["@type"])),
		Text:  stringField(obj, "text"),
		Name:  stringField(obj, "name"),
		Image: imageField(obj["image"]),
	}
}

// imageField accepts either a URL string or an ImageObject.
func imageField(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case map[string]any:
		if s := stringField(typed, "contentUrl"); s != "" {
			return s
		}
		return stringField(typed, "url")
	case []any:
		for _, entry := range typed {
			if s := imageField(entry); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringField(obj Object, key string) string {
	s, _ := obj[key].(string)
	return s
}

func stringList(v any) []string {
	switch typed := v.(type) {
	case string:
		return []string{typed}
	case []any:
		out := make([]string, 0, len(typed))
		for _, entry := range typed {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func firstString(v any) string {
	if list := stringList(v); len(list) > 0 {
		return list[0]
	}
	return ""
}

func trimSchemaPrefix(t string) string {
	for _, prefix := range typePrefixes[1:] {
		if strings.HasPrefix(t, prefix) {
			return strings.TrimPrefix(t, prefix)
		}
	}
	return t
}
