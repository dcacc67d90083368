// Package artifact defines the canonical AR artifact record and the decoder
// that turns JSON-LD payloads into artifacts.
package artifact

// Target types named by schema.org for AR artifacts.
const (
	TargetTypeBarcode     = "Barcode"
	TargetTypeImageTarget = "ARImageTarget"
)

// Artifact is one decoded ARArtifact entry.
type Artifact struct {
	ID      string   `json:"id,omitempty"`
	Types   []string `json:"types"`
	Name    string   `json:"name,omitempty"`
	URL     string   `json:"url,omitempty"`
	Targets []Target `json:"targets,omitempty"`
	Content *Content `json:"content,omitempty"`
}

// Target describes what the camera should recognize.
type Target struct {
	Type  string `json:"type,omitempty"`
	Text  string `json:"text,omitempty"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

// Content describes what is shown once a target is recognized.
type Content struct {
	Type        string `json:"type,omitempty"`
	URL         string `json:"url,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// HasTarget reports whether the artifact carries a target of the given type.
func (a Artifact) HasTarget(targetType string) bool {
	for _, t := range a.Targets {
		if t.Type == targetType {
			return true
		}
	}
	return false
}
