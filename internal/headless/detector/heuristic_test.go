package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/artifact-loader/internal/loader"
)

func ok(body string) loader.Response {
	return loader.Response{StatusCode: http.StatusOK, Body: []byte(body)}
}

func TestHeuristicShouldPromote(t *testing.T) {
	t.Parallel()

	longText := strings.Repeat("catalog entry ", 20)
	tests := []struct {
		name      string
		threshold int
		resp      loader.Response
		want      bool
	}{
		{"empty body", 100, ok("  \n"), true},
		{"empty mount point", 10, ok(`<body><div id="__next"></div><script src="/app.js"></script></body>`), true},
		{"scripted page with little text", 1000, ok(`<html><script>var a=1;</script><p>t</p></html>`), true},
		{"inline json-ld", 1000, ok(`<div id="root"></div><script type="application/ld+json">{"@type":"ARArtifact"}</script>`), false},
		{"alternate link", 1000, ok(`<link rel="alternate" type="application/ld+json" href="/a.json"><script src="/app.js"></script>`), false},
		{"no scripts", 1000, ok(`<html><body><div id="app"></div><p>short</p></body></html>`), false},
		{"server rendered mount", 10, ok(`<body><div id="root"><p>` + longText + `</p></div><script src="/app.js"></script></body>`), false},
		{"not found", 100, loader.Response{StatusCode: http.StatusNotFound, Body: []byte("not found")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NewHeuristic(tt.threshold).ShouldPromote(tt.resp))
		})
	}
}

func TestNewHeuristicDefaultThreshold(t *testing.T) {
	t.Parallel()

	assert.Equal(t, defaultMinTextBytes, NewHeuristic(0).MinTextBytes)
	assert.Equal(t, 10, NewHeuristic(10).MinTextBytes)
}

func TestVisibleTextIgnoresScriptsAndStyles(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(5)
	body := `<body><style>.a{color:red}</style><script>window.x = "lots of script text";</script><p>hi</p></body>`
	assert.True(t, h.ShouldPromote(ok(body)))
}
