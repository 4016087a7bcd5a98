package trace

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderHTML(t *testing.T) {
	tr := &Trace{
		ID: "abc<1>",
		Steps: []StepRecord{
			record("traces/abc/00-published.json", `{"t":1,"message":{"orderId":"X"}}`),
			record("traces/abc/01-routes.json", `not json`),
		},
	}

	var buf bytes.Buffer
	if err := RenderHTML(&buf, tr); err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "Trace abc&lt;1&gt;") {
		t.Errorf("header missing escaped id: %s", out)
	}
	if !strings.Contains(out, "00-published.json") || !strings.Contains(out, "01-routes.json") {
		t.Errorf("step file names missing: %s", out)
	}
	if !strings.Contains(out, "\n  &#34;message&#34;: {") {
		t.Errorf("expected pretty-printed body: %s", out)
	}
	if !strings.Contains(out, "not json") {
		t.Errorf("expected raw body for malformed step: %s", out)
	}
}
