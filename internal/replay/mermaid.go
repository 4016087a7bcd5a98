package replay

import (
	"fmt"
	"strings"
)

// RenderMermaid draws a snapshot as a mermaid flowchart:
// producer, topic, one queue and one worker per consumer.
func RenderMermaid(s Snapshot) string {
	var b strings.Builder
	b.WriteString("flowchart LR\n")
	fmt.Fprintf(&b, "  producer[\"Producer\"]:::%s\n", nodeClass(producerActive(s.State)))
	fmt.Fprintf(&b, "  topic((\"Topic\")):::%s\n", nodeClass(topicActive(s.State)))
	b.WriteString("  producer --> topic\n")

	for _, c := range Consumers {
		st := s.Status(c)
		cls := strings.ToLower(string(st))
		fmt.Fprintf(&b, "  q_%s[[\"%s queue\"]]:::%s\n", c, c.Label(), cls)
		fmt.Fprintf(&b, "  w_%s[\"%s worker: %s\"]:::%s\n", c, c.Label(), st, cls)
		fmt.Fprintf(&b, "  topic --> q_%s --> w_%s\n", c, c)
	}

	b.WriteString("  classDef idle stroke:#64748b\n")
	b.WriteString("  classDef active stroke:#0ea5e9\n")
	b.WriteString("  classDef pending stroke:#334155\n")
	b.WriteString("  classDef received stroke:#3b82f6\n")
	b.WriteString("  classDef processing stroke:#f59e0b\n")
	b.WriteString("  classDef done stroke:#10b981\n")
	b.WriteString("  classDef failed stroke:#ef4444\n")
	b.WriteString("  classDef dlq stroke:#ec4899\n")
	return b.String()
}

func producerActive(s FlowState) bool {
	return s != StateIdle
}

func topicActive(s FlowState) bool {
	return s != StateIdle && s != StatePublished
}

func nodeClass(active bool) string {
	if active {
		return "active"
	}
	return "idle"
}
