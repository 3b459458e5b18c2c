package views

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lazyclaw/agentdash/internal/dashboard"
	"github.com/lazyclaw/agentdash/internal/models"
	"github.com/lazyclaw/agentdash/internal/ui/styles"
)

// RenderTrace renders the newest trace events, newest last
func RenderTrace(trace []models.TraceEventPayload, height int) string {
	if len(trace) == 0 {
		return styles.Muted.Render("No trace events yet")
	}
	if height > 0 && len(trace) > height {
		trace = trace[len(trace)-height:]
	}

	lines := make([]string, 0, len(trace))
	for _, ev := range trace {
		lines = append(lines, styles.Muted.Render(formatMillis(ev.Timestamp))+" "+FormatTraceEvent(ev))
	}
	return strings.Join(lines, "\n")
}

// FormatTraceEvent renders one trace event without styling of its timestamp
func FormatTraceEvent(ev models.TraceEventPayload) string {
	switch ev.EventType {
	case models.TraceFSMTransition:
		return styles.TraceTransition.Render(fmt.Sprintf("%s → %s", deref(ev.FromState), deref(ev.ToState)))
	case models.TraceActionStart, models.TraceActionEnd:
		return styles.TraceAction.Render(fmt.Sprintf("%s %s", ev.EventType, deref(ev.ActionName))) + details(ev.Details)
	default:
		return styles.TraceOther.Render(ev.EventType) + details(ev.Details)
	}
}

// RenderMemory renders the memory snapshot and the decode failures
func RenderMemory(m *dashboard.Model) string {
	var b strings.Builder

	if m.Memory == nil {
		b.WriteString(styles.Muted.Render("No memory updates yet"))
	} else {
		b.WriteString(label("Entries", fmt.Sprintf("%d", m.Memory.TotalEntries)))
		b.WriteString("\n\n" + styles.CardTitle.Render("Recent queries") + "\n")
		for _, q := range m.Memory.RecentQueries {
			fmt.Fprintf(&b, "%s %s (%d hits)\n", styles.Muted.Render(formatMillis(q.Timestamp)), q.Query, q.Hits)
		}
		b.WriteString("\n" + styles.CardTitle.Render("Recent additions") + "\n")
		for _, e := range m.Memory.RecentAdditions {
			marker := " "
			if e.IsNew {
				marker = styles.Secondary.Render("+")
			}
			fmt.Fprintf(&b, "%s %s %s = %s\n", marker, styles.Muted.Render(formatMillis(e.Timestamp)), e.Key, e.Value)
		}
	}

	if len(m.Failures) > 0 {
		b.WriteString("\n" + styles.CardTitle.Render("Failed frames") + "\n")
		for _, f := range m.Failures {
			fmt.Fprintf(&b, "%s %s\n", styles.Muted.Render(f.Received.Format("15:04:05")), styles.LogError.Render(f.Error))
		}
	}

	return b.String()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func details(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil || string(data) == "{}" {
		return ""
	}
	return " " + styles.Muted.Render(string(data))
}

func formatMillis(ms uint64) string {
	if ms == 0 {
		return "--:--:--"
	}
	return time.UnixMilli(int64(ms)).Format("15:04:05")
}
