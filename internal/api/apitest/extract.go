package apitest

import (
	"strings"

	"relief-cli/internal/model"
)

// Extract splits free text into tuples. Each "；"-separated event is read as
// "<time>，<location>发生<event>，造成<level>". Missing parts stay empty.
func Extract(text string) (string, []model.DisasterInfo) {
	var infos []model.DisasterInfo
	for _, sentence := range strings.FieldsFunc(text, func(r rune) bool { return r == '；' || r == '。' || r == '\n' }) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		infos = append(infos, extractOne(sentence))
	}
	if len(infos) == 0 {
		infos = []model.DisasterInfo{{ReportCount: 1}}
	}
	first := infos[0]
	summary := first.Time + first.Location + "发生" + first.Event
	if first.Level != "" {
		summary += "，造成" + first.Level
	}
	if len(infos) > 1 {
		summary += "等"
	}
	return summary, infos
}

func extractOne(sentence string) model.DisasterInfo {
	d := model.DisasterInfo{ReportCount: 1}
	parts := strings.Split(sentence, "，")
	rest := parts
	if len(parts) > 1 && !strings.Contains(parts[0], "发生") {
		d.Time = strings.TrimSpace(parts[0])
		rest = parts[1:]
	}
	if len(rest) > 0 {
		if loc, ev, ok := strings.Cut(rest[0], "发生"); ok {
			d.Location = strings.TrimSpace(loc)
			d.Event = strings.TrimSpace(ev)
		} else {
			d.Event = strings.TrimSpace(rest[0])
		}
		rest = rest[1:]
	}
	if len(rest) > 0 {
		d.Level = strings.TrimSpace(strings.TrimPrefix(strings.Join(rest, "，"), "造成"))
	}
	return d
}
