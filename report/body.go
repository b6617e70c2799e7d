package report

import (
	"fmt"
	"html"
	"strings"
	"time"

	"insta-mirror/poll"
)

func formatBody(r *poll.Report) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; }\n")
	b.WriteString(".summary td { padding: 2px 12px 2px 0; }\n")
	b.WriteString(".failure { margin: 10px 0; padding-left: 12px; border-left: 3px solid #c0392b; }\n")
	b.WriteString(".source { font-weight: 600; }\n")
	b.WriteString(".error { color: #7f8c8d; font-family: monospace; }\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	b.WriteString("<table class=\"summary\">\n")
	row := func(label, value string) {
		b.WriteString(fmt.Sprintf("<tr><td>%s</td><td>%s</td></tr>\n", label, html.EscapeString(value)))
	}
	row("Started", r.Started.UTC().Format("Jan 2, 2006 at 3:04 PM")+" UTC")
	row("Duration", r.Duration.Round(time.Second).String())
	row("Sources", fmt.Sprint(r.Sources))
	row("New posts", fmt.Sprint(r.Detected))
	row("Mirrored", fmt.Sprint(r.Mirrored))
	if r.DryRun {
		row("Mode", "dry run (nothing published)")
	}
	b.WriteString("</table>\n")

	if len(r.Failures) > 0 {
		b.WriteString(fmt.Sprintf("<h3>%d failures</h3>\n", len(r.Failures)))
		for _, f := range r.Failures {
			b.WriteString("<div class=\"failure\">\n")
			b.WriteString(fmt.Sprintf("<div class=\"source\">%s</div>\n", html.EscapeString(f.Source)))
			b.WriteString(fmt.Sprintf("<div class=\"error\">%s</div>\n", html.EscapeString(f.Err.Error())))
			b.WriteString("</div>\n")
		}
	}

	b.WriteString("</body>\n</html>\n")
	return b.String()
}
