// internal/notification/channel/render.go
package channel

import (
	"fmt"
	"html"
	"strings"

	"tgminiapp-notifier/internal/models"
)

const defaultButtonText = "Open"

// renderHTML builds the Telegram HTML body: bold title, blank line, content.
func renderHTML(n *models.Notification) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(n.Title))
	b.WriteString("</b>")
	if n.Content != "" {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(n.Content))
	}
	return b.String()
}

func renderEmailHTML(n *models.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(n.Title))
	for _, para := range strings.Split(n.Content, "\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(para))
	}
	if url, text, ok := actionButton(n); ok {
		fmt.Fprintf(&b, `<p><a href="%s">%s</a></p>`, html.EscapeString(url), html.EscapeString(text))
	}
	return b.String()
}

func renderText(n *models.Notification) string {
	text := n.Title
	if n.Content != "" {
		text += "\n\n" + n.Content
	}
	if url, _, ok := actionButton(n); ok {
		text += "\n\n" + url
	}
	return text
}

func actionButton(n *models.Notification) (url, text string, ok bool) {
	if n.Data == nil || n.Data.ActionURL == "" {
		return "", "", false
	}
	text = n.Data.ButtonText
	if text == "" {
		text = defaultButtonText
	}
	return n.Data.ActionURL, text, true
}
