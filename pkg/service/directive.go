package service

import (
	"regexp"
	"strings"

	"github.com/agentdesk/agentdesk/pkg/models"
)

// showFilePattern matches the inline attachment directive an agent emits when
// its reply should render one of its reference files.
var showFilePattern = regexp.MustCompile(`\[SHOW_FILE:([^\]]+)\]`)

// StripDirectives removes every [SHOW_FILE:...] directive from text. It is
// applied to the accumulated reply, never to individual deltas, so a
// directive split across stream chunks is still caught.
func StripDirectives(text string) string {
	return strings.TrimSpace(showFilePattern.ReplaceAllString(text, ""))
}

// ExtractDirective returns the first requested attachment name in text, if
// any. Only the first directive of a reply is honored.
func ExtractDirective(text string) (name string, ok bool) {
	m := showFilePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// ResolveDirective matches a requested name against the agent's attachments
// by exact, case-sensitive name; the first match in attachment order wins. A
// miss returns nil and the reply degrades to plain text.
func ResolveDirective(agent *models.Agent, name string) *models.MessageAttachment {
	if agent == nil || name == "" {
		return nil
	}
	for i := range agent.Attachments {
		att := &agent.Attachments[i]
		if att.Name == name {
			return &models.MessageAttachment{
				Name:     att.Name,
				MimeType: att.MimeType,
				Data:     att.Base64Data,
				Kind:     att.Kind,
			}
		}
	}
	return nil
}
