package notify

import (
	"fmt"
	"strings"
	"text/template"
)

// Event names a notification template.
type Event string

const (
	EventModerationEnrolled    Event = "moderation_enrolled"
	EventSubmissionUnderReview Event = "submission_under_review"
	EventAccountFlagged        Event = "account_flagged"
	EventModerationResolved    Event = "moderation_resolved"
	EventTest                  Event = "test"
)

type eventTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(event Event, subject, body string) eventTemplate {
	return eventTemplate{
		subject: template.Must(template.New(string(event) + ".subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New(string(event) + ".body").Option("missingkey=zero").Parse(body)),
	}
}

var templates = map[Event]eventTemplate{
	EventModerationEnrolled: mustTemplate(EventModerationEnrolled,
		`Review needed: {{.entity_kind}} {{.entity_id}} ({{.priority}})`,
		`A {{.entity_kind}} was queued for review at {{.priority}} priority.
Entity: {{.entity_id}}
{{if .reason}}Reason: {{.reason}}
{{end}}{{if .max_risk}}Max risk: {{.max_risk}}
{{end}}Moderation item: {{.moderation_id}}`),
	EventSubmissionUnderReview: mustTemplate(EventSubmissionUnderReview,
		`Your submission is under review`,
		`Thanks for your submission{{if .title}} "{{.title}}"{{end}}. It has been sent to our review team before it goes live.
Reference: {{.submission_id}}`),
	EventAccountFlagged: mustTemplate(EventAccountFlagged,
		`Account flagged: {{.user_id}}`,
		`Payment fraud risk {{.risk_score}} flagged account {{.user_id}}.
Submission: {{.submission_id}}
Reason: {{.reason}}`),
	EventModerationResolved: mustTemplate(EventModerationResolved,
		`Review complete: {{.outcome}}`,
		`The review of {{.entity_kind}} {{.entity_id}} is complete with outcome "{{.outcome}}".{{if .note}}
Note: {{.note}}{{end}}`),
	EventTest: mustTemplate(EventTest,
		`Sentinel test notification`,
		`Notification delivery test{{if .sent_by}} from {{.sent_by}}{{end}}.`),
}

// Events lists every known event.
func Events() []Event {
	return []Event{
		EventModerationEnrolled,
		EventSubmissionUnderReview,
		EventAccountFlagged,
		EventModerationResolved,
		EventTest,
	}
}

// Render produces the subject and body for event using data.
func Render(event Event, data map[string]string) (string, string, error) {
	tmpl, ok := templates[event]
	if !ok {
		return "", "", fmt.Errorf("unknown notification event %q", event)
	}
	if data == nil {
		data = map[string]string{}
	}
	var subject, body strings.Builder
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", event, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", event, err)
	}
	return strings.TrimSpace(subject.String()), strings.TrimSpace(body.String()), nil
}
