// Package notification renders booking messages and hands them to email or
// WhatsApp senders. Delivery is best effort: failures are recorded and can be
// retried, they never roll back the booking that triggered them.
package notification

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
)

// Channel is the delivery medium of a notification.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// Template is a named message for one channel. Subject and Body are
// text/template sources evaluated against a map[string]string.
type Template struct {
	ID      string  `json:"id"`
	Channel Channel `json:"channel"`
	Subject string  `json:"subject,omitempty"`
	Body    string  `json:"body"`
}

type compiled struct {
	channel Channel
	subject *template.Template
	body    *template.Template
}

// TemplateEngine holds parsed templates keyed by id.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*compiled
}

// NewTemplateEngine returns an engine with the booking templates registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*compiled)}
	for _, t := range builtIn {
		if err := e.Register(t); err != nil {
			panic(err)
		}
	}
	return e
}

var builtIn = []Template{
	{
		ID:      "booking-created",
		Channel: ChannelEmail,
		Subject: "Your appointment on {{.date}}",
		Body:    "Hi {{.name}}, your appointment on {{.date}} at {{.time}} is {{.status}}. Reference: {{.booking_id}}.",
	},
	{
		ID:      "booking-created",
		Channel: ChannelWhatsApp,
		Body:    "Hi {{.name}}, appointment {{.status}} for {{.date}} {{.time}}. Ref {{.booking_id}}",
	},
	{
		ID:      "booking-confirmed",
		Channel: ChannelEmail,
		Subject: "Appointment confirmed for {{.date}}",
		Body:    "Hi {{.name}}, your appointment on {{.date}} at {{.time}} has been confirmed.",
	},
	{
		ID:      "booking-confirmed",
		Channel: ChannelWhatsApp,
		Body:    "Hi {{.name}}, your appointment on {{.date}} {{.time}} is confirmed.",
	},
	{
		ID:      "booking-cancelled",
		Channel: ChannelEmail,
		Subject: "Appointment on {{.date}} cancelled",
		Body:    "Hi {{.name}}, your appointment on {{.date}} at {{.time}} was cancelled.{{if .reason}} Reason: {{.reason}}{{end}}",
	},
	{
		ID:      "booking-cancelled",
		Channel: ChannelWhatsApp,
		Body:    "Hi {{.name}}, your appointment on {{.date}} {{.time}} was cancelled.",
	},
}

func key(id string, ch Channel) string { return id + "/" + string(ch) }

// Register parses t and adds or replaces it.
func (e *TemplateEngine) Register(t Template) error {
	c := &compiled{channel: t.Channel}
	var err error
	if c.subject, err = template.New(t.ID + ".subject").Option("missingkey=zero").Parse(t.Subject); err != nil {
		return fmt.Errorf("parse subject of %s: %w", t.ID, err)
	}
	if c.body, err = template.New(t.ID + ".body").Option("missingkey=zero").Parse(t.Body); err != nil {
		return fmt.Errorf("parse body of %s: %w", t.ID, err)
	}
	e.mu.Lock()
	e.templates[key(t.ID, t.Channel)] = c
	e.mu.Unlock()
	return nil
}

// Render evaluates the template for channel ch. Missing keys render empty.
func (e *TemplateEngine) Render(id string, ch Channel, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	c, ok := e.templates[key(id, ch)]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q for %s not found", id, ch)
	}
	var sb, bb bytes.Buffer
	if err := c.subject.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := c.body.Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return sb.String(), bb.String(), nil
}
