package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/clients"
)

// Directory resolves who receives an event.
type Directory interface {
	Principal(ctx context.Context, id string) (clients.Principal, error)
	PrincipalsWithRoleAtLeast(ctx context.Context, role authority.Role) ([]clients.Principal, error)
}

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

type recipientFunc func(ctx context.Context, dir Directory, evt Event) ([]clients.Principal, error)

type entry struct {
	recipients recipientFunc
	subject    *template.Template
	body       *template.Template
}

type templateData struct {
	Recipient clients.Principal
	Event     Event
}

func requester(ctx context.Context, dir Directory, evt Event) ([]clients.Principal, error) {
	p, err := dir.Principal(ctx, evt.RequesterID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, nil
	}
	return []clients.Principal{p}, nil
}

func approvers(ctx context.Context, dir Directory, evt Event) ([]clients.Principal, error) {
	role := evt.ApproverRole
	if !role.Valid() {
		role = authority.RoleAdmin
	}
	return dir.PrincipalsWithRoleAtLeast(ctx, role)
}

func admins(ctx context.Context, dir Directory, _ Event) ([]clients.Principal, error) {
	return dir.PrincipalsWithRoleAtLeast(ctx, authority.RoleAdmin)
}

func define(recipients recipientFunc, subject, body string) entry {
	return entry{
		recipients: recipients,
		subject:    template.Must(template.New("subject").Parse(subject)),
		body:       template.Must(template.New("body").Parse(body)),
	}
}

var registry = map[Type]entry{
	TypeWelcome: define(requester,
		"Access granted: {{.Event.ResourceID}}",
		"Hi {{.Recipient.Name}},\n\nYou now have {{.Event.Level}} access to {{.Event.ResourceID}}.{{with .Event.Data.expiry_at}} It expires at {{.}}.{{end}}\n"),
	TypePendingApproval: define(approvers,
		"Approval needed: {{.Event.Level}} on {{.Event.ResourceID}}",
		"Request {{.Event.RequestID}} asks for {{.Event.Level}} access to {{.Event.ResourceID}}.{{with .Event.Notes}}\n\nNotes: {{.}}{{end}}\n"),
	TypeEditorApproved: define(requester,
		"{{.Event.Level}} access approved: {{.Event.ResourceID}}",
		"Hi {{.Recipient.Name}},\n\nYour {{.Event.Level}} access to {{.Event.ResourceID}} was approved.{{if eq .Event.Level \"editor\"}} Editor grants drop to viewer after the grace period unless renewed.{{end}}\n"),
	TypeAdminApproved: define(requester,
		"Administrator access approved: {{.Event.ResourceID}}",
		"Hi {{.Recipient.Name}},\n\nYour administrator access to {{.Event.ResourceID}} was approved.\n"),
	TypeRejected: define(requester,
		"Access request rejected: {{.Event.ResourceID}}",
		"Hi {{.Recipient.Name}},\n\nYour {{.Event.Level}} request for {{.Event.ResourceID}} was rejected.{{with .Event.Notes}}\n\nReason: {{.}}{{end}}\n"),
	TypeExpired: define(requester,
		"Access expired: {{.Event.ResourceID}}",
		"Hi {{.Recipient.Name}},\n\nYour access to {{.Event.ResourceID}} has expired and was removed.\n"),
	TypeEditorAutoDowngrade: define(requester,
		"Access reduced to viewer: {{.Event.ResourceID}}",
		"Hi {{.Recipient.Name}},\n\nYour editor access to {{.Event.ResourceID}} passed its grace period and is now viewer. File a new request to regain editor access.\n"),
	TypeDailySummary: define(admins,
		"Access sweep summary",
		"Scanned: {{index .Event.Data \"scanned\"}}\nWarnings sent: {{index .Event.Data \"warned\"}}\nExpired: {{index .Event.Data \"expired\"}}\nDowngraded: {{index .Event.Data \"downgraded\"}}\nDeferred: {{index .Event.Data \"deferred\"}}\nFailures: {{index .Event.Data \"failures\"}}\nPending approvals: {{index .Event.Data \"pending\"}}\n"),
}

var expiryWarning = define(requester,
	"{{if eq .Event.Days 0}}Access expires today{{else}}Access expires in {{.Event.Days}} day(s){{end}}: {{.Event.ResourceID}}",
	"Hi {{.Recipient.Name}},\n\nYour {{.Event.Level}} access to {{.Event.ResourceID}} expires{{with .Event.Data.expiry_at}} at {{.}}{{end}}. Request again to keep it.\n")

func lookup(t Type) (entry, bool) {
	if t.IsExpiryWarning() {
		return expiryWarning, true
	}
	tmpl, ok := registry[t]
	return tmpl, ok
}

// Types lists every registered event type with the standard warning offsets.
func Types() []Type {
	return []Type{
		TypeWelcome, TypePendingApproval, TypeEditorApproved, TypeAdminApproved, TypeRejected,
		TypeExpiryWarning30, TypeExpiryWarning7, TypeExpiryWarning1, TypeExpiryWarning0,
		TypeExpired, TypeEditorAutoDowngrade, TypeDailySummary,
	}
}

func (t entry) render(recipient clients.Principal, evt Event) (Message, error) {
	data := templateData{Recipient: recipient, Event: evt}
	if data.Recipient.Name == "" {
		data.Recipient.Name = recipient.Email
	}
	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("notify: render subject %s: %w", evt.Type, err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("notify: render body %s: %w", evt.Type, err)
	}
	return Message{Subject: subject.String(), Body: body.String()}, nil
}
