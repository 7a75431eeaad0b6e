package templates

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
	_ "time/tzdata"
)

type Message struct {
	Subject string
	Body    string
	// SMS is the short form used for text messages.
	SMS string
}

type variant struct {
	subject string
	body    string
	sms     string
}

const greeting = `{{if .Recipient.Admin}}Admin notice #{{.Index}}{{else}}Hello{{with .Recipient.Name}} {{.}}{{end}}{{end}},`

var variants = map[string]variant{
	"rescheduled_confirmed": {
		subject: "Appointment rescheduled: {{.When}}",
		body:    greeting + "\n\n{{.What}} has been moved to {{.When}} and is confirmed.{{with .Where}}\nLocation: {{.}}{{end}}\n\nReference: {{.Appointment.ID}}",
		sms:     "{{.What}} moved to {{.When}} (confirmed). Ref {{.Appointment.ID}}",
	},
	"rescheduled_unconfirmed": {
		subject: "Appointment rescheduled, awaiting confirmation: {{.When}}",
		body:    greeting + "\n\n{{.What}} has been moved to {{.When}}. The provider has not confirmed the new time yet.{{with .Where}}\nLocation: {{.}}{{end}}\n\nReference: {{.Appointment.ID}}",
		sms:     "{{.What}} moved to {{.When}}, awaiting confirmation. Ref {{.Appointment.ID}}",
	},
	"cancelled_confirmed": {
		subject: "Appointment cancelled: {{.When}}",
		body:    greeting + "\n\nThe confirmed {{.What}} on {{.When}} has been cancelled.\n\nReference: {{.Appointment.ID}}",
		sms:     "Confirmed {{.What}} on {{.When}} cancelled. Ref {{.Appointment.ID}}",
	},
	"cancelled_unconfirmed": {
		subject: "Appointment request cancelled: {{.When}}",
		body:    greeting + "\n\nThe requested {{.What}} on {{.When}} has been cancelled before it was confirmed.\n\nReference: {{.Appointment.ID}}",
		sms:     "Requested {{.What}} on {{.When}} cancelled. Ref {{.Appointment.ID}}",
	},
}

type compiled struct {
	subject *template.Template
	body    *template.Template
	sms     *template.Template
}

var registry = func() map[string]compiled {
	out := make(map[string]compiled, len(variants))
	for name, v := range variants {
		out[name] = compiled{
			subject: template.Must(template.New(name + ".subject").Parse(v.subject)),
			body:    template.Must(template.New(name + ".body").Parse(v.body)),
			sms:     template.Must(template.New(name + ".sms").Parse(v.sms)),
		}
	}
	return out
}()

type view struct {
	Request
	What  string
	When  string
	Where string
}

// Render produces the message for req's variant.
func Render(req Request) (Message, error) {
	c, ok := registry[req.Variant]
	if !ok {
		return Message{}, fmt.Errorf("unknown notification variant %q", req.Variant)
	}
	v := view{
		Request: req,
		What:    describe(req.Appointment),
		When:    when(req.Appointment),
		Where:   req.Appointment.Postcode,
	}
	var msg Message
	for _, part := range []struct {
		tpl *template.Template
		dst *string
	}{
		{c.subject, &msg.Subject},
		{c.body, &msg.Body},
		{c.sms, &msg.SMS},
	} {
		var buf bytes.Buffer
		if err := part.tpl.Execute(&buf, v); err != nil {
			return Message{}, fmt.Errorf("render %s: %w", part.tpl.Name(), err)
		}
		*part.dst = buf.String()
	}
	return msg, nil
}

func describe(a Appointment) string {
	if t := strings.TrimSpace(a.Title); t != "" {
		return t
	}
	if a.Category == "service_booking" {
		return "your appointment"
	}
	return "the appointment"
}

func when(a Appointment) string {
	loc := time.UTC
	if a.Timezone != "" {
		if l, err := time.LoadLocation(a.Timezone); err == nil {
			loc = l
		}
	}
	start := a.ServiceStart.In(loc)
	if a.AllDay {
		return start.Format("Mon 2 Jan 2006") + " (all day)"
	}
	return start.Format("Mon 2 Jan 2006 15:04 MST")
}
