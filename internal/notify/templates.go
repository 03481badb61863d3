// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package notify

import (
	"bytes"
	"html/template"

	"github.com/samber/oops"

	"github.com/vidloom/accounts/internal/auth"
)

const layout = `
{{define "header"}}<!DOCTYPE html>
<html>
<head><meta charset="UTF-8" /></head>
<body style="font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937;">
  <div style="max-width: 520px; margin: 24px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e5e7eb; padding: 20px;">
    <h2 style="margin-top: 0;">{{.AppName}}</h2>
    <p>Hi {{.Name}},</p>{{end}}
{{define "footer"}}
    <p style="margin-top: 20px; font-size: 12px; color: #6b7280;">If you did not request this, you can ignore this email.</p>
  </div>
</body>
</html>{{end}}
{{define "code"}}<div style="font-size: 28px; font-weight: bold; letter-spacing: 3px; margin: 16px 0;">{{.Code}}</div>
    <p>This code expires in {{.ExpiresInMinutes}} minutes.</p>{{end}}

{{define "verification_code"}}{{template "header" .}}
    <p>Use this code to verify your email address:</p>
    {{template "code" .}}{{template "footer" .}}{{end}}

{{define "welcome"}}{{template "header" .}}
    <p>Your email is verified and your {{.AppName}} account is ready.</p>{{template "footer" .}}{{end}}

{{define "password_reset_code"}}{{template "header" .}}
    <p>Use this code to reset your password:</p>
    {{template "code" .}}{{template "footer" .}}{{end}}

{{define "password_changed"}}{{template "header" .}}
    <p>Your password was just changed. If this wasn't you, reset your password immediately.</p>{{template "footer" .}}{{end}}

{{define "account_deleted"}}{{template "header" .}}
    <p>Your account and its data have been permanently deleted.</p>{{template "footer" .}}{{end}}
`

var templates = template.Must(template.New("emails").Parse(layout))

var subjects = map[auth.MessageKind]string{
	auth.MessageVerificationCode:  "Verify your email",
	auth.MessageWelcome:           "Welcome aboard",
	auth.MessagePasswordResetCode: "Your password reset code",
	auth.MessagePasswordChanged:   "Your password was changed",
	auth.MessageAccountDeleted:    "Your account was deleted",
}

type templateData struct {
	AppName          string
	Name             string
	Code             string
	ExpiresInMinutes int
}

// render returns the subject and HTML body for msg.
func render(appName string, msg auth.Message) (string, string, error) {
	subject, ok := subjects[msg.Kind]
	if !ok {
		return "", "", oops.Code("NOTIFY_UNKNOWN_KIND").
			With("kind", string(msg.Kind)).
			Errorf("no template for message kind %q", msg.Kind)
	}

	var body bytes.Buffer
	err := templates.ExecuteTemplate(&body, string(msg.Kind), templateData{
		AppName:          appName,
		Name:             msg.Name,
		Code:             msg.Code,
		ExpiresInMinutes: int(msg.ExpiresIn.Minutes()),
	})
	if err != nil {
		return "", "", oops.Code("NOTIFY_RENDER_FAILED").
			With("kind", string(msg.Kind)).
			Wrap(err)
	}
	return appName + ": " + subject, body.String(), nil
}
