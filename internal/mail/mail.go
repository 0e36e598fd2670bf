package mail

import (
	"bytes"
	htmltemplate "html/template"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"
)

// Content is a rendered email.
type Content struct {
	Subject string
	HTML    string
	Text    string
}

type codeData struct {
	Code    string
	Minutes int
}

type linkData struct {
	Link    string
	Expires string
}

const layoutHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{template "title" .}}</title></head>
<body style="font-family:Arial,Helvetica,sans-serif;background:#f4f4f7;margin:0;padding:24px;">
<div style="max-width:560px;margin:0 auto;background:#ffffff;border-radius:8px;padding:32px;">
{{template "body" .}}
<p style="color:#888;font-size:12px;margin-top:32px;">If you did not request this email, you can safely ignore it.</p>
</div>
</body>
</html>`

var (
	loginCodeHTML = mustHTML("login_code", `{{define "title"}}Your login code{{end}}
{{define "body"}}<p>Use the code below to sign in:</p>
<p style="font-size:32px;letter-spacing:8px;font-weight:bold;text-align:center;">{{.Code}}</p>
<p>This code expires in {{.Minutes}} minutes.</p>{{end}}`)
	loginCodeText = mustText("login_code", "Your login code is {{.Code}}.\nIt expires in {{.Minutes}} minutes.\n")

	twoFactorHTML = mustHTML("two_factor", `{{define "title"}}Your verification code{{end}}
{{define "body"}}<p>Your two-factor verification code is: <strong>{{.Code}}</strong></p>
<p>This code expires in {{.Minutes}} minutes.</p>{{end}}`)
	twoFactorText = mustText("two_factor", "Your two-factor verification code is {{.Code}}.\nIt expires in {{.Minutes}} minutes.\n")

	resetHTML = mustHTML("reset", `{{define "title"}}Reset your password{{end}}
{{define "body"}}<p>You asked to reset your password.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>This link expires in {{.Expires}}.</p>{{end}}`)
	resetText = mustText("reset", "You asked to reset your password.\nOpen this link to choose a new one:\n{{.Link}}\nIt expires in {{.Expires}}.\n")

	verifyHTML = mustHTML("verify", `{{define "title"}}Verify your email{{end}}
{{define "body"}}<p>Welcome!</p>
<p>Please confirm your email address:</p>
<p><a href="{{.Link}}">Activate my account</a></p>
<p>This link expires in {{.Expires}}.</p>{{end}}`)
	verifyText = mustText("verify", "Welcome!\nConfirm your email address by opening this link:\n{{.Link}}\nIt expires in {{.Expires}}.\n")
)

func mustHTML(name, body string) *htmltemplate.Template {
	return htmltemplate.Must(htmltemplate.Must(htmltemplate.New(name).Parse(layoutHTML)).Parse(body))
}

func mustText(name, body string) *texttemplate.Template {
	return texttemplate.Must(texttemplate.New(name).Parse(body))
}

// LoginCode renders the passwordless login code email.
func LoginCode(code string, ttl time.Duration) (Content, error) {
	data := codeData{Code: code, Minutes: minutes(ttl)}
	return render("Your login code", loginCodeHTML, loginCodeText, data)
}

// TwoFactorCode renders the emailed second-factor code.
func TwoFactorCode(code string, ttl time.Duration) (Content, error) {
	data := codeData{Code: code, Minutes: minutes(ttl)}
	return render("Your two-factor verification code", twoFactorHTML, twoFactorText, data)
}

// PasswordReset renders the reset link email.
func PasswordReset(link string, ttl time.Duration) (Content, error) {
	return render("Reset your password", resetHTML, resetText, linkData{Link: link, Expires: humanize(ttl)})
}

// Verification renders the email address verification link.
func Verification(link string, ttl time.Duration) (Content, error) {
	return render("Verify your email", verifyHTML, verifyText, linkData{Link: link, Expires: humanize(ttl)})
}

// Link joins base and path without doubling slashes and appends token as
// the token query parameter.
func Link(base, path, token string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/") + "?token=" + token
}

func render(subject string, h *htmltemplate.Template, t *texttemplate.Template, data any) (Content, error) {
	var hb, tb bytes.Buffer
	if err := h.Execute(&hb, data); err != nil {
		return Content{}, err
	}
	if err := t.Execute(&tb, data); err != nil {
		return Content{}, err
	}
	return Content{Subject: subject, HTML: hb.String(), Text: tb.String()}, nil
}

func minutes(d time.Duration) int {
	m := int(d / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}

func humanize(d time.Duration) string {
	switch {
	case d >= 48*time.Hour && d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(minutes(d), "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
