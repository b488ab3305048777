package usermail

import "github.com/Abraxas-365/bastion/pkg/notifx"

const (
	TemplateLoginNotification = "login_notification"
	TemplatePasswordReset     = "password_reset"
)

// templates are keyed by name and locale. "en" is the fallback.
var templates = map[string]map[string]notifx.Template{
	TemplateLoginNotification: {
		"en": {
			Subject: "{{.AppName}}: new login to your account",
			Text: `Hello {{.Name}},

a new login to your {{.AppName}} account happened on {{.Time}}.
Device: {{.UserAgent}}

If this was not you, change your password and terminate all sessions.`,
			HTML: `<p>Hello {{.Name}},</p>
<p>a new login to your {{.AppName}} account happened on {{.Time}}.<br>Device: {{.UserAgent}}</p>
<p>If this was not you, change your password and terminate all sessions.</p>`,
		},
		"de": {
			Subject: "{{.AppName}}: neue Anmeldung bei Ihrem Konto",
			Text: `Hallo {{.Name}},

am {{.Time}} hat eine neue Anmeldung bei Ihrem {{.AppName}}-Konto stattgefunden.
Gerät: {{.UserAgent}}

Falls Sie das nicht waren, ändern Sie Ihr Passwort und beenden Sie alle Sitzungen.`,
		},
	},
	TemplatePasswordReset: {
		"en": {
			Subject: "{{.AppName}}: reset your password",
			Text: `Hello {{.Name}},

use the following link to set a new password:
{{.Link}}

The link is valid for {{.ValidFor}}.`,
			HTML: `<p>Hello {{.Name}},</p>
<p>use the following link to set a new password:<br><a href="{{.Link}}">{{.Link}}</a></p>
<p>The link is valid for {{.ValidFor}}.</p>`,
		},
		"de": {
			Subject: "{{.AppName}}: Passwort zurücksetzen",
			Text: `Hallo {{.Name}},

über den folgenden Link können Sie ein neues Passwort setzen:
{{.Link}}

Der Link ist {{.ValidFor}} gültig.`,
		},
	},
}

func templateName(name, locale string) string {
	return name + "." + locale
}
