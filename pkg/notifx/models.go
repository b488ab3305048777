package notifx

// EmailMessage is a single outgoing email.
type EmailMessage struct {
	From     string   `json:"from"`
	To       []string `json:"to"`
	CC       []string `json:"cc,omitempty"`
	BCC      []string `json:"bcc,omitempty"`
	ReplyTo  string   `json:"reply_to,omitempty"`
	Subject  string   `json:"subject"`
	TextBody string   `json:"text_body,omitempty"`
	HTMLBody string   `json:"html_body,omitempty"`
}

// Template is the source of a named email: a subject line plus a text
// and/or html body. All three are Go templates over the same data.
type Template struct {
	Subject string
	Text    string
	HTML    string
}
