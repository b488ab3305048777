package config

// NotifxConfig configures outgoing mail. Provider is console, ses or smtp.
type NotifxConfig struct {
	Provider    string
	FromAddress string
	FromName    string
	AWSRegion   string
	SMTP        SMTPConfig
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      string
}

// From renders the sender header value.
func (n NotifxConfig) From() string {
	if n.FromName == "" {
		return n.FromAddress
	}
	return n.FromName + " <" + n.FromAddress + ">"
}

func loadNotifxConfig() NotifxConfig {
	return NotifxConfig{
		Provider:    getEnv("NOTIFX_PROVIDER", "console"),
		FromAddress: getEnv("NOTIFX_FROM_ADDRESS", getEnv("EMAIL_FROM_ADDRESS", "noreply@bastion.local")),
		FromName:    getEnv("NOTIFX_FROM_NAME", getEnv("EMAIL_FROM_NAME", "Bastion")),
		AWSRegion:   getEnv("NOTIFX_AWS_REGION", getEnv("AWS_REGION", "us-east-1")),
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			TLS:      getEnv("SMTP_TLS", "mandatory"),
		},
	}
}
