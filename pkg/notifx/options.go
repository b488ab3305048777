package notifx

// SendOptions carries provider hints that are not part of the message.
type SendOptions struct {
	// Tags end up as SES message tags; other providers only log them.
	Tags map[string]string
	// ConfigID names an SES configuration set.
	ConfigID string
}

type Option func(*SendOptions)

// WithTags merges tags into the send options. Later options win per key.
func WithTags(tags map[string]string) Option {
	return func(o *SendOptions) {
		if o.Tags == nil {
			o.Tags = make(map[string]string, len(tags))
		}
		for k, v := range tags {
			o.Tags[k] = v
		}
	}
}

func WithConfigID(id string) Option {
	return func(o *SendOptions) {
		o.ConfigID = id
	}
}

// ApplySendOptions folds opts for providers.
func ApplySendOptions(opts []Option) SendOptions {
	var so SendOptions
	for _, o := range opts {
		o(&so)
	}
	return so
}
