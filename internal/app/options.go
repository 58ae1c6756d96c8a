package app

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"versecast/internal/config"
	"versecast/internal/push"
	"versecast/internal/rewrite"
)

type options struct {
	getenv     config.Getenv
	dotenv     []string
	chat       rewrite.ChatClient
	pushClient push.Client
	registry   *prometheus.Registry
}

type Option func(*options)

// WithGetenv replaces os.Getenv for secret lookup.
func WithGetenv(fn config.Getenv) Option { return func(o *options) { o.getenv = fn } }

// WithDotEnv sets the .env files loaded before the environment is read.
// Missing files are ignored. Default: ".env".
func WithDotEnv(paths ...string) Option { return func(o *options) { o.dotenv = paths } }

// WithChatClient replaces the OpenAI client.
func WithChatClient(c rewrite.ChatClient) Option { return func(o *options) { o.chat = c } }

// WithPushClient replaces the client chosen by push.provider.
func WithPushClient(c push.Client) Option { return func(o *options) { o.pushClient = c } }

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option { return func(o *options) { o.registry = reg } }

func buildOptions(opts []Option) options {
	o := options{getenv: os.Getenv, dotenv: []string{".env"}}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
