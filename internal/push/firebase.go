package push

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

type FirebaseConfig struct {
	CredentialsFile string
	// ProjectID overrides the project from the service-account file.
	ProjectID string
	// DryRun validates messages with FCM without delivering them.
	DryRun bool
}

// NewFirebaseClient initializes a Firebase app from a service-account file
// and returns its messaging client.
func NewFirebaseClient(ctx context.Context, cfg FirebaseConfig) (Client, error) {
	var fbCfg *firebase.Config
	if p := strings.TrimSpace(cfg.ProjectID); p != "" {
		fbCfg = &firebase.Config{ProjectID: p}
	}
	app, err := firebase.NewApp(ctx, fbCfg, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase app from %q: %w", cfg.CredentialsFile, err)
	}
	mc, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging client: %w", err)
	}
	if cfg.DryRun {
		return dryRunClient{mc}, nil
	}
	return mc, nil
}

type dryRunSender interface {
	SendDryRun(ctx context.Context, msg *messaging.Message) (string, error)
}

// dryRunClient routes Send through SendDryRun.
type dryRunClient struct{ c dryRunSender }

func (d dryRunClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	return d.c.SendDryRun(ctx, msg)
}
