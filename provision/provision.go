package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickicode/bulkpanel/dnsprov"
	"github.com/rickicode/bulkpanel/flow"
	"github.com/rickicode/bulkpanel/job"
	"github.com/rickicode/bulkpanel/panel"
	"github.com/rickicode/bulkpanel/sshx"
)

// ControlPanel is the hosting-panel surface the stages use.
// *panel.Client satisfies it.
type ControlPanel interface {
	Ping(ctx context.Context) error
	AccountExists(ctx context.Context, domain string) (bool, error)
	FindAccount(ctx context.Context, domain string) (*panel.Account, error)
	CreateAccount(ctx context.Context, p panel.CreateParams) (*panel.CreateResult, error)
	DeleteAccount(ctx context.Context, user string) error
}

// DNSProvider is the DNS surface the stages use.
type DNSProvider interface {
	// UpsertRecord points name at value and returns the record ID.
	UpsertRecord(ctx context.Context, name, value string) (string, error)
	DeleteRecord(ctx context.Context, name string) error
}

// Deps supplies collaborator constructors to the workflow builders.
// Client constructors run once per job in Build; the resulting clients
// are shared read-mostly across that job's items. The shell factory
// dials per attempt instead, so sessions are never shared.
type Deps struct {
	Panel  func(creds job.Credentials) ControlPanel
	DNS    func(creds job.Credentials) DNSProvider
	Shell  sshx.Factory
	Logger *slog.Logger
}

// DefaultDeps wires the production clients.
func DefaultDeps(logger *slog.Logger) Deps {
	if logger == nil {
		logger = slog.Default()
	}
	return Deps{
		Panel: func(c job.Credentials) ControlPanel {
			return panel.New(c.PanelURL, c.PanelUser, c.PanelToken, panel.WithLogger(logger))
		},
		DNS: func(c job.Credentials) DNSProvider {
			return &dnsAdapter{c: dnsprov.New(c.DNSToken, c.DNSZone, dnsprov.WithLogger(logger))}
		},
		Shell:  sshx.NewDialer(sshx.WithLogger(logger)),
		Logger: logger,
	}
}

// RegisterAll registers the three workflow kinds on the registry.
func RegisterAll(reg *flow.Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	for _, def := range []flow.Definition{
		createDefinition(deps),
		deleteDefinition(deps),
		wpadminDefinition(deps),
	} {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// dnsAdapter narrows *dnsprov.Client to the stage-facing interface.
// Created records are A records with a short TTL so newly provisioned
// sites resolve quickly.
type dnsAdapter struct {
	c *dnsprov.Client
}

func (a *dnsAdapter) UpsertRecord(ctx context.Context, name, value string) (string, error) {
	rec, err := a.c.UpsertRecord(ctx, dnsprov.Record{
		Type:    "A",
		Name:    name,
		Content: value,
		TTL:     300,
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (a *dnsAdapter) DeleteRecord(ctx context.Context, name string) error {
	return a.c.DeleteRecord(ctx, name)
}

// buildPanel validates the panel credentials and verifies the panel is
// reachable before any item runs. A failure here fails the whole job.
func buildPanel(ctx context.Context, deps Deps, creds job.Credentials) (ControlPanel, error) {
	if creds.PanelURL == "" || creds.PanelToken == "" {
		return nil, fmt.Errorf("provision: panel credentials missing")
	}
	cp := deps.Panel(creds)
	if err := cp.Ping(ctx); err != nil {
		return nil, fmt.Errorf("provision: panel unreachable: %w", err)
	}
	return cp, nil
}
