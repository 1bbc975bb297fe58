package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/rickicode/bulkpanel/flow"
	"github.com/rickicode/bulkpanel/job"
	"github.com/rickicode/bulkpanel/panel"
)

// deleteDefinition tears down the account and DNS records per domain.
// A stop request completes the job with the results gathered so far.
func deleteDefinition(deps Deps) flow.Definition {
	return flow.Definition{
		Kind:       job.KindDelete,
		StopStatus: job.StatusCompleted,
		Build: func(ctx context.Context, creds job.Credentials) (flow.ItemWorkflow, error) {
			cp, err := buildPanel(ctx, deps, creds)
			if err != nil {
				return nil, err
			}
			if creds.DNSToken == "" || creds.DNSZone == "" {
				return nil, fmt.Errorf("provision: dns credentials missing")
			}
			w := &deleteWorkflow{panel: cp, dns: deps.DNS(creds)}
			return flow.StagesFunc(w.stages), nil
		},
	}
}

type deleteWorkflow struct {
	panel ControlPanel
	dns   DNSProvider
}

func (w *deleteWorkflow) stages(item job.Item) []flow.Stage {
	domain := item.Key
	return []flow.Stage{
		{Name: "find account", Run: func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			acct, err := w.panel.FindAccount(ctx, domain)
			if errors.Is(err, panel.ErrAccountNotFound) {
				ex.Contribute("note", "no account for domain")
				return flow.SkipRest, nil
			}
			if err != nil {
				return flow.Continue, err
			}
			ex.Set("account_user", acct.User)
			return flow.Continue, nil
		}},
		{Name: "delete account", Run: func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			user, _ := ex.Value("account_user")
			username, _ := user.(string)
			if err := w.panel.DeleteAccount(ctx, username); err != nil {
				return flow.Continue, err
			}
			ex.Contribute("deleted_user", username)
			return flow.Continue, nil
		}},
		{Name: "cleanup dns", Run: func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			if err := w.dns.DeleteRecord(ctx, domain); err != nil {
				return flow.Continue, err
			}
			return flow.Continue, nil
		}},
	}
}
