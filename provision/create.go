package provision

import (
	"context"
	"fmt"

	"github.com/rickicode/bulkpanel/flow"
	"github.com/rickicode/bulkpanel/job"
	"github.com/rickicode/bulkpanel/panel"
	"github.com/rickicode/bulkpanel/sshx"
)

// createDefinition provisions one hosting account per domain. A stop
// request cancels the run, so the job lands in the cancelled status.
func createDefinition(deps Deps) flow.Definition {
	return flow.Definition{
		Kind:       job.KindCreate,
		StopStatus: job.StatusCancelled,
		Build: func(ctx context.Context, creds job.Credentials) (flow.ItemWorkflow, error) {
			cp, err := buildPanel(ctx, deps, creds)
			if err != nil {
				return nil, err
			}
			if creds.DNSToken == "" || creds.DNSZone == "" {
				return nil, fmt.Errorf("provision: dns credentials missing")
			}
			if creds.SSHHost == "" {
				return nil, fmt.Errorf("provision: ssh host missing")
			}
			w := &createWorkflow{panel: cp, dns: deps.DNS(creds), shell: deps.Shell, creds: creds}
			return flow.StagesFunc(w.stages), nil
		},
	}
}

type createWorkflow struct {
	panel ControlPanel
	dns   DNSProvider
	shell sshx.Factory
	creds job.Credentials
}

func (w *createWorkflow) stages(item job.Item) []flow.Stage {
	domain := item.Key
	return []flow.Stage{
		{Name: "check existing", Run: func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			exists, err := w.panel.AccountExists(ctx, domain)
			if err != nil {
				return flow.Continue, err
			}
			if exists {
				ex.Contribute("note", "account already exists")
				return flow.SkipRest, nil
			}
			return flow.Continue, nil
		}},
		{Name: "configure dns", Run: func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			recID, err := w.dns.UpsertRecord(ctx, domain, w.creds.SSHHost)
			if err != nil {
				return flow.Continue, err
			}
			ex.Contribute("dns_record_id", recID)
			return flow.Continue, nil
		}},
		{Name: "create account", Run: func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			username, err := UsernameFor(domain)
			if err != nil {
				return flow.Continue, err
			}
			password, err := GeneratePassword()
			if err != nil {
				return flow.Continue, err
			}
			params := panel.CreateParams{Username: username, Domain: domain, Password: password}
			if item.Meta != nil {
				params.Plan = item.Meta["plan"]
				params.Email = item.Meta["email"]
			}
			res, err := w.panel.CreateAccount(ctx, params)
			if err != nil {
				return flow.Continue, err
			}
			ex.Set("account_user", username)
			ex.Contribute("username", username)
			ex.Contribute("password", password)
			if res.IP != "" {
				ex.Contribute("ip", res.IP)
			}
			return flow.Continue, nil
		}},
		{Name: "remote setup", Run: func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			user, _ := ex.Value("account_user")
			username, _ := user.(string)

			sess, err := w.shell.Dial(ctx, w.creds.SSHHost, w.creds.SSHPort, w.creds.SSHUser, w.creds.SSHPassword)
			if err != nil {
				return flow.Continue, err
			}
			ex.Defer(func() { _ = sess.Close() })

			res, err := sess.Run(ctx, fmt.Sprintf("provision-site --user %s --domain %s", username, domain))
			if err != nil {
				return flow.Continue, err
			}
			if res.ExitCode != 0 {
				return flow.Continue, fmt.Errorf("provision: remote setup exited %d: %s", res.ExitCode, res.Stderr)
			}
			return flow.Continue, nil
		}},
	}
}
