package provision

import (
	"context"
	"fmt"

	"github.com/rickicode/bulkpanel/flow"
	"github.com/rickicode/bulkpanel/job"
	"github.com/rickicode/bulkpanel/sshx"
)

// wpadminDefinition rotates the WordPress admin password per domain.
// A stop request completes the job with the rotations done so far.
func wpadminDefinition(deps Deps) flow.Definition {
	return flow.Definition{
		Kind:       job.KindWPAdmin,
		StopStatus: job.StatusCompleted,
		Build: func(ctx context.Context, creds job.Credentials) (flow.ItemWorkflow, error) {
			cp, err := buildPanel(ctx, deps, creds)
			if err != nil {
				return nil, err
			}
			if creds.SSHHost == "" {
				return nil, fmt.Errorf("provision: ssh host missing")
			}
			w := &wpadminWorkflow{panel: cp, shell: deps.Shell, creds: creds}
			return flow.StagesFunc(w.stages), nil
		},
	}
}

type wpadminWorkflow struct {
	panel ControlPanel
	shell sshx.Factory
	creds job.Credentials
}

func (w *wpadminWorkflow) stages(item job.Item) []flow.Stage {
	domain := item.Key
	return []flow.Stage{
		{Name: "verify account", Run: func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			acct, err := w.panel.FindAccount(ctx, domain)
			if err != nil {
				return flow.Continue, err
			}
			ex.Set("account_user", acct.User)
			return flow.Continue, nil
		}},
		{Name: "rotate admin password", Run: func(ctx context.Context, ex *flow.Exec) (flow.Verdict, error) {
			user, _ := ex.Value("account_user")
			username, _ := user.(string)

			password, err := GeneratePassword()
			if err != nil {
				return flow.Continue, err
			}

			sess, err := w.shell.Dial(ctx, w.creds.SSHHost, w.creds.SSHPort, w.creds.SSHUser, w.creds.SSHPassword)
			if err != nil {
				return flow.Continue, err
			}
			ex.Defer(func() { _ = sess.Close() })

			cmd := fmt.Sprintf("wp user update admin --user_pass=%q --path=/home/%s/public_html --allow-root", password, username)
			res, err := sess.Run(ctx, cmd)
			if err != nil {
				return flow.Continue, err
			}
			if res.ExitCode != 0 {
				return flow.Continue, fmt.Errorf("provision: rotate admin exited %d: %s", res.ExitCode, res.Stderr)
			}
			ex.Contribute("wp_admin_user", "admin")
			ex.Contribute("wp_admin_password", password)
			return flow.Continue, nil
		}},
	}
}
