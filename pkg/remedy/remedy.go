// Package remedy implements the remediation side of auto-heal: the
// side-effecting fixes (cluster re-login, VPN reconnect) the retrier
// invokes between tool attempts. Fixes are best-effort; callers retry
// the original tool regardless of remediation success.
package remedy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/ormasoftchile/skillrun/pkg/logger"
	"github.com/ormasoftchile/skillrun/pkg/tools"
)

// Provider performs remediation actions.
type Provider interface {
	KubeLogin(ctx context.Context, cluster string) error
	VPNConnect(ctx context.Context) error
}

// NopProvider performs no remediation and always reports success.
type NopProvider struct{}

func (NopProvider) KubeLogin(context.Context, string) error { return nil }
func (NopProvider) VPNConnect(context.Context) error        { return nil }

// CLIRemediator shells out to configured commands. Each action retries
// with backoff because the commands themselves ride the same flaky
// network the failure came from.
type CLIRemediator struct {
	Exec      tools.CommandExecutor
	LoginArgv map[string][]string // cluster name → login command
	VPNArgv   []string
	Attempts  uint          // per-action command attempts; default 3
	Delay     time.Duration // initial backoff delay; default 2s
}

// KubeLogin re-authenticates against the named cluster.
func (c *CLIRemediator) KubeLogin(ctx context.Context, cluster string) error {
	argv, ok := c.LoginArgv[cluster]
	if !ok || len(argv) == 0 {
		return fmt.Errorf("kube login: no login command configured for cluster %q", cluster)
	}
	logger.G(ctx).WithField("cluster", cluster).Warn("re-authenticating cluster session")
	return c.run(ctx, argv)
}

// VPNConnect re-establishes the VPN connection.
func (c *CLIRemediator) VPNConnect(ctx context.Context) error {
	if len(c.VPNArgv) == 0 {
		return fmt.Errorf("vpn connect: no command configured")
	}
	logger.G(ctx).Warn("reconnecting VPN")
	return c.run(ctx, c.VPNArgv)
}

func (c *CLIRemediator) run(ctx context.Context, argv []string) error {
	attempts := c.Attempts
	if attempts == 0 {
		attempts = 3
	}
	delay := c.Delay
	if delay == 0 {
		delay = 2 * time.Second
	}

	return retry.Do(
		func() error {
			result, err := c.Exec.Execute(ctx, argv[0], argv[1:], nil)
			if err != nil {
				return err
			}
			if result.ExitCode != 0 {
				return fmt.Errorf("%s exited with code %d: %s",
					argv[0], result.ExitCode, strings.TrimSpace(string(result.Stderr)))
			}
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithField("attempt", n+1).WithError(err).Warn("remediation command failed, retrying")
		}),
	)
}
