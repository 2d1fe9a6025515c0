package director

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"

	"fable/internal/logging"
)

// Options tunes the director loop.
type Options struct {
	// PollingInterval is the unread-message poll cadence.
	PollingInterval time.Duration
	// Policy overrides the default stub policy.
	Policy Policy
	// Quiet disables console output.
	Quiet bool
}

// Director polls the backend for unread messages and delegates work.
type Director struct {
	client   *Client
	policy   Policy
	interval time.Duration
	quiet    bool
	logger   logging.Logger
}

// New builds a director against the backend client.
func New(client *Client, opts Options, logger logging.Logger) *Director {
	policy := opts.Policy
	if policy == nil {
		policy = StubPolicy{}
	}
	interval := opts.PollingInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Director{
		client:   client,
		policy:   policy,
		interval: interval,
		quiet:    opts.Quiet,
		logger:   logging.OrNop(logger),
	}
}

// Run polls until ctx is cancelled. Cancellation is a graceful stop and
// returns nil.
func (d *Director) Run(ctx context.Context) error {
	if err := d.client.Health(ctx); err != nil {
		return fmt.Errorf("backend not reachable: %w", err)
	}
	d.console(color.FgGreen, "director connected, polling every %v", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.console(color.FgYellow, "director stopping")
			return nil
		case <-ticker.C:
			if err := d.pollOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.logger.Error("poll failed: %v", err)
				d.console(color.FgRed, "poll failed: %v", err)
			}
		}
	}
}

// pollOnce drains the unread message queue: each message is marked read,
// planned, delegated, and reflected on.
func (d *Director) pollOnce(ctx context.Context) error {
	unread, err := d.client.UnreadMessages(ctx)
	if err != nil {
		return err
	}

	for _, msg := range unread {
		if err := d.client.MarkDirectorRead(ctx, msg.ID); err != nil {
			return err
		}
		// The director's own reflections come back through the unread feed;
		// skip them to avoid self-delegation.
		if msg.SenderType == "director" {
			continue
		}
		if err := d.handleMessage(ctx, msg); err != nil {
			d.logger.Error("message %s failed: %v", msg.ID, err)
			d.console(color.FgRed, "message %s failed: %v", msg.ID, err)
		}
	}
	return nil
}

func (d *Director) handleMessage(ctx context.Context, msg Message) error {
	d.console(color.FgCyan, "message %s from %s: %s", msg.ID, msg.SenderType, msg.Content)

	taskID := msg.TaskID
	if taskID == "" {
		task, err := d.client.CreateTask(ctx, map[string]any{"overall_description": msg.Content})
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		taskID = task.ID
		d.console(color.FgWhite, "created task %s", taskID)
	}

	catalog, err := d.client.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	plan, err := d.policy.Plan(ctx, msg, catalog)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	d.logger.Info("Plan for message %s: %v", msg.ID, plan.AgentIDs)

	completed := 0
	for _, agentID := range plan.AgentIDs {
		summary, err := d.client.Execute(ctx, agentID, taskID)
		if err != nil {
			reflection := fmt.Sprintf("delegation stopped at %s: %v", agentID, err)
			if postErr := d.client.PostMessage(ctx, reflection, taskID); postErr != nil {
				d.logger.Warn("failed to post reflection: %v", postErr)
			}
			return fmt.Errorf("execute %s: %w", agentID, err)
		}
		completed++
		d.console(color.FgGreen, "%s finished (%s)", agentID, summary.ExecutionID)
	}

	reflection := fmt.Sprintf("completed %d/%d agent(s) for task %s", completed, len(plan.AgentIDs), taskID)
	if err := d.client.PostMessage(ctx, reflection, taskID); err != nil {
		d.logger.Warn("failed to post reflection: %v", err)
	}
	return nil
}

func (d *Director) console(attr color.Attribute, format string, args ...any) {
	if d.quiet {
		return
	}
	color.New(attr).Printf(format+"\n", args...)
}
