package webhook

import (
	"context"

	"github.com/cc-bridge/cc-bridge/internal/domain"
)

// selectInstance picks the best instance to route a message to, preferring
// running over stopped, then the configured variant preference, matching
// the original's _select_instance. "Running" is determined by a live
// check (registry.GetStatus), not the possibly-stale stored status, so a
// crashed instance whose record still reads "running" is not selected as
// if it were healthy.
func (d *Dispatcher) selectInstance(ctx context.Context) *domain.Instance {
	instances := d.registry.List()

	var running, stopped []*domain.Instance
	for _, inst := range instances {
		status, ok := d.registry.GetStatus(ctx, inst.Name, d.factory.Engine())
		if ok && status == domain.StatusRunning {
			running = append(running, inst)
		} else {
			stopped = append(stopped, inst)
		}
	}

	if len(running) > 0 {
		if len(running) == 1 {
			return running[0]
		}
		if inst := preferVariant(running, d.dockerPreferred); inst != nil {
			return inst
		}
		return running[0]
	}

	if len(stopped) > 0 {
		if inst := preferVariant(stopped, d.dockerPreferred); inst != nil {
			return inst
		}
		return stopped[0]
	}

	return nil
}

func preferVariant(instances []*domain.Instance, dockerPreferred bool) *domain.Instance {
	want := domain.VariantTerminal
	if dockerPreferred {
		want = domain.VariantContainer
	}
	for _, inst := range instances {
		if inst.Variant == want {
			return inst
		}
	}
	return nil
}

// handleCommand dispatches a leading-slash message to one of the bridge's
// bot commands, matching the original's _handle_telegram_command.
func (d *Dispatcher) handleCommand(ctx context.Context, text string, chatID int64) jsonResponse {
	switch text {
	case "/start":
		d.notify(ctx, chatID, "Welcome to cc-bridge!\n\nCommands:\n/status - Check status\n/help - Show help")
		return ok("")

	case "/status":
		inst := d.selectInstance(ctx)
		status := "Service Status\n\nServer: Running\n"
		if inst != nil {
			live, _ := d.registry.GetStatus(ctx, inst.Name, d.factory.Engine())
			status += "Instance: " + inst.Name + " (" + string(live) + ")\n"
		} else {
			status += "Instance: None found\n"
		}
		d.notify(ctx, chatID, status)
		return ok("")

	case "/help":
		d.notify(ctx, chatID,
			"cc-bridge Help\n\n"+
				"/status - Check service status\n"+
				"/clear - Clear conversation\n"+
				"/stop - Interrupt action\n"+
				"/resume - Resume instance\n"+
				"/help - Show this message")
		return ok("")

	case "/clear", "/stop", "/resume":
		return d.handleInstanceCommand(ctx, text, chatID)

	default:
		return ignored("unknown command")
	}
}

func (d *Dispatcher) handleInstanceCommand(ctx context.Context, text string, chatID int64) jsonResponse {
	inst := d.selectInstance(ctx)
	if inst == nil {
		d.notify(ctx, chatID, "No Claude instance found.")
		return errResp(200, "no instance")
	}

	ad, err := d.factory.For(inst)
	if err != nil {
		d.notify(ctx, chatID, "Instance adapter unavailable.")
		return errResp(200, "no adapter")
	}

	var msg string
	switch text {
	case "/stop":
		if err := ad.Interrupt(ctx); err != nil {
			msg = "Interrupt failed."
		} else {
			msg = "Instance '" + inst.Name + "' interrupted."
		}
	case "/clear":
		if err := ad.ClearConversation(ctx); err != nil {
			msg = "Clear failed."
		} else {
			msg = "Conversation for '" + inst.Name + "' cleared."
		}
	case "/resume":
		running, _ := ad.IsRunning(ctx)
		if running {
			msg = "Instance '" + inst.Name + "' is already running."
		} else {
			// Release any stale transport state (e.g. a FIFO pair left over
			// from a prior crash) before standing the instance back up.
			if cleanupErr := ad.Cleanup(ctx); cleanupErr != nil {
				d.logger.Warn("cleanup before resume failed", "instance", inst.Name, "error", cleanupErr)
			}
			if err := ad.Start(ctx); err != nil {
				msg = "Resume failed."
			} else {
				msg = "Instance '" + inst.Name + "' resumed."
			}
		}
	}

	d.notify(ctx, chatID, msg)
	return ok("")
}
