package terminal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/noah-isme/backend-pdv/internal/common"
)

// Command is a logical lane action, independent of the key that triggers it.
type Command string

const (
	CommandFocusSearch  Command = "focus-search"
	CommandPickCustomer Command = "pick-customer"
	CommandFinalizeSale Command = "finalize-sale"
	CommandCancelSale   Command = "cancel-sale"
)

// ErrUnboundTrigger is returned for a trigger with no command bound.
var ErrUnboundTrigger = errors.New("no command is bound to this trigger")

// Action runs a command. handled is false when the command was a no-op in
// the current state, e.g. finalize while the payment does not cover the cart.
type Action func(ctx context.Context) (result any, handled bool, err error)

// CommandResult reports a dispatch.
type CommandResult struct {
	Trigger string  `json:"trigger"`
	Command Command `json:"command"`
	Handled bool    `json:"handled"`
	Result  any     `json:"result,omitempty"`
}

// Binding pairs a trigger with its command for listings.
type Binding struct {
	Trigger string  `json:"trigger"`
	Command Command `json:"command"`
}

// Dispatcher maps triggers (keys, buttons, remote pads) to commands and
// commands to actions.
type Dispatcher struct {
	mu       sync.RWMutex
	bindings map[string]Command
	actions  map[Command]Action
}

// NewDispatcher builds a dispatcher from trigger=command bindings. Every
// command must be one of the known commands.
func NewDispatcher(bindings map[string]string) (*Dispatcher, error) {
	d := &Dispatcher{bindings: map[string]Command{}, actions: map[Command]Action{}}
	for trigger, name := range bindings {
		cmd := Command(strings.ToLower(strings.TrimSpace(name)))
		switch cmd {
		case CommandFocusSearch, CommandPickCustomer, CommandFinalizeSale, CommandCancelSale:
		default:
			return nil, fmt.Errorf("terminal: unknown command %q for %s", name, trigger)
		}
		d.bindings[normalizeTrigger(trigger)] = cmd
	}
	return d, nil
}

// Handle sets the action for a command, replacing any earlier one.
func (d *Dispatcher) Handle(cmd Command, action Action) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions[cmd] = action
}

// Bindings lists the bindings sorted by trigger.
func (d *Dispatcher) Bindings() []Binding {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Binding, 0, len(d.bindings))
	for trigger, cmd := range d.bindings {
		out = append(out, Binding{Trigger: trigger, Command: cmd})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Trigger < out[j].Trigger })
	return out
}

// Dispatch runs the command bound to trigger.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger string) (CommandResult, error) {
	key := normalizeTrigger(trigger)
	d.mu.RLock()
	cmd, bound := d.bindings[key]
	action := d.actions[cmd]
	d.mu.RUnlock()

	res := CommandResult{Trigger: key, Command: cmd}
	if !bound {
		return res, common.NewAppError("UNBOUND_TRIGGER", ErrUnboundTrigger.Error(), http.StatusNotFound, ErrUnboundTrigger)
	}
	if action == nil {
		return res, nil
	}
	result, handled, err := action(ctx)
	if err != nil {
		return res, err
	}
	res.Handled = handled
	res.Result = result
	return res, nil
}

func normalizeTrigger(trigger string) string {
	return strings.ToUpper(strings.TrimSpace(trigger))
}

// UIHint tells the front-end what to do for commands the core cannot perform itself.
type UIHint struct {
	Focus string `json:"focus,omitempty"`
	Open  string `json:"open,omitempty"`
}

// Bind registers the lane's actions on d.
func (t *Terminal) Bind(d *Dispatcher) {
	d.Handle(CommandFocusSearch, func(context.Context) (any, bool, error) {
		return UIHint{Focus: "search"}, true, nil
	})
	d.Handle(CommandPickCustomer, func(context.Context) (any, bool, error) {
		return UIHint{Open: "customer-picker"}, true, nil
	})
	d.Handle(CommandFinalizeSale, func(ctx context.Context) (any, bool, error) {
		if !t.CanFinalize() {
			return t.PaymentView(), false, nil
		}
		receipt, err := t.Finalize(ctx)
		if err != nil {
			return nil, false, err
		}
		return receipt, true, nil
	})
	d.Handle(CommandCancelSale, func(ctx context.Context) (any, bool, error) {
		return t.CancelSale(ctx), true, nil
	})
}
