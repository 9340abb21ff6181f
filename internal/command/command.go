// Package command implements the operator-facing /radiation command and the
// chat announcements that accompany storm transitions.
package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/radstorm/storm-server-go/internal/storm"
	"go.uber.org/zap"
)

const (
	Name       = "radiation"
	Alias      = "radstorm"
	Permission = "radiationstorm.manage"
	Syntax     = "/radiation <start|stop|status>"
	Help       = "Controls the radiation storm"
)

// ErrPermissionDenied is returned when the caller lacks Permission.
var ErrPermissionDenied = errors.New("permission denied")

// Caller is whoever issued the command: a player or the console.
type Caller interface {
	Name() string
	HasPermission(permission string) bool
	Reply(msg string)
}

// Controller is the part of the storm service the command drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() storm.Status
	Now() time.Time
}

// Radiation is the /radiation command.
type Radiation struct {
	ctl    Controller
	logger *zap.Logger

	mu       sync.RWMutex
	messages Messages
}

// NewRadiation creates the command.
func NewRadiation(ctl Controller, messages Messages, logger *zap.Logger) *Radiation {
	if logger == nil {
		logger = zap.NewNop()
	}
	if messages == nil {
		messages = NewMessages(nil)
	}
	return &Radiation{ctl: ctl, messages: messages, logger: logger}
}

// Matches reports whether name invokes this command.
func (c *Radiation) Matches(name string) bool {
	name = strings.TrimPrefix(strings.ToLower(name), "/")
	return name == Name || name == Alias
}

// SetMessages swaps the translation table after a config reload.
func (c *Radiation) SetMessages(messages Messages) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = messages
}

func (c *Radiation) translate(key string, args ...any) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messages.Translate(key, args...)
}

// Execute runs the command. Expected failures (already active, not active)
// are replied to the caller and do not produce an error.
func (c *Radiation) Execute(ctx context.Context, caller Caller, args []string) error {
	if !caller.HasPermission(Permission) {
		caller.Reply("You do not have permission to use this command.")
		return ErrPermissionDenied
	}
	if len(args) == 0 {
		caller.Reply(Syntax)
		return nil
	}

	sub := strings.ToLower(args[0])
	c.logger.Debug("radiation command",
		zap.String("caller", caller.Name()),
		zap.String("subcommand", sub),
	)

	switch sub {
	case "start":
		if err := c.ctl.Start(ctx); err != nil {
			return c.fail(caller, err)
		}
		caller.Reply(c.translate("storm_start"))
	case "stop":
		if err := c.ctl.Stop(ctx); err != nil {
			return c.fail(caller, err)
		}
		caller.Reply(c.translate("storm_stop"))
	case "status":
		caller.Reply(c.status())
	default:
		caller.Reply(Syntax)
	}
	return nil
}

func (c *Radiation) fail(caller Caller, err error) error {
	switch {
	case errors.Is(err, storm.ErrAlreadyActive):
		caller.Reply(c.translate("storm_already_active"))
		return nil
	case errors.Is(err, storm.ErrNotActive):
		caller.Reply(c.translate("storm_not_active"))
		return nil
	default:
		caller.Reply(err.Error())
		return err
	}
}

func (c *Radiation) status() string {
	st := c.ctl.Status()
	state := "inactive"
	if st.Active {
		state = "active"
	}
	msg := c.translate("storm_status", state)

	if !st.Active && st.AutoStormEnabled {
		if remaining, ok := st.Remaining(c.ctl.Now()); ok && remaining > 0 {
			msg += " " + c.translate("storm_next", FormatDuration(remaining))
		}
	}
	return msg
}
