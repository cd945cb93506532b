package kernel

import (
	"context"
	"fmt"
	"sort"

	"rollcall/pkg/rollcall"
)

// kernelCommandCatalog exposes kernel command registrations through ServiceRegistry.
type kernelCommandCatalog struct {
	kernel *Kernel
}

// ListCommands returns all registered command entries sorted by command name.
func (c *kernelCommandCatalog) ListCommands(ctx context.Context) ([]rollcall.RegisteredCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	if c == nil || c.kernel == nil {
		return nil, fmt.Errorf("list commands: nil catalog")
	}

	c.kernel.mu.RLock()
	commands := make([]rollcall.RegisteredCommand, 0, len(c.kernel.commands))
	for _, registration := range c.kernel.commands {
		commands = append(commands, rollcall.RegisteredCommand{
			ModuleName: registration.moduleName,
			Command:    registration.spec,
		})
	}
	c.kernel.mu.RUnlock()

	sort.Slice(commands, func(i, j int) bool {
		left, right := commands[i].Command, commands[j].Command
		if left.Name != right.Name {
			return left.Name < right.Name
		}
		return commands[i].ModuleName < commands[j].ModuleName
	})

	return commands, nil
}

var _ rollcall.CommandCatalog = (*kernelCommandCatalog)(nil)
