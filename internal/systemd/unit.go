// Package systemd finds the systemd unit a process belongs to.
package systemd

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Unit describes the systemd unit owning a process.
type Unit struct {
	Name        string
	Description string
	ActiveState string
}

// String returns the unit name with its description, if any.
func (u Unit) String() string {
	if u.Description == "" {
		return u.Name
	}
	return fmt.Sprintf("%s (%s)", u.Name, u.Description)
}

type conn interface {
	GetUnitNameByPID(ctx context.Context, pid uint32) (string, error)
	GetUnitPropertiesContext(ctx context.Context, unit string) (map[string]interface{}, error)
	Close()
}

// UnitLookup queries systemd over D-Bus.
type UnitLookup struct {
	dial func(ctx context.Context) (conn, error)
}

// NewUnitLookup creates a UnitLookup on the system bus.
func NewUnitLookup() *UnitLookup {
	return &UnitLookup{dial: func(ctx context.Context) (conn, error) {
		return dbus.NewWithContext(ctx)
	}}
}

// UnitForPID returns the unit the process belongs to.
func (l *UnitLookup) UnitForPID(ctx context.Context, pid int) (Unit, error) {
	if pid <= 0 {
		return Unit{}, fmt.Errorf("invalid PID %d", pid)
	}

	c, err := l.dial(ctx)
	if err != nil {
		return Unit{}, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer c.Close()

	name, err := c.GetUnitNameByPID(ctx, uint32(pid))
	if err != nil {
		return Unit{}, fmt.Errorf("failed to get unit for PID %d: %w", pid, err)
	}

	unit := Unit{Name: name}
	props, err := c.GetUnitPropertiesContext(ctx, name)
	if err == nil {
		unit.Description, _ = props["Description"].(string)
		unit.ActiveState, _ = props["ActiveState"].(string)
	}
	return unit, nil
}
