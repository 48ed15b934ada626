//go:build linux || darwin
// +build linux darwin

package canbus

import (
	"context"

	"lift-control-core/utils"
)

// Open dials iface (e.g. "can0", "vcan0") and returns a bus named name reading and writing through it.
func Open(ctx context.Context, name, iface string, cmap *utils.CANMap, log *utils.Logger, opts ...Option) (*Bus, error) {
	sock, err := utils.DialSocketCAN(ctx, iface)
	if err != nil {
		return nil, err
	}
	return New(name, cmap, sock, sock, log, opts...), nil
}
