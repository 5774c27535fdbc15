package recovery

import (
	"context"
)

// Port is the sending side of an IPC endpoint. TrySend must not block; a
// saturated queue reports an IPC buffer-full error.
type Port interface {
	TrySend(ctx context.Context, msg []byte) error
}

// Send delivers msg through port, retrying while the destination queue is
// full. Failures other than a full buffer are returned unchanged.
func Send(ctx context.Context, port Port, msg []byte, p Policy, opts ...Option) error {
	opts = append([]Option{WithOperation("ipc.send")}, opts...)
	_, err := Do(ctx, p, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, port.TrySend(ctx, msg)
	}, opts...)
	return err
}
