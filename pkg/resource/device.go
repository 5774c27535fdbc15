package resource

import (
	"context"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/faultinject"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/quiesce"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/recovery"
)

// DeviceID names a device, such as "ata0".
type DeviceID string

// Driver is the device driver a device handle drives. Submit must not
// block waiting for the device; a full queue reports device-busy and is
// retried by the handle.
type Driver interface {
	Claim(ctx context.Context, id DeviceID) error
	Submit(ctx context.Context, id DeviceID, req []byte) ([]byte, error)
	Release(ctx context.Context, id DeviceID) error
}

type deviceRef struct {
	drv    Driver
	id     DeviceID
	policy recovery.Policy
	retry  []recovery.Option
	gate   *quiesce.Gate
}

// ClaimedDevice is a device held for exclusive use.
type ClaimedDevice struct {
	ref deviceRef
	t   ticket
}

// ReleasedDevice is a device given back to its driver that may be claimed
// again through the same lineage.
type ReleasedDevice struct {
	ref deviceRef
	t   ticket
}

// FaultedDevice is a device whose last operation failed beyond recovery.
type FaultedDevice struct {
	ref   deviceRef
	t     ticket
	cause error
}

// Claim claims the device. policy bounds the retries of busy submissions;
// opts are passed to the retry orchestrator, and the gate they select is
// consulted before the driver sees the claim.
func Claim(ctx context.Context, drv Driver, id DeviceID, policy recovery.Policy, opts ...recovery.Option) (*ClaimedDevice, error) {
	if drv == nil {
		return nil, kerr.InvalidParam("resource: driver must not be nil")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	gate := recovery.AdmissionGate(opts...)
	if err := admit(ctx, gate); err != nil {
		return nil, err
	}
	if err := drv.Claim(ctx, id); err != nil {
		return nil, err
	}
	return &ClaimedDevice{
		ref: deviceRef{drv: drv, id: id, policy: policy, retry: opts, gate: gate},
		t:   newTicket(),
	}, nil
}

// ID returns the device id.
func (d *ClaimedDevice) ID() DeviceID { return d.ref.id }

// Submit sends req to the device, retrying while it reports busy or times
// out. If the final failure is fatal, such as a hardware failure, the
// handle is consumed and the returned Faulted handle replaces it.
func (d *ClaimedDevice) Submit(ctx context.Context, req []byte) ([]byte, *FaultedDevice, error) {
	if !d.t.live() {
		return nil, nil, kerr.StaleHandle(string(d.ref.id)).WithContext("dev.submit", 0)
	}
	opts := make([]recovery.Option, 0, len(d.ref.retry)+1)
	opts = append(opts, recovery.WithOperation("dev."+string(d.ref.id)+".submit"))
	opts = append(opts, d.ref.retry...)

	resp, err := recovery.Do(ctx, d.ref.policy, func(ctx context.Context, _ int) ([]byte, error) {
		var (
			out  []byte
			serr error
		)
		if !d.t.use(func() {
			if faultinject.Active(faultinject.DeviceBusy) {
				serr = kerr.Newf(kerr.CodeDeviceBusy, "injected busy on %s", d.ref.id)
				return
			}
			out, serr = d.ref.drv.Submit(ctx, d.ref.id, req)
		}) {
			return nil, kerr.StaleHandle(string(d.ref.id))
		}
		return out, serr
	}, opts...)
	if err == nil {
		return resp, nil, nil
	}

	if root, ok := kerr.RootCause(err); ok && kerr.IsFatal(root) {
		if next, ok := d.t.consume(nil); ok {
			return nil, &FaultedDevice{ref: d.ref, t: next, cause: err}, err
		}
	}
	return nil, nil, err
}

// Release consumes the handle and gives the device back to its driver.
func (d *ClaimedDevice) Release(ctx context.Context) (*ReleasedDevice, *FaultedDevice, error) {
	var err error
	next, ok := d.t.consume(func() { err = d.ref.drv.Release(ctx, d.ref.id) })
	if !ok {
		return nil, nil, kerr.StaleHandle(string(d.ref.id)).WithContext("dev.release", 0)
	}
	if err != nil {
		return nil, &FaultedDevice{ref: d.ref, t: next, cause: err}, err
	}
	return &ReleasedDevice{ref: d.ref, t: next}, nil, nil
}

// Fault consumes the handle and marks the device faulted with cause.
func (d *ClaimedDevice) Fault(cause error) (*FaultedDevice, error) {
	next, ok := d.t.consume(nil)
	if !ok {
		return nil, kerr.StaleHandle(string(d.ref.id)).WithContext("dev.fault", 0)
	}
	return &FaultedDevice{ref: d.ref, t: next, cause: cause}, nil
}

// ID returns the device id.
func (r *ReleasedDevice) ID() DeviceID { return r.ref.id }

// Reclaim consumes the handle and claims the device again. If the
// admission gate refuses, the handle is not consumed.
func (r *ReleasedDevice) Reclaim(ctx context.Context) (*ClaimedDevice, *FaultedDevice, error) {
	if err := admit(ctx, r.ref.gate); err != nil {
		return nil, nil, err
	}
	var err error
	next, ok := r.t.consume(func() { err = r.ref.drv.Claim(ctx, r.ref.id) })
	if !ok {
		return nil, nil, kerr.StaleHandle(string(r.ref.id)).WithContext("dev.claim", 0)
	}
	if err != nil {
		return nil, &FaultedDevice{ref: r.ref, t: next, cause: err}, err
	}
	return &ClaimedDevice{ref: r.ref, t: next}, nil, nil
}

// ID returns the device id.
func (x *FaultedDevice) ID() DeviceID { return x.ref.id }

// Cause returns the error that faulted the device.
func (x *FaultedDevice) Cause() error { return x.cause }

// Release retires the handle without calling the driver, which already
// lost the device. The resource has no live handle afterwards.
func (x *FaultedDevice) Release() error {
	if _, ok := x.t.consume(nil); !ok {
		return kerr.StaleHandle(string(x.ref.id)).WithContext("dev.release", 0)
	}
	return nil
}

// Live reports whether the handle is still the current one for its device.
func (x *FaultedDevice) Live() bool { return x.t.live() }

// Live reports whether the handle has not been consumed by a transition.
func (d *ClaimedDevice) Live() bool { return d.t.live() }

// Live reports whether the handle has not been consumed by a transition.
func (r *ReleasedDevice) Live() bool { return r.t.live() }
