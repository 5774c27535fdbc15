package resource

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	tu "github.com/StricklySoft/stricklysoft-faultcore/internal/testutil"
	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/faultinject"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/quiesce"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/recovery"
)

type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) Claim(ctx context.Context, id DeviceID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockDriver) Submit(ctx context.Context, id DeviceID, req []byte) ([]byte, error) {
	args := m.Called(ctx, id, req)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

func (m *mockDriver) Release(ctx context.Context, id DeviceID) error {
	return m.Called(ctx, id).Error(0)
}

var noSleep = recovery.WithSleeper(func(context.Context, time.Duration) error { return nil })

func mustClaim(t *testing.T, drv *mockDriver) *ClaimedDevice {
	t.Helper()
	drv.On("Claim", mock.Anything, DeviceID("ata0")).Return(nil).Once()
	d, err := Claim(context.Background(), drv, "ata0",
		recovery.Policy{MaxAttempts: 3}, recovery.WithGate(nil), noSleep)
	require.NoError(t, err)
	return d
}

func TestDeviceStates_OperationSurface(t *testing.T) {
	t.Parallel()
	for _, m := range []string{"Submit", "Release", "Fault"} {
		_, ok := reflect.TypeOf(&ReleasedDevice{}).MethodByName(m)
		assert.False(t, ok, "ReleasedDevice must not have %s", m)
	}
	for _, m := range []string{"Submit", "Fault", "Reclaim"} {
		_, ok := reflect.TypeOf(&FaultedDevice{}).MethodByName(m)
		assert.False(t, ok, "FaultedDevice must not have %s", m)
	}
	_, ok := reflect.TypeOf(&FaultedDevice{}).MethodByName("Release")
	assert.True(t, ok, "FaultedDevice must have Release")
}

func TestClaim_Validation(t *testing.T) {
	t.Parallel()
	_, err := Claim(context.Background(), nil, "ata0", recovery.DefaultPolicy())
	tu.RequireErrorCode(t, err, kerr.CodeInvalidParam)

	_, err = Claim(context.Background(), &mockDriver{}, "ata0", recovery.Policy{})
	tu.RequireErrorCode(t, err, kerr.CodeInvalidParam)

	drv := &mockDriver{}
	drv.On("Claim", mock.Anything, DeviceID("sda")).Return(kerr.New(kerr.CodeDeviceNotFound, ""))
	_, err = Claim(context.Background(), drv, "sda", recovery.DefaultPolicy())
	tu.RequireErrorCode(t, err, kerr.CodeDeviceNotFound)
}

func TestClaimedDevice_SubmitRetriesBusy(t *testing.T) {
	t.Parallel()
	drv := &mockDriver{}
	d := mustClaim(t, drv)
	drv.On("Submit", mock.Anything, DeviceID("ata0"), []byte("read")).
		Return(nil, kerr.New(kerr.CodeDeviceBusy, "")).Twice()
	drv.On("Submit", mock.Anything, DeviceID("ata0"), []byte("read")).
		Return([]byte("sector"), nil).Once()

	resp, faulted, err := d.Submit(context.Background(), []byte("read"))
	require.NoError(t, err)
	assert.Nil(t, faulted)
	assert.Equal(t, []byte("sector"), resp)
	drv.AssertNumberOfCalls(t, "Submit", 3)
}

func TestClaimedDevice_SubmitExhaustedStaysClaimed(t *testing.T) {
	t.Parallel()
	drv := &mockDriver{}
	d := mustClaim(t, drv)
	drv.On("Submit", mock.Anything, DeviceID("ata0"), mock.Anything).
		Return(nil, kerr.New(kerr.CodeDeviceBusy, ""))

	_, faulted, err := d.Submit(context.Background(), []byte("read"))
	tu.RequireErrorCode(t, err, kerr.CodeExhausted)
	tu.RequireRootCause(t, err, kerr.CodeDeviceBusy)
	assert.Nil(t, faulted)
	assert.True(t, d.Live())
}

func TestClaimedDevice_HardwareFailureFaults(t *testing.T) {
	t.Parallel()
	drv := &mockDriver{}
	d := mustClaim(t, drv)
	drv.On("Submit", mock.Anything, DeviceID("ata0"), mock.Anything).
		Return(nil, kerr.New(kerr.CodeHardwareFailure, "uncorrectable ECC"))

	_, faulted, err := d.Submit(context.Background(), []byte("read"))
	tu.RequireErrorCode(t, err, kerr.CodeHardwareFailure)
	require.NotNil(t, faulted)
	assert.Equal(t, DeviceID("ata0"), faulted.ID())
	assert.True(t, kerr.IsFatal(faulted.Cause()))
	assert.False(t, d.Live())

	_, _, err = d.Submit(context.Background(), []byte("read"))
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)
	drv.AssertNumberOfCalls(t, "Submit", 1)
}

func TestClaimedDevice_ReleaseAndReclaim(t *testing.T) {
	t.Parallel()
	drv := &mockDriver{}
	d := mustClaim(t, drv)
	drv.On("Release", mock.Anything, DeviceID("ata0")).Return(nil).Once()

	released, faulted, err := d.Release(context.Background())
	require.NoError(t, err)
	assert.Nil(t, faulted)
	assert.False(t, d.Live())

	drv.On("Claim", mock.Anything, DeviceID("ata0")).Return(kerr.New(kerr.CodeDeviceDisconnected, "")).Once()
	claimed, faulted, err := released.Reclaim(context.Background())
	tu.RequireErrorCode(t, err, kerr.CodeDeviceDisconnected)
	assert.Nil(t, claimed)
	require.NotNil(t, faulted)
	assert.True(t, faulted.Live())
	assert.False(t, released.Live())

	_, _, err = d.Release(context.Background())
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)
	drv.AssertExpectations(t)
}

func TestClaimedDevice_ReleaseFailureFaults(t *testing.T) {
	t.Parallel()
	drv := &mockDriver{}
	d := mustClaim(t, drv)
	drv.On("Release", mock.Anything, DeviceID("ata0")).Return(kerr.New(kerr.CodeDeviceTimeout, ""))

	released, faulted, err := d.Release(context.Background())
	tu.RequireErrorCode(t, err, kerr.CodeDeviceTimeout)
	assert.Nil(t, released)
	require.NotNil(t, faulted)
}

func TestFaultedDevice_Release(t *testing.T) {
	t.Parallel()
	drv := &mockDriver{}
	d := mustClaim(t, drv)
	faulted, err := d.Fault(kerr.New(kerr.CodeHardwareFailure, "bus reset"))
	require.NoError(t, err)
	assert.True(t, faulted.Live())

	require.NoError(t, faulted.Release())
	assert.False(t, faulted.Live())
	tu.RequireErrorCode(t, faulted.Release(), kerr.CodeStaleHandle)
	drv.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
}

// ===========================================================================
// Admission Tests
// ===========================================================================

func TestClaim_HaltedGateRefuses(t *testing.T) {
	t.Parallel()
	g := quiesce.New()
	g.Halt()
	drv := &mockDriver{}

	d, err := Claim(context.Background(), drv, "ata0", recovery.DefaultPolicy(), recovery.WithGate(g))
	tu.RequireErrorCode(t, err, kerr.CodeAdmissionClosed)
	assert.Nil(t, d)
	drv.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything)
}

func TestReclaim_QuiescedGateLeavesHandleLive(t *testing.T) {
	t.Parallel()
	g := quiesce.New()
	drv := &mockDriver{}
	drv.On("Claim", mock.Anything, DeviceID("ata0")).Return(nil).Once()
	drv.On("Release", mock.Anything, DeviceID("ata0")).Return(nil).Once()

	d, err := Claim(context.Background(), drv, "ata0", recovery.DefaultPolicy(), recovery.WithGate(g))
	require.NoError(t, err)
	released, _, err := d.Release(context.Background())
	require.NoError(t, err)

	require.True(t, g.Quiesce())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	claimed, faulted, err := released.Reclaim(ctx)
	tu.RequireErrorCode(t, err, kerr.CodeCanceled)
	assert.Nil(t, claimed)
	assert.Nil(t, faulted)
	assert.True(t, released.Live())

	g.Resume()
	drv.On("Claim", mock.Anything, DeviceID("ata0")).Return(nil).Once()
	claimed, _, err = released.Reclaim(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed.Live())
	drv.AssertExpectations(t)
}

// ===========================================================================
// Zero Value Tests
// ===========================================================================

func TestDevice_ZeroValueHandlesAreStale(t *testing.T) {
	t.Parallel()
	var d ClaimedDevice
	assert.False(t, d.Live())
	_, _, err := d.Submit(context.Background(), []byte("read"))
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)
	_, _, err = d.Release(context.Background())
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)
	_, err = d.Fault(nil)
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)

	var r ReleasedDevice
	_, _, err = r.Reclaim(context.Background())
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)

	var x FaultedDevice
	assert.False(t, x.Live())
	tu.RequireErrorCode(t, x.Release(), kerr.CodeStaleHandle)
}

func TestClaimedDevice_InjectedBusy(t *testing.T) {
	restore := faultinject.Set(faultinject.DeviceBusy)
	defer restore()

	drv := &mockDriver{}
	d := mustClaim(t, drv)

	_, faulted, err := d.Submit(context.Background(), []byte("read"))
	tu.RequireErrorCode(t, err, kerr.CodeExhausted)
	assert.Nil(t, faulted)
	drv.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
}
