package resource

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tu "github.com/StricklySoft/stricklysoft-faultcore/internal/testutil"
	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/faultinject"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/quiesce"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/recovery"
)

// fakeFS is an in-memory filesystem with scripted failures.
type fakeFS struct {
	mu        sync.Mutex
	nextFD    FD
	opens     int
	reads     int
	closes    int
	openErr   []error // consumed one per Open call; nil entries succeed
	closeErr  error
	readBytes []byte
}

func (f *fakeFS) Open(_ context.Context, path string, _ OpenFlags) (FD, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if len(f.openErr) > 0 {
		err := f.openErr[0]
		f.openErr = f.openErr[1:]
		if err != nil {
			return 0, err
		}
	}
	f.nextFD++
	return f.nextFD, nil
}

func (f *fakeFS) Read(_ context.Context, _ FD, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return copy(p, f.readBytes), nil
}

func (f *fakeFS) Write(_ context.Context, _ FD, p []byte) (int, error) {
	return len(p), nil
}

func (f *fakeFS) Close(context.Context, FD) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return f.closeErr
}

func mustOpen(t *testing.T, fs *fakeFS) *OpenFile {
	t.Helper()
	f, err := Open(context.Background(), fs, "/var/log/kern.log", ReadWrite)
	require.NoError(t, err)
	return f
}

// ===========================================================================
// State Surface Tests
// ===========================================================================

// TestFileStates_OperationSurface verifies that read, write and close
// exist only on the Open state.
func TestFileStates_OperationSurface(t *testing.T) {
	t.Parallel()
	openOnly := []string{"Read", "Write", "Close"}
	for _, typ := range []reflect.Type{
		reflect.TypeOf(&ClosedFile{}),
		reflect.TypeOf(&FaultedFile{}),
	} {
		for _, m := range openOnly {
			_, ok := typ.MethodByName(m)
			assert.False(t, ok, "%s must not have %s", typ, m)
		}
	}
	for _, m := range openOnly {
		_, ok := reflect.TypeOf(&OpenFile{}).MethodByName(m)
		assert.True(t, ok, "OpenFile must have %s", m)
	}
	_, ok := reflect.TypeOf(&FaultedFile{}).MethodByName("Reopen")
	assert.False(t, ok)
}

// ===========================================================================
// Transition Tests
// ===========================================================================

func TestOpenFile_ReadWrite(t *testing.T) {
	t.Parallel()
	fs := &fakeFS{readBytes: []byte("hello")}
	f := mustOpen(t, fs)

	buf := make([]byte, 8)
	n, err := f.Read(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	n, err = f.Write(context.Background(), []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, f.Live())
}

func TestOpenFile_CloseConsumesHandle(t *testing.T) {
	t.Parallel()
	fs := &fakeFS{}
	f := mustOpen(t, fs)

	closed, faulted, err := f.Close(context.Background())
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Nil(t, faulted)
	assert.False(t, f.Live())
	assert.True(t, closed.Live())

	_, err = f.Read(context.Background(), make([]byte, 1))
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)
	assert.Zero(t, fs.reads, "stale read must not reach the filesystem")

	_, _, err = f.Close(context.Background())
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)
	assert.Equal(t, 1, fs.closes)
}

func TestOpenFile_CloseFailureFaults(t *testing.T) {
	t.Parallel()
	fs := &fakeFS{closeErr: kerr.New(kerr.CodeFileIO, "flush failed")}
	f := mustOpen(t, fs)

	closed, faulted, err := f.Close(context.Background())
	tu.RequireErrorCode(t, err, kerr.CodeFileIO)
	assert.Nil(t, closed)
	require.NotNil(t, faulted)
	assert.Same(t, err, faulted.Cause())
	assert.True(t, faulted.Live())
}

func TestClosedFile_ReopenSucceeds(t *testing.T) {
	t.Parallel()
	fs := &fakeFS{}
	f := mustOpen(t, fs)
	closed, _, err := f.Close(context.Background())
	require.NoError(t, err)

	reopened, faulted, err := closed.Reopen(context.Background())
	require.NoError(t, err)
	assert.Nil(t, faulted)
	require.NotNil(t, reopened)
	assert.Equal(t, "/var/log/kern.log", reopened.Path())
	assert.False(t, closed.Live())
	assert.True(t, reopened.Live())
	assert.Equal(t, FD(2), reopened.fd)
}

// TestClosedFile_ReopenFailureYieldsFaulted covers a failed reopen of a
// closed handle: the result is a Faulted handle plus the failure, never a
// Closed or Open one.
func TestClosedFile_ReopenFailureYieldsFaulted(t *testing.T) {
	t.Parallel()
	cause := kerr.New(kerr.CodeFileNotFound, "unlinked while closed")
	fs := &fakeFS{openErr: []error{nil, cause}}
	f := mustOpen(t, fs)
	closed, _, err := f.Close(context.Background())
	require.NoError(t, err)

	reopened, faulted, err := closed.Reopen(context.Background())
	require.Error(t, err)
	assert.Nil(t, reopened)
	require.NotNil(t, faulted)
	assert.Same(t, cause, err)
	assert.Same(t, cause, faulted.Cause())
	assert.False(t, closed.Live(), "closed handle must be consumed")
	assert.True(t, faulted.Live())

	_, _, err = closed.Reopen(context.Background())
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)
	assert.Equal(t, 2, fs.opens)

	require.NoError(t, faulted.Release())
	assert.False(t, faulted.Live())
	tu.RequireErrorCode(t, faulted.Release(), kerr.CodeStaleHandle)
}

func TestOpenFile_Fault(t *testing.T) {
	t.Parallel()
	fs := &fakeFS{}
	f := mustOpen(t, fs)
	cause := kerr.New(kerr.CodeFileIO, "")

	faulted, err := f.Fault(cause)
	require.NoError(t, err)
	assert.Same(t, cause, faulted.Cause())

	_, err = f.Fault(cause)
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)
	_, err = f.Write(context.Background(), []byte("x"))
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)
}

func TestOpen_FailureAcquiresNothing(t *testing.T) {
	t.Parallel()
	fs := &fakeFS{openErr: []error{kerr.New(kerr.CodeFilePermissionDenied, "")}}
	f, err := Open(context.Background(), fs, "/root/secret", ReadOnly)
	tu.RequireErrorCode(t, err, kerr.CodeFilePermissionDenied)
	assert.Nil(t, f)

	_, err = Open(context.Background(), nil, "/x", ReadOnly)
	tu.RequireErrorCode(t, err, kerr.CodeInvalidParam)
}

// TestOpenFile_ConcurrentClose verifies only one of many racing
// transitions wins.
func TestOpenFile_ConcurrentClose(t *testing.T) {
	t.Parallel()
	fs := &fakeFS{}
	f := mustOpen(t, fs)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c, _, err := f.Close(context.Background()); err == nil && c != nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, fs.closes)
}

// ===========================================================================
// Admission Tests
// ===========================================================================

func TestOpen_HaltedGateRefuses(t *testing.T) {
	t.Parallel()
	g := quiesce.New()
	g.Halt()
	fs := &fakeFS{}

	f, err := Open(context.Background(), fs, "/etc/fstab", ReadOnly, recovery.WithGate(g))
	tu.RequireErrorCode(t, err, kerr.CodeAdmissionClosed)
	assert.Nil(t, f)
	assert.Zero(t, fs.opens)
}

func TestOpenFile_GateRefusesIOButNotClose(t *testing.T) {
	t.Parallel()
	g := quiesce.New()
	fs := &fakeFS{readBytes: []byte("x")}
	f, err := Open(context.Background(), fs, "/var/log/kern.log", ReadWrite, recovery.WithGate(g))
	require.NoError(t, err)

	g.Halt()
	_, err = f.Read(context.Background(), make([]byte, 1))
	tu.RequireErrorCode(t, err, kerr.CodeAdmissionClosed)
	_, err = f.Write(context.Background(), []byte("x"))
	tu.RequireErrorCode(t, err, kerr.CodeAdmissionClosed)
	assert.Zero(t, fs.reads)
	assert.True(t, f.Live())

	closed, _, err := f.Close(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fs.closes)

	reopened, faulted, err := closed.Reopen(context.Background())
	tu.RequireErrorCode(t, err, kerr.CodeAdmissionClosed)
	assert.Nil(t, reopened)
	assert.Nil(t, faulted)
	assert.True(t, closed.Live(), "a refused reopen must not consume the handle")
	assert.Equal(t, 1, fs.opens)
}

// ===========================================================================
// Zero Value Tests
// ===========================================================================

func TestFile_ZeroValueHandlesAreStale(t *testing.T) {
	t.Parallel()
	var f OpenFile
	assert.False(t, f.Live())
	_, err := f.Read(context.Background(), make([]byte, 1))
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)
	_, err = f.Write(context.Background(), []byte("x"))
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)
	_, _, err = f.Close(context.Background())
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)

	var c ClosedFile
	_, _, err = c.Reopen(context.Background())
	tu.RequireErrorCode(t, err, kerr.CodeStaleHandle)

	var x FaultedFile
	tu.RequireErrorCode(t, x.Release(), kerr.CodeStaleHandle)
}

// ===========================================================================
// Fault Injection Tests (not parallel: flags are process-wide)
// ===========================================================================

func TestClosedFile_InjectedReopenFailure(t *testing.T) {
	fs := &fakeFS{}
	f := mustOpen(t, fs)
	closed, _, err := f.Close(context.Background())
	require.NoError(t, err)

	restore := faultinject.Set(faultinject.FileReopen)
	defer restore()

	reopened, faulted, err := closed.Reopen(context.Background())
	tu.RequireErrorCode(t, err, kerr.CodeFileIO)
	assert.Nil(t, reopened)
	require.NotNil(t, faulted)
	assert.Equal(t, 1, fs.opens, "injected failure must not reach the filesystem")
}
