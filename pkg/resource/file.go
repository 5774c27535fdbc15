package resource

import (
	"context"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/faultinject"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/quiesce"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/recovery"
)

// FD is a descriptor issued by the filesystem service.
type FD int

// OpenFlags select the access mode of an open file.
type OpenFlags int

const (
	ReadOnly OpenFlags = iota
	WriteOnly
	ReadWrite
)

// FileSystem is the filesystem service a file handle drives. Errors are
// taxonomy errors from the FS subsystem.
type FileSystem interface {
	Open(ctx context.Context, path string, flags OpenFlags) (FD, error)
	Read(ctx context.Context, fd FD, p []byte) (int, error)
	Write(ctx context.Context, fd FD, p []byte) (int, error)
	Close(ctx context.Context, fd FD) error
}

// fileRef is what every state of one file shares.
type fileRef struct {
	fs    FileSystem
	path  string
	flags OpenFlags
	gate  *quiesce.Gate
}

// OpenFile is a file in the Open state. It is the only state that can read
// or write.
type OpenFile struct {
	ref fileRef
	t   ticket
	fd  FD
}

// ClosedFile is a file that was closed cleanly and may be reopened.
type ClosedFile struct {
	ref fileRef
	t   ticket
}

// FaultedFile is a file whose last transition failed. It is inert: the
// only things left to do are inspect the cause and release it.
type FaultedFile struct {
	ref   fileRef
	t     ticket
	cause error
}

// Open opens path and returns a handle in the Open state. If the gate
// selected by opts or the filesystem refuses, no resource was acquired and
// only the error is returned.
func Open(ctx context.Context, fs FileSystem, path string, flags OpenFlags, opts ...recovery.Option) (*OpenFile, error) {
	if fs == nil {
		return nil, kerr.InvalidParam("resource: filesystem must not be nil")
	}
	gate := recovery.AdmissionGate(opts...)
	if err := admit(ctx, gate); err != nil {
		return nil, err
	}
	fd, err := fs.Open(ctx, path, flags)
	if err != nil {
		return nil, err
	}
	return &OpenFile{
		ref: fileRef{fs: fs, path: path, flags: flags, gate: gate},
		t:   newTicket(),
		fd:  fd,
	}, nil
}

// Path returns the path the file was opened with.
func (f *OpenFile) Path() string { return f.ref.path }

// Read reads into p.
func (f *OpenFile) Read(ctx context.Context, p []byte) (int, error) {
	if err := admit(ctx, f.ref.gate); err != nil {
		return 0, err
	}
	var (
		n   int
		err error
	)
	if !f.t.use(func() { n, err = f.ref.fs.Read(ctx, f.fd, p) }) {
		return 0, kerr.StaleHandle(f.ref.path).WithContext("fs.read", 0)
	}
	return n, err
}

// Write writes p.
func (f *OpenFile) Write(ctx context.Context, p []byte) (int, error) {
	if err := admit(ctx, f.ref.gate); err != nil {
		return 0, err
	}
	var (
		n   int
		err error
	)
	if !f.t.use(func() { n, err = f.ref.fs.Write(ctx, f.fd, p) }) {
		return 0, kerr.StaleHandle(f.ref.path).WithContext("fs.write", 0)
	}
	return n, err
}

// Close consumes the handle. On success it returns the Closed handle. If
// the filesystem reports a failure it returns the Faulted handle and the
// error. Closing a consumed handle returns only a stale-handle error.
func (f *OpenFile) Close(ctx context.Context) (*ClosedFile, *FaultedFile, error) {
	var err error
	next, ok := f.t.consume(func() { err = f.ref.fs.Close(ctx, f.fd) })
	if !ok {
		return nil, nil, kerr.StaleHandle(f.ref.path).WithContext("fs.close", 0)
	}
	if err != nil {
		return nil, &FaultedFile{ref: f.ref, t: next, cause: err}, err
	}
	return &ClosedFile{ref: f.ref, t: next}, nil, nil
}

// Fault consumes the handle and marks the file faulted with cause, for
// callers that hit an error after which the descriptor must not be used.
// The descriptor is not closed; the filesystem service owns its cleanup.
func (f *OpenFile) Fault(cause error) (*FaultedFile, error) {
	next, ok := f.t.consume(nil)
	if !ok {
		return nil, kerr.StaleHandle(f.ref.path).WithContext("fs.fault", 0)
	}
	return &FaultedFile{ref: f.ref, t: next, cause: cause}, nil
}

// Path returns the path the file was opened with.
func (c *ClosedFile) Path() string { return c.ref.path }

// Reopen consumes the handle and opens the file again with its original
// flags. On failure the result is a Faulted handle and the error, never a
// Closed or Open one. If the admission gate refuses, the handle is not
// consumed.
func (c *ClosedFile) Reopen(ctx context.Context) (*OpenFile, *FaultedFile, error) {
	if err := admit(ctx, c.ref.gate); err != nil {
		return nil, nil, err
	}
	var (
		fd  FD
		err error
	)
	next, ok := c.t.consume(func() {
		if faultinject.Active(faultinject.FileReopen) {
			err = kerr.Newf(kerr.CodeFileIO, "injected reopen failure for %s", c.ref.path)
			return
		}
		fd, err = c.ref.fs.Open(ctx, c.ref.path, c.ref.flags)
	})
	if !ok {
		return nil, nil, kerr.StaleHandle(c.ref.path).WithContext("fs.reopen", 0)
	}
	if err != nil {
		return nil, &FaultedFile{ref: c.ref, t: next, cause: err}, err
	}
	return &OpenFile{ref: c.ref, t: next, fd: fd}, nil, nil
}

// Path returns the path the file was opened with.
func (x *FaultedFile) Path() string { return x.ref.path }

// Cause returns the error that faulted the file.
func (x *FaultedFile) Cause() error { return x.cause }

// Release retires the handle. The resource has no live handle afterwards.
func (x *FaultedFile) Release() error {
	if _, ok := x.t.consume(nil); !ok {
		return kerr.StaleHandle(x.ref.path).WithContext("fs.release", 0)
	}
	return nil
}

// Live reports whether the handle has not been consumed by a transition.
func (f *OpenFile) Live() bool { return f.t.live() }

// Live reports whether the handle has not been consumed by a transition.
func (c *ClosedFile) Live() bool { return c.t.live() }

// Live reports whether the handle has not been released.
func (x *FaultedFile) Live() bool { return x.t.live() }
