package errors

import (
	"fmt"
)

// Errno is the externally documented failure code reported across the
// syscall boundary. Values follow the Linux numbering so user-space
// compatibility layers can pass them through unchanged. The mapping from
// [Code] to Errno is stable: user-facing components translate kernel
// errors through [ErrnoOf] and never see the internal taxonomy shape.
type Errno int

const (
	EPERM      Errno = 1
	ENOENT     Errno = 2
	ESRCH      Errno = 3
	EIO        Errno = 5
	ENXIO      Errno = 6
	ENOEXEC    Errno = 8
	EBADF      Errno = 9
	EAGAIN     Errno = 11
	ENOMEM     Errno = 12
	EACCES     Errno = 13
	EFAULT     Errno = 14
	EBUSY      Errno = 16
	EEXIST     Errno = 17
	ENODEV     Errno = 19
	ENOTDIR    Errno = 20
	EISDIR     Errno = 21
	EINVAL     Errno = 22
	EMFILE     Errno = 24
	EFBIG      Errno = 27
	ENOSPC     Errno = 28
	EROFS      Errno = 30
	ENOSYS     Errno = 38
	EOPNOTSUPP Errno = 95
	ESHUTDOWN  Errno = 108
	ETIMEDOUT  Errno = 110
	ECANCELED  Errno = 125
)

var errnoNames = map[Errno]string{
	EPERM:      "EPERM",
	ENOENT:     "ENOENT",
	ESRCH:      "ESRCH",
	EIO:        "EIO",
	ENXIO:      "ENXIO",
	ENOEXEC:    "ENOEXEC",
	EBADF:      "EBADF",
	EAGAIN:     "EAGAIN",
	ENOMEM:     "ENOMEM",
	EACCES:     "EACCES",
	EFAULT:     "EFAULT",
	EBUSY:      "EBUSY",
	EEXIST:     "EEXIST",
	ENODEV:     "ENODEV",
	ENOTDIR:    "ENOTDIR",
	EISDIR:     "EISDIR",
	EINVAL:     "EINVAL",
	EMFILE:     "EMFILE",
	EFBIG:      "EFBIG",
	ENOSPC:     "ENOSPC",
	EROFS:      "EROFS",
	ENOSYS:     "ENOSYS",
	EOPNOTSUPP: "EOPNOTSUPP",
	ESHUTDOWN:  "ESHUTDOWN",
	ETIMEDOUT:  "ETIMEDOUT",
	ECANCELED:  "ECANCELED",
}

// String returns the symbolic name of the errno (e.g., "ENOMEM").
func (n Errno) String() string {
	if s, ok := errnoNames[n]; ok {
		return s
	}
	return fmt.Sprintf("errno(%d)", int(n))
}

// ErrnoOf translates any error into its user-visible failure code. Nil
// maps to 0; errors outside the taxonomy map to [EIO].
func ErrnoOf(err error) Errno {
	if err == nil {
		return 0
	}
	if e, ok := AsError(err); ok {
		return e.Errno()
	}
	return EIO
}
