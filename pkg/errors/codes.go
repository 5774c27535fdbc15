package errors

// Code identifies one variant of the kernel error taxonomy. Codes follow
// the pattern SUBSYSTEM_NNN where SUBSYSTEM names the contributing kernel
// subsystem (MEM, PROC, SVC, FS, DEV, IPC, EXEC, PARAM, NOTIMPL, CORE) and NNN
// is a three-digit number.
//
// The set of codes is closed: every value a subsystem may return is listed
// here and in [Codes]. Adding a code requires adding it to the policy
// table in classify.go and to both predicate switches; the package refuses
// to initialize otherwise.
//
// Codes are stable. They are never renumbered once assigned, so logs and
// persisted halt reports remain searchable across kernel versions.
type Code string

// Subsystem is the category prefix of a [Code].
type Subsystem string

// Subsystems contributing to the taxonomy.
const (
	SubsystemMemory         Subsystem = "MEM"
	SubsystemProcess        Subsystem = "PROC"
	SubsystemService        Subsystem = "SVC"
	SubsystemFilesystem     Subsystem = "FS"
	SubsystemDevice         Subsystem = "DEV"
	SubsystemIPC            Subsystem = "IPC"
	SubsystemExec           Subsystem = "EXEC"
	SubsystemParam          Subsystem = "PARAM"
	SubsystemNotImplemented Subsystem = "NOTIMPL"
	SubsystemCore           Subsystem = "CORE"
)

const (
	// Memory manager (MEM_xxx).

	// CodeOutOfMemory indicates no physical or virtual memory is available.
	CodeOutOfMemory Code = "MEM_001"

	// CodeInvalidAddress indicates an access to an address outside any mapping.
	CodeInvalidAddress Code = "MEM_002"

	// CodeMemoryPermissionDenied indicates a protection violation.
	CodeMemoryPermissionDenied Code = "MEM_003"

	// CodeAlreadyMapped indicates the target range is already mapped.
	CodeAlreadyMapped Code = "MEM_004"

	// CodeNotMapped indicates the target range is not mapped.
	CodeNotMapped Code = "MEM_005"

	// CodeAlignment indicates an address or length is not page aligned.
	CodeAlignment Code = "MEM_006"

	// Process manager (PROC_xxx).

	// CodeInvalidPID indicates a malformed process identifier.
	CodeInvalidPID Code = "PROC_001"

	// CodeProcessNotFound indicates no process has the given identifier.
	CodeProcessNotFound Code = "PROC_002"

	// CodeZombie indicates the process has exited but was not reaped.
	CodeZombie Code = "PROC_003"

	// CodeMaxProcesses indicates the process table is full.
	CodeMaxProcesses Code = "PROC_004"

	// CodeInsufficientPrivilege indicates the caller lacks the privilege.
	CodeInsufficientPrivilege Code = "PROC_005"

	// CodeProcessTimeout indicates a process did not respond in time.
	CodeProcessTimeout Code = "PROC_006"

	// CodeRogueProcess indicates a process was detected misbehaving
	// (runaway CPU, corrupt control structures).
	CodeRogueProcess Code = "PROC_007"

	// CodeProcessIPC indicates a process could not be reached over IPC
	// while the process manager was driving it.
	CodeProcessIPC Code = "PROC_008"

	// System services managed by the process manager (SVC_xxx).

	CodeServiceNotFound     Code = "SVC_001"
	CodeServiceStart        Code = "SVC_002"
	CodeServiceStop         Code = "SVC_003"
	CodeServiceNoResponse   Code = "SVC_004"
	CodeServicePrivilege    Code = "SVC_005"
	CodeServiceInvalidState Code = "SVC_006"
	CodeServiceConflict     Code = "SVC_007"

	// CodeServiceUnregistered indicates a request named a service that
	// never registered an endpoint.
	CodeServiceUnregistered Code = "SVC_008"

	// Filesystem service (FS_xxx).

	CodeFileNotFound         Code = "FS_001"
	CodeFilePermissionDenied Code = "FS_002"
	CodeFileExists           Code = "FS_003"
	CodeIsDirectory          Code = "FS_004"
	CodeNotDirectory         Code = "FS_005"
	CodeFileIO               Code = "FS_006"
	CodeNoSpace              Code = "FS_007"
	CodeReadOnly             Code = "FS_008"
	CodeTooManyOpenFiles     Code = "FS_009"
	CodeFileTooBig           Code = "FS_010"
	CodeFSNotSupported       Code = "FS_011"

	// Device drivers (DEV_xxx).

	// CodeDeviceBusy indicates the device cannot accept a request right now.
	CodeDeviceBusy Code = "DEV_001"

	// CodeDeviceTimeout indicates the device did not complete in time.
	CodeDeviceTimeout Code = "DEV_002"

	// CodeHardwareFailure indicates the device reported an unrecoverable
	// hardware fault.
	CodeHardwareFailure Code = "DEV_003"

	// CodeDeviceNotFound indicates no device is attached at the address.
	CodeDeviceNotFound Code = "DEV_004"

	// CodeDeviceDisconnected indicates the device went away mid-operation.
	CodeDeviceDisconnected Code = "DEV_005"

	// CodeDeviceUnsupported indicates the operation is not supported by
	// the device.
	CodeDeviceUnsupported Code = "DEV_006"

	// CodeDriverLoad indicates the driver could not be loaded.
	CodeDriverLoad Code = "DEV_007"

	// CodeDeviceInvalidOperation indicates a request the device rejects in
	// its current mode.
	CodeDeviceInvalidOperation Code = "DEV_008"

	// CodeDeviceCommunicationLost indicates the link to the device dropped
	// while a request was in flight.
	CodeDeviceCommunicationLost Code = "DEV_009"

	// CodeDeviceResourceUnavailable indicates the device ran out of an
	// internal resource such as queue slots or DMA buffers.
	CodeDeviceResourceUnavailable Code = "DEV_010"

	// Inter-process communication (IPC_xxx).

	// CodeBufferFull indicates the destination queue is saturated.
	CodeBufferFull Code = "IPC_001"

	// CodeBufferEmpty indicates a receive found no message.
	CodeBufferEmpty Code = "IPC_002"

	// CodeNoEndpoint indicates the destination endpoint does not exist.
	CodeNoEndpoint Code = "IPC_003"

	// Program loader (EXEC_xxx).

	CodeExecFormat      Code = "EXEC_001"
	CodeExecUnsupported Code = "EXEC_002"
	CodeExecSegmentLoad Code = "EXEC_003"
	CodeExecSymbol      Code = "EXEC_004"
	CodeExecTruncated   Code = "EXEC_005"

	// CodeInvalidParam indicates a caller supplied an invalid argument.
	CodeInvalidParam Code = "PARAM_001"

	// CodeNotImplemented indicates the operation exists but is not built.
	CodeNotImplemented Code = "NOTIMPL_001"

	// Fault core (CORE_xxx). These are produced by this module itself.

	// CodeExhausted indicates a retry loop used up its attempt budget.
	// The last underlying failure is preserved as the cause.
	CodeExhausted Code = "CORE_001"

	// CodeCanceled indicates a retry loop was abandoned because its
	// owner went away (context canceled or deadline exceeded).
	CodeCanceled Code = "CORE_002"

	// CodeStaleHandle indicates use of a resource handle that an earlier
	// transition already consumed.
	CodeStaleHandle Code = "CORE_003"

	// CodeAdmissionClosed indicates new fallible work was refused because
	// the kernel is quiescing for handoff or has halted.
	CodeAdmissionClosed Code = "CORE_004"

	// CodeHandoffFailed indicates kernel replacement could not complete
	// and the machine halted.
	CodeHandoffFailed Code = "CORE_005"
)

// codes lists every code in declaration order.
var codes = []Code{
	CodeOutOfMemory, CodeInvalidAddress, CodeMemoryPermissionDenied,
	CodeAlreadyMapped, CodeNotMapped, CodeAlignment,

	CodeInvalidPID, CodeProcessNotFound, CodeZombie, CodeMaxProcesses,
	CodeInsufficientPrivilege, CodeProcessTimeout, CodeRogueProcess,
	CodeProcessIPC,

	CodeServiceNotFound, CodeServiceStart, CodeServiceStop,
	CodeServiceNoResponse, CodeServicePrivilege, CodeServiceInvalidState,
	CodeServiceConflict, CodeServiceUnregistered,

	CodeFileNotFound, CodeFilePermissionDenied, CodeFileExists,
	CodeIsDirectory, CodeNotDirectory, CodeFileIO, CodeNoSpace,
	CodeReadOnly, CodeTooManyOpenFiles, CodeFileTooBig, CodeFSNotSupported,

	CodeDeviceBusy, CodeDeviceTimeout, CodeHardwareFailure,
	CodeDeviceNotFound, CodeDeviceDisconnected, CodeDeviceUnsupported,
	CodeDriverLoad, CodeDeviceInvalidOperation, CodeDeviceCommunicationLost,
	CodeDeviceResourceUnavailable,

	CodeBufferFull, CodeBufferEmpty, CodeNoEndpoint,

	CodeExecFormat, CodeExecUnsupported, CodeExecSegmentLoad,
	CodeExecSymbol, CodeExecTruncated,

	CodeInvalidParam,
	CodeNotImplemented,

	CodeExhausted, CodeCanceled, CodeStaleHandle, CodeAdmissionClosed,
	CodeHandoffFailed,
}

// Codes returns every code of the taxonomy. The returned slice is a copy.
func Codes() []Code {
	out := make([]Code, len(codes))
	copy(out, codes)
	return out
}

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the subsystem prefix of the code (e.g., "MEM", "DEV").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}

// Subsystem returns the subsystem that contributes the code.
func (c Code) Subsystem() Subsystem {
	return Subsystem(c.Category())
}

// Known reports whether c is a member of the taxonomy.
func (c Code) Known() bool {
	_, ok := policies[c]
	return ok
}
