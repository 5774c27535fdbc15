package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := New(CodeDeviceBusy, "ata0 queue full")
	if got := err.Error(); got != "DEV_001: ata0 queue full" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := Wrap(errors.New("irq lost"), CodeDeviceTimeout, "ata0")
	if got := wrapped.Error(); got != "DEV_002: ata0: irq lost" {
		t.Errorf("Error() = %q", got)
	}
}

func TestNew_DefaultMessage(t *testing.T) {
	err := New(CodeOutOfMemory, "")
	if err.Message != "out of memory" {
		t.Errorf("Message = %q, want registered description", err.Message)
	}
	if err.Context.Subsystem != SubsystemMemory {
		t.Errorf("Context.Subsystem = %q, want MEM", err.Context.Subsystem)
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, CodeFileIO, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, CodeFileIO, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root")
	err := Wrap(cause, CodeFileIO, "read")
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestError_IsByCode(t *testing.T) {
	busy := New(CodeDeviceBusy, "")
	exhausted := Exhausted(New(CodeDeviceBusy, "ata0"), 3)

	if !errors.Is(exhausted, busy) {
		t.Error("errors.Is should match the busy cause by code")
	}
	if errors.Is(exhausted, New(CodeHardwareFailure, "")) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestExhausted_PreservesCause(t *testing.T) {
	cause := New(CodeDeviceBusy, "ata0")
	err := Exhausted(cause, 3)

	if err.Code != CodeExhausted {
		t.Errorf("Code = %s, want %s", err.Code, CodeExhausted)
	}
	if err.Cause != cause {
		t.Error("Exhausted must keep the last cause")
	}
	if err.Details["attempts"] != 3 {
		t.Errorf("Details[attempts] = %v, want 3", err.Details["attempts"])
	}
}

func TestError_WithContext(t *testing.T) {
	orig := New(CodeDeviceBusy, "")
	got := orig.WithContext("dev.submit", 2)

	if got.Context.Operation != "dev.submit" || got.Context.Attempt != 2 {
		t.Errorf("Context = %+v", got.Context)
	}
	if orig.Context.Operation != "" {
		t.Error("WithContext must not modify the original")
	}
}

func TestError_WithDetails_Immutable(t *testing.T) {
	orig := New(CodeOutOfMemory, "").WithDetail("pages", 4)
	got := orig.WithDetails(map[string]any{"strategy": "primary"})

	if len(orig.Details) != 1 {
		t.Errorf("original details modified: %v", orig.Details)
	}
	if got.Details["pages"] != 4 || got.Details["strategy"] != "primary" {
		t.Errorf("Details = %v", got.Details)
	}
}

func TestError_FormatPlusV(t *testing.T) {
	err := Wrap(New(CodeDeviceBusy, "ata0"), CodeExhausted, "gave up").WithContext("dev.submit", 1)
	out := fmt.Sprintf("%+v", err)

	for _, want := range []string{`Code: "CORE_001"`, `Op: "dev.submit"`, `Cause: Error{Code: "DEV_001"`} {
		if !strings.Contains(out, want) {
			t.Errorf("%%+v output %q missing %q", out, want)
		}
	}
	if got := fmt.Sprintf("%q", New(CodeZombie, "z")); got != `"PROC_003: z"` {
		t.Errorf("%%q = %s", got)
	}
}

func TestChecks(t *testing.T) {
	err := fmt.Errorf("op: %w", New(CodeOutOfMemory, ""))

	if !IsOutOfMemory(err) {
		t.Error("IsOutOfMemory should see through wrapping")
	}
	if !InSubsystem(err, SubsystemMemory) {
		t.Error("InSubsystem(MEM) should be true")
	}
	if IsCoreError(err) {
		t.Error("IsCoreError should be false for MEM errors")
	}
	if !IsExhausted(Exhausted(err, 1)) {
		t.Error("IsExhausted should be true")
	}
	if !IsStaleHandle(StaleHandle("file")) {
		t.Error("IsStaleHandle should be true")
	}
	if GetCode(nil) != "" || HasCode(nil, CodeOutOfMemory) {
		t.Error("nil error has no code")
	}
}
