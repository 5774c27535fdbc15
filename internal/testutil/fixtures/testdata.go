// Package fixtures provides shared test data and factories for the fault
// core test suite, so tests across packages agree on the same identities.
package fixtures

import (
	"time"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/models"
)

// Process identities used by the allocation and containment tests.
const (
	// RequesterPID is the process whose allocation triggers reclamation.
	RequesterPID = 7

	// VictimPID is the lowest-priority terminable process in
	// [VictimTable]; reclamation is expected to pick it.
	VictimPID = 42

	// ShellPID is a protected process that must never be reclaimed.
	ShellPID = 1
)

// Device identity used by the device-busy tests.
const DeviceID = "blk0"

// Standard configuration values used in config loader tests.
const (
	TestEnvPrefix = "FAULTCORE"

	TestConfigYAML = `retry:
  max_attempts: 5
  base_delay: 2ms
handoff:
  latency_target: 20ms
postmortem:
  backend: memory
`

	TestConfigJSON = `{
  "retry": {"max_attempts": 5},
  "postmortem": {"backend": "memory"}
}`
)

// VictimRow is one process in the reclamation snapshot.
type VictimRow struct {
	PID        int
	Priority   int
	LastRun    time.Time
	Terminable bool
}

// VictimTable returns a process snapshot in which [VictimPID] is the
// unique best victim for a request from [RequesterPID].
func VictimTable(now time.Time) []VictimRow {
	return []VictimRow{
		{PID: ShellPID, Priority: 0, LastRun: now.Add(-time.Hour), Terminable: false},
		{PID: RequesterPID, Priority: 1, LastRun: now.Add(-time.Hour), Terminable: true},
		{PID: VictimPID, Priority: 1, LastRun: now.Add(-30 * time.Minute), Terminable: true},
		{PID: 51, Priority: 1, LastRun: now.Add(-time.Minute), Terminable: true},
		{PID: 60, Priority: 5, LastRun: now.Add(-2 * time.Hour), Terminable: true},
	}
}

// ResolvedIncident returns a valid incident for a hardware failure that
// completed handoff.
func ResolvedIncident() *models.Incident {
	inc, err := models.NewIncident(kerr.New(kerr.CodeHardwareFailure, "disk controller fault").
		WithContext("dev.blk0.submit", 2))
	if err != nil {
		panic(err)
	}
	inc.Regions = 3
	inc.Preserved = 3
	inc.Terminated = []int{VictimPID}
	if err := inc.Resolve(models.IncidentHandoffComplete); err != nil {
		panic(err)
	}
	return inc
}

// HaltedIncident returns a valid incident that ended in a hard halt at
// the standby step.
func HaltedIncident() *models.Incident {
	inc, err := models.NewIncident(kerr.New(kerr.CodeOutOfMemory, "allocation fallback exhausted"))
	if err != nil {
		panic(err)
	}
	inc.FailedStep = "standby"
	inc.StepError = "no standby kernel image available"
	if err := inc.Resolve(models.IncidentHardHalt); err != nil {
		panic(err)
	}
	return inc
}
