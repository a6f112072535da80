package model

import "time"

// ProvisionState is the BMC-owned provision state machine (spec §4.3).
type ProvisionState string

const (
	StateEnroll        ProvisionState = "enroll"
	StateManageable    ProvisionState = "manageable"
	StateAvailable     ProvisionState = "available"
	StateActive        ProvisionState = "active"
	StateDeploying     ProvisionState = "deploying"
	StateDeployFailed  ProvisionState = "deploy failed"
	StateWaitCallback  ProvisionState = "wait call-back"
	StateCleaning      ProvisionState = "cleaning"
	StateCleanFailed   ProvisionState = "clean failed"
	StateInspecting    ProvisionState = "inspecting"
	StateInspectWait   ProvisionState = "inspect wait"
	StateError         ProvisionState = "error"
)

// safeDeleteStates are the provision states from which a Node may be
// deleted (spec §4.2 rule 4, §4.3).
var safeDeleteStates = map[ProvisionState]bool{
	StateEnroll:      true,
	StateManageable:  true,
	StateAvailable:   true,
	StateCleanFailed: true,
}

// IsSafeDeleteState reports whether a Node in this state may be deleted.
func IsSafeDeleteState(s ProvisionState) bool { return safeDeleteStates[s] }

// undeployableStates are the states from which un-deploy is permitted
// (spec §4.3).
var undeployableStates = map[ProvisionState]bool{
	StateActive:       true,
	StateWaitCallback: true,
	StateDeployFailed: true,
	StateError:        true,
}

// CanUndeploy reports whether a Node in this state may be un-deployed.
func CanUndeploy(s ProvisionState) bool { return undeployableStates[s] }

// Node mirrors a Device in the BMC, for role != switch-family devices.
// Uniquely keyed by the Device name.
type Node struct {
	UUID           string
	Name           string // matches Device.Name
	ProvisionState ProvisionState
	PowerState     string // "power on" | "power off" | ...
	Maintenance    bool
	InstanceUUID   string // non-empty iff provisioned
	Driver         string // "ipmi" | "redfish"
	DriverInfo     map[string]any
	InstanceInfo   map[string]any
	Extra          map[string]any // persists rendering params across un-deploy
}

// Unprovisioned reports whether the node has no assigned instance.
func (n *Node) Unprovisioned() bool { return n.InstanceUUID == "" }

// Port is a BMC port record, one per managed Interface.
type Port struct {
	NodeUUID   string
	MACAddress string // lower-cased for comparison
}

// TaskState is the Task Fabric's task lifecycle (spec §6).
type TaskState string

const (
	TaskPending     TaskState = "PENDING"
	TaskStarted     TaskState = "STARTED"
	TaskSuccess     TaskState = "SUCCESS"
	TaskFailure     TaskState = "FAILURE"
	TaskUnavailable TaskState = "UNAVAILABLE" // synthetic, reader-side only
)

// Task is a unit of work enqueued onto a named queue.
type Task struct {
	ID       string
	Queue    string
	Func     string
	Args     []string
	State    TaskState
	ParentID string // "" if not part of a fan-out group
	RC       *int   // nil until a return code has been observed
}

// Lock is a named mutex in the Store with a mandatory auto-release time.
type Lock struct {
	Name        string
	Owner       string
	AcquiredAt  time.Time
	AutoRelease time.Duration
}

// DiffArtifact is a unified textual diff between a Device's previously
// published configuration and the newly generated one.
type DiffArtifact struct {
	Device    string
	Unified   string // unified diff text
	CreatedAt time.Time
}
