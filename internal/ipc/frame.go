// Package ipc implements spec §4.F/§4.G/§6.2/§6.3: newline-delimited
// JSON framing over a Unix stream socket, the control endpoint server,
// and the client helper used both by vctl and by the manager's
// upstream-init shutdown handshake.
//
// Grounded on bloom::ipc (socket paths, IpcRequest/IpcResponse shape,
// one-handler-per-connection) and the teacher's core/client.Requester /
// core/client/api typed request builders.
package ipc

import (
	"encoding/json"
	"fmt"
)

// Target selects which daemon a Request is addressed to, per spec §6.2.
type Target string

const (
	TargetVerdantd Target = "Verdantd"
	TargetInit     Target = "Init"
)

// Command is the tagged union from spec §6.2: either one of the bare
// string verbs ("Shutdown", "Reboot", "GetStatus", "BootComplete") or a
// single-key object carrying an argument ({"StartService":"<name>"}).
//
// Go has no native sum type, so Command gets hand-rolled
// Marshal/UnmarshalJSON that mirror the wire shape exactly rather than
// wrapping it in an envelope - the teacher's api.* request types don't
// need this (their actions are always named separately from their
// payload), but the wire protocol here was fixed by spec.md §6.2 and
// can't be renegotiated.
type Command struct {
	// Simple holds the bare-string verbs: Shutdown, Reboot, GetStatus,
	// BootComplete.
	Simple string

	// Exactly one of these is set for the object-shaped verbs.
	StartService     string
	StopService      string
	GetServiceStatus string
}

const (
	CmdShutdown     = "Shutdown"
	CmdReboot       = "Reboot"
	CmdGetStatus    = "GetStatus"
	CmdBootComplete = "BootComplete"
)

func Shutdown() Command     { return Command{Simple: CmdShutdown} }
func Reboot() Command       { return Command{Simple: CmdReboot} }
func GetStatus() Command    { return Command{Simple: CmdGetStatus} }
func BootComplete() Command { return Command{Simple: CmdBootComplete} }
func StartService(name string) Command { return Command{StartService: name} }
func StopService(name string) Command  { return Command{StopService: name} }
func ServiceStatus(name string) Command { return Command{GetServiceStatus: name} }

func (c Command) MarshalJSON() ([]byte, error) {
	switch {
	case c.Simple != "":
		return json.Marshal(c.Simple)
	case c.StartService != "":
		return json.Marshal(map[string]string{"StartService": c.StartService})
	case c.StopService != "":
		return json.Marshal(map[string]string{"StopService": c.StopService})
	case c.GetServiceStatus != "":
		return json.Marshal(map[string]string{"GetServiceStatus": c.GetServiceStatus})
	default:
		return nil, fmt.Errorf("ipc: empty command")
	}
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Command{Simple: s}
		return nil
	}

	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("ipc: invalid command: %w", err)
	}
	if len(obj) != 1 {
		return fmt.Errorf("ipc: command object must have exactly one key")
	}
	for k, v := range obj {
		switch k {
		case "StartService":
			*c = Command{StartService: v}
		case "StopService":
			*c = Command{StopService: v}
		case "GetServiceStatus":
			*c = Command{GetServiceStatus: v}
		default:
			return fmt.Errorf("ipc: unrecognized command %q", k)
		}
	}
	return nil
}

// Request is one frame sent by a client, per spec §6.2.
type Request struct {
	Target  Target  `json:"target"`
	Command Command `json:"command"`
}

// Response is one frame sent back by the server, per spec §6.2.
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}
