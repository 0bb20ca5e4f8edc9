package ipc

import "github.com/saltnpepper97/verdant/internal/supervisor"

// ServiceStatus is the wire-level projection of supervisor.Snapshot sent
// back for GetStatus / GetServiceStatus, per spec §6.2's `data` field.
type ServiceStatus struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Pid      int    `json:"pid,omitempty"`
	Restarts int    `json:"restarts"`
}

// Handler is what the control endpoint dispatches non-lifecycle commands
// to. internal/manager.Manager satisfies it directly.
type Handler interface {
	Start(name string) error
	Stop(name string) error
	Snapshot() []supervisor.Snapshot
}

func toServiceStatus(s supervisor.Snapshot) ServiceStatus {
	return ServiceStatus{
		Name:     s.Name,
		State:    s.State.String(),
		Pid:      s.Pid,
		Restarts: s.Restarts,
	}
}
