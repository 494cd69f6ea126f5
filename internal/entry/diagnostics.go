package entry

import "gitlab.bluewillows.net/root/nextdnsbridge/pkg/coordinator"

// Diagnostics is an export of an entry's configuration and every current
// snapshot. The API key is always redacted.
type Diagnostics struct {
	EntryID      string                   `json:"entry_id"`
	Config       Credential               `json:"config_entry_data"`
	Device       Device                   `json:"device"`
	Coordinators []CoordinatorDiagnostics `json:"coordinators"`
}

// CoordinatorDiagnostics is one coordinator's state and snapshot.
type CoordinatorDiagnostics struct {
	Kind Kind             `json:"kind"`
	Info coordinator.Info `json:"info"`
	Data any              `json:"data,omitempty"`
}

// Diagnostics collects the entry's diagnostics.
func (h *Handle) Diagnostics() Diagnostics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	d := Diagnostics{
		EntryID: h.id,
		Config:  h.cred,
		Device:  h.device.clone(),
	}
	for _, kind := range h.kinds {
		res := h.resources[kind]
		data, _ := res.Value()
		d.Coordinators = append(d.Coordinators, CoordinatorDiagnostics{
			Kind: kind,
			Info: res.Info(),
			Data: data,
		})
	}
	return d
}
