package entry

// Identifier is a (domain, id) pair that uniquely names a device.
type Identifier struct {
	Domain string `json:"domain"`
	ID     string `json:"id"`
}

// Device groups every entity of one entry.
type Device struct {
	Identifiers      []Identifier `json:"identifiers"`
	Name             string       `json:"name"`
	Manufacturer     string       `json:"manufacturer"`
	Model            string       `json:"model"`
	EntryType        string       `json:"entry_type"`
	ConfigurationURL string       `json:"configuration_url"`
}

// Domain is the identifier domain of every device.
const Domain = "nextdns"

// NewDevice derives the device identity of a profile.
func NewDevice(profileID, profileName string) Device {
	return Device{
		Identifiers:      []Identifier{{Domain: Domain, ID: profileID}},
		Name:             profileName,
		Manufacturer:     "NextDNS",
		Model:            "NextDNS Profile",
		EntryType:        "service",
		ConfigurationURL: "https://my.nextdns.io/" + profileID + "/setup",
	}
}

// ID returns the device's identifier within Domain.
func (d Device) ID() string {
	for _, ident := range d.Identifiers {
		if ident.Domain == Domain {
			return ident.ID
		}
	}
	return ""
}

func (d Device) clone() Device {
	d.Identifiers = append([]Identifier(nil), d.Identifiers...)
	return d
}
