package entity

import (
	"strings"

	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/nextdns"
)

// Platform is the kind of entity.
type Platform string

// Entity platforms.
const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformButton       Platform = "button"
	PlatformSwitch       Platform = "switch"
)

// Entity categories.
const (
	CategoryDiagnostic = "diagnostic"
	CategoryConfig     = "config"
)

// Units of measurement.
const (
	UnitQueries    = "queries"
	UnitPercentage = "%"
)

// extractor reads an entity's value from a coordinator snapshot.
type extractor func(snapshot any, profileID string) (any, bool)

// Description describes one entity type. Name may contain {profile_name}.
type Description struct {
	Key              string
	Kind             entry.Kind
	Platform         Platform
	Name             string
	Icon             string
	Unit             string
	DeviceClass      string
	StateClass       string
	Category         string
	EnabledByDefault bool

	value extractor
}

// FormatName renders the entity name for a profile.
func (d Description) FormatName(profileName string) string {
	return strings.TrimSpace(strings.ReplaceAll(d.Name, "{profile_name}", profileName))
}

// field adapts a typed accessor into an extractor.
func field[T any](fn func(T) any) extractor {
	return func(snapshot any, _ string) (any, bool) {
		v, ok := snapshot.(T)
		if !ok {
			return nil, false
		}
		return fn(v), true
	}
}

func sensor(kind entry.Kind, key, name, icon, unit string, enabled bool, value extractor) Description {
	return Description{
		Key:              key,
		Kind:             kind,
		Platform:         PlatformSensor,
		Name:             "{profile_name} " + name,
		Icon:             icon,
		Unit:             unit,
		StateClass:       "measurement",
		Category:         CategoryDiagnostic,
		EnabledByDefault: enabled,
		value:            value,
	}
}

type status = nextdns.AnalyticsStatus
type protocols = nextdns.AnalyticsProtocols
type encryption = nextdns.AnalyticsEncryption
type ipVersions = nextdns.AnalyticsIPVersions
type dnssec = nextdns.AnalyticsDNSSEC

// Sensors lists the analytics sensors.
var Sensors = []Description{
	sensor(entry.KindStatus, "all_queries", "DNS Queries", "mdi:dns", UnitQueries, true,
		field(func(s status) any { return s.AllQueries })),
	sensor(entry.KindStatus, "blocked_queries", "DNS Queries Blocked", "mdi:dns", UnitQueries, true,
		field(func(s status) any { return s.BlockedQueries })),
	sensor(entry.KindStatus, "blocked_queries_ratio", "DNS Queries Blocked Ratio", "mdi:dns", UnitPercentage, true,
		field(func(s status) any { return s.BlockedQueriesRatio })),

	sensor(entry.KindProtocols, "doh_queries", "DNS-over-HTTPS Queries", "mdi:dns", UnitQueries, false,
		field(func(p protocols) any { return p.DOHQueries })),
	sensor(entry.KindProtocols, "dot_queries", "DNS-over-TLS Queries", "mdi:dns", UnitQueries, false,
		field(func(p protocols) any { return p.DOTQueries })),
	sensor(entry.KindProtocols, "udp_queries", "UDP Queries", "mdi:dns", UnitQueries, false,
		field(func(p protocols) any { return p.UDPQueries })),
	sensor(entry.KindProtocols, "doh_queries_ratio", "DNS-over-HTTPS Queries Ratio", "mdi:dns", UnitPercentage, true,
		field(func(p protocols) any { return p.DOHQueriesRatio })),
	sensor(entry.KindProtocols, "dot_queries_ratio", "DNS-over-TLS Queries Ratio", "mdi:dns", UnitPercentage, true,
		field(func(p protocols) any { return p.DOTQueriesRatio })),
	sensor(entry.KindProtocols, "udp_queries_ratio", "UDP Queries Ratio", "mdi:dns", UnitPercentage, true,
		field(func(p protocols) any { return p.UDPQueriesRatio })),

	sensor(entry.KindEncryption, "encrypted_queries", "Encrypted Queries", "mdi:lock", UnitQueries, false,
		field(func(e encryption) any { return e.EncryptedQueries })),
	sensor(entry.KindEncryption, "unencrypted_queries", "Unencrypted Queries", "mdi:lock-open", UnitQueries, false,
		field(func(e encryption) any { return e.UnencryptedQueries })),
	sensor(entry.KindEncryption, "encrypted_queries_ratio", "Encrypted Queries Ratio", "mdi:lock", UnitPercentage, true,
		field(func(e encryption) any { return e.EncryptedQueriesRatio })),

	sensor(entry.KindIPVersions, "ipv4_queries", "IPv4 Queries", "mdi:ip", UnitQueries, false,
		field(func(v ipVersions) any { return v.IPv4Queries })),
	sensor(entry.KindIPVersions, "ipv6_queries", "IPv6 Queries", "mdi:ip", UnitQueries, false,
		field(func(v ipVersions) any { return v.IPv6Queries })),
	sensor(entry.KindIPVersions, "ipv6_queries_ratio", "IPv6 Queries Ratio", "mdi:ip", UnitPercentage, true,
		field(func(v ipVersions) any { return v.IPv6QueriesRatio })),

	sensor(entry.KindDNSSEC, "validated_queries", "DNSSEC Validated Queries", "mdi:lock-check", UnitQueries, false,
		field(func(d dnssec) any { return d.ValidatedQueries })),
	sensor(entry.KindDNSSEC, "not_validated_queries", "DNSSEC Not Validated Queries", "mdi:lock-alert", UnitQueries, false,
		field(func(d dnssec) any { return d.NotValidatedQueries })),
	sensor(entry.KindDNSSEC, "validated_queries_ratio", "DNSSEC Validated Queries Ratio", "mdi:lock-check", UnitPercentage, true,
		field(func(d dnssec) any { return d.ValidatedQueriesRatio })),
}

// BinarySensors lists the connection binary sensors.
var BinarySensors = []Description{
	{
		Key:              "this_device_nextdns_connection_status",
		Kind:             entry.KindConnection,
		Platform:         PlatformBinarySensor,
		Name:             "This Device NextDNS Connection Status",
		DeviceClass:      "connectivity",
		Category:         CategoryDiagnostic,
		EnabledByDefault: true,
		value: field(func(c nextdns.ConnectionStatus) any {
			return c.Connected
		}),
	},
	{
		Key:              "this_device_profile_connection_status",
		Kind:             entry.KindConnection,
		Platform:         PlatformBinarySensor,
		Name:             "This Device Profile Connection Status",
		DeviceClass:      "connectivity",
		Category:         CategoryDiagnostic,
		EnabledByDefault: true,
		value: func(snapshot any, profileID string) (any, bool) {
			c, ok := snapshot.(nextdns.ConnectionStatus)
			if !ok {
				return nil, false
			}
			return c.ProfileID == profileID, true
		},
	},
}

// ClearLogsKey is the key of the clear logs button.
const ClearLogsKey = "clear_logs"

// Buttons lists the action buttons.
var Buttons = []Description{
	{
		Key:              ClearLogsKey,
		Kind:             entry.KindProfile,
		Platform:         PlatformButton,
		Name:             "{profile_name} Clear Logs",
		Icon:             "mdi:delete-sweep",
		Category:         CategoryConfig,
		EnabledByDefault: true,
	},
}

var switchLabels = map[string]string{
	nextdns.SettingWeb3:                    "Web3",
	nextdns.SettingBlockPage:               "Block Page",
	nextdns.SettingCacheBoost:              "Cache Boost",
	nextdns.SettingCNAMEFlattening:         "CNAME Flattening",
	nextdns.SettingAnonymizedECS:           "Anonymized EDNS Client Subnet",
	nextdns.SettingLogs:                    "Logs",
	nextdns.SettingAllowAffiliate:          "Allow Affiliate & Tracking Links",
	nextdns.SettingBlockDisguisedTrackers:  "Block Disguised Third-Party Trackers",
	nextdns.SettingThreatIntelligenceFeeds: "Threat Intelligence Feeds",
	nextdns.SettingAIThreatDetection:       "AI-Driven Threat Detection",
	nextdns.SettingGoogleSafeBrowsing:      "Google Safe Browsing",
	nextdns.SettingCryptojacking:           "Cryptojacking Protection",
	nextdns.SettingDNSRebinding:            "DNS Rebinding Protection",
	nextdns.SettingIDNHomographs:           "IDN Homograph Attacks Protection",
	nextdns.SettingTyposquatting:           "Typosquatting Protection",
	nextdns.SettingDGA:                     "Domain Generation Algorithms Protection",
	nextdns.SettingBlockNRD:                "Block Newly Registered Domains",
	nextdns.SettingBlockDDNS:               "Block Dynamic DNS Hostnames",
	nextdns.SettingBlockParkedDomains:      "Block Parked Domains",
	nextdns.SettingBlockCSAM:               "Block Child Sexual Abuse Material",
	nextdns.SettingSafeSearch:              "Force SafeSearch",
	nextdns.SettingYouTubeRestrictedMode:   "Force YouTube Restricted Mode",
	nextdns.SettingBlockBypassMethods:      "Block Bypass Methods",
}

// Switches lists one switch per supported setting.
var Switches = buildSwitches()

func buildSwitches() []Description {
	keys := nextdns.SettingKeys()
	out := make([]Description, 0, len(keys))
	for _, key := range keys {
		label, ok := switchLabels[key]
		if !ok {
			label = key
		}
		out = append(out, Description{
			Key:              key,
			Kind:             entry.KindSettings,
			Platform:         PlatformSwitch,
			Name:             "{profile_name} " + label,
			Category:         CategoryConfig,
			EnabledByDefault: true,
			value: field(func(s nextdns.Settings) any {
				v, _ := s.Value(key)
				return v
			}),
		})
	}
	return out
}

// All returns every description: sensors, binary sensors, buttons, switches.
func All() []Description {
	out := make([]Description, 0, len(Sensors)+len(BinarySensors)+len(Buttons)+len(Switches))
	out = append(out, Sensors...)
	out = append(out, BinarySensors...)
	out = append(out, Buttons...)
	out = append(out, Switches...)
	return out
}
