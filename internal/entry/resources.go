package entry

import (
	"context"
	"time"

	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/coordinator"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/nextdns"
)

// Kind names one polled resource of a profile.
type Kind string

// Resource kinds.
const (
	KindStatus     Kind = "status"
	KindProtocols  Kind = "protocols"
	KindEncryption Kind = "encryption"
	KindIPVersions Kind = "ip_versions"
	KindDNSSEC     Kind = "dnssec"
	KindConnection Kind = "connection"
	KindProfile    Kind = "profile"
	KindSettings   Kind = "settings"
)

// Default polling intervals.
const (
	AnalyticsInterval  = 10 * time.Minute
	ConnectionInterval = time.Minute
	SettingsInterval   = time.Minute
	ProfileInterval    = 10 * time.Minute
)

// API is the part of the NextDNS client an entry uses.
type API interface {
	FindProfile(idOrName string) (nextdns.ProfileInfo, bool)
	GetAnalyticsStatus(ctx context.Context, profileID string) (nextdns.AnalyticsStatus, error)
	GetAnalyticsProtocols(ctx context.Context, profileID string) (nextdns.AnalyticsProtocols, error)
	GetAnalyticsEncryption(ctx context.Context, profileID string) (nextdns.AnalyticsEncryption, error)
	GetAnalyticsIPVersions(ctx context.Context, profileID string) (nextdns.AnalyticsIPVersions, error)
	GetAnalyticsDNSSEC(ctx context.Context, profileID string) (nextdns.AnalyticsDNSSEC, error)
	ConnectionStatus(ctx context.Context, profileID string) (nextdns.ConnectionStatus, error)
	GetProfile(ctx context.Context, profileID string) (nextdns.Profile, error)
	GetSettings(ctx context.Context, profileID string) (nextdns.Settings, error)
	ClearLogs(ctx context.Context, profileID string) (bool, error)
	SetSetting(ctx context.Context, profileID, key string, value bool) (bool, error)
}

var _ API = (*nextdns.Client)(nil)

// builder creates the coordinator for one resource.
type builder func(name, profileID string, opts []coordinator.Option) coordinator.Resource

// resourceSpec is one row of the resource table.
type resourceSpec struct {
	kind     Kind
	interval time.Duration
	build    builder
}

// poll adapts a profile-scoped API call into a coordinator builder.
func poll[T any](fetch func(ctx context.Context, profileID string) (T, error)) builder {
	return func(name, profileID string, opts []coordinator.Option) coordinator.Resource {
		return coordinator.New(name, func(ctx context.Context) (T, error) {
			return fetch(ctx, profileID)
		}, opts...)
	}
}

// resourceTable lists every resource an entry polls.
func resourceTable(api API) []resourceSpec {
	return []resourceSpec{
		{KindStatus, AnalyticsInterval, poll(api.GetAnalyticsStatus)},
		{KindProtocols, AnalyticsInterval, poll(api.GetAnalyticsProtocols)},
		{KindEncryption, AnalyticsInterval, poll(api.GetAnalyticsEncryption)},
		{KindIPVersions, AnalyticsInterval, poll(api.GetAnalyticsIPVersions)},
		{KindDNSSEC, AnalyticsInterval, poll(api.GetAnalyticsDNSSEC)},
		{KindConnection, ConnectionInterval, poll(api.ConnectionStatus)},
		{KindProfile, ProfileInterval, poll(api.GetProfile)},
		{KindSettings, SettingsInterval, poll(api.GetSettings)},
	}
}

// AllKinds returns every kind in table order.
func AllKinds() []Kind {
	return []Kind{
		KindStatus, KindProtocols, KindEncryption, KindIPVersions, KindDNSSEC,
		KindConnection, KindProfile, KindSettings,
	}
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, bool) {
	for _, k := range AllKinds() {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// classify marks rejected credentials as fatal.
func classify(err error) (string, bool) {
	kind := nextdns.Classify(err)
	return kind.String(), kind == nextdns.KindAuthInvalid
}
