// Package entrytest provides an in-memory NextDNS API for tests of code
// built on entry handles.
package entrytest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"

	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/nextdns"
)

// FakeAPI implements entry.API in memory. Exported fields may be changed
// under Lock/Unlock while coordinators are running.
type FakeAPI struct {
	sync.Mutex

	ProfilesList []nextdns.ProfileInfo
	Status       nextdns.AnalyticsStatus
	Protocols    nextdns.AnalyticsProtocols
	Connection   nextdns.ConnectionStatus
	Settings     nextdns.Settings

	// Errs makes the fetch of a kind fail.
	Errs map[entry.Kind]error
	// SetResult is returned by SetSetting when SetErr is nil.
	SetResult bool
	SetErr    error
	ClearErr  error

	// ClearRejected makes ClearLogs report an unconfirmed result.
	ClearRejected bool

	Calls      map[entry.Kind]int
	SetCalls   []SetCall
	ClearCalls int
}

// SetCall records one SetSetting call.
type SetCall struct {
	ProfileID string
	Key       string
	Value     bool
}

// NewFakeAPI returns a fake with one profile, abc123 named Home.
func NewFakeAPI() *FakeAPI {
	return &FakeAPI{
		ProfilesList: []nextdns.ProfileInfo{{ID: "abc123", Name: "Home"}},
		Status: nextdns.AnalyticsStatus{
			DefaultQueries: 70, AllowedQueries: 10, BlockedQueries: 20,
			AllQueries: 100, BlockedQueriesRatio: 20,
		},
		Protocols:  nextdns.AnalyticsProtocols{DOHQueries: 80, UDPQueries: 20, DOHQueriesRatio: 80, UDPQueriesRatio: 20},
		Connection: nextdns.ConnectionStatus{Connected: true, ProfileID: "abc123"},
		Errs:       make(map[entry.Kind]error),
		Calls:      make(map[entry.Kind]int),
		SetResult:  true,
	}
}

func (f *FakeAPI) record(kind entry.Kind) error {
	f.Lock()
	defer f.Unlock()
	f.Calls[kind]++
	return f.Errs[kind]
}

// CallCount returns how many times a kind was fetched.
func (f *FakeAPI) CallCount(kind entry.Kind) int {
	f.Lock()
	defer f.Unlock()
	return f.Calls[kind]
}

// SetFetchError sets or clears the fetch error of a kind.
func (f *FakeAPI) SetFetchError(kind entry.Kind, err error) {
	f.Lock()
	defer f.Unlock()
	if err == nil {
		delete(f.Errs, kind)
		return
	}
	f.Errs[kind] = err
}

func (f *FakeAPI) FindProfile(idOrName string) (nextdns.ProfileInfo, bool) {
	f.Lock()
	defer f.Unlock()
	for _, p := range f.ProfilesList {
		if p.ID == idOrName || p.Name == idOrName {
			return p, true
		}
	}
	return nextdns.ProfileInfo{}, false
}

func (f *FakeAPI) GetAnalyticsStatus(ctx context.Context, id string) (nextdns.AnalyticsStatus, error) {
	err := f.record(entry.KindStatus)
	f.Lock()
	defer f.Unlock()
	return f.Status, err
}

func (f *FakeAPI) GetAnalyticsProtocols(ctx context.Context, id string) (nextdns.AnalyticsProtocols, error) {
	err := f.record(entry.KindProtocols)
	f.Lock()
	defer f.Unlock()
	return f.Protocols, err
}

func (f *FakeAPI) GetAnalyticsEncryption(ctx context.Context, id string) (nextdns.AnalyticsEncryption, error) {
	return nextdns.AnalyticsEncryption{EncryptedQueries: 90, UnencryptedQueries: 10, EncryptedQueriesRatio: 90}, f.record(entry.KindEncryption)
}

func (f *FakeAPI) GetAnalyticsIPVersions(ctx context.Context, id string) (nextdns.AnalyticsIPVersions, error) {
	return nextdns.AnalyticsIPVersions{IPv4Queries: 75, IPv6Queries: 25, IPv6QueriesRatio: 25}, f.record(entry.KindIPVersions)
}

func (f *FakeAPI) GetAnalyticsDNSSEC(ctx context.Context, id string) (nextdns.AnalyticsDNSSEC, error) {
	return nextdns.AnalyticsDNSSEC{ValidatedQueries: 40, NotValidatedQueries: 60, ValidatedQueriesRatio: 40}, f.record(entry.KindDNSSEC)
}

func (f *FakeAPI) ConnectionStatus(ctx context.Context, id string) (nextdns.ConnectionStatus, error) {
	err := f.record(entry.KindConnection)
	f.Lock()
	defer f.Unlock()
	return f.Connection, err
}

func (f *FakeAPI) GetProfile(ctx context.Context, id string) (nextdns.Profile, error) {
	return nextdns.Profile{ID: id, Name: "Home", Fingerprint: "fp1"}, f.record(entry.KindProfile)
}

func (f *FakeAPI) GetSettings(ctx context.Context, id string) (nextdns.Settings, error) {
	err := f.record(entry.KindSettings)
	f.Lock()
	defer f.Unlock()
	return f.Settings, err
}

func (f *FakeAPI) ClearLogs(ctx context.Context, id string) (bool, error) {
	f.Lock()
	defer f.Unlock()
	f.ClearCalls++
	if f.ClearErr != nil {
		return false, f.ClearErr
	}
	return !f.ClearRejected, nil
}

func (f *FakeAPI) SetSetting(ctx context.Context, id, key string, value bool) (bool, error) {
	f.Lock()
	defer f.Unlock()
	f.SetCalls = append(f.SetCalls, SetCall{ProfileID: id, Key: key, Value: value})
	if f.SetErr != nil {
		return false, f.SetErr
	}
	if f.SetResult {
		f.Settings = f.Settings.With(key, value)
	}
	return f.SetResult, nil
}

// Connector returns a connector that always yields f.
func (f *FakeAPI) Connector() entry.Connector {
	return func(ctx context.Context, apiKey string) (entry.API, error) {
		return f, nil
	}
}

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Credential is the credential used by Setup.
var Credential = entry.Credential{APIKey: "test-key", ProfileID: "abc123"}

// SetupOptions returns options that wire f into entry.Setup with a fake
// clock, so coordinators never tick on their own.
func (f *FakeAPI) SetupOptions() []entry.Option {
	return []entry.Option{
		entry.WithLogger(QuietLogger()),
		entry.WithConnector(f.Connector()),
		entry.WithClock(clockwork.NewFakeClock()),
	}
}

// Setup creates a ready handle backed by f and tears it down at the end
// of the test.
func Setup(t testing.TB, f *FakeAPI) *entry.Handle {
	t.Helper()
	h, err := entry.Setup(context.Background(), Credential, f.SetupOptions()...)
	if err != nil {
		t.Fatalf("entry setup failed: %v", err)
	}
	t.Cleanup(func() { h.Teardown() })
	return h
}
