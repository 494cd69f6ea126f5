package entity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry/entrytest"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/nextdns"
)

// recorder collects published states.
type recorder struct {
	mu       sync.Mutex
	states   []State
	attached []string
	detached []string
}

func (r *recorder) Publish(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) Attached(s *Set) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached = append(r.attached, s.Handle().ID())
}

func (r *recorder) Detached(s *Set) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached = append(r.detached, s.Handle().ID())
}

func (r *recorder) last(uniqueID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.states) - 1; i >= 0; i-- {
		if r.states[i].UniqueID == uniqueID {
			return r.states[i], true
		}
	}
	return State{}, false
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func newSet(t *testing.T, api *entrytest.FakeAPI) (*Set, *recorder) {
	t.Helper()
	h := entrytest.Setup(t, api)
	rec := &recorder{}
	s, err := NewSet(h, rec, entrytest.QuietLogger())
	if err != nil {
		t.Fatalf("NewSet failed: %v", err)
	}
	t.Cleanup(s.Close)
	return s, rec
}

func mustEntity(t *testing.T, s *Set, key string) *Entity {
	t.Helper()
	e, ok := s.Entity(UniqueID("abc123", key))
	if !ok {
		t.Fatalf("entity %s not found", key)
	}
	return e
}

func TestDescriptions(t *testing.T) {
	if len(Sensors) != 18 {
		t.Errorf("expected 18 sensors, got %d", len(Sensors))
	}
	if len(BinarySensors) != 2 {
		t.Errorf("expected 2 binary sensors, got %d", len(BinarySensors))
	}
	if len(Buttons) != 1 {
		t.Errorf("expected 1 button, got %d", len(Buttons))
	}
	if len(Switches) != len(nextdns.SettingKeys()) {
		t.Errorf("expected %d switches, got %d", len(nextdns.SettingKeys()), len(Switches))
	}

	seen := make(map[string]bool)
	for _, d := range All() {
		if seen[d.Key] {
			t.Errorf("duplicate key %s", d.Key)
		}
		seen[d.Key] = true
		if d.Platform != PlatformButton && d.value == nil {
			t.Errorf("%s has no value extractor", d.Key)
		}
	}
}

func TestSensorsDisabledByDefault(t *testing.T) {
	disabled := map[string]bool{
		"doh_queries":           true,
		"dot_queries":           true,
		"udp_queries":           true,
		"encrypted_queries":     true,
		"unencrypted_queries":   true,
		"ipv4_queries":          true,
		"ipv6_queries":          true,
		"validated_queries":     true,
		"not_validated_queries": true,
	}

	for _, d := range Sensors {
		if d.EnabledByDefault == disabled[d.Key] {
			t.Errorf("%s: expected enabled=%v, got %v", d.Key, !disabled[d.Key], d.EnabledByDefault)
		}
	}
}

func TestSensorUnits(t *testing.T) {
	for _, d := range Sensors {
		want := UnitQueries
		if len(d.Key) > 6 && d.Key[len(d.Key)-6:] == "_ratio" {
			want = UnitPercentage
		}
		if d.Unit != want {
			t.Errorf("%s: expected unit %q, got %q", d.Key, want, d.Unit)
		}
	}
}

func TestFormatName(t *testing.T) {
	d := Description{Name: "{profile_name} DNS Queries"}
	if got := d.FormatName("Home"); got != "Home DNS Queries" {
		t.Errorf("expected 'Home DNS Queries', got %q", got)
	}

	d = Description{Name: "This Device NextDNS Connection Status"}
	if got := d.FormatName("Home"); got != "This Device NextDNS Connection Status" {
		t.Errorf("expected name without profile prefix, got %q", got)
	}
}

func TestNewSet_InitialStates(t *testing.T) {
	s, _ := newSet(t, entrytest.NewFakeAPI())

	if len(s.Entities()) != len(All()) {
		t.Fatalf("expected %d entities, got %d", len(All()), len(s.Entities()))
	}

	tests := []struct {
		key   string
		name  string
		value any
	}{
		{"all_queries", "Home DNS Queries", 100},
		{"blocked_queries", "Home DNS Queries Blocked", 20},
		{"blocked_queries_ratio", "Home DNS Queries Blocked Ratio", 20.0},
		{"doh_queries_ratio", "Home DNS-over-HTTPS Queries Ratio", 80.0},
		{"encrypted_queries", "Home Encrypted Queries", 90},
		{"ipv6_queries_ratio", "Home IPv6 Queries Ratio", 25.0},
		{"not_validated_queries", "Home DNSSEC Not Validated Queries", 60},
		{"this_device_nextdns_connection_status", "This Device NextDNS Connection Status", true},
		{"this_device_profile_connection_status", "This Device Profile Connection Status", true},
		{"web3", "Home Web3", false},
		{ClearLogsKey, "Home Clear Logs", nil},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			e := mustEntity(t, s, tt.key)
			st := e.State()
			if st.Name != tt.name {
				t.Errorf("expected name %q, got %q", tt.name, st.Name)
			}
			if st.Value != tt.value {
				t.Errorf("expected value %v, got %v", tt.value, st.Value)
			}
			if !st.Available {
				t.Error("expected available")
			}
			if st.UniqueID != "abc123-"+tt.key {
				t.Errorf("unexpected unique id %q", st.UniqueID)
			}
		})
	}
}

func TestProfileConnectionMismatch(t *testing.T) {
	api := entrytest.NewFakeAPI()
	api.Connection = nextdns.ConnectionStatus{Connected: true, ProfileID: "other"}
	s, _ := newSet(t, api)

	if v := mustEntity(t, s, "this_device_nextdns_connection_status").State().Value; v != true {
		t.Errorf("expected connected, got %v", v)
	}
	if v := mustEntity(t, s, "this_device_profile_connection_status").State().Value; v != false {
		t.Errorf("expected profile mismatch, got %v", v)
	}
}

func TestSet_PublishesOnRefresh(t *testing.T) {
	api := entrytest.NewFakeAPI()
	s, rec := newSet(t, api)

	api.Lock()
	api.Status.AllQueries = 250
	api.Unlock()

	if err := s.Handle().Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	st, ok := rec.last(UniqueID("abc123", "all_queries"))
	if !ok {
		t.Fatal("expected all_queries to be published")
	}
	if st.Value != 250 {
		t.Errorf("expected 250, got %v", st.Value)
	}
	if st.Updated.IsZero() {
		t.Error("expected last updated time")
	}
}

func TestSet_AvailabilityFollowsCoordinator(t *testing.T) {
	api := entrytest.NewFakeAPI()
	s, rec := newSet(t, api)
	res, err := s.Handle().Get(entry.KindStatus)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	api.SetFetchError(entry.KindStatus, nextdns.ErrConnection)
	_ = res.Trigger(context.Background())

	st, _ := rec.last(UniqueID("abc123", "all_queries"))
	if !st.Available {
		t.Error("degraded coordinator with data should stay available")
	}
	if st.Value != 100 {
		t.Errorf("expected last value kept, got %v", st.Value)
	}

	api.SetFetchError(entry.KindStatus, nextdns.ErrInvalidAPIKey)
	_ = res.Trigger(context.Background())

	st, _ = rec.last(UniqueID("abc123", "all_queries"))
	if st.Available {
		t.Error("failed coordinator should be unavailable")
	}
	if mustEntity(t, s, "blocked_queries").Available() {
		t.Error("every entity of the kind should be unavailable")
	}
	if !mustEntity(t, s, "doh_queries_ratio").Available() {
		t.Error("entities of other kinds should stay available")
	}
}

func TestSwitch_TurnOn(t *testing.T) {
	api := entrytest.NewFakeAPI()
	s, rec := newSet(t, api)
	e := mustEntity(t, s, nextdns.SettingWeb3)

	if err := e.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn failed: %v", err)
	}

	api.Lock()
	calls := append([]entrytest.SetCall(nil), api.SetCalls...)
	api.Unlock()
	if len(calls) != 1 || calls[0] != (entrytest.SetCall{ProfileID: "abc123", Key: "web3", Value: true}) {
		t.Errorf("unexpected SetSetting calls: %+v", calls)
	}
	if v := e.State().Value; v != true {
		t.Errorf("expected switch on, got %v", v)
	}
	if st, ok := rec.last(e.UniqueID()); !ok || st.Value != true {
		t.Error("expected switch state to be published")
	}

	if err := e.TurnOff(context.Background()); err != nil {
		t.Fatalf("TurnOff failed: %v", err)
	}
	if v := e.State().Value; v != false {
		t.Errorf("expected switch off, got %v", v)
	}
}

func TestSwitch_NotConfirmedLeavesState(t *testing.T) {
	api := entrytest.NewFakeAPI()
	api.SetResult = false
	s, rec := newSet(t, api)
	e := mustEntity(t, s, nextdns.SettingWeb3)
	before := rec.count()

	err := e.TurnOn(context.Background())
	if !errors.Is(err, ErrNotApplied) {
		t.Fatalf("expected ErrNotApplied, got %v", err)
	}
	if v := e.State().Value; v != false {
		t.Errorf("expected state unchanged, got %v", v)
	}
	if rec.count() != before {
		t.Error("nothing should be published for an unconfirmed change")
	}
}

func TestSwitch_APIError(t *testing.T) {
	api := entrytest.NewFakeAPI()
	api.SetErr = nextdns.ErrConnection
	s, _ := newSet(t, api)
	e := mustEntity(t, s, nextdns.SettingLogs)

	err := e.TurnOn(context.Background())
	if !errors.Is(err, nextdns.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if v := e.State().Value; v != false {
		t.Errorf("expected state unchanged, got %v", v)
	}
}

func TestButton_Press(t *testing.T) {
	api := entrytest.NewFakeAPI()
	s, _ := newSet(t, api)
	e := mustEntity(t, s, ClearLogsKey)

	if err := e.Press(context.Background()); err != nil {
		t.Fatalf("Press failed: %v", err)
	}
	api.Lock()
	defer api.Unlock()
	if api.ClearCalls != 1 {
		t.Errorf("expected 1 ClearLogs call, got %d", api.ClearCalls)
	}
}

func TestButton_PressError(t *testing.T) {
	api := entrytest.NewFakeAPI()
	api.ClearErr = nextdns.ErrTimeout
	s, _ := newSet(t, api)

	err := mustEntity(t, s, ClearLogsKey).Press(context.Background())
	if !errors.Is(err, nextdns.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestButton_PressNotConfirmed(t *testing.T) {
	api := entrytest.NewFakeAPI()
	api.ClearRejected = true
	s, _ := newSet(t, api)

	err := mustEntity(t, s, ClearLogsKey).Press(context.Background())
	if !errors.Is(err, ErrNotApplied) {
		t.Errorf("expected ErrNotApplied, got %v", err)
	}
}

func TestActionsNotSupported(t *testing.T) {
	s, _ := newSet(t, entrytest.NewFakeAPI())
	sensor := mustEntity(t, s, "all_queries")

	if err := sensor.Press(context.Background()); !errors.Is(err, ErrNotSupported) {
		t.Errorf("expected ErrNotSupported for press, got %v", err)
	}
	if err := sensor.TurnOn(context.Background()); !errors.Is(err, ErrNotSupported) {
		t.Errorf("expected ErrNotSupported for turn_on, got %v", err)
	}
	if err := mustEntity(t, s, ClearLogsKey).TurnOff(context.Background()); !errors.Is(err, ErrNotSupported) {
		t.Errorf("expected ErrNotSupported for turn_off, got %v", err)
	}
}

func TestSet_CloseStopsPublishing(t *testing.T) {
	api := entrytest.NewFakeAPI()
	s, rec := newSet(t, api)

	s.Close()
	s.Close()
	before := rec.count()

	if err := s.Handle().Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if rec.count() != before {
		t.Errorf("expected no publishes after Close, got %d", rec.count()-before)
	}
}

func TestRegistry_AddRemove(t *testing.T) {
	api := entrytest.NewFakeAPI()
	h := entrytest.Setup(t, api)
	r := NewRegistry(entrytest.QuietLogger())
	rec := &recorder{}
	r.AddPublisher(rec)

	if _, err := r.Add("home", h); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(rec.attached) != 1 || rec.attached[0] != h.ID() {
		t.Errorf("expected observer attached, got %v", rec.attached)
	}
	if rec.count() != len(All()) {
		t.Errorf("expected initial states published, got %d", rec.count())
	}

	if _, ok := r.Set("home"); !ok {
		t.Error("expected lookup by name")
	}
	if _, ok := r.Set(h.ID()); !ok {
		t.Error("expected lookup by entry id")
	}
	if _, ok := r.Entity("abc123-web3"); !ok {
		t.Error("expected entity lookup by unique id")
	}
	if len(r.States()) != len(All()) {
		t.Errorf("expected %d states, got %d", len(All()), len(r.States()))
	}

	if !r.Remove(h) {
		t.Error("expected Remove to return true")
	}
	if r.Remove(h) {
		t.Error("expected second Remove to return false")
	}
	if len(rec.detached) != 1 {
		t.Errorf("expected observer detached once, got %v", rec.detached)
	}
	if _, ok := r.Entity("abc123-web3"); ok {
		t.Error("expected entity to be gone")
	}
}

func TestRegistry_DuplicateUniqueID(t *testing.T) {
	api := entrytest.NewFakeAPI()
	r := NewRegistry(entrytest.QuietLogger())

	if _, err := r.Add("home", entrytest.Setup(t, api)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	_, err := r.Add("home-again", entrytest.Setup(t, api))
	if !errors.Is(err, ErrDuplicateUniqueID) {
		t.Errorf("expected ErrDuplicateUniqueID, got %v", err)
	}
	if len(r.Sets()) != 1 {
		t.Errorf("expected 1 set, got %d", len(r.Sets()))
	}
}

func TestRegistry_LatePublisherCatchesUp(t *testing.T) {
	api := entrytest.NewFakeAPI()
	h := entrytest.Setup(t, api)
	r := NewRegistry(entrytest.QuietLogger())
	r.Attach("home", h)

	rec := &recorder{}
	r.AddPublisher(rec)
	if len(rec.attached) != 1 {
		t.Errorf("expected late observer to be attached, got %v", rec.attached)
	}
	if rec.count() != len(All()) {
		t.Errorf("expected %d states, got %d", len(All()), rec.count())
	}

	if err := h.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if rec.count() <= len(All()) {
		t.Error("expected refresh to be fanned out")
	}

	r.Detach("home", h)
	if _, ok := r.Set("home"); ok {
		t.Error("expected set removed")
	}
}
