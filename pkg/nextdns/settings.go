package nextdns

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
)

// Settings holds the boolean profile settings the bridge can display and toggle.
type Settings struct {
	Web3                          bool `json:"web3"`
	BlockPage                     bool `json:"block_page"`
	CacheBoost                    bool `json:"cache_boost"`
	CNAMEFlattening               bool `json:"cname_flattening"`
	AnonymizedECS                 bool `json:"anonymized_ecs"`
	Logs                          bool `json:"logs"`
	AllowAffiliate                bool `json:"allow_affiliate"`
	BlockDisguisedTrackers        bool `json:"block_disguised_trackers"`
	ThreatIntelligenceFeeds       bool `json:"threat_intelligence_feeds"`
	AIThreatDetection             bool `json:"ai_threat_detection"`
	GoogleSafeBrowsing            bool `json:"google_safe_browsing"`
	CryptojackingProtection       bool `json:"cryptojacking_protection"`
	DNSRebindingProtection        bool `json:"dns_rebinding_protection"`
	IDNHomographAttacksProtection bool `json:"idn_homograph_attacks_protection"`
	TyposquattingProtection       bool `json:"typosquatting_protection"`
	DGAProtection                 bool `json:"dga_protection"`
	BlockNRD                      bool `json:"block_nrd"`
	BlockDDNS                     bool `json:"block_ddns"`
	BlockParkedDomains            bool `json:"block_parked_domains"`
	BlockCSAM                     bool `json:"block_csam"`
	SafeSearch                    bool `json:"safesearch"`
	YouTubeRestrictedMode         bool `json:"youtube_restricted_mode"`
	BlockBypassMethods            bool `json:"block_bypass_methods"`
}

// Setting keys accepted by SetSetting and Settings.Value.
const (
	SettingWeb3                    = "web3"
	SettingBlockPage               = "block_page"
	SettingCacheBoost              = "cache_boost"
	SettingCNAMEFlattening         = "cname_flattening"
	SettingAnonymizedECS           = "anonymized_ecs"
	SettingLogs                    = "logs"
	SettingAllowAffiliate          = "allow_affiliate"
	SettingBlockDisguisedTrackers  = "block_disguised_trackers"
	SettingThreatIntelligenceFeeds = "threat_intelligence_feeds"
	SettingAIThreatDetection       = "ai_threat_detection"
	SettingGoogleSafeBrowsing      = "google_safe_browsing"
	SettingCryptojacking           = "cryptojacking_protection"
	SettingDNSRebinding            = "dns_rebinding_protection"
	SettingIDNHomographs           = "idn_homograph_attacks_protection"
	SettingTyposquatting           = "typosquatting_protection"
	SettingDGA                     = "dga_protection"
	SettingBlockNRD                = "block_nrd"
	SettingBlockDDNS               = "block_ddns"
	SettingBlockParkedDomains      = "block_parked_domains"
	SettingBlockCSAM               = "block_csam"
	SettingSafeSearch              = "safesearch"
	SettingYouTubeRestrictedMode   = "youtube_restricted_mode"
	SettingBlockBypassMethods      = "block_bypass_methods"
)

// profileDocument is the shape of GET /profiles/{id}.
type profileDocument struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	Setup       struct {
		LinkedIP struct {
			IP string `json:"ip"`
		} `json:"linkedIp"`
	} `json:"setup"`
	Security struct {
		ThreatIntelligenceFeeds bool `json:"threatIntelligenceFeeds"`
		AIThreatDetection       bool `json:"aiThreatDetection"`
		GoogleSafeBrowsing      bool `json:"googleSafeBrowsing"`
		Cryptojacking           bool `json:"cryptojacking"`
		DNSRebinding            bool `json:"dnsRebinding"`
		IDNHomographs           bool `json:"idnHomographs"`
		Typosquatting           bool `json:"typosquatting"`
		DGA                     bool `json:"dga"`
		NRD                     bool `json:"nrd"`
		DDNS                    bool `json:"ddns"`
		Parking                 bool `json:"parking"`
		CSAM                    bool `json:"csam"`
	} `json:"security"`
	Privacy struct {
		DisguisedTrackers bool `json:"disguisedTrackers"`
		AllowAffiliate    bool `json:"allowAffiliate"`
	} `json:"privacy"`
	ParentalControl struct {
		SafeSearch            bool `json:"safeSearch"`
		YouTubeRestrictedMode bool `json:"youtubeRestrictedMode"`
		BlockBypass           bool `json:"blockBypass"`
	} `json:"parentalControl"`
	Settings struct {
		Logs struct {
			Enabled bool `json:"enabled"`
		} `json:"logs"`
		BlockPage struct {
			Enabled bool `json:"enabled"`
		} `json:"blockPage"`
		Performance struct {
			ECS             bool `json:"ecs"`
			CacheBoost      bool `json:"cacheBoost"`
			CNAMEFlattening bool `json:"cnameFlattening"`
		} `json:"performance"`
		Web3 bool `json:"web3"`
	} `json:"settings"`
}

// settingDef maps a setting key onto its API location and Settings field.
type settingDef struct {
	path   string // profile sub-resource to PATCH
	field  string // JSON member inside that sub-resource
	ptr    func(s *Settings) *bool
	source func(d *profileDocument) bool
}

var settingDefs = map[string]settingDef{
	SettingWeb3: {"settings", "web3",
		func(s *Settings) *bool { return &s.Web3 },
		func(d *profileDocument) bool { return d.Settings.Web3 }},
	SettingBlockPage: {"settings/blockPage", "enabled",
		func(s *Settings) *bool { return &s.BlockPage },
		func(d *profileDocument) bool { return d.Settings.BlockPage.Enabled }},
	SettingCacheBoost: {"settings/performance", "cacheBoost",
		func(s *Settings) *bool { return &s.CacheBoost },
		func(d *profileDocument) bool { return d.Settings.Performance.CacheBoost }},
	SettingCNAMEFlattening: {"settings/performance", "cnameFlattening",
		func(s *Settings) *bool { return &s.CNAMEFlattening },
		func(d *profileDocument) bool { return d.Settings.Performance.CNAMEFlattening }},
	SettingAnonymizedECS: {"settings/performance", "ecs",
		func(s *Settings) *bool { return &s.AnonymizedECS },
		func(d *profileDocument) bool { return d.Settings.Performance.ECS }},
	SettingLogs: {"settings/logs", "enabled",
		func(s *Settings) *bool { return &s.Logs },
		func(d *profileDocument) bool { return d.Settings.Logs.Enabled }},
	SettingAllowAffiliate: {"privacy", "allowAffiliate",
		func(s *Settings) *bool { return &s.AllowAffiliate },
		func(d *profileDocument) bool { return d.Privacy.AllowAffiliate }},
	SettingBlockDisguisedTrackers: {"privacy", "disguisedTrackers",
		func(s *Settings) *bool { return &s.BlockDisguisedTrackers },
		func(d *profileDocument) bool { return d.Privacy.DisguisedTrackers }},
	SettingThreatIntelligenceFeeds: {"security", "threatIntelligenceFeeds",
		func(s *Settings) *bool { return &s.ThreatIntelligenceFeeds },
		func(d *profileDocument) bool { return d.Security.ThreatIntelligenceFeeds }},
	SettingAIThreatDetection: {"security", "aiThreatDetection",
		func(s *Settings) *bool { return &s.AIThreatDetection },
		func(d *profileDocument) bool { return d.Security.AIThreatDetection }},
	SettingGoogleSafeBrowsing: {"security", "googleSafeBrowsing",
		func(s *Settings) *bool { return &s.GoogleSafeBrowsing },
		func(d *profileDocument) bool { return d.Security.GoogleSafeBrowsing }},
	SettingCryptojacking: {"security", "cryptojacking",
		func(s *Settings) *bool { return &s.CryptojackingProtection },
		func(d *profileDocument) bool { return d.Security.Cryptojacking }},
	SettingDNSRebinding: {"security", "dnsRebinding",
		func(s *Settings) *bool { return &s.DNSRebindingProtection },
		func(d *profileDocument) bool { return d.Security.DNSRebinding }},
	SettingIDNHomographs: {"security", "idnHomographs",
		func(s *Settings) *bool { return &s.IDNHomographAttacksProtection },
		func(d *profileDocument) bool { return d.Security.IDNHomographs }},
	SettingTyposquatting: {"security", "typosquatting",
		func(s *Settings) *bool { return &s.TyposquattingProtection },
		func(d *profileDocument) bool { return d.Security.Typosquatting }},
	SettingDGA: {"security", "dga",
		func(s *Settings) *bool { return &s.DGAProtection },
		func(d *profileDocument) bool { return d.Security.DGA }},
	SettingBlockNRD: {"security", "nrd",
		func(s *Settings) *bool { return &s.BlockNRD },
		func(d *profileDocument) bool { return d.Security.NRD }},
	SettingBlockDDNS: {"security", "ddns",
		func(s *Settings) *bool { return &s.BlockDDNS },
		func(d *profileDocument) bool { return d.Security.DDNS }},
	SettingBlockParkedDomains: {"security", "parking",
		func(s *Settings) *bool { return &s.BlockParkedDomains },
		func(d *profileDocument) bool { return d.Security.Parking }},
	SettingBlockCSAM: {"security", "csam",
		func(s *Settings) *bool { return &s.BlockCSAM },
		func(d *profileDocument) bool { return d.Security.CSAM }},
	SettingSafeSearch: {"parentalControl", "safeSearch",
		func(s *Settings) *bool { return &s.SafeSearch },
		func(d *profileDocument) bool { return d.ParentalControl.SafeSearch }},
	SettingYouTubeRestrictedMode: {"parentalControl", "youtubeRestrictedMode",
		func(s *Settings) *bool { return &s.YouTubeRestrictedMode },
		func(d *profileDocument) bool { return d.ParentalControl.YouTubeRestrictedMode }},
	SettingBlockBypassMethods: {"parentalControl", "blockBypass",
		func(s *Settings) *bool { return &s.BlockBypassMethods },
		func(d *profileDocument) bool { return d.ParentalControl.BlockBypass }},
}

// SettingKeys returns every supported setting key, sorted.
func SettingKeys() []string {
	keys := make([]string, 0, len(settingDefs))
	for k := range settingDefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value returns the value of a setting by key.
func (s Settings) Value(key string) (bool, bool) {
	def, ok := settingDefs[key]
	if !ok {
		return false, false
	}
	return *def.ptr(&s), true
}

// With returns a copy of s with one setting changed. Unknown keys are ignored.
func (s Settings) With(key string, value bool) Settings {
	if def, ok := settingDefs[key]; ok {
		*def.ptr(&s) = value
	}
	return s
}

func settingsFromDocument(d *profileDocument) Settings {
	var s Settings
	for _, def := range settingDefs {
		*def.ptr(&s) = def.source(d)
	}
	return s
}

func (c *Client) getProfileDocument(ctx context.Context, profileID string) (*profileDocument, error) {
	var doc profileDocument
	if err := c.doRequest(ctx, http.MethodGet, profilePath(profileID), nil, &doc); err != nil {
		return nil, fmt.Errorf("fetching profile %s: %w", profileID, err)
	}
	return &doc, nil
}

// GetProfile returns profile metadata.
func (c *Client) GetProfile(ctx context.Context, profileID string) (Profile, error) {
	doc, err := c.getProfileDocument(ctx, profileID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		ID:          doc.ID,
		Name:        doc.Name,
		Fingerprint: doc.Fingerprint,
		LinkedIP:    doc.Setup.LinkedIP.IP,
	}, nil
}

// GetSettings returns the profile's boolean settings.
func (c *Client) GetSettings(ctx context.Context, profileID string) (Settings, error) {
	doc, err := c.getProfileDocument(ctx, profileID)
	if err != nil {
		return Settings{}, err
	}
	return settingsFromDocument(doc), nil
}

// SetSetting changes one boolean setting. It returns true only when the API
// accepted the change.
func (c *Client) SetSetting(ctx context.Context, profileID, key string, value bool) (bool, error) {
	def, ok := settingDefs[key]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}

	body := map[string]bool{def.field: value}
	path := profilePath(profileID, strings.Split(def.path, "/")...)
	if err := c.doRequest(ctx, http.MethodPatch, path, body, nil); err != nil {
		return false, fmt.Errorf("setting %s for %s: %w", key, profileID, err)
	}

	c.logger.Info("updated profile setting",
		slog.String("profile", profileID),
		slog.String("setting", key),
		slog.Bool("value", value),
	)
	return true, nil
}
