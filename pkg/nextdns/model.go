package nextdns

import "math"

// Segment identifies one analytics breakdown.
type Segment string

// Analytics segments served by /profiles/{id}/analytics/{segment}.
const (
	SegmentStatus     Segment = "status"
	SegmentProtocols  Segment = "protocols"
	SegmentEncryption Segment = "encryption"
	SegmentIPVersions Segment = "ipVersions"
	SegmentDNSSEC     Segment = "dnssec"
)

// Segments lists every supported analytics segment.
func Segments() []Segment {
	return []Segment{SegmentStatus, SegmentProtocols, SegmentEncryption, SegmentIPVersions, SegmentDNSSEC}
}

// ProfileInfo is an entry of the account's profile list.
type ProfileInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
}

// AnalyticsStatus holds query counts by resolution status.
type AnalyticsStatus struct {
	DefaultQueries      int     `json:"default_queries"`
	AllowedQueries      int     `json:"allowed_queries"`
	BlockedQueries      int     `json:"blocked_queries"`
	AllQueries          int     `json:"all_queries"`
	BlockedQueriesRatio float64 `json:"blocked_queries_ratio"`
}

// AnalyticsProtocols holds query counts by transport protocol.
type AnalyticsProtocols struct {
	DOHQueries      int     `json:"doh_queries"`
	DOTQueries      int     `json:"dot_queries"`
	DOQQueries      int     `json:"doq_queries"`
	TCPQueries      int     `json:"tcp_queries"`
	UDPQueries      int     `json:"udp_queries"`
	DOHQueriesRatio float64 `json:"doh_queries_ratio"`
	DOTQueriesRatio float64 `json:"dot_queries_ratio"`
	DOQQueriesRatio float64 `json:"doq_queries_ratio"`
	TCPQueriesRatio float64 `json:"tcp_queries_ratio"`
	UDPQueriesRatio float64 `json:"udp_queries_ratio"`
}

// AnalyticsEncryption holds encrypted vs. unencrypted query counts.
type AnalyticsEncryption struct {
	EncryptedQueries      int     `json:"encrypted_queries"`
	UnencryptedQueries    int     `json:"unencrypted_queries"`
	EncryptedQueriesRatio float64 `json:"encrypted_queries_ratio"`
}

// AnalyticsIPVersions holds query counts by IP version.
type AnalyticsIPVersions struct {
	IPv4Queries      int     `json:"ipv4_queries"`
	IPv6Queries      int     `json:"ipv6_queries"`
	IPv6QueriesRatio float64 `json:"ipv6_queries_ratio"`
}

// AnalyticsDNSSEC holds DNSSEC-validated vs. not-validated query counts.
type AnalyticsDNSSEC struct {
	ValidatedQueries      int     `json:"validated_queries"`
	NotValidatedQueries   int     `json:"not_validated_queries"`
	ValidatedQueriesRatio float64 `json:"validated_queries_ratio"`
}

// ConnectionStatus reports whether the device running the bridge resolves
// through NextDNS, and with which profile.
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	ProfileID string `json:"profile_id"`
	Protocol  string `json:"protocol,omitempty"`
	Server    string `json:"server,omitempty"`
}

// Profile holds profile metadata.
type Profile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	LinkedIP    string `json:"linked_ip,omitempty"`
}

// ratio returns part/total as a percentage rounded to one decimal place.
func ratio(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1000) / 10
}
