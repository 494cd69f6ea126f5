package nextdns

import (
	"context"
	"fmt"
	"net/http"
)

type statusEntry struct {
	Status  string `json:"status"`
	Queries int    `json:"queries"`
}

type protocolEntry struct {
	Protocol string `json:"protocol"`
	Queries  int    `json:"queries"`
}

type encryptionEntry struct {
	Encrypted bool `json:"encrypted"`
	Queries   int  `json:"queries"`
}

type ipVersionEntry struct {
	Version int `json:"version"`
	Queries int `json:"queries"`
}

type dnssecEntry struct {
	Validated bool `json:"validated"`
	Queries   int  `json:"queries"`
}

func (c *Client) getAnalytics(ctx context.Context, profileID string, segment Segment, out any) error {
	if err := c.doRequest(ctx, http.MethodGet, profilePath(profileID, "analytics", string(segment)), nil, out); err != nil {
		return fmt.Errorf("fetching %s analytics for %s: %w", segment, profileID, err)
	}
	return nil
}

// GetAnalyticsStatus returns query counts by resolution status.
func (c *Client) GetAnalyticsStatus(ctx context.Context, profileID string) (AnalyticsStatus, error) {
	var entries []statusEntry
	if err := c.getAnalytics(ctx, profileID, SegmentStatus, &entries); err != nil {
		return AnalyticsStatus{}, err
	}

	var s AnalyticsStatus
	for _, e := range entries {
		switch e.Status {
		case "default":
			s.DefaultQueries += e.Queries
		case "allowed":
			s.AllowedQueries += e.Queries
		case "blocked":
			s.BlockedQueries += e.Queries
		}
	}
	s.AllQueries = s.DefaultQueries + s.AllowedQueries + s.BlockedQueries
	s.BlockedQueriesRatio = ratio(s.BlockedQueries, s.AllQueries)
	return s, nil
}

// GetAnalyticsProtocols returns query counts by transport protocol.
func (c *Client) GetAnalyticsProtocols(ctx context.Context, profileID string) (AnalyticsProtocols, error) {
	var entries []protocolEntry
	if err := c.getAnalytics(ctx, profileID, SegmentProtocols, &entries); err != nil {
		return AnalyticsProtocols{}, err
	}

	var p AnalyticsProtocols
	for _, e := range entries {
		switch e.Protocol {
		case "DNS-over-HTTPS":
			p.DOHQueries += e.Queries
		case "DNS-over-TLS":
			p.DOTQueries += e.Queries
		case "DNS-over-QUIC":
			p.DOQQueries += e.Queries
		case "TCP":
			p.TCPQueries += e.Queries
		case "UDP":
			p.UDPQueries += e.Queries
		}
	}
	total := p.DOHQueries + p.DOTQueries + p.DOQQueries + p.TCPQueries + p.UDPQueries
	p.DOHQueriesRatio = ratio(p.DOHQueries, total)
	p.DOTQueriesRatio = ratio(p.DOTQueries, total)
	p.DOQQueriesRatio = ratio(p.DOQQueries, total)
	p.TCPQueriesRatio = ratio(p.TCPQueries, total)
	p.UDPQueriesRatio = ratio(p.UDPQueries, total)
	return p, nil
}

// GetAnalyticsEncryption returns encrypted vs. unencrypted query counts.
func (c *Client) GetAnalyticsEncryption(ctx context.Context, profileID string) (AnalyticsEncryption, error) {
	var entries []encryptionEntry
	if err := c.getAnalytics(ctx, profileID, SegmentEncryption, &entries); err != nil {
		return AnalyticsEncryption{}, err
	}

	var e AnalyticsEncryption
	for _, entry := range entries {
		if entry.Encrypted {
			e.EncryptedQueries += entry.Queries
		} else {
			e.UnencryptedQueries += entry.Queries
		}
	}
	e.EncryptedQueriesRatio = ratio(e.EncryptedQueries, e.EncryptedQueries+e.UnencryptedQueries)
	return e, nil
}

// GetAnalyticsIPVersions returns query counts by IP version.
func (c *Client) GetAnalyticsIPVersions(ctx context.Context, profileID string) (AnalyticsIPVersions, error) {
	var entries []ipVersionEntry
	if err := c.getAnalytics(ctx, profileID, SegmentIPVersions, &entries); err != nil {
		return AnalyticsIPVersions{}, err
	}

	var v AnalyticsIPVersions
	for _, e := range entries {
		switch e.Version {
		case 4:
			v.IPv4Queries += e.Queries
		case 6:
			v.IPv6Queries += e.Queries
		}
	}
	v.IPv6QueriesRatio = ratio(v.IPv6Queries, v.IPv4Queries+v.IPv6Queries)
	return v, nil
}

// GetAnalyticsDNSSEC returns DNSSEC validation counts.
func (c *Client) GetAnalyticsDNSSEC(ctx context.Context, profileID string) (AnalyticsDNSSEC, error) {
	var entries []dnssecEntry
	if err := c.getAnalytics(ctx, profileID, SegmentDNSSEC, &entries); err != nil {
		return AnalyticsDNSSEC{}, err
	}

	var d AnalyticsDNSSEC
	for _, e := range entries {
		if e.Validated {
			d.ValidatedQueries += e.Queries
		} else {
			d.NotValidatedQueries += e.Queries
		}
	}
	d.ValidatedQueriesRatio = ratio(d.ValidatedQueries, d.ValidatedQueries+d.NotValidatedQueries)
	return d, nil
}

// GetAnalytics fetches one segment and returns its typed value boxed in any.
func (c *Client) GetAnalytics(ctx context.Context, profileID string, segment Segment) (any, error) {
	switch segment {
	case SegmentStatus:
		return c.GetAnalyticsStatus(ctx, profileID)
	case SegmentProtocols:
		return c.GetAnalyticsProtocols(ctx, profileID)
	case SegmentEncryption:
		return c.GetAnalyticsEncryption(ctx, profileID)
	case SegmentIPVersions:
		return c.GetAnalyticsIPVersions(ctx, profileID)
	case SegmentDNSSEC:
		return c.GetAnalyticsDNSSEC(ctx, profileID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSegment, segment)
	}
}
