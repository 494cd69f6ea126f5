package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"gitlab.bluewillows.net/root/nextdnsbridge/internal/config"
	"gitlab.bluewillows.net/root/nextdnsbridge/internal/entry"
	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/nextdns"
)

// listProfiles authenticates every configured entry and prints the profiles
// its API key can see. The configured profile of each entry is marked.
func listProfiles(ctx context.Context, w io.Writer, cfg *config.Config) error {
	return writeProfiles(ctx, w, cfg.Entries, func(ctx context.Context, apiKey string) ([]nextdns.ProfileInfo, error) {
		client, err := nextdns.New(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		return client.Profiles(), nil
	})
}

type profileLister func(ctx context.Context, apiKey string) ([]nextdns.ProfileInfo, error)

func writeProfiles(ctx context.Context, w io.Writer, entries []*config.EntryConfig, list profileLister) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tID\tNAME\tCONFIGURED")

	var failed int
	for _, e := range entries {
		hctx, cancel := context.WithTimeout(ctx, entry.DefaultHandshakeTimeout)
		profiles, err := list(hctx, e.APIKey)
		cancel()
		if err != nil {
			failed++
			fmt.Fprintf(tw, "%s\t-\t%s\t-\n", e.Name, err)
			continue
		}
		for _, p := range profiles {
			mark := ""
			if p.ID == e.Profile || p.Name == e.Profile {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Name, p.ID, p.Name, mark)
		}
	}

	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d entries could not list profiles", failed, len(entries))
	}
	return nil
}
