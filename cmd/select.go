package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dexporter/dexporter/internal/dex"
)

var errSelectionAborted = errors.New("channel selection aborted")

// channelLister is the part of the API client the interactive prompt needs
type channelLister interface {
	FetchDMs(ctx context.Context) ([]dex.Channel, error)
	FetchGuilds(ctx context.Context) ([]dex.Guild, error)
	FetchGuildChannels(ctx context.Context, guildID dex.Snowflake) ([]dex.Channel, error)
}

// selectChannels asks whether to archive the direct channels, then each
// guild in turn. Answering "start" stops asking and syncs what was chosen.
func selectChannels(ctx context.Context, api channelLister, in io.Reader, out io.Writer) ([]dex.Channel, error) {
	scanner := bufio.NewScanner(in)
	ask := func(prompt string) (string, error) {
		fmt.Fprintln(out, prompt)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", errSelectionAborted
		}
		return strings.TrimSpace(scanner.Text()), nil
	}

	var channels []dex.Channel

dms:
	for {
		answer, err := ask("Log DMs? [y/n/quit]")
		if err != nil {
			return nil, err
		}
		switch answer {
		case "y", "yes":
			dms, err := api.FetchDMs(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to list DMs: %w", err)
			}
			fmt.Fprintf(out, "Added %d DMs\n", len(dms))
			channels = append(channels, dms...)
			break dms
		case "n", "no":
			break dms
		case "quit":
			return nil, errSelectionAborted
		default:
			fmt.Fprintln(out, "What? I'm going to ask again")
		}
	}

	guilds, err := api.FetchGuilds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list guilds: %w", err)
	}

	for _, guild := range guilds {
		canStart := len(channels) > 0
		choices := []string{"y", "n"}
		if canStart {
			choices = append(choices, "start")
		}
		choices = append(choices, "quit")
		extra := ""
		if guild.Owner {
			extra = " (you own this guild)"
		}

	guild:
		for {
			answer, err := ask(fmt.Sprintf("Log all channels in %s?%s [%s]", guild.Name, extra, strings.Join(choices, "/")))
			if err != nil {
				return nil, err
			}
			switch {
			case answer == "y" || answer == "yes":
				all, err := api.FetchGuildChannels(ctx, guild.ID)
				if err != nil {
					return nil, fmt.Errorf("failed to list channels of %s: %w", guild.Name, err)
				}
				text := textChannels(all)
				fmt.Fprintf(out, "Added %d channels\n", len(text))
				channels = append(channels, text...)
				break guild
			case answer == "n" || answer == "no":
				break guild
			case answer == "start" && canStart:
				return channels, nil
			case answer == "quit":
				return nil, errSelectionAborted
			default:
				fmt.Fprintln(out, "What? I'm going to ask again")
			}
		}
	}

	return channels, nil
}

func textChannels(channels []dex.Channel) []dex.Channel {
	text := make([]dex.Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.IsText() {
			text = append(text, ch)
		}
	}
	return text
}
