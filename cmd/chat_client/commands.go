package main

import (
	"fmt"
	"strings"
	"time"

	"chat-timeline/internal/grpcclient"
	"chat-timeline/internal/render"
	"chat-timeline/internal/timeline"

	"github.com/spf13/cobra"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "history <channel>",
		Short: "Print a channel's timeline once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := opts.location()
			if err != nil {
				return err
			}
			var from time.Time
			if since != "" {
				if from, err = time.Parse(time.RFC3339, since); err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
			}

			client, err := opts.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			raws, err := client.FetchMessages(cmd.Context(), args[0], from)
			if err != nil {
				return err
			}
			set := timeline.NewSet(timeline.NewNormalizer().NormalizeAll(raws)...)
			groups := timeline.NewGrouper(loc, "").Group(set.Messages())
			return render.Text{Location: loc}.Write(cmd.OutOrStdout(), groups)
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only messages created at or after this RFC3339 time")
	return cmd
}

func newSendCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <channel> <message...>",
		Short: "Send one message and print its id",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireUser(); err != nil {
				return err
			}
			client, err := opts.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			raw, err := client.PersistMessage(cmd.Context(), timeline.PersistRequest{
				ChannelID: args[0],
				Content:   strings.Join(args[1:], " "),
				ClientID:  timeline.NewClientID(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw["id"])
			return nil
		},
	}
}

func newEditCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <message-id> <message...>",
		Short: "Replace the content of one of your messages",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireUser(); err != nil {
				return err
			}
			client, err := opts.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			_, err = client.UpdateMessage(cmd.Context(), args[0], strings.Join(args[1:], " "))
			return err
		},
	}
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <message-id>",
		Short: "Delete one of your messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireUser(); err != nil {
				return err
			}
			client, err := opts.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.DeleteMessage(cmd.Context(), args[0]); err != nil {
				if grpcclient.IsNotFound(err) {
					return fmt.Errorf("message %s not found", args[0])
				}
				return err
			}
			return nil
		},
	}
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <channel>",
		Short: "Open a live channel timeline; type to send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd, opts, args[0])
		},
	}
}

func newDirectCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dm <user-id>",
		Short: "Open a live direct conversation with another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireUser(); err != nil {
				return err
			}
			return runInteractive(cmd, opts, timeline.DirectChannelID(opts.user().ID, args[0]))
		},
	}
}
