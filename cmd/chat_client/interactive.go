package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"chat-timeline/internal/render"
	"chat-timeline/internal/timeline"

	"github.com/spf13/cobra"
)

const clearScreen = "\033[H\033[2J"

// 互動模式的斜線指令
const (
	inputSend  = ""
	inputRetry = "retry"
	inputJoin  = "join"
	inputDM    = "dm"
	inputQuit  = "quit"
)

// parseInput 把一行輸入拆成指令與參數；不以 / 開頭的內容視為訊息
func parseInput(line string) (command, arg string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return inputSend, line
	}
	command, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(command), strings.TrimSpace(arg)
}

func runInteractive(cmd *cobra.Command, opts *rootOptions, channelID string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	loc, err := opts.location()
	if err != nil {
		return err
	}
	client, err := opts.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	// OnChange 在 Session 內部觸發，只送出重繪訊號
	changed := make(chan struct{}, 1)
	conv := timeline.NewConversations(timeline.Options{
		Fetcher:        client,
		Subscriber:     client,
		Persister:      client,
		Identity:       client,
		Grouper:        timeline.NewGrouper(loc, ""),
		SendsPerMinute: 30,
		OnChange: func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	})
	defer conv.Close()

	session, err := conv.Open(ctx, channelID)
	if err != nil {
		return err
	}

	lines := make(chan string)
	go scanLines(ctx, cmd.InOrStdin(), lines)

	text := render.Text{Location: loc}
	redraw := func() {
		fmt.Fprint(out, clearScreen)
		fmt.Fprintf(out, "# %s\n", session.ChannelID())
		_ = text.Write(out, session.Groups())
		fmt.Fprint(out, "> ")
	}
	redraw()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-changed:
			redraw()

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			next, quit, err := handleInput(ctx, session, opts, conv, line)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			}
			if quit {
				return nil
			}
			if next != nil && next != session {
				session = next
			}
			redraw()
		}
	}
}

func handleInput(ctx context.Context, session *timeline.Session, opts *rootOptions, conv *timeline.Conversations, line string) (*timeline.Session, bool, error) {
	command, arg := parseInput(line)
	switch command {
	case inputSend:
		if arg == "" {
			return nil, false, nil
		}
		_, err := session.Send(ctx, arg)
		return nil, false, err
	case inputRetry:
		_, err := session.Retry(ctx, arg)
		return nil, false, err
	case inputJoin:
		s, err := conv.Open(ctx, arg)
		return s, false, err
	case inputDM:
		me := opts.user()
		if me == nil {
			return nil, false, fmt.Errorf("--user is required for direct messages")
		}
		s, err := conv.Open(ctx, timeline.DirectChannelID(me.ID, arg))
		return s, false, err
	case inputQuit:
		return nil, true, nil
	}
	return nil, false, fmt.Errorf("unknown command /%s", command)
}

func scanLines(ctx context.Context, r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}
