package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"chat-timeline/internal/grpcclient"
	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/platform/logger"
	"chat-timeline/internal/timeline"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootOptions 所有子命令共用的連線與身分設定.
//
// 每個旗標都可以用 CHAT_ 前綴的環境變數提供，例如 CHAT_USER=alice.
type rootOptions struct {
	v *viper.Viper
}

func (o *rootOptions) user() *timeline.User {
	id := strings.TrimSpace(o.v.GetString("user"))
	if id == "" {
		return nil
	}
	return &timeline.User{
		ID:    id,
		Name:  o.v.GetString("name"),
		Image: o.v.GetString("image"),
	}
}

func (o *rootOptions) location() (*time.Location, error) {
	tz := o.v.GetString("tz")
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", tz, err)
	}
	return loc, nil
}

func (o *rootOptions) dial() (*grpcclient.Client, error) {
	return grpcclient.Dial(o.v.GetString("addr"), config.TLSConfig{
		Enabled:  o.v.GetBool("tls"),
		CAFile:   o.v.GetString("ca-file"),
		CertFile: o.v.GetString("cert-file"),
		KeyFile:  o.v.GetString("key-file"),
	}, o.user())
}

// requireUser 需要身分的子命令使用
func (o *rootOptions) requireUser() error {
	if o.user() == nil {
		return fmt.Errorf("--user (or CHAT_USER) is required")
	}
	return nil
}

// newRootCommand 建立 chat CLI 的根命令.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:           "chat",
		Short:         "Terminal client for the chat timeline service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// 日誌走 stderr，不干擾畫面
			logger.SetOutput(os.Stderr)
			return opts.v.BindPFlags(cmd.Flags())
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("addr", "localhost:8081", "gRPC server address")
	flags.String("user", "", "user id sent as x-user-id")
	flags.String("name", "", "display name")
	flags.String("image", "", "avatar url")
	flags.String("tz", "", "time zone for day separators (default: local)")
	flags.Bool("tls", false, "connect with TLS")
	flags.String("ca-file", "", "CA certificate for TLS")
	flags.String("cert-file", "", "client certificate for mutual TLS")
	flags.String("key-file", "", "client key for mutual TLS")

	opts.v.SetEnvPrefix("CHAT")
	opts.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	opts.v.AutomaticEnv()

	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newSendCommand(opts))
	cmd.AddCommand(newEditCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newDirectCommand(opts))

	return cmd
}
