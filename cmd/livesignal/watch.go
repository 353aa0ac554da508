package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"livesignal/internal/core/domain"
	"livesignal/pkg/client"
	"livesignal/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const maxPayloadPreview = 200

var (
	watchSession string
	watchRaw     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Join a session as a viewer and print its signaling traffic",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(viper.GetString(serverURLKey))
		if err != nil {
			return err
		}
		token := viper.GetString(tokenKey)
		if token == "" {
			return errors.New("a bearer token is required (--token or LIVESIGNAL_TOKEN)")
		}
		c.SetToken(token)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return watch(ctx, c, domain.SessionID(watchSession), cmd.OutOrStdout())
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchSession, "session", "s", "", "session id to watch")
	watchCmd.Flags().BoolVar(&watchRaw, "raw", false, "print raw envelopes as JSON")
	_ = watchCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(watchCmd)
}

func watch(ctx context.Context, c *client.Client, sessionID domain.SessionID, out io.Writer) error {
	joined, err := c.Join(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("join %s: %w", sessionID, err)
	}
	ch, err := c.Dial(ctx, joined.ChannelToken)
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = ch.Close()
	}()

	start := time.Now()
	defer func() {
		fmt.Fprintf(out, "watched %s for %s\n", sessionID, utils.FormatDuration(time.Since(start)))
	}()

	for {
		msg, err := ch.Receive()
		if err != nil {
			if errors.Is(err, client.ErrClosed) {
				fmt.Fprintln(out, err)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		fmt.Fprintln(out, formatMessage(msg, watchRaw))

		if ev, err := client.DecodeControl(msg); err == nil && ev.Event == domain.EventSessionEnding {
			if err := ch.Ack(); err != nil {
				return fmt.Errorf("ack session-ending: %w", err)
			}
		}
	}
}

// formatMessage renders one envelope as a single line.
func formatMessage(msg *domain.Message, raw bool) string {
	if raw {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Sprintf("unencodable message: %v", err)
		}
		return string(data)
	}

	ts := time.Now().Format("15:04:05")
	if msg.Kind != domain.KindControl {
		return fmt.Sprintf("%s %-13s from=%s seq=%d %s", ts, msg.Kind, msg.Sender, msg.Seq,
			utils.TruncateString(utils.SanitizeString(string(msg.Payload)), maxPayloadPreview))
	}

	ev, err := client.DecodeControl(msg)
	if err != nil {
		return fmt.Sprintf("%s control       undecodable payload: %v", ts, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-13s", ts, ev.Event)
	for _, kv := range [][2]string{
		{"connection", string(ev.ConnectionID)},
		{"role", string(ev.Role)},
		{"identity", string(ev.Identity)},
		{"state", ev.State},
		{"reason", ev.Reason},
		{"code", ev.Code},
		{"message", ev.Message},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, " %s=%s", kv[0], kv[1])
		}
	}
	if ev.GraceMillis > 0 {
		fmt.Fprintf(&b, " grace=%s", utils.FormatDuration(time.Duration(ev.GraceMillis)*time.Millisecond))
	}
	if len(ev.Participants) > 0 {
		fmt.Fprintf(&b, " participants=%d", len(ev.Participants))
	}
	return b.String()
}
