// Command hackctl talks to a hackd server.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/danmuck/hackgame/internal/client"
	"github.com/danmuck/hackgame/internal/fault"
	"github.com/danmuck/hackgame/internal/logging"
	"github.com/danmuck/hackgame/internal/protocol/session"
	"github.com/spf13/cobra"
)

type options struct {
	addr       string
	tls        bool
	caFile     string
	serverName string
	insecure   bool
	production bool
	timeout    time.Duration
}

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hackctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "hackctl",
		Short:         "hackgame command line client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.addr, "addr", "a", "127.0.0.1:4242", "Server host:port or ws:// URL")
	flags.BoolVar(&opts.tls, "tls", false, "Dial with TLS")
	flags.StringVar(&opts.caFile, "ca", "", "CA bundle for verifying the server")
	flags.StringVar(&opts.serverName, "server-name", "", "TLS server name override")
	flags.BoolVar(&opts.insecure, "insecure", false, "Skip TLS verification (development only)")
	flags.BoolVar(&opts.production, "production", false, "Enforce production transport policy")
	flags.DurationVar(&opts.timeout, "timeout", 15*time.Second, "Per-request timeout")

	root.AddCommand(newPingCmd(opts), newExecCmd(opts), newShellCmd(opts))
	return root
}

func (o *options) connect(ctx context.Context) (*client.Client, error) {
	cfg := client.DefaultConfig()
	cfg.Address = o.addr
	cfg.Session.ReadTimeout = o.timeout
	cfg.Session.WriteTimeout = o.timeout
	cfg.Session.TLS = session.TLSConfig{
		Enabled:            o.tls,
		CAFile:             o.caFile,
		ServerName:         o.serverName,
		InsecureSkipVerify: o.insecure,
	}
	if o.production {
		cfg.Session.SecurityMode = session.SecurityModeProduction
	}
	return client.Dial(ctx, cfg)
}

func newPingCmd(opts *options) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure round trip time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Disconnect(context.Background(), "ping done")
			return runPing(cmd.Context(), c, count, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 3, "Number of pings")
	return cmd
}

func runPing(ctx context.Context, c *client.Client, count int, out io.Writer) error {
	for seq := 1; seq <= count; seq++ {
		pong, rtt, err := c.Ping(ctx, uint64(seq))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "pong seq=%d nonce=%016x time=%s\n", pong.Sequence, pong.Nonce, rtt.Round(time.Microsecond))
	}
	return nil
}

func newExecCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command...>",
		Short: "Run one command and print its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Disconnect(context.Background(), "exec done")
			out, err := c.Exec(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newShellCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session; one command per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			return runShell(cmd.Context(), c, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// runShell executes lines from in until EOF or exit. Command failures are
// printed and the session continues; transport failures end it.
func runShell(ctx context.Context, c *client.Client, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "exit", "quit":
			return c.Disconnect(ctx, "shell exit")
		default:
			res, err := c.Exec(ctx, line)
			var fe *fault.Error
			switch {
			case err == nil:
				fmt.Fprintln(out, res)
			case errors.As(err, &fe):
				fmt.Fprintf(out, "error [%s]: %s\n", fe.Kind, fault.MessageOf(fe))
			default:
				return err
			}
		}
		fmt.Fprint(out, "> ")
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return c.Disconnect(ctx, "shell eof")
}
