package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/edgelesssys/go-attest-coap/exchange"
	"github.com/edgelesssys/go-attest-coap/netconfig"
	"github.com/spf13/cobra"
)

type sendFlags struct {
	body     string
	bodyFile string
	servers  string
}

func newSendCmd(root *rootFlags) *cobra.Command {
	flags := &sendFlags{}

	cmd := &cobra.Command{
		Use:   "send <challenge|reset|auth|activate>",
		Short: "Send one attestation request and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := exchange.ParseAction(args[0])
			if err != nil {
				return err
			}
			body, err := flags.readBody()
			if err != nil {
				return err
			}

			cfg := root.cfg
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			var source exchange.ServerSource
			if flags.servers != "" {
				servers, err := netconfig.Parse([]byte(flags.servers), cfg.MaxServers)
				if err != nil {
					return fmt.Errorf("parsing --servers: %w", err)
				}
				source = exchange.StaticServers(servers)
			}
			client, err := cfg.Client(source)
			if err != nil {
				return err
			}

			req := exchange.Request{Action: action}
			if body != nil {
				req.Body = body
			}
			resp, err := client.Do(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			status := successStyle
			if resp.Code.IsError() {
				status = failureStyle
			}
			fmt.Fprintf(out, "%s %s\n", status.Render(resp.Code.String()), dimStyle.Render(fmt.Sprintf("token %x", resp.Token)))
			fmt.Fprintln(out, string(resp.Payload))

			if resp.Code.IsError() {
				return fmt.Errorf("server answered %s", resp.Code)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.body, "body", "", "JSON request body")
	cmd.Flags().StringVar(&flags.bodyFile, "body-file", "", "file holding the JSON request body")
	cmd.Flags().StringVar(&flags.servers, "servers", "", "semicolon-delimited host:port list overriding the network config")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")
	return cmd
}

// readBody returns the request body, or nil when none was given.
func (f *sendFlags) readBody() (json.RawMessage, error) {
	raw := []byte(f.body)
	if f.bodyFile != "" {
		var err error
		raw, err = os.ReadFile(f.bodyFile)
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
