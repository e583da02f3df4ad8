package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/edgelesssys/go-attest-coap/coap"
	"github.com/spf13/cobra"
)

type decodedOption struct {
	Number uint16 `json:"number"`
	Name   string `json:"name"`
	Value  string `json:"value"`
}

type decodedMessage struct {
	Code       string          `json:"code"`
	Token      string          `json:"token"`
	Options    []decodedOption `json:"options,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	PayloadHex string          `json:"payloadHex,omitempty"`
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode [hex-frame]",
		Short: "Decode a hex encoded CoAP frame and print it as JSON",
		Long:  "Decode a hex encoded CoAP frame. Without an argument the frame is read from stdin. Whitespace is ignored.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input string
			if len(args) == 1 {
				input = args[0]
			} else {
				raw, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4*coap.MaxMessageSize))
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				input = string(raw)
			}

			frame, err := hex.DecodeString(strings.Map(dropSpace, input))
			if err != nil {
				return fmt.Errorf("decoding hex: %w", err)
			}
			msg, err := coap.ParseMessage(frame)
			if err != nil {
				return err
			}

			prettyPrint, err := json.MarshalIndent(describe(msg), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(prettyPrint))
			return nil
		},
	}
}

func describe(msg coap.Message) decodedMessage {
	out := decodedMessage{
		Code:  msg.Code.String(),
		Token: hex.EncodeToString(msg.Token),
	}
	for _, opt := range msg.Options {
		out.Options = append(out.Options, decodedOption{
			Number: uint16(opt.Number),
			Name:   opt.Number.String(),
			Value:  printable(opt.Value),
		})
	}
	if len(msg.Payload) > 0 {
		if json.Valid(msg.Payload) {
			out.Payload = msg.Payload
		} else {
			out.PayloadHex = hex.EncodeToString(msg.Payload)
		}
	}
	return out
}

// printable returns v as text if it is printable UTF-8, hex encoded otherwise.
func printable(v []byte) string {
	if !utf8.Valid(v) {
		return hex.EncodeToString(v)
	}
	for _, r := range string(v) {
		if !unicode.IsPrint(r) {
			return hex.EncodeToString(v)
		}
	}
	return string(v)
}

func dropSpace(r rune) rune {
	if unicode.IsSpace(r) {
		return -1
	}
	return r
}
