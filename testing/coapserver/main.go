// coapserver runs an echo attestation server for manual tests with attestctl.
// It mints a fresh CA on every start and writes it to -ca-out.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/edgelesssys/go-attest-coap/coap"
	"github.com/edgelesssys/go-attest-coap/coaptest"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5684", "listen address")
	caOut := flag.String("ca-out", "ca.pem", "file the CA certificate is written to")
	expired := flag.Bool("expired", false, "serve a certificate that expired an hour ago")
	flag.Parse()

	if err := run(*addr, *caOut, *expired); err != nil {
		panic(err)
	}
}

func run(addr, caOut string, expired bool) error {
	now := time.Now()
	ca, err := coaptest.NewCA("coapserver CA", now.AddDate(0, 0, -1), now.AddDate(1, 0, 0))
	if err != nil {
		return err
	}
	notBefore, notAfter := now.Add(-time.Hour), now.AddDate(0, 1, 0)
	if expired {
		notBefore, notAfter = now.Add(-2*time.Hour), now.Add(-time.Hour)
	}
	cert, err := ca.Issue(notBefore, notAfter, "localhost", "127.0.0.1")
	if err != nil {
		return err
	}
	if err := os.WriteFile(caOut, ca.PEM(), 0o644); err != nil {
		return err
	}

	server, err := coaptest.NewServerAt(addr, cert, func(req coap.Message) (coap.Message, error) {
		path := req.OptionValues(coap.OptionURIPath)
		segments := make([]string, 0, len(path))
		for _, segment := range path {
			segments = append(segments, string(segment))
		}
		clientID, _ := req.Option(coap.OptionClientID)
		slog.Info("request", "code", req.Code, "token", hex.EncodeToString(req.Token), "path", segments,
			"clientID", string(clientID), "payload", string(req.Payload))
		return coaptest.Echo(req)
	})
	if err != nil {
		return err
	}
	slog.Info("listening", "addr", server.Addr().String(), "ca", caOut)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-ctx.Done()

	return server.Close()
}
