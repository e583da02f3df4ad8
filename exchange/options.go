package exchange

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/edgelesssys/go-attest-coap/attesterr"
	"github.com/edgelesssys/go-attest-coap/coap"
)

// Action is a logical attestation request.
type Action uint8

const (
	// ActionChallenge requests a fresh attestation challenge.
	ActionChallenge Action = iota + 1
	// ActionReset resets the device's attestation state on the server.
	ActionReset
	// ActionAuth submits the signed challenge response.
	ActionAuth
	// ActionActivate activates the attested device.
	ActionActivate
)

var actionPaths = map[Action]string{
	ActionChallenge: "attest/v1/challenge",
	ActionReset:     "attest/v1/reset",
	ActionAuth:      "attest/v1/auth",
	ActionActivate:  "attest/v1/activate",
}

// Path returns the URI path template of the action, or "" for an unknown action.
func (a Action) Path() string {
	return actionPaths[a]
}

func (a Action) String() string {
	switch a {
	case ActionChallenge:
		return "challenge"
	case ActionReset:
		return "reset"
	case ActionAuth:
		return "auth"
	case ActionActivate:
		return "activate"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// ParseAction returns the action named s.
func ParseAction(s string) (Action, error) {
	for action := range actionPaths {
		if action.String() == strings.ToLower(s) {
			return action, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q, expected one of challenge, reset, auth, activate", s)
}

// ClientID derives the client-id option value from a device UDID:
// the hex encoded SHA-256 digest of the lower-cased UDID.
func ClientID(udid string) (string, error) {
	if udid == "" {
		return "", attesterr.New(attesterr.Argument, "client id", errors.New("empty UDID"))
	}
	digest := sha256.Sum256([]byte(strings.ToLower(udid)))
	return strings.ToLower(hex.EncodeToString(digest[:])), nil
}

// NewRequestID returns a random correlation id of 16 hex characters.
func NewRequestID() (string, error) {
	var id [8]byte
	if _, err := rand.Read(id[:]); err != nil {
		return "", fmt.Errorf("generating request id: %w", err)
	}
	return hex.EncodeToString(id[:]), nil
}

// BuildOptions returns the options of one request in wire order: URI-Host, one URI-Path
// per segment of the action's path, request id, client id and app id.
func BuildOptions(host string, action Action, requestID, udid, appID string) ([]coap.Option, error) {
	if host == "" {
		return nil, attesterr.New(attesterr.Argument, "build options", errors.New("empty host"))
	}
	path := action.Path()
	if path == "" {
		return nil, attesterr.New(attesterr.Argument, "build options", fmt.Errorf("unknown action %d", action))
	}
	if requestID == "" {
		return nil, attesterr.New(attesterr.Argument, "build options", errors.New("empty request id"))
	}
	if appID == "" {
		return nil, attesterr.New(attesterr.Argument, "build options", errors.New("empty app id"))
	}
	clientID, err := ClientID(udid)
	if err != nil {
		return nil, err
	}

	segments := strings.Split(path, "/")
	opts := make([]coap.Option, 0, len(segments)+4)
	opts = append(opts, coap.Option{Number: coap.OptionURIHost, Value: []byte(host)})
	for _, segment := range segments {
		opts = append(opts, coap.Option{Number: coap.OptionURIPath, Value: []byte(segment)})
	}
	opts = append(opts,
		coap.Option{Number: coap.OptionRequestID, Value: []byte(requestID)},
		coap.Option{Number: coap.OptionClientID, Value: []byte(clientID)},
		coap.Option{Number: coap.OptionAppID, Value: []byte(appID)},
	)
	return opts, nil
}
