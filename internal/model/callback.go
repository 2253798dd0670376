package model

import (
	"fmt"
	"strings"
)

// callbackPrefix is the discriminator the chat platform echoes back verbatim
// when an administrator taps a decision control: "pay:{token}:{approve|reject}".
const callbackPrefix = "pay"

type DecisionCallback struct {
	Token    string
	Decision Decision
}

// ParseDecisionCallback decodes raw callback data at the transport boundary.
// Anything that is not exactly a pay callback with a known action is a parse
// error; handlers never match on raw strings themselves.
func ParseDecisionCallback(data string) (DecisionCallback, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != callbackPrefix {
		return DecisionCallback{}, fmt.Errorf("malformed decision callback %q", data)
	}
	if parts[1] == "" {
		return DecisionCallback{}, fmt.Errorf("decision callback has empty token")
	}
	switch Decision(parts[2]) {
	case DecisionApprove, DecisionReject:
		return DecisionCallback{Token: parts[1], Decision: Decision(parts[2])}, nil
	default:
		return DecisionCallback{}, fmt.Errorf("unknown decision action %q", parts[2])
	}
}

// CallbackData renders the callback string handed to the chat platform when
// a decision prompt is sent.
func CallbackData(token string, d Decision) string {
	return fmt.Sprintf("%s:%s:%s", callbackPrefix, token, d)
}
