package uuidutil

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// MQTT 3.1 brokers only have to accept client ids up to this length.
const maxClientID = 23

var escaper = strings.NewReplacer("9", "99", "-", "90", "_", "91")

// ShortID is a random id safe to use in URLs, topics and log lines.
func ShortID() string {
	id := uuid.New()
	return escaper.Replace(base64.RawURLEncoding.EncodeToString(id[:]))
}

// ClientID returns prefix joined with eight random hex digits. prefix is
// cut so the result always fits an MQTT 3.1 client id.
func ClientID(prefix string) string {
	id := uuid.New()
	suffix := hex.EncodeToString(id[:4])
	if max := maxClientID - len(suffix) - 1; len(prefix) > max {
		prefix = prefix[:max]
	}
	return prefix + "-" + suffix
}
