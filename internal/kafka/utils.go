package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ntentasd/acuamon-api/internal/ingest"
)

var errMalformed = errors.New("malformed reading")

func newConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	cfg.ClientID = clientID
	return cfg
}

// DecodeReading parses a readings message. The message key names the unit
// when the payload does not.
func DecodeReading(key, value []byte) (ingest.Payload, error) {
	var p ingest.Payload
	if err := json.Unmarshal(value, &p); err != nil {
		return ingest.Payload{}, fmt.Errorf("%w: %w", errMalformed, err)
	}
	if strings.TrimSpace(p.Unit) == "" && strings.TrimSpace(p.UnitID) == "" {
		p.Unit = strings.TrimSpace(string(key))
	}
	return p, nil
}
