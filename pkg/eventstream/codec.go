package eventstream

import (
	"encoding/json"
	"fmt"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/contracts"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/errors"
)

// Envelope is the payload of one broker message.
type Envelope struct {
	Tenant  string                 `json:"tenant"`
	Event   contracts.MessageEvent `json:"event"`
	Indexes contracts.KeyValues    `json:"indexes"`
}

// Encode serializes env as JSON. Map keys are emitted in sorted order, so equal
// envelopes produce equal bytes.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode envelope")
	}
	return data, nil
}

// Decode parses a broker payload. Unparseable payloads and payloads without a
// tenant yield a *errors.DecodeError.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.NewDecodeError(data, err)
	}
	if env.Tenant == "" {
		return Envelope{}, errors.NewDecodeError(data, fmt.Errorf("envelope has no tenant"))
	}
	return env, nil
}
