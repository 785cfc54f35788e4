package communication

import (
	"encoding/json"
	"fmt"

	tmlog "github.com/cometbft/cometbft/libs/log"
	"github.com/nats-io/nats.go"
)

// Subjects published by the sync service.
const (
	SubjectSyncState     = "persona.sync.state"
	SubjectUploadPrefix  = "persona.upload."
	SubjectRestorePrefix = "persona.restore."
)

// Messenger encapsulates a NATS connection.
type Messenger struct {
	NC     *nats.Conn
	logger tmlog.Logger
}

// NewMessenger creates a new instance of Messenger.
func NewMessenger(url string, logger tmlog.Logger) (*Messenger, error) {
	if logger == nil {
		logger = tmlog.NewNopLogger()
	}
	logger = logger.With("module", "nats")

	nc, err := nats.Connect(url,
		nats.Name("personad"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &Messenger{NC: nc, logger: logger}, nil
}

// PublishGlobal publishes a raw message to a subject.
func (m *Messenger) PublishGlobal(subject string, message []byte) error {
	return m.NC.Publish(subject, message)
}

// PublishJSON marshals v and publishes it to subject.
func (m *Messenger) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", subject, err)
	}
	return m.NC.Publish(subject, data)
}

// SubscribeGlobal subscribes to a subject. Wildcards are allowed.
func (m *Messenger) SubscribeGlobal(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	return m.NC.Subscribe(subject, handler)
}

// Close drains pending publishes and closes the connection.
func (m *Messenger) Close() {
	if err := m.NC.Drain(); err != nil {
		m.logger.Error("NATS drain failed", "err", err)
		m.NC.Close()
	}
}
