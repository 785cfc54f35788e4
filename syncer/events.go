package syncer

import (
	tmlog "github.com/cometbft/cometbft/libs/log"

	"github.com/NethermindEth/chaoschain-persona/communication"
)

// Publisher is satisfied by *communication.Messenger.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Broadcaster is satisfied by *communication.WebSocketManager.
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// Notifier fans sync events out to NATS and websocket clients. Either side
// may be nil. Delivery failures are logged and never reach the pool.
type Notifier struct {
	pub    Publisher
	bc     Broadcaster
	logger tmlog.Logger
}

func NewNotifier(pub Publisher, bc Broadcaster, logger tmlog.Logger) *Notifier {
	if logger == nil {
		logger = tmlog.NewNopLogger()
	}
	return &Notifier{pub: pub, bc: bc, logger: logger.With("module", "notifier")}
}

func (n *Notifier) publish(subject string, v any) {
	if n == nil || n.pub == nil {
		return
	}
	if err := n.pub.PublishJSON(subject, v); err != nil {
		n.logger.Error("Failed to publish event", "subject", subject, "err", err)
	}
}

func (n *Notifier) broadcast(eventType string, v any) {
	if n == nil || n.bc == nil {
		return
	}
	n.bc.BroadcastEvent(eventType, v)
}

func (n *Notifier) task(ev Event) {
	n.publish(communication.SubjectUploadPrefix+ev.State, ev)
	n.broadcast(communication.EventUploadOutcome, ev)
}

func (n *Notifier) restore(ev RestoreEvent) {
	n.publish(communication.SubjectRestorePrefix+ev.Outcome, ev)
	n.broadcast(communication.EventRestoreOutcome, ev)
}

// State publishes a state snapshot; install it with StateHolder.Observe.
func (n *Notifier) State(s SyncState) {
	n.publish(communication.SubjectSyncState, s)
	n.broadcast(communication.EventSyncState, s)
}

func (n *Notifier) wiped(owner string) {
	n.broadcast(communication.EventProfileWiped, map[string]string{"owner": owner})
}
