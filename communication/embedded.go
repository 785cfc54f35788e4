package communication

import (
	"errors"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// RunEmbeddedServer starts an in-process NATS server with JetStream enabled.
// port -1 picks a random free port.
func RunEmbeddedServer(host string, port int, storeDir string) (*server.Server, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "personad",
		Host:       host,
		Port:       port,
		JetStream:  true,
		StoreDir:   storeDir,
		NoSigs:     true,
	})
	if err != nil {
		return nil, err
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("embedded NATS server did not become ready")
	}
	return ns, nil
}
