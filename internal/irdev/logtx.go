package irdev

import (
	"log"

	"github.com/adumbdinosaur/irbridge/internal/ircode"
)

// LogTransmitter only logs what it would send.
type LogTransmitter struct{}

func (LogTransmitter) Transmit(cmd ircode.ProtocolCommand) error {
	log.Printf("IR: [dry-run] would send %s", cmd)
	return nil
}

func (LogTransmitter) Close() error { return nil }
