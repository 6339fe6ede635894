package main

import (
	"context"
	"fmt"
	"log"

	"github.com/adumbdinosaur/irbridge/internal/config"
	"github.com/adumbdinosaur/irbridge/internal/irdev"
	irlog "github.com/adumbdinosaur/irbridge/internal/logging"
	"github.com/adumbdinosaur/irbridge/internal/reactor"
	"github.com/adumbdinosaur/irbridge/internal/session"
)

// receiver is what every IR receive backend provides.
type receiver interface {
	reactor.Receiver
	Run(ctx context.Context) error
	Dropped() uint64
	Close() error
}

// transmitter is what every IR transmit backend provides.
type transmitter interface {
	session.Transmitter
	Close() error
}

func openReceiver(cfg config.ReceiverConfig) (receiver, error) {
	switch cfg.Driver {
	case config.DriverLIRC:
		return irdev.NewLircReceiver(cfg.Device)
	case config.DriverEvdev:
		return irdev.NewEvdevReceiver(cfg.Device, cfg.Protocol, cfg.RepeatWindow)
	case config.DriverNone:
		return irdev.NewCapture(), nil
	}
	return nil, fmt.Errorf("unknown receiver driver %q", cfg.Driver)
}

func openTransmitter(cfg config.TransmitterConfig) (transmitter, error) {
	switch cfg.Driver {
	case config.DriverLIRC:
		return irdev.NewLircTransmitter(cfg.Device)
	case config.DriverSerial:
		return irdev.NewSerialTransmitter(cfg.Device, cfg.Baud)
	case config.DriverLog:
		return irdev.LogTransmitter{}, nil
	}
	return nil, fmt.Errorf("unknown transmitter driver %q", cfg.Driver)
}

// openDevices falls back to the idle receiver and the log transmitter so a
// missing IR device never keeps the session side from coming up.
func openDevices(cfg config.IRConfig, dryRun bool) (receiver, transmitter) {
	if dryRun {
		log.Println("[DRY-RUN] IR devices disabled (idle receiver, log transmitter)")
		return irdev.NewCapture(), irdev.LogTransmitter{}
	}

	rx, err := openReceiver(cfg.Receiver)
	if err != nil {
		log.Printf("IR receiver initialization warning (receive disabled): %v", err)
		rx = irdev.NewCapture()
	} else {
		log.Printf("IR: receiver %s ready on %q", cfg.Receiver.Driver, cfg.Receiver.Device)
	}

	tx, err := openTransmitter(cfg.Transmitter)
	if err != nil {
		log.Printf("IR transmitter initialization warning (logging only): %v", err)
		tx = irdev.LogTransmitter{}
	} else {
		log.Printf("IR: transmitter %s ready on %q", cfg.Transmitter.Driver, cfg.Transmitter.Device)
	}
	return rx, tx
}

// runReceiver keeps a receive fault from stopping the bridge.  The fault is
// logged and receive stays disabled, the same as a receiver that failed to
// open; sessions and transmit carry on.
func runReceiver(ctx context.Context, rx receiver) error {
	err := rx.Run(ctx)
	if err != nil && ctx.Err() == nil {
		log.Printf("IR receiver fault (receive disabled): %v", err)
		irlog.LogEvent("IR", "RECEIVER_FAULT", err.Error())
	}
	return nil
}
