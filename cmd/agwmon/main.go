// Command agwmon is a small CLI demonstrating agw.Server: it connects to
// an AGWPE TNC, registers the configured call signs, logs each inbound
// connection and every Server error, and echoes each inbound connection's
// data back to the sender. It does not serve the status page.
package main

import (
	"io"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	"github.com/n0call/agwgo/agw"
	"github.com/n0call/agwgo/ax25conn"
)

// waitSigint blocks the current goroutine until a SIGINT arrives.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	cfg, err := agw.LoadConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to parse config")
	}

	agw.ConfigureLogging(cfg.Logging)
	if stop, watchErr := agw.WatchLogging(os.Args[1], agw.ConfigureLogging); watchErr == nil {
		defer stop()
	} else {
		log.WithError(watchErr).Warn("Live log-level reload disabled")
	}

	opts := []agw.Option{}
	if cfg.TNC.FrameLength > 0 {
		opts = append(opts, agw.WithFrameLength(cfg.TNC.FrameLength))
	}
	if cfg.TNC.ID != "" {
		opts = append(opts, agw.WithID(cfg.TNC.ID))
	}
	if cfg.Compat.DirewolfPortDoubling {
		opts = append(opts, agw.WithPortCountDoubling())
	}

	server := agw.NewServer(cfg.TNC.Host, cfg.TNC.Port, opts...)

	if cfg.Heard.Store != "" {
		heard, heardErr := agw.NewPersistedHeardLog(cfg.Heard.Store)
		if heardErr != nil {
			log.WithError(heardErr).Warn("Failed to open heard-station store, continuing without it")
		} else {
			server.WithHeardLog(heard)
			defer heard.Close()
		}
	}

	server.OnInboundConnect = func(c *ax25conn.Conn) {
		log.WithFields(log.Fields{
			"local":  c.LocalAddress(),
			"remote": c.RemoteAddress(),
			"port":   c.TNCPort(),
		}).Info("Inbound connection")

		go echoConnection(c)
	}

	go func() {
		for err := range server.Errors() {
			log.WithError(err).Warn("Server error")
		}
	}()

	ports, err := server.Listen(agw.ListenOptions{
		Calls: cfg.Listen.Calls,
		Ports: cfg.Listen.PortBytes(),
	})
	if err != nil {
		log.WithError(err).Fatal("Listen failed")
	}
	log.WithField("ports", ports).Info("Listening")

	waitSigint()
	log.Info("Shutting down..")

	if err := server.Close(); err != nil {
		log.WithError(err).Warn("Close errored")
	}
}

// echoConnection reads everything an inbound connection sends and writes
// it straight back, as a minimal demonstration of using a Connection as
// an io.ReadWriteCloser.
func echoConnection(c *ax25conn.Conn) {
	defer c.Close()

	buf := make([]byte, 256)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			if _, writeErr := c.Write(buf[:n]); writeErr != nil {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Debug("Connection read errored")
			}
			return
		}
	}
}

