// Command scagentd runs the debug agent on a host machine, backing the
// device address spaces with in-memory buses. It exists for protocol
// development and for exercising host tooling without target hardware.
package main

import (
	"bytes"
	"flag"
	"io/ioutil"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"github.com/serialdbg/scagent/agent"
	"github.com/serialdbg/scagent/client"
	"github.com/serialdbg/scagent/clock"
	"github.com/serialdbg/scagent/driver/serial"
	"github.com/serialdbg/scagent/driver/stub"
	"github.com/serialdbg/scagent/hw"
	proto "github.com/serialdbg/scagent/protocol"
)

type config struct {
	Serial serial.Config `yaml:"serial"`

	// Loopback runs the agent against an in-process client instead of a
	// serial port, as a self-test of the whole protocol stack.
	Loopback bool `yaml:"loopback"`

	Sockets          uint32 `yaml:"sockets"`
	SubDevsPerSocket uint32 `yaml:"subdevs_per_socket"`
}

func loadConfig(path string) (config, error) {
	cfg := config{
		Serial:           serial.Config{Port: "/dev/ttyUSB0", Baud: 115200},
		Sockets:          1,
		SubDevsPerSocket: 1,
	}
	if path == "" {
		return cfg, nil
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	port := flag.String("port", "", "serial port, overrides the configuration")
	loopback := flag.Bool("loopback", false, "run against an in-process client instead of a serial port")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *loopback {
		cfg.Loopback = true
	}

	if cfg.Loopback {
		runLoopback(log, cfg)
		return
	}

	tr, err := serial.Open(cfg.Serial)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Serial.Port).Msg("opening serial port")
	}
	defer tr.Close()

	log.Info().
		Str("port", cfg.Serial.Port).
		Uint("baud", cfg.Serial.Baud).
		Uint32("sockets", cfg.Sockets).
		Msg("agent starting")

	a := agent.New(agent.Config{
		Transport:        tr,
		Bus:              hw.NewMemBus(),
		Counter:          clock.NewWallCounter(),
		Sockets:          cfg.Sockets,
		SubDevsPerSocket: cfg.SubDevsPerSocket,
		Idle:             func() { time.Sleep(time.Millisecond) },
	})
	if err := a.Run(); err != nil {
		log.Fatal().Err(err).Msg("agent stopped")
	}
}

// runLoopback wires the agent to an in-process client over a byte pipe and
// exercises one transfer of each kind against the simulated buses.
func runLoopback(log zerolog.Logger, cfg config) {
	devEnd, hostEnd := stub.NewPipe()
	a := agent.New(agent.Config{
		Transport:        devEnd,
		Bus:              hw.NewMemBus(),
		Counter:          clock.NewWallCounter(),
		Sockets:          cfg.Sockets,
		SubDevsPerSocket: cfg.SubDevsPerSocket,
		Idle:             func() { time.Sleep(time.Millisecond) },
	})
	go func() {
		if err := a.Run(); err != nil {
			log.Fatal().Err(err).Msg("loopback agent stopped")
		}
	}()

	c := client.New(hostEnd,
		client.WithLogger(log),
		client.WithIdle(func() { time.Sleep(time.Millisecond) }),
	)
	if err := c.Connect(5 * proto.BeaconInterval); err != nil {
		log.Fatal().Err(err).Msg("loopback connect")
	}
	info := c.Info()
	log.Info().Uint32("max_pdu", info.MaxPDU).Msg("loopback connected")

	data := []byte("loopback self-test")
	if err := c.WriteLocalMem(info.ScratchAddr, data); err != nil {
		log.Fatal().Err(err).Msg("local memory write")
	}
	back := make([]byte, len(data))
	if err := c.ReadLocalMem(info.ScratchAddr, back); err != nil {
		log.Fatal().Err(err).Msg("local memory read")
	}
	if !bytes.Equal(back, data) {
		log.Fatal().Msg("local memory round trip mismatch")
	}

	if err := c.WriteLocalReg(0x03011000, 4, 0x12345678); err != nil {
		log.Fatal().Err(err).Msg("local register write")
	}
	if v, err := c.ReadLocalReg(0x03011000, 4); err != nil || v != 0x12345678 {
		log.Fatal().Err(err).Uint64("value", v).Msg("local register round trip")
	}

	if err := c.WriteSysReg(0x04600000, 4, 0xa5a5a5a5); err != nil {
		log.Fatal().Err(err).Msg("system-bus register write")
	}
	if v, err := c.ReadSysReg(0x04600000, 4); err != nil || v != 0xa5a5a5a5 {
		log.Fatal().Err(err).Uint64("value", v).Msg("system-bus register round trip")
	}

	if err := c.WriteHostMem(0x1_0000_0000, data); err != nil {
		log.Fatal().Err(err).Msg("host memory write")
	}
	if err := c.ReadHostMem(0x1_0000_0000, back); err != nil {
		log.Fatal().Err(err).Msg("host memory read")
	}
	if !bytes.Equal(back, data) {
		log.Fatal().Msg("host memory round trip mismatch")
	}

	if v, err := c.ReadHostReg(0x2_0000_0000, 8); err != nil {
		log.Fatal().Err(err).Msg("host register read")
	} else if v != 0 {
		log.Fatal().Uint64("value", v).Msg("untouched host register not zero")
	}

	log.Info().Msg("loopback self-test passed")
}
