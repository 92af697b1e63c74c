// Command scmon connects to a debug agent over a serial port, records the
// device log stream and performs one-shot memory and register transfers.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"github.com/serialdbg/scagent/client"
	"github.com/serialdbg/scagent/driver/serial"
	proto "github.com/serialdbg/scagent/protocol"
)

type config struct {
	Serial serial.Config `yaml:"serial"`
	DB     string        `yaml:"db"`
}

func loadConfig(path string) (config, error) {
	cfg := config{
		Serial: serial.Config{Port: "/dev/ttyUSB0", Baud: 115200},
		DB:     "scmon.db",
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

const initSQL = `
CREATE TABLE IF NOT EXISTS device_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_ms INTEGER NOT NULL,
	msg TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS beacons (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_ms INTEGER NOT NULL,
	count INTEGER NOT NULL
);
`

// logStore persists the device notification stream.
type logStore struct {
	db *sql.DB
}

func openLogStore(name string) (*logStore, error) {
	db, err := sql.Open("sqlite3", name)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(initSQL); err != nil {
		db.Close()
		return nil, err
	}
	return &logStore{db: db}, nil
}

func (s *logStore) Close() error { return s.db.Close() }

func (s *logStore) AddLog(deviceMs uint32, msg string) error {
	_, err := s.db.Exec("INSERT INTO device_log (device_ms, msg) VALUES (?, ?)", deviceMs, msg)
	return err
}

func (s *logStore) AddBeacon(deviceMs uint32, count uint32) error {
	_, err := s.db.Exec("INSERT INTO beacons (device_ms, count) VALUES (?, ?)", deviceMs, count)
	return err
}

func parseNum(s string) (uint64, error) {
	return strconv.ParseUint(s, 0, 64)
}

// parsePair splits "a<sep>b" and parses both halves as numbers, accepting
// the 0x prefix.
func parsePair(s, sep string) (uint64, uint64, error) {
	i := strings.Index(s, sep)
	if i < 0 {
		return 0, 0, fmt.Errorf("missing %q in %q", sep, s)
	}
	a, err := parseNum(s[:i])
	if err != nil {
		return 0, 0, err
	}
	b, err := parseNum(s[i+len(sep):])
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	port := flag.String("port", "", "serial port, overrides the configuration")
	peek := flag.String("peek", "", "read a local register once, e.g. -peek 0x03010424")
	poke := flag.String("poke", "", "write a local register once, e.g. -poke 0x03010424=0x101")
	width := flag.Uint("width", 4, "register access width in bytes (1, 2, 4 or 8)")
	dump := flag.String("dump", "", "dump local memory once, e.g. -dump 0x3c000+256")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}

	store, err := openLogStore(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.DB).Msg("opening log store")
	}
	defer store.Close()

	tr, err := serial.Open(cfg.Serial)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Serial.Port).Msg("opening serial port")
	}
	defer tr.Close()

	c := client.New(tr,
		client.WithLogger(log),
		client.WithIdle(func() { time.Sleep(time.Millisecond) }),
		client.WithLogHandler(func(deviceMs uint32, msg string) {
			log.Info().Uint32("device_ms", deviceMs).Msg(msg)
			if err := store.AddLog(deviceMs, msg); err != nil {
				log.Warn().Err(err).Msg("storing device log")
			}
		}),
		client.WithBeaconHandler(func(deviceMs uint32, b proto.Beacon) {
			log.Debug().Uint32("device_ms", deviceMs).Uint32("count", b.Count).Msg("beacon")
			if err := store.AddBeacon(deviceMs, b.Count); err != nil {
				log.Warn().Err(err).Msg("storing beacon")
			}
		}),
	)

	if err := c.Connect(5 * proto.BeaconInterval); err != nil {
		log.Fatal().Err(err).Msg("connecting")
	}
	info := c.Info()
	log.Info().
		Uint32("max_pdu", info.MaxPDU).
		Str("scratch", fmt.Sprintf("%#x+%#x", info.ScratchAddr, info.ScratchSize)).
		Msg("agent capabilities")

	switch {
	case *peek != "":
		addr, err := parseNum(*peek)
		if err != nil {
			log.Fatal().Err(err).Msg("parsing -peek address")
		}
		val, err := c.ReadLocalReg(uint32(addr), uint32(*width))
		if err != nil {
			log.Fatal().Err(err).Msg("register read")
		}
		fmt.Printf("%#08x: %#x\n", addr, val)

	case *poke != "":
		addr, val, err := parsePair(*poke, "=")
		if err != nil {
			log.Fatal().Err(err).Msg("parsing -poke argument")
		}
		if err := c.WriteLocalReg(uint32(addr), uint32(*width), val); err != nil {
			log.Fatal().Err(err).Msg("register write")
		}

	case *dump != "":
		addr, count, err := parsePair(*dump, "+")
		if err != nil {
			log.Fatal().Err(err).Msg("parsing -dump argument")
		}
		buf := make([]byte, count)
		if err := c.ReadLocalMem(uint32(addr), buf); err != nil {
			log.Fatal().Err(err).Msg("memory read")
		}
		for off := 0; off < len(buf); off += 16 {
			end := off + 16
			if end > len(buf) {
				end = len(buf)
			}
			fmt.Printf("%#08x: % x\n", addr+uint64(off), buf[off:end])
		}

	default:
		// No one-shot operation: stream the device log.
		log.Info().Msg("streaming device log, interrupt to stop")
		if err := c.Pump(proto.IndefiniteWait); err != nil {
			log.Fatal().Err(err).Msg("log stream")
		}
	}
}
