// Package config parses the command line (and optional YAML file)
// into a validated Config, per spec.md §6's flag table plus
// SPEC_FULL.md's additive YAML/announce/GPIO/debug-dump flags.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// version is printed by -v, per SPEC_FULL.md supplemented feature #1.
const version = "osc2dmx 0.1.0"

// Config is the fully-resolved, validated configuration the
// Supervisor is built from.
type Config struct {
	VID           uint16
	PID           uint16
	Description   string
	Serial        string
	FPS           int
	ListenURI     string
	IngressPrio   int
	EmitterPrio   int
	AutoReconnect bool
	Debug         bool
	Announce      bool
	GPIOChip      string
	GPIOLine      int
	DebugDump     string
}

// fileOverlay is the shape of the optional YAML config file
// (-c/--config-file): flags always win over these, per SPEC_FULL.md's
// AMBIENT STACK section.
type fileOverlay struct {
	VID         string `yaml:"vid"`
	PID         string `yaml:"pid"`
	Description string `yaml:"description"`
	Serial      string `yaml:"serial"`
	FPS         int    `yaml:"fps"`
	ListenURI   string `yaml:"listen_uri"`
}

// Parse parses args (normally os.Args[1:]) into a Config. For -v or -h
// it returns the text to print with exit set to true rather than
// exiting itself, so main() stays the only place that calls os.Exit.
// A flag-syntax error is also returned with exit set to true.
func Parse(args []string) (cfg Config, printed string, exit bool, err error) {
	fs := pflag.NewFlagSet("osc2dmx", pflag.ContinueOnError)
	fs.Usage = func() {} // we print our own usage text below

	vid := fs.StringP("vid", "V", "0403", "USB vendor ID (hex)")
	pid := fs.StringP("pid", "P", "6001", "USB product ID (hex)")
	desc := fs.StringP("description", "D", "", "USB product description to match")
	serial := fs.StringP("serial", "S", "", "USB device serial number to match")
	fps := fs.IntP("fps", "F", 30, "DMX frame rate")
	listenURI := fs.StringP("listen", "U", "osc.udp://:6666", "OSC listen URI")
	ingressPrio := fs.IntP("ingress-priority", "I", 0, "Real-time priority of the ingress goroutine (0 = don't change)")
	emitterPrio := fs.IntP("emitter-priority", "O", 0, "Real-time priority of the emitter goroutine (0 = don't change)")
	autoReconnect := fs.BoolP("auto-reconnect", "A", false, "Reinitialise and retry after a fatal DMX link error")
	debug := fs.BoolP("debug", "d", false, "Verbose logging")
	showVersion := fs.BoolP("version", "v", false, "Print version and exit")
	showHelp := fs.BoolP("help", "h", false, "Print usage and exit")
	configFile := fs.StringP("config-file", "c", "", "Optional YAML file providing defaults for vid/pid/description/serial/fps/listen")
	announce := fs.Bool("announce", true, "Advertise the OSC listener via mDNS/DNS-SD")
	gpioChip := fs.String("gpio-chip", "", "Optional GPIO chip for a transceiver-enable line (e.g. gpiochip0)")
	gpioLine := fs.Int("gpio-line", -1, "Optional GPIO line number for a transceiver-enable line")
	debugDump := fs.String("debug-dump", "", "strftime(3) pattern for an optional per-run debug dump file")

	if err := fs.Parse(args); err != nil {
		return Config{}, "", true, err
	}

	if *showVersion {
		return Config{}, version, true, nil
	}

	if *showHelp {
		return Config{}, usageText(fs), true, nil
	}

	cfg = Config{
		Description:   *desc,
		Serial:        *serial,
		FPS:           *fps,
		ListenURI:     *listenURI,
		IngressPrio:   *ingressPrio,
		EmitterPrio:   *emitterPrio,
		AutoReconnect: *autoReconnect,
		Debug:         *debug,
		Announce:      *announce,
		GPIOChip:      *gpioChip,
		GPIOLine:      *gpioLine,
		DebugDump:     *debugDump,
	}

	if cfg.VID, err = parseHex16(*vid); err != nil {
		return Config{}, "", false, fmt.Errorf("config: parsing -V: %w", err)
	}

	if cfg.PID, err = parseHex16(*pid); err != nil {
		return Config{}, "", false, fmt.Errorf("config: parsing -P: %w", err)
	}

	if *configFile != "" {
		if err := applyFileOverlay(&cfg, *configFile, fs); err != nil {
			return Config{}, "", false, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, "", false, err
	}

	return cfg, "", false, nil
}

func (c Config) validate() error {
	if c.FPS <= 0 {
		return fmt.Errorf("config: fps must be positive, got %d", c.FPS)
	}

	if (c.GPIOChip == "") != (c.GPIOLine < 0) {
		return fmt.Errorf("config: --gpio-chip and --gpio-line must be given together")
	}

	return nil
}

func parseHex16(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}

	return uint16(n), nil
}

// applyFileOverlay loads path as YAML and fills in any field the user
// didn't explicitly set on the command line; explicitly-set flags
// always win.
func applyFileOverlay(cfg *Config, path string, fs *pflag.FlagSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if overlay.VID != "" && !fs.Changed("vid") {
		v, err := parseHex16(overlay.VID)
		if err != nil {
			return fmt.Errorf("config: parsing vid in %s: %w", path, err)
		}

		cfg.VID = v
	}

	if overlay.PID != "" && !fs.Changed("pid") {
		v, err := parseHex16(overlay.PID)
		if err != nil {
			return fmt.Errorf("config: parsing pid in %s: %w", path, err)
		}

		cfg.PID = v
	}

	if overlay.Description != "" && !fs.Changed("description") {
		cfg.Description = overlay.Description
	}

	if overlay.Serial != "" && !fs.Changed("serial") {
		cfg.Serial = overlay.Serial
	}

	if overlay.FPS != 0 && !fs.Changed("fps") {
		cfg.FPS = overlay.FPS
	}

	if overlay.ListenURI != "" && !fs.Changed("listen") {
		cfg.ListenURI = overlay.ListenURI
	}

	return nil
}

func usageText(fs *pflag.FlagSet) string {
	return version + "\n\n" + fs.FlagUsages()
}
