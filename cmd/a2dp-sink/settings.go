package main

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/opd-ai/a2dpsink/a2dp"
	"github.com/opd-ai/a2dpsink/limits"
	"github.com/opd-ai/a2dpsink/sbc"
	"github.com/opd-ai/a2dpsink/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

//go:embed a2dp-sink.toml
var defaultConfigFile []byte

// ErrInvalidSetting indicates a configuration value the sink cannot use.
var ErrInvalidSetting = errors.New("invalid setting")

// settings is the effective configuration of one run.
type settings struct {
	TransportKind string
	Address       string
	PSM           uint16
	FD            int
	ReadMTU       int
	WriteMTU      int

	Codec      sbc.Config
	MinBitpool int
	MaxBitpool int

	MinLatency int64
	MaxLatency int64
	Buffers    int

	Adapter     bool
	MetricsAddr string
	LogLevel    string
	LogJSON     bool
}

// initConfig loads the embedded defaults, then file, then the environment.
// A missing file is created from the defaults.
func initConfig(v *viper.Viper, file string) error {
	v.SetConfigType("toml")
	v.SetEnvPrefix("a2dp_sink")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader(defaultConfigFile)); err != nil {
		return fmt.Errorf("failed to read embedded config: %w", err)
	}
	if file == "" {
		return nil
	}

	if _, err := os.Stat(file); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "initConfig",
			"file":     file,
		}).Info("Config file not found, writing defaults")
		if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := os.WriteFile(file, defaultConfigFile, 0o600); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}
		return nil
	}

	v.SetConfigFile(file)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", file, err)
	}
	return nil
}

// defaultConfigPath returns a2dp-sink.toml under the XDG config directory.
func defaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "a2dp-sink", "a2dp-sink.toml")
}

// loadSettings reads and validates the effective configuration.
func loadSettings(v *viper.Viper) (*settings, error) {
	s := &settings{
		TransportKind: strings.ToLower(v.GetString("transport.kind")),
		Address:       v.GetString("transport.address"),
		FD:            v.GetInt("transport.fd"),
		ReadMTU:       v.GetInt("transport.read-mtu"),
		WriteMTU:      v.GetInt("transport.write-mtu"),
		MinBitpool:    v.GetInt("codec.min-bitpool"),
		MaxBitpool:    v.GetInt("codec.max-bitpool"),
		MinLatency:    v.GetInt64("latency.min"),
		MaxLatency:    v.GetInt64("latency.max"),
		Buffers:       v.GetInt("buffers"),
		Adapter:       v.GetBool("adapter.enabled"),
		MetricsAddr:   v.GetString("metrics.addr"),
		LogLevel:      v.GetString("log.level"),
		LogJSON:       v.GetBool("log.json"),
	}

	psm := v.GetInt("transport.psm")
	if psm <= 0 || psm > 0xffff {
		return nil, fmt.Errorf("%w: transport.psm %d", ErrInvalidSetting, psm)
	}
	s.PSM = uint16(psm)

	switch s.TransportKind {
	case "udp", "l2cap", "fd":
	default:
		return nil, fmt.Errorf("%w: transport.kind %q", ErrInvalidSetting, s.TransportKind)
	}

	codec, err := codecSettings(v)
	if err != nil {
		return nil, err
	}
	s.Codec = codec

	if s.MinBitpool < 2 || s.MinBitpool > s.MaxBitpool {
		return nil, fmt.Errorf("%w: bitpool range [%d, %d]", ErrInvalidSetting, s.MinBitpool, s.MaxBitpool)
	}
	if err := limits.ValidateLatency(s.MinLatency); err != nil {
		return nil, fmt.Errorf("%w: latency.min: %v", ErrInvalidSetting, err)
	}
	if err := limits.ValidateLatency(s.MaxLatency); err != nil {
		return nil, fmt.Errorf("%w: latency.max: %v", ErrInvalidSetting, err)
	}
	if err := limits.ValidateBufferCount(s.Buffers); err != nil || s.Buffers < limits.MinBuffers {
		return nil, fmt.Errorf("%w: buffers %d not in [%d, %d]", ErrInvalidSetting, s.Buffers, limits.MinBuffers, limits.MaxBuffers)
	}
	if _, err := limits.PayloadSize(s.WriteMTU); err != nil {
		return nil, fmt.Errorf("%w: transport.write-mtu: %v", ErrInvalidSetting, err)
	}
	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		return nil, fmt.Errorf("%w: log.level: %v", ErrInvalidSetting, err)
	}

	return s, nil
}

func codecSettings(v *viper.Viper) (sbc.Config, error) {
	var cfg sbc.Config
	var err error

	if cfg.Frequency, err = sbc.FrequencyFromRate(v.GetUint32("codec.frequency")); err != nil {
		return cfg, fmt.Errorf("%w: codec.frequency: %v", ErrInvalidSetting, err)
	}

	switch mode := strings.ToLower(v.GetString("codec.channel-mode")); mode {
	case "mono":
		cfg.Mode = sbc.Mono
	case "dual":
		cfg.Mode = sbc.DualChannel
	case "stereo":
		cfg.Mode = sbc.Stereo
	case "joint":
		cfg.Mode = sbc.JointStereo
	default:
		return cfg, fmt.Errorf("%w: codec.channel-mode %q", ErrInvalidSetting, mode)
	}

	switch alloc := strings.ToLower(v.GetString("codec.allocation")); alloc {
	case "loudness":
		cfg.Allocation = sbc.Loudness
	case "snr":
		cfg.Allocation = sbc.SNR
	default:
		return cfg, fmt.Errorf("%w: codec.allocation %q", ErrInvalidSetting, alloc)
	}

	cfg.Subbands = v.GetInt("codec.subbands")
	cfg.Blocks = v.GetInt("codec.blocks")
	cfg.Bitpool = limits.ClampBitpool(v.GetInt("codec.max-bitpool"))
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidSetting, err)
	}
	return cfg, nil
}

// transportConfig builds the transport description advertising the codec settings.
func (s *settings) transportConfig() transport.Config {
	return transport.Config{
		ReadMTU:       s.ReadMTU,
		WriteMTU:      s.WriteMTU,
		Configuration: a2dp.FromEncoderConfig(s.Codec, s.MinBitpool, s.MaxBitpool).Bytes(),
	}
}

// openTransport creates the configured media transport.
func (s *settings) openTransport() (transport.MediaTransport, error) {
	cfg := s.transportConfig()
	switch s.TransportKind {
	case "udp":
		return transport.NewUDPTransport(s.Address, cfg)
	case "l2cap":
		return transport.NewL2CAPTransport(s.Address, s.PSM, cfg)
	case "fd":
		return transport.NewFDTransport(s.FD, cfg)
	}
	return nil, fmt.Errorf("%w: transport.kind %q", ErrInvalidSetting, s.TransportKind)
}

// configureLogging applies the log settings to the standard logrus logger.
func (s *settings) configureLogging() {
	level, err := logrus.ParseLevel(s.LogLevel)
	if err == nil {
		logrus.SetLevel(level)
	}
	if s.LogJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
