package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/a2dpsink"
	"github.com/opd-ai/a2dpsink/engine"
	"github.com/opd-ai/a2dpsink/metrics"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// shutdownTimeout bounds the pause command issued on exit.
const shutdownTimeout = 2 * time.Second

func newPlayCmd() *cobra.Command {
	var inputFormat string

	cmd := &cobra.Command{
		Use:   "play FILE",
		Short: "Stream a WAV, MP3 or raw S16LE file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(viper.GetViper())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return play(ctx, s, args[0], inputFormat)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&inputFormat, "input-format", "auto", "input format: auto, wav, mp3 or raw")
	flags.String("transport", "udp", "transport kind: udp, l2cap or fd")
	flags.String("address", "127.0.0.1:5004", "UDP host:port or Bluetooth address")
	flags.Int("psm", 25, "L2CAP PSM")
	flags.Int("fd", 3, "inherited socket descriptor")
	flags.Int("read-mtu", 672, "read MTU of the link")
	flags.Int("write-mtu", 672, "write MTU of the link")
	flags.Int("frequency", 48000, "SBC sampling frequency")
	flags.String("channel-mode", "joint", "SBC channel mode: mono, dual, stereo or joint")
	flags.Int("subbands", 8, "SBC subbands: 4 or 8")
	flags.Int("blocks", 16, "SBC blocks: 4, 8, 12 or 16")
	flags.String("allocation", "loudness", "SBC allocation: loudness or snr")
	flags.Int("min-bitpool", 2, "minimum bitpool advertised")
	flags.Int("max-bitpool", 51, "maximum bitpool advertised")
	flags.Int64("min-latency", 1024, "minimum latency in frames")
	flags.Int64("max-latency", 1024, "maximum latency in frames")
	flags.Int("buffers", 2, "number of PCM buffers")
	flags.Bool("adapter", false, "adapt the bitpool to link congestion")
	flags.String("metrics-addr", "", "serve metrics and status on this address")

	for key, flag := range map[string]string{
		"transport.kind":      "transport",
		"transport.address":   "address",
		"transport.psm":       "psm",
		"transport.fd":        "fd",
		"transport.read-mtu":  "read-mtu",
		"transport.write-mtu": "write-mtu",
		"codec.frequency":     "frequency",
		"codec.channel-mode":  "channel-mode",
		"codec.subbands":      "subbands",
		"codec.blocks":        "blocks",
		"codec.allocation":    "allocation",
		"codec.min-bitpool":   "min-bitpool",
		"codec.max-bitpool":   "max-bitpool",
		"latency.min":         "min-latency",
		"latency.max":         "max-latency",
		"buffers":             "buffers",
		"adapter.enabled":     "adapter",
		"metrics.addr":        "metrics-addr",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	return cmd
}

// play streams one file until it ends or ctx is cancelled.
func play(ctx context.Context, s *settings, path, inputFormat string) error {
	log := logrus.WithFields(logrus.Fields{
		"function": "play",
		"path":     path,
	})

	src, err := openInput(path, inputFormat, s.Codec.Rate(), s.Codec.Mode.Channels())
	if err != nil {
		return err
	}
	defer src.Close()

	tr, err := s.openTransport()
	if err != nil {
		return fmt.Errorf("failed to open transport: %w", err)
	}

	opts := engine.DefaultOptions()
	opts.StreamID = uuid.NewString()
	if s.Adapter {
		opts.Adaptation = engine.DefaultAdaptationConfig()
	}
	if s.MetricsAddr != "" {
		rec := metrics.NewStreamRecorder(opts.StreamID)
		defer rec.Close()
		opts.Observer = rec
	}

	player := newFilePlayer(src)
	node, err := a2dpsink.NewNode(tr, player, opts)
	if err != nil {
		return err
	}
	if err := node.Run(ctx); err != nil {
		return err
	}
	defer node.Close()

	if s.MetricsAddr != "" {
		shutdown := serveStatus(s.MetricsAddr, node.Stats)
		defer shutdown()
	}

	if err := node.SetProps(&a2dpsink.Props{MinLatency: s.MinLatency, MaxLatency: s.MaxLatency}); err != nil {
		return err
	}

	formats, err := node.EnumFormats()
	if err != nil {
		return err
	}
	format := formats[0]
	if src.Rate != format.Rate || src.Channels != format.Channels {
		return fmt.Errorf("%w: input is %d Hz/%d ch, link expects %d Hz/%d ch",
			ErrUnsupportedInput, src.Rate, src.Channels, format.Rate, format.Channels)
	}
	if err := node.SetFormat(ctx, &format); err != nil {
		return err
	}

	params, err := node.BufferParams(ctx)
	if err != nil {
		return err
	}
	if err := node.UseBuffers(ctx, player.Allocate(s.Buffers, params.Size)); err != nil {
		return err
	}

	if err := node.SendCommand(ctx, a2dpsink.CommandStart); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"stream":  node.StreamID(),
		"rate":    format.Rate,
		"buffers": s.Buffers,
		"size":    params.Size,
	}).Info("Streaming")

	select {
	case <-ctx.Done():
		log.Info("Interrupted")
	case <-player.Done():
		waitPlayout(ctx, node, format.Rate)
	}

	pauseCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	stats, statsErr := node.Stats(pauseCtx)
	if err := node.SendCommand(pauseCtx, a2dpsink.CommandPause); err != nil {
		log.WithError(err).Warn("Failed to pause stream")
	}
	if statsErr == nil {
		log.WithFields(logrus.Fields{
			"datagrams":    stats.Datagrams,
			"bytes":        stats.BytesSent,
			"would_blocks": stats.WouldBlocks,
			"underruns":    stats.Underruns,
			"pcm_bytes":    player.BytesRead(),
		}).Info("Playback finished")
	}

	return player.Err()
}

// waitPlayout waits until the audio already encoded is due to have played.
func waitPlayout(ctx context.Context, node *a2dpsink.Node, rate uint32) {
	stats, err := node.Stats(ctx)
	if err != nil || stats.Filled <= 0 || rate == 0 {
		return
	}
	wait := time.Duration(stats.Filled) * time.Second / time.Duration(rate)

	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}
