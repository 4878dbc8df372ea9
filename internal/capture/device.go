package capture

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/gen2brain/malgo"

	"github.com/tkhr/chronicle/internal/config"
)

// DeviceSource captures from the default input device via miniaudio.
// The device callback converts incoming PCM to sample blocks and hands
// them to the recorder over a buffered channel; if the recorder falls
// behind, blocks are dropped rather than stalling the audio thread.
type DeviceSource struct {
	cfg config.CaptureConfig

	ctx    *malgo.AllocatedContext
	device *malgo.Device
	blocks chan Block
	logger *slog.Logger
}

// NewDeviceSource creates a source for the configured format.
func NewDeviceSource(cfg config.CaptureConfig) *DeviceSource {
	return &DeviceSource{cfg: cfg, logger: slog.Default()}
}

func (d *DeviceSource) Start() (<-chan Block, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {})
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(d.cfg.Channels)
	deviceConfig.SampleRate = uint32(d.cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(d.cfg.BlockSize)

	blocks := make(chan Block, 64)
	onRecv := func(pOutput, pInput []byte, framecount uint32) {
		block := make(Block, len(pInput)/2)
		for i := range block {
			block[i] = int16(binary.LittleEndian.Uint16(pInput[i*2:]))
		}
		select {
		case blocks <- block:
		default:
			d.logger.Warn("capture block dropped, recorder behind")
		}
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("initializing capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("starting capture device: %w", err)
	}

	d.ctx = ctx
	d.device = device
	d.blocks = blocks
	return blocks, nil
}

func (d *DeviceSource) Stop() error {
	if d.device != nil {
		d.device.Uninit()
		d.device = nil
	}
	if d.ctx != nil {
		if err := d.ctx.Uninit(); err != nil {
			d.logger.Warn("uninitializing audio context", "error", err)
		}
		d.ctx.Free()
		d.ctx = nil
	}
	if d.blocks != nil {
		close(d.blocks)
		d.blocks = nil
	}
	return nil
}
