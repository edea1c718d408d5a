// Package audio captures microphone audio and slices it into fixed-length
// PCM chunks for the live transcription stream.
package audio

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
)

const (
	DefaultSampleRate = 16000
	framesPerBuffer   = 1024
)

// Microphone opens the preferred input device.
type Microphone struct {
	sampleRate   int
	excludedDevs []string
}

// NewMicrophone creates a microphone opener.
func NewMicrophone(sampleRate int, excludedDevices []string) *Microphone {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Microphone{sampleRate: sampleRate, excludedDevs: excludedDevices}
}

// Open acquires the capture device. Failure to initialize or open it is a
// Permission error; the device is not recording until Start.
func (m *Microphone) Open() (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Permission, "audio subsystem unavailable")
	}

	dev, err := m.selectInput()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, apperrors.Wrap(err, apperrors.Permission, "no capture device")
	}

	buf := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(m.sampleRate),
		FramesPerBuffer: framesPerBuffer,
	}, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, apperrors.Wrap(err, apperrors.Permission, "cannot open capture device").
			WithMetadata("device", dev.Name)
	}

	slog.Info("opened audio capture", "device", dev.Name, "sample_rate", m.sampleRate)
	return &Device{name: dev.Name, stream: stream, buf: buf, sampleRate: m.sampleRate}, nil
}

func (m *Microphone) selectInput() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || m.isExcluded(dev.Name) {
			continue
		}
		if classifyDevice(dev.Name) != sourceUser {
			continue
		}
		if best == nil || preferDevice(dev.Name, best.Name) {
			best = dev
		}
	}
	if best != nil {
		return best, nil
	}
	return portaudio.DefaultInputDevice()
}

func (m *Microphone) isExcluded(name string) bool {
	for _, ex := range m.excludedDevs {
		if containsIgnoreCase(name, ex) {
			return true
		}
	}
	return false
}

const (
	sourceUser   = "user"
	sourceSystem = "system"
)

// classifyDevice tells loopback devices apart from real microphones.
func classifyDevice(name string) string {
	for _, kw := range []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"} {
		if containsIgnoreCase(name, kw) {
			return sourceSystem
		}
	}
	for _, kw := range []string{"microphone", "input", "mic", "built-in"} {
		if containsIgnoreCase(name, kw) {
			return sourceUser
		}
	}
	return ""
}

// preferDevice favors built-in mics over external ones.
func preferDevice(name, current string) bool {
	for _, p := range []string{"macbook", "built-in"} {
		if containsIgnoreCase(name, p) && !containsIgnoreCase(current, p) {
			return true
		}
	}
	return false
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Device is an opened capture device. Start and Pause may alternate; Close
// releases the device and is safe to call more than once.
type Device struct {
	name       string
	stream     *portaudio.Stream
	buf        []float32
	sampleRate int

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Start records, calling onChunk with one PCM chunk per slice of audio.
// onChunk runs on the capture goroutine and must not block for long.
func (d *Device) Start(slice time.Duration, onChunk func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return apperrors.New(apperrors.Permission, "capture device released")
	}
	if d.cancel != nil {
		return nil
	}
	if err := d.stream.Start(); err != nil {
		return apperrors.Wrap(err, apperrors.Permission, "cannot start capture").WithMetadata("device", d.name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.record(ctx, samplesPerSlice(d.sampleRate, slice), onChunk, d.done)
	return nil
}

func (d *Device) record(ctx context.Context, perChunk int, onChunk func([]byte), done chan struct{}) {
	defer close(done)
	s := newSlicer(perChunk)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := d.stream.Read(); err != nil {
			slog.Debug("audio read error", "device", d.name, "error", err)
			return
		}
		for _, chunk := range s.push(d.buf) {
			onChunk(encodePCM16(chunk))
		}
	}
}

// Pause stops recording and waits for the capture goroutine. A partial
// slice is discarded.
func (d *Device) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pauseLocked()
}

func (d *Device) pauseLocked() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	_ = d.stream.Stop()
	<-d.done
	d.cancel, d.done = nil, nil
}

// Close stops recording and releases the device.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.pauseLocked()
		d.closed = true
		err = d.stream.Close()
		_ = portaudio.Terminate()
		slog.Info("released audio capture", "device", d.name)
	})
	return err
}

func samplesPerSlice(sampleRate int, slice time.Duration) int {
	n := int(float64(sampleRate) * slice.Seconds())
	if n < 1 {
		n = 1
	}
	return n
}

// slicer accumulates samples into fixed-size chunks.
type slicer struct {
	size    int
	pending []float32
}

func newSlicer(size int) *slicer {
	return &slicer{size: size, pending: make([]float32, 0, size)}
}

func (s *slicer) push(samples []float32) [][]float32 {
	var out [][]float32
	for len(samples) > 0 {
		n := min(s.size-len(s.pending), len(samples))
		s.pending = append(s.pending, samples[:n]...)
		samples = samples[n:]
		if len(s.pending) == s.size {
			out = append(out, s.pending)
			s.pending = make([]float32, 0, s.size)
		}
	}
	return out
}

// encodePCM16 converts float samples in [-1, 1] to 16-bit little-endian PCM.
func encodePCM16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, v := range samples {
		v = float32(math.Max(-1, math.Min(1, float64(v))))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v*math.MaxInt16)))
	}
	return out
}
