package rtl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roman-kulish/nearfield-scanner/internal/sdr"
	"github.com/roman-kulish/nearfield-scanner/internal/sdr/driver"
)

const (
	// Tuner range of the common R820T/R828D dongles
	FrequencyMin = 24_000_000
	FrequencyMax = 1_766_000_000

	DefaultSampleRate = 2_400_000

	// Output block size must be a multiple of 512 bytes
	blockAlign   = 512
	MaxBlockSize = 256 * 16384

	configName = "rtl.Config"
)

// sampleRateRanges lists the ranges accepted by librtlsdr, half-open on the left
var sampleRateRanges = [][2]int64{
	{225_001, 300_000},
	{900_001, 3_200_000},
}

// Usage examples from man page:
// https://manpages.debian.org/bookworm/rtl-sdr/rtl_sdr.1.en.html

/*
Example: 400 MHz near-field probe
    rtlConfig := rtl.Config{
        CenterFrequency: 400_000_000,
        SampleRate:      2_400_000,
        Gain:            ptr(40.2),
    }
    // Executes: rtl_sdr -f 400000000 -s 2400000 -d 0 -g 40.2 -
*/

// Config is the `rtl_sdr` raw capture configuration
type Config struct {
	// Required
	CenterFrequency int64 `yaml:"centerFrequency" json:"centerFrequency"` // -f frequency to tune to (Hz)

	// Common Optional Parameters
	SampleRate  int64    `yaml:"sampleRate" json:"sampleRate"`   // -s samplerate (default: 2048000 Hz)
	DeviceIndex int      `yaml:"deviceIndex" json:"deviceIndex"` // -d device_index (default: 0)
	Gain        *float64 `yaml:"gain" json:"gain"`               // -g gain in dB (default: automatic)
	PPMError    int      `yaml:"ppmError" json:"ppmError"`       // -p ppm_error (default: 0)

	// Advanced Options
	BlockSize int  `yaml:"blockSize" json:"blockSize"` // -b output_block_size in bytes (default: 16 * 16384)
	SyncMode  bool `yaml:"syncMode" json:"syncMode"`   // -S force sync output (default: async)
}

// WithParams returns a copy of the config tuned to the session parameters.
func (c Config) WithParams(p sdr.Params) *Config {
	if p.CenterFrequency > 0 {
		c.CenterFrequency = int64(p.CenterFrequency)
	}
	if p.SampleRate > 0 {
		c.SampleRate = int64(p.SampleRate)
	}
	if p.Gain > 0 {
		gain := p.Gain
		c.Gain = &gain
	}
	return &c
}

func (c *Config) Validate() error {
	if c.CenterFrequency < FrequencyMin || c.CenterFrequency > FrequencyMax {
		return driver.NewConfigError(configName, "center frequency must be between %d and %d Hz: %d given", FrequencyMin, FrequencyMax, c.CenterFrequency)
	}

	if c.SampleRate != 0 && !validSampleRate(c.SampleRate) {
		return driver.NewConfigError(configName, "invalid sample rate: %d, must be within 225001-300000 or 900001-3200000 Hz", c.SampleRate)
	}

	if c.DeviceIndex < 0 {
		return driver.NewConfigError(configName, "device index must not be negative: %d", c.DeviceIndex)
	}

	if c.Gain != nil && (*c.Gain < 0 || *c.Gain > 50) {
		return driver.NewConfigError(configName, "gain must be between 0 and 50 dB: %0.1f given", *c.Gain)
	}

	if c.BlockSize != 0 && (c.BlockSize < blockAlign || c.BlockSize > MaxBlockSize || c.BlockSize%blockAlign != 0) {
		return driver.NewConfigError(configName, "block size must be a multiple of %d between %d and %d bytes: %d given", blockAlign, blockAlign, MaxBlockSize, c.BlockSize)
	}

	return nil
}

func validSampleRate(rate int64) bool {
	for _, r := range sampleRateRanges {
		if rate >= r[0] && rate <= r[1] {
			return true
		}
	}
	return false
}

// Args returns the command line arguments for `rtl_sdr`
// See `man rtl_sdr` for more information:
// https://manpages.debian.org/bookworm/rtl-sdr/rtl_sdr.1.en.html
func (c *Config) Args() ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	sampleRate := c.SampleRate
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}

	args := []string{
		"-f", strconv.FormatInt(c.CenterFrequency, 10),
		"-s", strconv.FormatInt(sampleRate, 10),
		"-d", strconv.Itoa(c.DeviceIndex), // 0 is the default device index
	}

	if c.Gain != nil && *c.Gain > 0 {
		args = append(args, "-g", strconv.FormatFloat(*c.Gain, 'f', 1, 64))
	}

	if c.PPMError != 0 {
		args = append(args, "-p", strconv.Itoa(c.PPMError))
	}

	if c.BlockSize > 0 {
		args = append(args, "-b", strconv.Itoa(c.BlockSize))
	}

	if c.SyncMode {
		args = append(args, "-S")
	}

	args = append(args, "-") // Always dump to stdout

	return args, nil
}

func (c *Config) String() string {
	args, err := c.Args()
	if err != nil {
		return fmt.Sprintf("%s: failed to build args: %s", configName, err)
	}
	return fmt.Sprintf("%s %s", Runtime, strings.Join(args, " "))
}
