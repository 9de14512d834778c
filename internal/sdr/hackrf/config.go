package hackrf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roman-kulish/nearfield-scanner/internal/sdr"
	"github.com/roman-kulish/nearfield-scanner/internal/sdr/driver"
)

const (
	FrequencyMin = 1_000_000
	FrequencyMax = 6_000_000_000

	MinSampleRate     = 2_000_000
	MaxSampleRate     = 20_000_000
	DefaultSampleRate = 10_000_000

	MaxLNAGain  = 40
	MaxVGAGain  = 62
	LNAGainStep = 8
	VGAGainStep = 2

	configName = "hackrf.Config"
)

// Usage examples from man page:
// https://manpages.debian.org/bookworm/hackrf/hackrf_transfer.1.en.html

/*
	hackrfConfig := hackrf.Config{
        CenterFrequency: 400_000_000,
        SampleRate:      10_000_000,
        LNAGain:         ptr(32),
        VGAGain:         ptr(20),
    }
    // Executes: hackrf_transfer -r - -f 400000000 -s 10000000 -l 32 -g 20
*/

// Config is a struct for configuring `hackrf_transfer` in receive mode
type Config struct {
	// Required
	CenterFrequency int64 `yaml:"centerFrequency" json:"centerFrequency"` // -f freq_hz Frequency in Hz

	// Important but Optional (have reasonable defaults)
	SampleRate int64 `yaml:"sampleRate" json:"sampleRate"` // -s sample_rate_hz, 2-20MHz
	LNAGain    *int  `yaml:"lnaGain" json:"lnaGain"`       // -l gain_db LNA (IF) gain, 0-40dB, 8dB steps
	VGAGain    *int  `yaml:"vgaGain" json:"vgaGain"`       // -g gain_db VGA (baseband) gain, 0-62dB, 2dB steps
	Bandwidth  int64 `yaml:"bandwidth" json:"bandwidth"`   // -b baseband_filter_bw_hz

	// Optional - Advanced Configuration
	SerialNumber string `yaml:"serialNumber" json:"serialNumber"` // -d serial_number Serial number of desired HackRF
	EnableAmp    bool   `yaml:"enableAmp" json:"enableAmp"`       // -a amp_enable RX RF amplifier 1=Enable, 0=Disable
	AntennaPower bool   `yaml:"antennaPower" json:"antennaPower"` // -p antenna_enable Antenna port power, 1=Enable, 0=Disable
}

// SplitGain distributes a total gain over the LNA and VGA stages, filling the
// LNA first and rounding down to the stage steps.
func SplitGain(total float64) (lna, vga int) {
	g := max(int(total), 0)

	lna = min(g/LNAGainStep*LNAGainStep, MaxLNAGain)
	vga = min((g-lna)/VGAGainStep*VGAGainStep, MaxVGAGain)
	return lna, vga
}

// WithParams returns a copy of the config tuned to the session parameters.
// Explicit LNA/VGA gains take precedence over the session gain.
func (c Config) WithParams(p sdr.Params) *Config {
	if p.CenterFrequency > 0 {
		c.CenterFrequency = int64(p.CenterFrequency)
	}
	if p.SampleRate > 0 {
		c.SampleRate = int64(p.SampleRate)
	}
	if p.Bandwidth > 0 && c.Bandwidth == 0 {
		c.Bandwidth = int64(p.Bandwidth)
	}
	if p.Gain > 0 && c.LNAGain == nil && c.VGAGain == nil {
		lna, vga := SplitGain(p.Gain)
		c.LNAGain, c.VGAGain = &lna, &vga
	}
	return &c
}

func (c *Config) Validate() error {
	if c.CenterFrequency < FrequencyMin || c.CenterFrequency > FrequencyMax {
		return driver.NewConfigError(configName, "center frequency must be between %d and %d Hz: %d given", int64(FrequencyMin), int64(FrequencyMax), c.CenterFrequency)
	}

	if c.SampleRate != 0 && (c.SampleRate < MinSampleRate || c.SampleRate > MaxSampleRate) {
		return driver.NewConfigError(configName, "sample rate must be between %d and %d Hz: %d given", MinSampleRate, MaxSampleRate, c.SampleRate)
	}

	// LNA gain validation (0-40dB in 8dB steps)
	if c.LNAGain != nil {
		if *c.LNAGain < 0 || *c.LNAGain > MaxLNAGain {
			return driver.NewConfigError(configName, "LNA gain must be between 0 and 40 dB: %d given", *c.LNAGain)
		}
		if *c.LNAGain%LNAGainStep != 0 {
			return driver.NewConfigError(configName, "LNA gain must be a multiple of 8 dB: %d given", *c.LNAGain)
		}
	}

	// VGA gain validation (0-62dB in 2dB steps)
	if c.VGAGain != nil {
		if *c.VGAGain < 0 || *c.VGAGain > MaxVGAGain {
			return driver.NewConfigError(configName, "VGA gain must be between 0 and 62 dB: %d given", *c.VGAGain)
		}
		if *c.VGAGain%VGAGainStep != 0 {
			return driver.NewConfigError(configName, "VGA gain must be a multiple of 2 dB: %d given", *c.VGAGain)
		}
	}

	if c.Bandwidth < 0 {
		return driver.NewConfigError(configName, "baseband filter bandwidth cannot be negative: %d given", c.Bandwidth)
	}

	return nil
}

// Args builds the command line arguments for `hackrf_transfer`
// See `man hackrf_transfer` for more information:
// https://manpages.debian.org/bookworm/hackrf/hackrf_transfer.1.en.html
func (c *Config) Args() ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	sampleRate := c.SampleRate
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}

	args := []string{
		"-r", "-", // Always dump to stdout
		"-f", strconv.FormatInt(c.CenterFrequency, 10),
		"-s", strconv.FormatInt(sampleRate, 10),
	}

	if c.SerialNumber != "" {
		args = append(args, "-d", c.SerialNumber)
	}

	if c.LNAGain != nil {
		args = append(args, "-l", strconv.Itoa(*c.LNAGain))
	}

	if c.VGAGain != nil {
		args = append(args, "-g", strconv.Itoa(*c.VGAGain))
	}

	if c.Bandwidth > 0 {
		args = append(args, "-b", strconv.FormatInt(c.Bandwidth, 10))
	}

	if c.EnableAmp {
		args = append(args, "-a", "1")
	}

	if c.AntennaPower {
		args = append(args, "-p", "1")
	}

	return args, nil
}

func (c *Config) String() string {
	args, err := c.Args()
	if err != nil {
		return fmt.Sprintf("%s: failed to build args: %s", configName, err)
	}
	return fmt.Sprintf("%s %s", Runtime, strings.Join(args, " "))
}
