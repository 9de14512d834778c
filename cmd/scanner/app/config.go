package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
	"github.com/roman-kulish/nearfield-scanner/internal/grid"
	"github.com/roman-kulish/nearfield-scanner/internal/sampler"
	"github.com/roman-kulish/nearfield-scanner/internal/scan"
	"github.com/roman-kulish/nearfield-scanner/internal/sdr"
	"github.com/roman-kulish/nearfield-scanner/internal/sdr/hackrf"
	"github.com/roman-kulish/nearfield-scanner/internal/sdr/rtl"
	"github.com/roman-kulish/nearfield-scanner/internal/stage"
	"github.com/roman-kulish/nearfield-scanner/internal/telemetry"
)

const (
	RadioRTLSDR    = "rtl-sdr"
	RadioHackRF    = "hackrf"
	RadioSimulator = "simulator"

	StageTelnet    = "telnet"
	StageSerial    = "serial"
	StageSimulated = "simulated"

	defaultOutput         = "scan.json"
	defaultCenterFreq     = 400_000_000
	defaultSampleRate     = 2_048_000
	defaultBandwidth      = 10_000_000
	defaultGain           = 40
	defaultProbeZ         = 5
	defaultLift           = 1
	defaultPerimeterSpeed = 800
	defaultSimulatedDelay = 5 * time.Millisecond
)

// TimeDuration is a time.Duration read from a string such as "500ms".
type TimeDuration time.Duration

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d TimeDuration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *TimeDuration) UnmarshalJSON(bytes []byte) error {
	var v string
	if err := json.Unmarshal(bytes, &v); err != nil {
		return err
	}

	duration, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d TimeDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d TimeDuration) Duration() time.Duration {
	return time.Duration(d)
}

func (d TimeDuration) String() string {
	return time.Duration(d).String()
}

// Config represents the main application configuration
type Config struct {
	Settings  Settings               `yaml:"settings" json:"-"`
	Radio     RadioConfig            `yaml:"radio" json:"radio"`
	Stage     StageConfig            `yaml:"stage" json:"stage"`
	Scan      ScanSettings           `yaml:"scan" json:"scan"`
	Sampler   SamplerConfig          `yaml:"sampler" json:"sampler"`
	Storage   StorageConfig          `yaml:"storage" json:"storage"`
	Telemetry telemetry.BrokerConfig `yaml:"telemetry" json:"-"`
	Simulator sdr.SimulatorConfig    `yaml:"simulator" json:"simulator"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// RadioConfig selects and tunes the receiver.
type RadioConfig struct {
	Type            string         `yaml:"type" json:"type"`
	DeviceID        string         `yaml:"deviceID" json:"deviceID"`
	CenterFrequency float64        `yaml:"centerFrequency" json:"centerFrequency"` // Hz
	SampleRate      float64        `yaml:"sampleRate" json:"sampleRate"`           // Hz
	Bandwidth       float64        `yaml:"bandwidth" json:"bandwidth"`             // Equivalent noise bandwidth, Hz
	Gain            float64        `yaml:"gain" json:"gain"`                       // dB
	OpenAttempts    int            `yaml:"openAttempts" json:"openAttempts"`
	OpenBackoff     TimeDuration   `yaml:"openBackoff" json:"openBackoff"`
	RTLSDR          *rtl.Config    `yaml:"rtlsdr" json:"rtlsdr,omitempty"`
	HackRF          *hackrf.Config `yaml:"hackrf" json:"hackrf,omitempty"`
}

// Params returns the session parameters of the radio.
func (r RadioConfig) Params() sdr.Params {
	return sdr.Params{
		CenterFrequency: r.CenterFrequency,
		SampleRate:      r.SampleRate,
		Bandwidth:       r.Bandwidth,
		Gain:            r.Gain,
	}
}

// StageConfig selects the probe positioning transport.
type StageConfig struct {
	Type           string              `yaml:"type" json:"type"`
	Telnet         stage.TelnetOptions `yaml:"telnet" json:"telnet"`
	PasswordFile   string              `yaml:"passwordFile" json:"-"`
	SerialPort     string              `yaml:"serialPort" json:"serialPort,omitempty"`
	Port           stage.PortOptions   `yaml:"port" json:"port"`
	SafeZ          float64             `yaml:"safeZ" json:"safeZ"` // mm
	MoveTimeout    TimeDuration        `yaml:"moveTimeout" json:"moveTimeout"`
	CommandTimeout TimeDuration        `yaml:"commandTimeout" json:"commandTimeout"`
	ConnectTimeout TimeDuration        `yaml:"connectTimeout" json:"connectTimeout"`
}

// ScanSettings describes the board and the raster.
type ScanSettings struct {
	BoardWidth     float64      `yaml:"boardWidth" json:"boardWidth"`   // cm
	BoardHeight    float64      `yaml:"boardHeight" json:"boardHeight"` // cm
	Resolution     float64      `yaml:"resolution" json:"resolution"`   // points per cm
	Orientations   []int        `yaml:"orientations" json:"orientations"`
	Feedrate       float64      `yaml:"feedrate" json:"feedrate"` // mm/min
	SettleDelay    TimeDuration `yaml:"settleDelay" json:"settleDelay"`
	RowDelay       TimeDuration `yaml:"rowDelay" json:"rowDelay"`
	FlushCount     int          `yaml:"flushCount" json:"flushCount"`
	MoveAttempts   int          `yaml:"moveAttempts" json:"moveAttempts"`
	MoveBackoff    TimeDuration `yaml:"moveBackoff" json:"moveBackoff"`
	ProbeZ         float64      `yaml:"probeZ" json:"probeZ"`                 // Initial probing height, mm
	Lift           float64      `yaml:"lift" json:"lift"`                     // Z clearance for travel moves, mm
	ComponentX     float64      `yaml:"componentX" json:"componentX"`         // Tallest component, board-local mm
	ComponentY     float64      `yaml:"componentY" json:"componentY"`         // Tallest component, board-local mm
	PerimeterSpeed float64      `yaml:"perimeterSpeed" json:"perimeterSpeed"` // mm/min
	FastMonitor    bool         `yaml:"fastMonitor" json:"fastMonitor"`
}

// SamplerConfig controls power readings.
type SamplerConfig struct {
	Attempts          int          `yaml:"attempts" json:"attempts"`
	SamplesPerAttempt int          `yaml:"samplesPerAttempt" json:"samplesPerAttempt"`
	DiscardCount      *int         `yaml:"discardCount" json:"discardCount"` // Unset means the default, 0 disables discarding
	BufferSize        int          `yaml:"bufferSize" json:"bufferSize"`
	ReceiveTimeout    TimeDuration `yaml:"receiveTimeout" json:"receiveTimeout"`
	NoiseFloor        float64      `yaml:"noiseFloor" json:"noiseFloor"`
	Backoff           TimeDuration `yaml:"backoff" json:"backoff"`
	ResetOnFailure    bool         `yaml:"resetOnFailure" json:"resetOnFailure"`
	FastSamples       int          `yaml:"fastSamples" json:"fastSamples"`
	FastTimeout       TimeDuration `yaml:"fastTimeout" json:"fastTimeout"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Output  string `yaml:"output" json:"output"`   // Artifact base name, e.g. data/scan.json
	Archive bool   `yaml:"archive" json:"archive"` // Also record measurements in a SQLite archive
	DBPath  string `yaml:"dbPath" json:"dbPath"`
}

// LoadConfig reads the configuration file, applies defaults and validates it.
func LoadConfig(path string, options ...func(c *Config)) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return ParseConfig(data, options...)
}

// ParseConfig parses a YAML configuration, applies the options and defaults, and validates it.
func ParseConfig(data []byte, options ...func(c *Config)) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	for _, option := range options {
		option(&config)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Simulated switches the radio and the stage to their simulated variants.
func Simulated() func(c *Config) {
	return func(c *Config) {
		c.Radio.Type = RadioSimulator
		c.Stage.Type = StageSimulated
	}
}

func (c *Config) applyDefaults() {
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = slog.LevelInfo.String()
	}

	if c.Radio.Type == "" {
		c.Radio.Type = RadioRTLSDR
	}
	if c.Radio.DeviceID == "" {
		c.Radio.DeviceID = c.Radio.Type
	}
	if c.Radio.CenterFrequency == 0 {
		c.Radio.CenterFrequency = defaultCenterFreq
	}
	if c.Radio.SampleRate == 0 {
		c.Radio.SampleRate = defaultSampleRate
	}
	if c.Radio.Bandwidth == 0 {
		c.Radio.Bandwidth = defaultBandwidth
	}
	if c.Radio.Gain == 0 {
		c.Radio.Gain = defaultGain
	}
	if c.Radio.OpenAttempts <= 0 {
		c.Radio.OpenAttempts = sdr.DefaultOpenPolicy.MaxAttempts
	}
	if c.Radio.OpenBackoff == 0 {
		c.Radio.OpenBackoff = TimeDuration(sdr.DefaultOpenPolicy.Backoff)
	}

	if c.Stage.Type == "" {
		c.Stage.Type = StageTelnet
	}
	if c.Stage.Telnet.Port == 0 {
		c.Stage.Telnet.Port = stage.DefaultTelnetPort
	}
	if c.Stage.SafeZ == 0 {
		c.Stage.SafeZ = stage.DefaultSafeZ
	}
	if c.Stage.MoveTimeout == 0 {
		c.Stage.MoveTimeout = TimeDuration(stage.DefaultMoveTimeout)
	}
	if c.Stage.CommandTimeout == 0 {
		c.Stage.CommandTimeout = TimeDuration(stage.DefaultCommandTimeout)
	}
	if c.Stage.ConnectTimeout == 0 {
		c.Stage.ConnectTimeout = TimeDuration(10 * time.Second)
	}

	if len(c.Scan.Orientations) == 0 {
		c.Scan.Orientations = []int{0, 45, 90}
	}
	if c.Scan.Feedrate == 0 {
		c.Scan.Feedrate = scan.DefaultFeedrate
	}
	if c.Scan.FlushCount == 0 {
		c.Scan.FlushCount = scan.DefaultFlushCount
	}
	if c.Scan.MoveAttempts == 0 {
		c.Scan.MoveAttempts = scan.DefaultMoveAttempts
	}
	if c.Scan.ProbeZ == 0 {
		c.Scan.ProbeZ = defaultProbeZ
	}
	if c.Scan.Lift == 0 {
		c.Scan.Lift = defaultLift
	}
	if c.Scan.PerimeterSpeed == 0 {
		c.Scan.PerimeterSpeed = defaultPerimeterSpeed
	}

	if c.Storage.Output == "" {
		c.Storage.Output = defaultOutput
	}
	if c.Storage.Archive && c.Storage.DBPath == "" {
		stem := c.Storage.Output[:len(c.Storage.Output)-len(filepath.Ext(c.Storage.Output))]
		c.Storage.DBPath = stem + ".sqlite"
	}
}

// Validate checks the configuration after defaults have been applied.
func (c *Config) Validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Settings.LogLevel)); err != nil {
		return fmt.Errorf("settings.logLevel: %w", err)
	}

	switch c.Radio.Type {
	case RadioRTLSDR, RadioHackRF, RadioSimulator:
	default:
		return fmt.Errorf("radio.type: unknown type '%s'", c.Radio.Type)
	}
	if c.Radio.CenterFrequency <= 0 || c.Radio.SampleRate <= 0 || c.Radio.Bandwidth <= 0 {
		return errors.New("radio: centerFrequency, sampleRate and bandwidth must be positive")
	}

	switch c.Stage.Type {
	case StageTelnet:
		if c.Stage.Telnet.Host == "" {
			return errors.New("stage.telnet.host: required for a telnet stage")
		}
	case StageSerial:
		if c.Stage.SerialPort == "" {
			return errors.New("stage.serialPort: required for a serial stage")
		}
		if _, err := c.Stage.Port.Normalize(); err != nil {
			return fmt.Errorf("stage.port: %w", err)
		}
	case StageSimulated:
	default:
		return fmt.Errorf("stage.type: unknown type '%s'", c.Stage.Type)
	}

	if _, err := grid.Build(c.Scan.BoardWidth, c.Scan.BoardHeight, c.Scan.Resolution); err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	seen := make(map[int]bool, len(c.Scan.Orientations))
	for _, deg := range c.Scan.Orientations {
		if _, err := field.ParseOrientation(deg); err != nil {
			return fmt.Errorf("scan.orientations: %w", err)
		}
		if seen[deg] {
			return fmt.Errorf("scan.orientations: %d listed twice", deg)
		}
		seen[deg] = true
	}
	if !seen[0] || !seen[90] {
		return errors.New("scan.orientations: 0 and 90 are required for synthesis")
	}

	if c.Scan.Feedrate <= 0 || c.Scan.PerimeterSpeed <= 0 {
		return errors.New("scan: feedrate and perimeterSpeed must be positive")
	}

	return nil
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.Settings.LogLevel))
	return level
}

// ScanConfig is the frozen, validated configuration a Sequencer runs with.
type ScanConfig struct {
	Grid         *grid.Grid
	Orientations []field.Orientation // scan order, always ascending
	Metadata     field.Metadata      // template stamped onto every scan
	Controller   scan.Config
	Probe        ProbeConfig
	FastMonitor  bool
}

// ProbeConfig drives the interactive probe adjustment.
type ProbeConfig struct {
	BoardWidth     float64 // mm
	BoardHeight    float64 // mm
	InitialZ       float64 // mm
	Lift           float64 // mm
	ComponentX     float64 // mm
	ComponentY     float64 // mm
	Feedrate       float64 // mm/min
	PerimeterSpeed float64 // mm/min
}

// ScanConfig freezes the configuration for a Sequencer.
func (c *Config) ScanConfig() (ScanConfig, error) {
	g, err := grid.Build(c.Scan.BoardWidth, c.Scan.BoardHeight, c.Scan.Resolution)
	if err != nil {
		return ScanConfig{}, err
	}

	orientations := make([]field.Orientation, 0, len(c.Scan.Orientations))
	for _, deg := range c.Scan.Orientations {
		o, err := field.ParseOrientation(deg)
		if err != nil {
			return ScanConfig{}, err
		}
		orientations = append(orientations, o)
	}
	slices.Sort(orientations)

	samplerConfig := c.SamplerSettings()

	return ScanConfig{
		Grid:         g,
		Orientations: orientations,
		Metadata: field.Metadata{
			BoardSize:       [2]float64{c.Scan.BoardWidth, c.Scan.BoardHeight},
			Resolution:      c.Scan.Resolution,
			CenterFrequency: c.Radio.CenterFrequency,
			Bandwidth:       c.Radio.Bandwidth,
			Averages:        samplerConfig.SamplesPerAttempt,
			Gain:            c.Radio.Gain,
		},
		Controller: scan.Config{
			Feedrate:     c.Scan.Feedrate,
			SettleDelay:  c.Scan.SettleDelay.Duration(),
			FlushCount:   c.Scan.FlushCount,
			RowDelay:     c.Scan.RowDelay.Duration(),
			MoveAttempts: c.Scan.MoveAttempts,
			MoveBackoff:  c.Scan.MoveBackoff.Duration(),
		},
		Probe: ProbeConfig{
			BoardWidth:     c.Scan.BoardWidth * 10,
			BoardHeight:    c.Scan.BoardHeight * 10,
			InitialZ:       c.Scan.ProbeZ,
			Lift:           c.Scan.Lift,
			ComponentX:     c.Scan.ComponentX,
			ComponentY:     c.Scan.ComponentY,
			Feedrate:       c.Scan.Feedrate,
			PerimeterSpeed: c.Scan.PerimeterSpeed,
		},
		FastMonitor: c.Scan.FastMonitor,
	}, nil
}

// SamplerSettings converts the sampler section, defaults included.
func (c *Config) SamplerSettings() sampler.Config {
	s := c.Sampler
	config := sampler.Config{
		Gain:              c.Radio.Gain,
		Attempts:          s.Attempts,
		SamplesPerAttempt: s.SamplesPerAttempt,
		DiscardCount:      sampler.DefaultDiscardCount,
		BufferSize:        s.BufferSize,
		ReceiveTimeout:    s.ReceiveTimeout.Duration(),
		NoiseFloor:        s.NoiseFloor,
		Backoff:           s.Backoff.Duration(),
		ResetOnFailure:    s.ResetOnFailure,
		FastSamples:       s.FastSamples,
		FastTimeout:       s.FastTimeout.Duration(),
	}
	if config.SamplesPerAttempt <= 0 {
		config.SamplesPerAttempt = sampler.DefaultSamplesPerAttempt
	}
	if s.DiscardCount != nil {
		config.DiscardCount = *s.DiscardCount
	}
	return config
}
