// Package config holds the robot calibration and HAL wiring, loaded from a
// YAML file over built-in defaults.
package config

import (
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	"github.com/tigerbot-team/microrato/pkg/chassis"
)

const (
	DriverSim    = "sim"
	DriverDummy  = "dummy"
	DriverGPIO   = "gpio"
	DriverSerial = "serial"
)

type Config struct {
	CyclePeriodMS int `yaml:"cycle_period_ms"`
	NumLEDs       int `yaml:"num_leds"`

	Pointing   PointingConfig   `yaml:"pointing"`
	Controller ControllerConfig `yaml:"controller"`
	Odometry   OdometryConfig   `yaml:"odometry"`
	Sensors    SensorsConfig    `yaml:"sensors"`
	HAL        HALConfig        `yaml:"hal"`
}

// PointingConfig maps the pointing actuator's angle in degrees onto its
// native position range.
type PointingConfig struct {
	MinDegree int `yaml:"min_degree"`
	MaxDegree int `yaml:"max_degree"`
	MinNative int `yaml:"min_native"`
	MaxNative int `yaml:"max_native"`
}

type ControllerConfig struct {
	Kp            int `yaml:"kp"`
	Ki            int `yaml:"ki"`
	IntegralLimit int `yaml:"integral_limit"`
	// MaxVelocity bounds requested wheel velocities, in cm/s.
	MaxVelocity int `yaml:"max_velocity"`
}

type OdometryConfig struct {
	DistancePerTickUM int `yaml:"distance_per_tick_um"`
	LeftSign          int `yaml:"left_sign"`
	RightSign         int `yaml:"right_sign"`
}

type SensorsConfig struct {
	GroundThreshold uint `yaml:"ground_threshold"`
	BeaconThreshold uint `yaml:"beacon_threshold"`

	// A wheel is considered stalled when its measured ticks per cycle differ
	// from the setpoint by at least StallTicks, for StallThreshold cycles.
	StallThreshold uint `yaml:"stall_threshold"`
	StallTicks     int  `yaml:"stall_ticks"`

	BatteryWindow       int  `yaml:"battery_window"`
	BatteryPrefill      int  `yaml:"battery_prefill_decivolts"`
	LowBatteryDecivolts int  `yaml:"low_battery_decivolts"`
	LowBatteryThreshold uint `yaml:"low_battery_threshold"`

	// Battery measurement chain: ADC full scale, reference voltage and the
	// resistor divider in front of the ADC pin.
	ADCMax            int `yaml:"adc_max"`
	ADCRefCentivolts  int `yaml:"adc_ref_centivolts"`
	DividerTopOhms    int `yaml:"divider_top_ohms"`
	DividerBottomOhms int `yaml:"divider_bottom_ohms"`
}

type HALConfig struct {
	Driver string       `yaml:"driver"`
	GPIO   GPIOConfig   `yaml:"gpio"`
	Serial SerialConfig `yaml:"serial"`
	Sim    SimConfig    `yaml:"sim"`
}

type GPIOConfig struct {
	// Per-wheel pins are listed left then right.
	MotorPWMPins    []string `yaml:"motor_pwm_pins"`
	MotorDirPins    []string `yaml:"motor_dir_pins"`
	EncoderPins     []string `yaml:"encoder_pins"`
	LEDPins         []string `yaml:"led_pins"`
	StartButtonPin  string   `yaml:"start_button_pin"`
	StopButtonPin   string   `yaml:"stop_button_pin"`
	BeaconPin       string   `yaml:"beacon_pin"`
	ObstEnablePin   string   `yaml:"obstacle_enable_pin"`
	GroundEnablePin string   `yaml:"ground_enable_pin"`
	// MotorSmoothing averages the last N motor commands before they reach
	// the H-bridge.  1 disables smoothing.
	MotorSmoothing int `yaml:"motor_smoothing"`

	ServoPin     string `yaml:"servo_pin"`
	ServoMinUS   int    `yaml:"servo_min_us"`
	ServoMaxUS   int    `yaml:"servo_max_us"`
	ServoInverse bool   `yaml:"servo_inverse"`

	// If BusServoPort is set, the pointing actuator is a Feetech bus servo
	// instead of a PWM servo.
	BusServoPort string `yaml:"bus_servo_port"`
	BusServoBaud int    `yaml:"bus_servo_baud"`
	BusServoID   int    `yaml:"bus_servo_id"`

	// MCP3008 channels for the left, front and right obstacle sensors.
	SPIPort          string `yaml:"spi_port"`
	ObstacleChannels []int  `yaml:"obstacle_channels"`
	BatteryChannel   int    `yaml:"battery_channel"`
	// ADCSamples is how many conversions are averaged per reading.
	ADCSamples int `yaml:"adc_samples"`

	// The five ground sensors are read through a PCF8574 expander.
	I2CBus       string `yaml:"i2c_bus"`
	ExpanderAddr int    `yaml:"expander_addr"`
}

type SerialConfig struct {
	Port          string `yaml:"port"`
	BaudRate      int    `yaml:"baud_rate"`
	ReadTimeoutMS int    `yaml:"read_timeout_ms"`
}

type SimConfig struct {
	// PlantGainPercent is the share of the motor command, as a percentage,
	// that the simulated wheels turn into ticks per cycle.  0 leaves the
	// wheels still.
	PlantGainPercent int `yaml:"plant_gain_percent"`
	BatteryRaw       int `yaml:"battery_raw"`
}

// Default returns the reference calibration.
func Default() Config {
	return Config{
		CyclePeriodMS: 10,
		NumLEDs:       4,
		Pointing: PointingConfig{
			MinDegree: -80,
			MaxDegree: 80,
			MinNative: -15,
			MaxNative: 15,
		},
		Controller: ControllerConfig{
			Kp:            8,
			Ki:            3,
			IntegralLimit: 15,
			MaxVelocity:   100,
		},
		Odometry: OdometryConfig{
			DistancePerTickUM: chassis.DistancePerTickUM,
			LeftSign:          -1,
			RightSign:         1,
		},
		Sensors: SensorsConfig{
			GroundThreshold:     5,
			BeaconThreshold:     5,
			StallThreshold:      5,
			StallTicks:          3,
			BatteryWindow:       32,
			BatteryPrefill:      96,
			LowBatteryDecivolts: 70,
			LowBatteryThreshold: 5,
			ADCMax:              1023,
			ADCRefCentivolts:    330,
			DividerTopOhms:      6800,
			DividerBottomOhms:   3300,
		},
		HAL: HALConfig{
			Driver: DriverSim,
			GPIO: GPIOConfig{
				MotorPWMPins:     []string{"GPIO12", "GPIO13"},
				MotorDirPins:     []string{"GPIO5", "GPIO6"},
				EncoderPins:      []string{"GPIO23", "GPIO24"},
				LEDPins:          []string{"GPIO16", "GPIO20", "GPIO21", "GPIO26"},
				StartButtonPin:   "GPIO17",
				StopButtonPin:    "GPIO27",
				BeaconPin:        "GPIO22",
				ObstEnablePin:    "GPIO25",
				GroundEnablePin:  "GPIO19",
				MotorSmoothing:   2,
				ServoPin:         "GPIO18",
				ServoMinUS:       700,
				ServoMaxUS:       2200,
				ServoInverse:     true,
				BusServoBaud:     1000000,
				BusServoID:       1,
				SPIPort:          "/dev/spidev0.0",
				ObstacleChannels: []int{2, 1, 0},
				BatteryChannel:   3,
				ADCSamples:       2,
				I2CBus:           "/dev/i2c-1",
				ExpanderAddr:     0x20,
			},
			Serial: SerialConfig{
				Port:          "/dev/ttyACM0",
				BaudRate:      115200,
				ReadTimeoutMS: 100,
			},
			Sim: SimConfig{
				PlantGainPercent: 0,
				BatteryRaw:       972,
			},
		},
	}
}

// Load reads the config at path over the defaults.  A missing file is not an
// error; the defaults are used as-is.  The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, errors.Wrapf(err, "failed to read config %s", path)
		}
		log.Info().Str("path", path).Msg("No config file, using defaults")
	} else {
		err = yaml.UnmarshalStrict(data, &cfg)
		if err != nil {
			return Config{}, errors.Wrapf(err, "failed to parse config %s", path)
		}
		log.Info().Str("path", path).Msg("Loaded config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal renders the config as YAML, for writing out the config in use.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(&c)
}

func (c Config) Validate() error {
	if c.CyclePeriodMS <= 0 {
		return errors.Errorf("cycle_period_ms must be positive, not %d", c.CyclePeriodMS)
	}
	if c.NumLEDs < 0 {
		return errors.Errorf("num_leds must not be negative, not %d", c.NumLEDs)
	}
	p := c.Pointing
	if p.MaxDegree <= p.MinDegree {
		return errors.Errorf("pointing degree range [%d, %d] is empty", p.MinDegree, p.MaxDegree)
	}
	if p.MaxNative <= p.MinNative {
		return errors.Errorf("pointing native range [%d, %d] is empty", p.MinNative, p.MaxNative)
	}
	ctl := c.Controller
	if ctl.Kp < 0 || ctl.Ki < 0 || ctl.IntegralLimit < 0 {
		return errors.New("controller gains and integral limit must not be negative")
	}
	if ctl.MaxVelocity <= 0 {
		return errors.Errorf("max_velocity must be positive, not %d", ctl.MaxVelocity)
	}
	o := c.Odometry
	if o.DistancePerTickUM <= 0 {
		return errors.Errorf("distance_per_tick_um must be positive, not %d", o.DistancePerTickUM)
	}
	if !unitSign(o.LeftSign) || !unitSign(o.RightSign) {
		return errors.Errorf("wheel signs must be +1 or -1, not %d/%d", o.LeftSign, o.RightSign)
	}
	s := c.Sensors
	if s.GroundThreshold == 0 || s.BeaconThreshold == 0 || s.StallThreshold == 0 || s.LowBatteryThreshold == 0 {
		return errors.New("debounce thresholds must be positive")
	}
	if s.StallTicks <= 0 {
		return errors.Errorf("stall_ticks must be positive, not %d", s.StallTicks)
	}
	if s.BatteryWindow <= 0 {
		return errors.Errorf("battery_window must be positive, not %d", s.BatteryWindow)
	}
	if s.ADCMax <= 0 || s.ADCRefCentivolts <= 0 || s.DividerTopOhms < 0 || s.DividerBottomOhms <= 0 {
		return errors.New("invalid battery measurement chain")
	}
	switch c.HAL.Driver {
	case DriverSim, DriverDummy, DriverGPIO, DriverSerial:
	default:
		return errors.Errorf("unknown HAL driver %q", c.HAL.Driver)
	}
	if c.HAL.Driver == DriverGPIO {
		g := c.HAL.GPIO
		if g.BusServoPort == "" && g.ServoMaxUS <= g.ServoMinUS {
			return errors.Errorf("servo pulse range [%d, %d]us is empty", g.ServoMinUS, g.ServoMaxUS)
		}
		if len(g.MotorPWMPins) != 2 || len(g.MotorDirPins) != 2 || len(g.EncoderPins) != 2 {
			return errors.New("motor and encoder pins must list exactly two entries, left then right")
		}
		if len(g.ObstacleChannels) != 3 {
			return errors.Errorf("obstacle_channels must list three channels, not %d", len(g.ObstacleChannels))
		}
		if len(g.LEDPins) < c.NumLEDs {
			return errors.Errorf("%d LEDs configured but only %d LED pins", c.NumLEDs, len(g.LEDPins))
		}
		if g.MotorSmoothing <= 0 {
			return errors.Errorf("motor_smoothing must be positive, not %d", g.MotorSmoothing)
		}
		if g.ADCSamples <= 0 {
			return errors.Errorf("adc_samples must be positive, not %d", g.ADCSamples)
		}
	}
	return nil
}

func unitSign(s int) bool {
	return s == 1 || s == -1
}
