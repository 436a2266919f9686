package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sweeney/water-tap/internal/actuator"
	"github.com/sweeney/water-tap/internal/gpio"
	"github.com/sweeney/water-tap/internal/mqtt"
	"github.com/sweeney/water-tap/internal/status"
	"github.com/sweeney/water-tap/internal/tap"
)

type config struct {
	Broker         string        `yaml:"broker"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicIn        string        `yaml:"topic_in"`
	TopicOut       string        `yaml:"topic_out"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	NodeID         int           `yaml:"node_id"`
	Trip           time.Duration `yaml:"trip"`
	Wait           time.Duration `yaml:"wait"`
	Wake           time.Duration `yaml:"wake"`
	SmartSleepWait time.Duration `yaml:"smart_sleep_wait"`

	Chip         string `yaml:"chip"`
	PinOpen      int    `yaml:"pin_open"`
	PinClose     int    `yaml:"pin_close"`
	PinActiveLED int    `yaml:"pin_active_led"`
	PinStateLED  int    `yaml:"pin_state_led"`
	PinBlinkLED  int    `yaml:"pin_blink_led"`
	DebugLEDs    bool   `yaml:"debug_leds"`

	HTTP string `yaml:"http"`

	File        string `yaml:"-"`
	PrintConfig bool   `yaml:"-"`
}

func defaultConfig() config {
	return config{
		Broker:         "tcp://127.0.0.1:1883",
		TopicIn:        mqtt.DefaultTopicIn,
		TopicOut:       mqtt.DefaultTopicOut,
		ConnectTimeout: time.Minute,
		NodeID:         1,
		Trip:           actuator.DefaultTripDuration,
		Wait:           tap.DefaultReplyTimeout,
		Wake:           tap.DefaultWakeInterval,
		SmartSleepWait: tap.DefaultSmartSleepWait,
		Chip:           "gpiochip0",
		PinOpen:        gpio.DefaultPinOpen,
		PinClose:       gpio.DefaultPinClose,
		PinActiveLED:   -1,
		PinStateLED:    -1,
		PinBlinkLED:    -1,
		HTTP:           ":8080",
	}
}

func (c *config) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.File, "config", c.File, "YAML config file (flags override its values)")
	fs.BoolVar(&c.PrintConfig, "print-config", c.PrintConfig, "Print the effective config and exit")

	fs.StringVar(&c.Broker, "broker", c.Broker, "MQTT broker of the MySensors gateway")
	fs.StringVar(&c.Username, "username", c.Username, "MQTT username")
	fs.StringVar(&c.Password, "password", c.Password, "MQTT password")
	fs.StringVar(&c.TopicIn, "topic-in", c.TopicIn, "Gateway inbound topic prefix")
	fs.StringVar(&c.TopicOut, "topic-out", c.TopicOut, "Gateway outbound topic prefix")
	fs.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "Give up connecting to the broker after this long (0 retries forever)")

	fs.IntVar(&c.NodeID, "node-id", c.NodeID, "MySensors node id")
	fs.DurationVar(&c.Trip, "trip", c.Trip, "Motor drive time for a full valve travel")
	fs.DurationVar(&c.Wait, "wait", c.Wait, "How long to wait for the controller's reply")
	fs.DurationVar(&c.Wake, "wake", c.Wake, "Sleep between wake cycles")
	fs.DurationVar(&c.SmartSleepWait, "smart-sleep-wait", c.SmartSleepWait, "Grace period for gateway-held messages before sleeping")

	fs.StringVar(&c.Chip, "chip", c.Chip, "GPIO chip")
	fs.IntVar(&c.PinOpen, "pin-open", c.PinOpen, "GPIO line driving the valve open")
	fs.IntVar(&c.PinClose, "pin-close", c.PinClose, "GPIO line driving the valve closed")
	fs.IntVar(&c.PinActiveLED, "pin-active-led", c.PinActiveLED, "GPIO line of the awake LED (-1 to disable)")
	fs.IntVar(&c.PinStateLED, "pin-state-led", c.PinStateLED, "GPIO line of the tap state LED (-1 to disable)")
	fs.IntVar(&c.PinBlinkLED, "pin-blink-led", c.PinBlinkLED, "GPIO line of the power-on blink LED (-1 blinks the state LED)")
	fs.BoolVar(&c.DebugLEDs, "debug-leds", c.DebugLEDs, "Light the diagnostic LEDs")

	fs.StringVar(&c.HTTP, "http", c.HTTP, "HTTP status address (empty to disable)")
}

func (c *config) load(path string) error {
	log.Printf("loading config file: %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not open config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("could not parse config file: %w", err)
	}
	return nil
}

// parseConfig builds the effective config from defaults, the optional config
// file and the command line, in increasing precedence.
func parseConfig(args []string) (config, error) {
	cfg := defaultConfig()
	fs := flag.NewFlagSet("water-tap", flag.ContinueOnError)
	cfg.bind(fs)
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if cfg.File != "" {
		fileCfg := defaultConfig()
		if err := fileCfg.load(cfg.File); err != nil {
			return config{}, err
		}
		// Second pass so explicit flags win over the file.
		fs = flag.NewFlagSet("water-tap", flag.ContinueOnError)
		fileCfg.bind(fs)
		if err := fs.Parse(args); err != nil {
			return config{}, err
		}
		cfg = fileCfg
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	var errs []error
	if c.NodeID < 0 || c.NodeID > 254 {
		errs = append(errs, fmt.Errorf("node-id %d out of range 0-254", c.NodeID))
	}
	if c.Trip <= 0 {
		errs = append(errs, fmt.Errorf("trip must be positive, got %v", c.Trip))
	}
	if c.Wait <= 0 {
		errs = append(errs, fmt.Errorf("wait must be positive, got %v", c.Wait))
	}
	if c.Wake < 0 || c.SmartSleepWait < 0 {
		errs = append(errs, errors.New("wake and smart-sleep-wait must not be negative"))
	}
	if c.PinOpen < 0 || c.PinClose < 0 {
		errs = append(errs, errors.New("pin-open and pin-close are required"))
	}
	if c.PinOpen == c.PinClose {
		errs = append(errs, fmt.Errorf("pin-open and pin-close are both %d", c.PinOpen))
	}
	if c.Broker == "" {
		errs = append(errs, errors.New("broker is required"))
	}
	return errors.Join(errs...)
}

func (c config) pins() gpio.Pins {
	return gpio.Pins{
		Open:      c.PinOpen,
		Close:     c.PinClose,
		ActiveLED: c.PinActiveLED,
		StateLED:  c.PinStateLED,
		BlinkLED:  c.PinBlinkLED,
	}
}

func (c config) leds(out gpio.Writer, sleep func(time.Duration)) *tap.LEDs {
	l := tap.NewLEDs(out, c.DebugLEDs, sleep)
	if c.PinBlinkLED >= 0 {
		l.SetBlinkLine(gpio.LineBlinkLED)
	}
	return l
}

func (c config) tapConfig() tap.Config {
	return tap.Config{
		NodeID:         c.NodeID,
		ReplyTimeout:   c.Wait,
		WakeInterval:   c.Wake,
		SmartSleepWait: c.SmartSleepWait,
	}
}

func (c config) statusConfig() status.Config {
	return status.Config{
		NodeID:           c.NodeID,
		TripMs:           c.Trip.Milliseconds(),
		WaitMs:           c.Wait.Milliseconds(),
		WakeMs:           c.Wake.Milliseconds(),
		SmartSleepWaitMs: c.SmartSleepWait.Milliseconds(),
		Broker:           c.Broker,
		HTTPAddr:         c.HTTP,
	}
}

// printable returns the config as YAML with the password masked.
func (c config) printable() ([]byte, error) {
	if c.Password != "" {
		c.Password = "********"
	}
	return yaml.Marshal(c)
}
