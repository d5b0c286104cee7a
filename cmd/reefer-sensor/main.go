// Command reefer-sensor monitors a cold-room temperature, tracks defrost cycles and raises alarms.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/reefer-sensor/internal/command"
	"github.com/sweeney/reefer-sensor/internal/config"
	"github.com/sweeney/reefer-sensor/internal/gpio"
	"github.com/sweeney/reefer-sensor/internal/journal"
	"github.com/sweeney/reefer-sensor/internal/logger"
	"github.com/sweeney/reefer-sensor/internal/logic"
	"github.com/sweeney/reefer-sensor/internal/metrics"
	"github.com/sweeney/reefer-sensor/internal/mqtt"
	"github.com/sweeney/reefer-sensor/internal/notify"
	"github.com/sweeney/reefer-sensor/internal/sensor"
	"github.com/sweeney/reefer-sensor/internal/status"
	"github.com/sweeney/reefer-sensor/internal/web"
)

func main() {
	flags := pflag.NewFlagSet("reefer-sensor", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "Config file (default: ./reefer.yaml or /etc/reefer-sensor/reefer.yaml)")
	flags.String("log-level", logger.InfoLevel, "Log level: debug, info, warn, error")
	flags.String("http", ":8080", "HTTP listen address (empty to disable)")
	flags.Bool("simulate", false, "Use simulated temperatures instead of 1-wire sensors")
	printState := flags.Bool("print-state", false, "Print current readings and exit")
	_ = flags.Parse(os.Args[1:])

	v := viper.New()
	config.SetDefaults(v)
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("http.addr", flags.Lookup("http"))
	if sim, _ := flags.GetBool("simulate"); sim {
		v.Set("sensor.mode", config.SensorSimulation)
	}

	cfg, err := config.Load(v, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log, *printState); err != nil {
		log.Fatalw("fatal", "err", err)
	}
}

func run(cfg config.Config, log *zap.SugaredLogger, printState bool) error {
	store := config.NewStore(cfg)
	source := sensor.NewReader(store.Sensor)

	pins, outputs, err := openGPIO(cfg, log)
	if err != nil {
		return err
	}
	defer pins.Close()
	defer outputs.Close()

	if printState {
		return printReadings(source, pins, cfg.Thresholds.DefrostRelayNC)
	}

	m := metrics.New()
	device := notify.Device{ID: cfg.Device.ID, Name: cfg.Device.Name, Location: cfg.Device.Location}

	var channels []notify.Channel

	var publisher *mqtt.RealPublisher
	if cfg.MQTT.Enabled {
		publisher, err = mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			DeviceID:    cfg.Device.ID,
		}, log.Named("mqtt"))
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer publisher.Close()
		channels = append(channels, notify.NewMQTT(publisher))
	}

	var events *journal.Journal
	if cfg.Journal.Path != "" {
		events, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			log.Warnw("event journal unavailable", "path", cfg.Journal.Path, "err", err)
		} else {
			defer events.Close()
			channels = append(channels, notify.NewJournal(events))
		}
	}

	if cfg.Telegram.Token != "" {
		tg := notify.NewTelegram(cfg.Telegram.APIURL, cfg.Telegram.Token, cfg.Telegram.ChatIDs, device, nil)
		channels = append(channels, notify.Gate(tg, store.TelegramEnabled))
	}
	if cfg.Cloud.URL != "" {
		cloud := notify.NewCloud(cfg.Cloud.URL, cfg.Cloud.APIKey, device, nil)
		channels = append(channels, notify.Gate(cloud, store.CloudEnabled))
	}

	dispatcher := notify.NewDispatcher(cfg.Loop.NotifyTimeout, log.Named("notify"), m, channels...)

	startTime := time.Now()
	tracker := status.NewTracker(startTime, status.Info{
		DeviceID:     cfg.Device.ID,
		DeviceName:   cfg.Device.Name,
		Location:     cfg.Device.Location,
		Broker:       cfg.MQTT.Broker,
		HTTPAddr:     cfg.HTTP.Addr,
		TickMs:       cfg.Loop.Tick.Milliseconds(),
		HeartbeatMs:  cfg.Loop.Heartbeat.Milliseconds(),
		SensorMode:   cfg.Sensor.Mode,
		TopicPrefix:  cfg.MQTT.TopicPrefix,
		JournalPath:  cfg.Journal.Path,
		CloudEnabled: cfg.Cloud.Enabled,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopDone := make(chan struct{})
	bus := command.NewBus(loopDone)

	l := &loop{
		source:       source,
		pins:         pins,
		outputs:      outputs,
		store:        store,
		notifier:     dispatcher,
		tracker:      tracker,
		metrics:      m,
		log:          log,
		heartbeat:    cfg.Loop.Heartbeat,
		syncInterval: cfg.Cloud.SyncInterval,
	}
	if pm, ok := any(source).(sensor.PowerMonitor); ok {
		l.power = pm
	}
	if publisher != nil {
		l.publisher = publisher
		l.mqttStatus = publisher
		if err := publisher.Subscribe(commandHandler(ctx, bus, log)); err != nil {
			log.Warnw("mqtt command subscription failed", "err", err)
		}
	}

	// Publish startup event with full status snapshot
	if l.publisher != nil {
		snap := tracker.Snapshot()
		startup := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := l.publisher.PublishSystem(startup); err != nil {
			log.Warnw("failed to publish startup event", "err", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var srv *web.Server
	if cfg.HTTP.Addr != "" {
		srv = web.New(web.Options{
			Addr:     cfg.HTTP.Addr,
			Tracker:  tracker,
			Store:    store,
			Commands: bus,
			Events:   journalLister(events),
			Metrics:  m.Handler(),
			Log:      log.Named("http"),
		})
		g.Go(func() error {
			log.Infow("http server listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Infow("started",
		"device", cfg.Device.ID,
		"sensor", cfg.Sensor.Mode,
		"tick", cfg.Loop.Tick,
		"pin_poll", cfg.Loop.PinPoll,
		"temp_critical", cfg.Thresholds.TempCritical,
		"alert_delay_sec", cfg.Thresholds.AlertDelaySec,
		"defrost_relay_nc", cfg.Thresholds.DefrostRelayNC,
		"channels", len(channels),
	)

	ticker := time.NewTicker(cfg.Loop.Tick)
	defer ticker.Stop()
	pinTicker := time.NewTicker(cfg.Loop.PinPoll)
	defer pinTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g.Go(func() error {
		defer cancel()
		defer close(loopDone)
		return l.run(gctx, time.Now, ticker.C, pinTicker.C, sigCh, bus.Requests())
	})

	return g.Wait()
}

// openGPIO opens the pins. In simulation mode a missing GPIO chip is not fatal
// and the daemon runs against idle fake pins.
func openGPIO(cfg config.Config, log *zap.SugaredLogger) (gpio.Reader, gpio.Actuator, error) {
	p := gpio.Pins{
		Chip:    cfg.GPIO.Chip,
		Defrost: cfg.GPIO.PinDefrost,
		Door:    cfg.GPIO.PinDoor,
		Relay:   cfg.GPIO.PinRelay,
		Buzzer:  cfg.GPIO.PinBuzzer,
	}

	reader, err := gpio.NewRealReader(p)
	if err == nil {
		var act *gpio.RealActuator
		act, err = gpio.NewRealActuator(p)
		if err == nil {
			return reader, act, nil
		}
		reader.Close()
	}

	if cfg.Sensor.Mode != config.SensorSimulation {
		return nil, nil, fmt.Errorf("init gpio: %w", err)
	}
	log.Warnw("gpio unavailable, using idle pins", "err", err)
	// Idle pins: an NO defrost contact reads HIGH outside defrost, an NC one LOW.
	return gpio.NewFakeReader(gpio.Levels{Defrost: !cfg.Thresholds.DefrostRelayNC}), gpio.NewFakeActuator(), nil
}

// journalLister avoids handing the server a typed nil.
func journalLister(j *journal.Journal) web.EventLister {
	if j == nil {
		return nil
	}
	return j
}

// commandHandler maps MQTT commands onto the control loop's request bus.
func commandHandler(ctx context.Context, bus *command.Bus, log *zap.SugaredLogger) func(mqtt.Command) {
	return func(c mqtt.Command) {
		req, ok := requestFor(c)
		if !ok {
			log.Warnw("unknown mqtt command", "command", c)
			return
		}
		req.Origin = "mqtt"
		// paho delivers on its own goroutine; don't hold it while the loop is busy.
		go func() {
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			reply, err := bus.Send(sctx, req)
			if err != nil {
				log.Warnw("mqtt command failed", "command", c, "err", err)
				return
			}
			log.Infow("mqtt command", "command", c, "applied", reply.Applied)
		}()
	}
}

func requestFor(c mqtt.Command) (command.Request, bool) {
	switch c {
	case mqtt.CmdAck:
		return command.Request{Kind: command.Acknowledge}, true
	case mqtt.CmdDefrost:
		return command.Request{Kind: command.ToggleDefrost}, true
	case mqtt.CmdRelayOn:
		return command.Request{Kind: command.SetRelay, On: true}, true
	case mqtt.CmdRelayOff:
		return command.Request{Kind: command.SetRelay, On: false}, true
	case mqtt.CmdTest:
		return command.Request{Kind: command.TestAlarm}, true
	}
	return command.Request{}, false
}

func printReadings(source sensor.Source, pins gpio.Reader, nc bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r, err := source.Read(ctx)
	if err != nil {
		fmt.Printf("sensor error: %v\n", err)
	}
	lv, err := pins.Read()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}

	s := r.Sample()
	fmt.Printf("Temp1: %s, Temp2: %s, Avg: %s\n",
		formatTemp(r.Temp1, r.Valid1), formatTemp(r.Temp2, r.Valid2), formatTemp(s.Average, s.Valid))
	fmt.Printf("Defrost pin: %s (%s), Door pin: %s\n",
		levelString(lv.Defrost), defrostString(lv.Defrost, nc), levelString(lv.Door))
	return nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func formatTemp(t float64, ok bool) string {
	if !ok {
		return "--"
	}
	return fmt.Sprintf("%.2f°C", t)
}

func levelString(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}

func defrostString(high, nc bool) string {
	if logic.DefrostActive(high, nc) {
		return "defrost"
	}
	return "cooling"
}
