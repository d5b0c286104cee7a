package main

import (
	"context"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/reefer-sensor/internal/command"
	"github.com/sweeney/reefer-sensor/internal/config"
	"github.com/sweeney/reefer-sensor/internal/gpio"
	"github.com/sweeney/reefer-sensor/internal/logic"
	"github.com/sweeney/reefer-sensor/internal/metrics"
	"github.com/sweeney/reefer-sensor/internal/mqtt"
	"github.com/sweeney/reefer-sensor/internal/notify"
	"github.com/sweeney/reefer-sensor/internal/sensor"
	"github.com/sweeney/reefer-sensor/internal/status"
)

// logEvery limits repeated warnings about invalid samples and suppression.
const logEvery = 30 * time.Second

// notifier is the outbound side of the loop.
type notifier interface {
	notify.Notifier
	UploadReading(ctx context.Context, r notify.Reading) error
	SendTest(ctx context.Context, channel string) error
}

// loop owns the controller. All controller access happens on the goroutine
// running loop.run.
type loop struct {
	source     sensor.Source
	power      sensor.PowerMonitor // nil when no supply monitor is fitted
	pins       gpio.Reader
	outputs    gpio.Actuator
	store      *config.Store
	notifier   notifier
	publisher  mqtt.Publisher        // may be nil
	mqttStatus mqtt.ConnectionStatus // may be nil
	tracker    *status.Tracker       // may be nil
	metrics    *metrics.Metrics      // may be nil
	log        *zap.SugaredLogger

	heartbeat    time.Duration
	syncInterval time.Duration

	ctrl            *logic.Controller
	reading         sensor.Reading
	levels          gpio.Levels
	lastUpload      time.Time
	lastInvalidLog  time.Time
	lastSuppressLog time.Time
	lastGPIOLog     time.Time
}

// run drives the controller until a signal arrives or ctx is cancelled.
// tick paces the temperature read; pinTick paces the much faster pin poll.
func (l *loop) run(ctx context.Context, now func() time.Time, tick, pinTick <-chan time.Time, sig <-chan os.Signal, cmds <-chan command.Request) error {
	startTime := now()
	l.ctrl = logic.NewController(startTime)
	l.lastUpload = startTime
	// Until the first good read, assume the defrost contact is idle.
	l.levels = gpio.Levels{Defrost: !l.store.Thresholds().DefrostRelayNC}
	l.start(ctx, startTime)

	for {
		select {
		case s := <-sig:
			l.log.Infow("shutting down", "signal", s)
			l.shutdown(ctx, now(), signalName(s))
			return nil

		case <-ctx.Done():
			l.log.Infow("shutting down", "reason", ctx.Err())
			l.shutdown(context.Background(), now(), "CONTEXT")
			return nil

		case req := <-cmds:
			l.handle(ctx, now(), req)

		case <-pinTick:
			l.pollPins(ctx, now())

		case <-tick:
			l.tick(ctx, now())
		}
	}
}

// start reports that the monitor came up.
func (l *loop) start(ctx context.Context, t time.Time) {
	e := logic.Event{
		Timestamp: t,
		Kind:      logic.EventPower,
		Source:    logic.SourceSystem,
		Severity:  logic.SeverityInfo,
		Message:   notify.PowerRestored,
	}
	if l.power != nil {
		if v, ok := l.power.BatteryVoltage(); ok {
			e.Battery = v
		}
	}
	l.dispatch(ctx, []logic.Event{e})
	l.publishStatus()
}

func (l *loop) tick(ctx context.Context, t time.Time) {
	reading, err := l.source.Read(ctx)
	if err != nil && t.Sub(l.lastInvalidLog) >= logEvery {
		l.lastInvalidLog = t
		l.log.Warnw("sensor read failed", "err", err)
	}
	l.reading = reading

	out := l.ctrl.Evaluate(reading.Sample(), t, l.store.Thresholds())

	l.logSkip(t, out.Skip)
	l.apply(ctx, out)

	if hb := l.ctrl.CheckHeartbeat(t, l.heartbeat); hb != nil {
		l.heartbeatEvent(hb)
	}
	if l.syncInterval > 0 && t.Sub(l.lastUpload) >= l.syncInterval {
		l.lastUpload = t
		l.upload(ctx, t)
	}

	l.publishStatus()
}

// pollPins feeds the input levels to the debounce filters.
func (l *loop) pollPins(ctx context.Context, t time.Time) {
	if lv, err := l.pins.Read(); err != nil {
		// Hold the previous levels so a read glitch is not seen as an edge.
		if t.Sub(l.lastGPIOLog) >= logEvery {
			l.lastGPIOLog = t
			l.log.Warnw("gpio read error", "err", err)
		}
	} else {
		l.levels = lv
	}

	out := l.ctrl.ObservePins(l.levels.Defrost, l.levels.Door, t, l.store.Thresholds())
	if len(out.Events) == 0 && out.Relay == logic.Keep && out.Buzzer == logic.Keep {
		return
	}
	l.apply(ctx, out)
	l.publishStatus()
}

func (l *loop) handle(ctx context.Context, t time.Time, req command.Request) {
	th := l.store.Thresholds()

	var out logic.Output
	var err error
	applied := true
	switch req.Kind {
	case command.Acknowledge:
		out, applied = l.ctrl.Acknowledge(t)
	case command.TestAlarm:
		out, applied = l.ctrl.TestAlarm(t, th)
	case command.ToggleDefrost:
		out = l.ctrl.ToggleDefrost(t, th)
	case command.SetRelay:
		out = l.ctrl.SetRelay(req.On, t)
	case command.TestTelegram:
		err = l.notifier.SendTest(ctx, notify.ChannelTelegram)
		applied = err == nil
	default:
		applied = false
		l.log.Warnw("unknown command", "kind", req.Kind, "origin", req.Origin)
	}
	l.log.Infow("command", "kind", req.Kind, "origin", req.Origin, "applied", applied, "err", err)

	l.apply(ctx, out)
	l.publishStatus()

	req.Reply <- command.Reply{Applied: applied, Err: err, Snapshot: l.ctrl.Snapshot()}
}

// apply drives the outputs and delivers the events of one transition.
func (l *loop) apply(ctx context.Context, out logic.Output) {
	if out.Relay != logic.Keep {
		if err := l.outputs.SetRelay(out.Relay == logic.On); err != nil {
			l.log.Errorw("set relay failed", "err", err)
		}
	}
	if out.Buzzer != logic.Keep {
		if err := l.outputs.SetBuzzer(out.Buzzer == logic.On); err != nil {
			l.log.Errorw("set buzzer failed", "err", err)
		}
	}

	for _, k := range out.Debounced {
		l.log.Debugw("transition debounced", "kind", k)
	}
	if l.metrics != nil {
		l.metrics.ObserveOutput(out)
	}

	l.dispatch(ctx, out.Events)
}

func (l *loop) dispatch(ctx context.Context, events []logic.Event) {
	for _, e := range events {
		l.log.Infow("event",
			"kind", e.Kind,
			"source", e.Source,
			"severity", e.Severity,
			"message", e.Message,
			"temperature", e.Temperature,
			"valid", e.TempValid,
		)

		if e.Kind == logic.EventAlarm && e.Notify && e.Severity == logic.SeverityCritical {
			_ = l.notifier.NotifyCritical(ctx, e.Message)
		}
		// Failures are logged and counted by the dispatcher.
		_ = l.notifier.NotifyEvent(ctx, e)
	}
}

func (l *loop) logSkip(t time.Time, skip logic.SkipReason) {
	if skip == logic.SkipNone || t.Sub(l.lastSuppressLog) < logEvery {
		return
	}

	switch skip {
	case logic.SkipInvalidSample:
		l.lastSuppressLog = t
		l.log.Warnw("no valid temperature, alarm evaluation skipped")
	case logic.SkipDefrost:
		l.lastSuppressLog = t
		d := l.ctrl.Snapshot().Defrost
		l.log.Infow("alarm suppressed", "phase", "defrost", "elapsed", t.Sub(d.StartedAt).Truncate(time.Second))
	case logic.SkipCooldown:
		l.lastSuppressLog = t
		d := l.ctrl.Snapshot().Defrost
		l.log.Infow("alarm suppressed", "phase", "cooldown", "remaining", d.CooldownRemaining.Truncate(time.Second))
	}
}

func (l *loop) heartbeatEvent(hb *logic.HeartbeatData) {
	l.log.Infow("heartbeat",
		"uptime", hb.Uptime.Truncate(time.Second),
		"alarms", hb.Counts.Alarms,
		"defrosts", hb.Counts.DefrostStarts,
		"door_opens", hb.Counts.DoorOpens,
	)
	if l.publisher == nil {
		return
	}

	event := mqtt.SystemEvent{Timestamp: hb.Timestamp, Event: "HEARTBEAT"}
	if l.tracker != nil {
		// Refresh network info for heartbeat
		if net := readNetworkInfo(); net != nil {
			l.tracker.SetNetwork(net)
		}
		l.publishStatus()
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "HEARTBEAT", "")
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.Warnw("heartbeat publish error", "err", err)
	}
}

// upload sends a telemetry row built from the latest reading.
func (l *loop) upload(ctx context.Context, t time.Time) {
	snap := l.ctrl.Snapshot()
	r := l.reading

	row := notify.Reading{
		Time:           t,
		DoorOpen:       snap.Door.Open,
		RelayOn:        snap.RelayOn,
		BuzzerOn:       snap.BuzzerOn,
		AlertActive:    snap.Alarm.Active,
		DefrostMode:    snap.Defrost.Active,
		CooldownMode:   snap.Defrost.CooldownActive,
		SimulationMode: l.store.Sensor().Mode == config.SensorSimulation,
		Uptime:         t.Sub(snap.StartTime),
	}
	if r.Valid1 {
		row.Temp1 = &r.Temp1
	}
	if r.Valid2 {
		row.Temp2 = &r.Temp2
	}
	if snap.Sample.Valid {
		avg := snap.Sample.Average
		row.TempAvg = &avg
	}
	if l.power != nil {
		if v, ok := l.power.BatteryVoltage(); ok {
			row.BatteryVoltage = &v
		}
		if a, ok := l.power.CompressorCurrent(); ok {
			row.CurrentAmps = &a
		}
	}

	_ = l.notifier.UploadReading(ctx, row)
}

// publishStatus refreshes the tracker and metrics from the controller.
func (l *loop) publishStatus() {
	snap := l.ctrl.Snapshot()
	if l.metrics != nil {
		l.metrics.ObserveSnapshot(snap)
	}
	if l.tracker == nil {
		return
	}
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
	l.tracker.Update(snap, l.reading, l.store.Settings())
}

func (l *loop) shutdown(ctx context.Context, t time.Time, reason string) {
	l.dispatch(ctx, []logic.Event{{
		Timestamp: t,
		Kind:      logic.EventPower,
		Source:    logic.SourceSystem,
		Severity:  logic.SeverityInfo,
		Message:   notify.PowerShutdown,
	}})

	if err := l.outputs.SetBuzzer(false); err != nil {
		l.log.Warnw("silence buzzer failed", "err", err)
	}

	if l.publisher == nil {
		return
	}
	event := mqtt.SystemEvent{
		Timestamp: t,
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if l.tracker != nil {
		l.publishStatus()
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", reason)
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.Warnw("failed to publish shutdown event", "err", err)
	} else {
		l.log.Infow("published shutdown event")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
