package sensor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sweeney/reefer-sensor/internal/config"
)

// ds18b20Family is the 1-wire family code prefix of DS18B20 device directories.
const ds18b20Family = "28-"

// Reader reads DS18B20 sensors from w1 sysfs, or returns the simulated
// temperatures when the live configuration is in simulation mode.
// The sensor settings are fetched on every Read so API changes apply immediately.
type Reader struct {
	settings func() config.SensorConfig
}

// NewReader creates a Reader backed by the given settings lookup.
func NewReader(settings func() config.SensorConfig) *Reader {
	return &Reader{settings: settings}
}

// Read implements Source.
func (r *Reader) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	s := r.settings()
	if s.Mode == config.SensorSimulation {
		return Reading{
			Temp1:  s.SimTemp1,
			Temp2:  s.SimTemp2,
			Valid1: true,
			Valid2: true,
			Count:  2,
		}, nil
	}

	ids, err := sensorIDs(s)
	if err != nil {
		return Reading{}, err
	}

	rd := Reading{Count: len(ids)}
	var errs []error

	if len(ids) > 0 {
		rd.Temp1, err = readSensor(s.W1Dir, ids[0])
		if err != nil {
			errs = append(errs, err)
		}
		rd.Valid1 = err == nil && Valid(rd.Temp1)
	} else {
		errs = append(errs, errors.New("no DS18B20 sensors found"))
	}

	if s.Sensor2Enabled && len(ids) > 1 {
		rd.Temp2, err = readSensor(s.W1Dir, ids[1])
		if err != nil {
			errs = append(errs, err)
		}
		rd.Valid2 = err == nil && Valid(rd.Temp2)
	}

	return rd, errors.Join(errs...)
}

// sensorIDs returns the configured sensor ids, or the sorted DS18B20 devices on
// the bus when none are configured.
func sensorIDs(s config.SensorConfig) ([]string, error) {
	if s.Sensor1ID != "" {
		ids := []string{s.Sensor1ID}
		if s.Sensor2ID != "" {
			ids = append(ids, s.Sensor2ID)
		}
		return ids, nil
	}

	matches, err := filepath.Glob(filepath.Join(s.W1Dir, ds18b20Family+"*"))
	if err != nil {
		return nil, fmt.Errorf("scan w1 bus: %w", err)
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, filepath.Base(m))
	}
	sort.Strings(ids)
	return ids, nil
}

func readSensor(dir, id string) (float64, error) {
	data, err := os.ReadFile(filepath.Join(dir, id, "w1_slave"))
	if err != nil {
		return 0, fmt.Errorf("read sensor %s: %w", id, err)
	}
	t, err := parseW1Slave(string(data))
	if err != nil {
		return 0, fmt.Errorf("sensor %s: %w", id, err)
	}
	return t, nil
}

// parseW1Slave decodes the two-line w1_slave format:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func parseW1Slave(data string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("short w1_slave output")
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("crc check failed")
	}

	i := strings.Index(lines[1], "t=")
	if i < 0 {
		return 0, fmt.Errorf("missing temperature field")
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][i+2:]))
	if err != nil {
		return 0, fmt.Errorf("parse temperature: %w", err)
	}
	return float64(milli) / 1000, nil
}
