package sensor

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"
)

// BME280 is a Bosch BME280 on the default I2C bus.
type BME280 struct {
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

func OpenBME280(addr uint16) (*BME280, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host.Init: %w", err)
	}

	bus, err := i2creg.Open("") // default bus, usually /dev/i2c-1
	if err != nil {
		return nil, fmt.Errorf("i2creg.Open: %w", err)
	}

	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("bmxx80.NewI2C(%#x): %w", addr, err)
	}
	return &BME280{bus: bus, dev: dev}, nil
}

func (b *BME280) Sense(context.Context) (Reading, error) {
	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		return Reading{}, fmt.Errorf("bme280 sense: %w", err)
	}
	return fromEnv(env), nil
}

// fromEnv converts periph's fixed-point units: humidity is in tenths of a
// micro-%rH and pressure in nanopascal.
func fromEnv(env physic.Env) Reading {
	return Reading{
		TemperatureC: env.Temperature.Celsius(),
		Humidity:     float64(env.Humidity) / float64(physic.PercentRH),
		PressureHPa:  float64(env.Pressure) / float64(physic.Pascal) / 100,
	}
}

func (b *BME280) Close() error {
	herr := b.dev.Halt()
	berr := b.bus.Close()
	if herr != nil {
		return herr
	}
	return berr
}
