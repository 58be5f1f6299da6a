package options

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStc89RoundTrip(t *testing.T) {
	r := NewStc89()
	require.NoError(t, r.Set("ale_enabled", true))
	require.NoError(t, r.Set("clock_gain", "high"))

	v, err := r.Get("ale_enabled")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = r.Get("clock_gain")
	require.NoError(t, err)
	assert.Equal(t, "high", v)
}

func TestStc12AWatchdogPrescaleRejectsNonPowerOfTwo(t *testing.T) {
	r := NewStc12A()
	err := r.Set("watchdog_prescale", 5)
	require.Error(t, err)
}

func TestStc12AWatchdogPrescaleAcceptsTableValue(t *testing.T) {
	r := NewStc12A()
	require.NoError(t, r.Set("watchdog_prescale", 64))
	v, err := r.Get("watchdog_prescale")
	require.NoError(t, err)
	assert.Equal(t, 64, v)
}

func TestStc8ProgramEepromSplitBounds(t *testing.T) {
	r := NewStc8(8192)
	require.Error(t, r.Set("program_eeprom_split", 1000))
	require.Error(t, r.Set("program_eeprom_split", 65536))
	require.NoError(t, r.Set("program_eeprom_split", 512))
	v, err := r.Get("program_eeprom_split")
	require.NoError(t, err)
	assert.Equal(t, 512, v)
}

func TestUnknownOptionNameErrors(t *testing.T) {
	r := NewStc89()
	_, err := r.Get("not_a_real_option")
	require.Error(t, err)
	require.Error(t, r.Set("not_a_real_option", true))
}

// TestBoolFieldsRoundTripArbitraryValues checks that every boolField
// on the stc89 registry reads back whatever was last written, for
// arbitrary bool inputs.
func TestBoolFieldsRoundTripArbitraryValues(t *testing.T) {
	names := []string{"cpu_6t_enabled", "bsl_pindetect_enabled", "eeprom_erase_enabled", "ale_enabled", "xram_enabled", "watchdog_por_enabled"}
	for _, name := range names {
		name := name
		prop := func(b bool) bool {
			r := NewStc89()
			if err := r.Set(name, b); err != nil {
				return false
			}
			v, err := r.Get(name)
			if err != nil {
				return false
			}
			return v == b
		}
		require.NoError(t, quick.Check(prop, nil), "field %s", name)
	}
}

func TestSetAcceptsCliStringValues(t *testing.T) {
	r := NewStc89()
	require.NoError(t, r.Set("ale_enabled", "true"))
	v, err := r.Get("ale_enabled")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	r12a := NewStc12A()
	require.NoError(t, r12a.Set("watchdog_prescale", "64"))
	v, err = r12a.Get("watchdog_prescale")
	require.NoError(t, err)
	assert.Equal(t, 64, v)

	require.Error(t, r12a.Set("watchdog_prescale", "not-a-number"))
}

func TestWatchdogPrescaleRequiresWatchdogPorEnabled(t *testing.T) {
	r := NewStc12A()
	require.NoError(t, r.Set("watchdog_por_enabled", false))
	err := r.Set("watchdog_prescale", 64)
	require.Error(t, err)

	require.NoError(t, r.Set("watchdog_por_enabled", true))
	require.NoError(t, r.Set("watchdog_prescale", 64))
}

func TestWatchdogPrescaleAllowedByDefault(t *testing.T) {
	// A freshly built registry's zeroed MSR already has
	// watchdog_por_enabled=true (the bit is an inverted "disable"
	// flag, clear by default), so the prescale coupling doesn't
	// reject a prescale set before any other option has been touched.
	for _, reg := range []*Registry{NewStc12A(), NewStc12(), NewStc15A(), NewStc15(13, true), NewStc8(65024)} {
		require.NoError(t, reg.Set("watchdog_prescale", 64), "dialect %s", reg.Dialect)
	}
}

func TestStc15CoreVoltageOnlyWhenLongEnough(t *testing.T) {
	short := NewStc15(4, false)
	require.Error(t, short.Set("cpu_core_voltage", "high"))

	long := NewStc15(5, true)
	require.NoError(t, long.Set("cpu_core_voltage", "high"))
}
