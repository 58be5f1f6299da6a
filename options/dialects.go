package options

import "strconv"

var watchdogPrescaleTable = map[int]byte{
	2: 0, 4: 1, 8: 2, 16: 3, 32: 4, 64: 5, 128: 6, 256: 7,
}

// withWatchdogPrescaleValidate finds "watchdog_prescale" in fields and
// wires its Validate predicate to require "watchdog_por_enabled" (at
// the given byte/bit/polarity) be already set, per spec.md §4.5's
// named example of a cross-field constraint. Mutates fields in place
// and returns it for chaining.
func withWatchdogPrescaleValidate(fields []Field, porByteIndex int, porBit byte, porInvert bool) []Field {
	for i := range fields {
		if fields[i].Name == "watchdog_prescale" {
			fields[i].Validate = requireBoolSet("watchdog_prescale", "watchdog_por_enabled", porByteIndex, porBit, porInvert)
		}
	}
	return fields
}

// NewStc89 builds the option registry for the P89/STC89 dialect: a
// single MSR byte, grounded field-for-field on
// original_source/stcgal/options.py's Stc89Option. STC89 has no
// watchdog_prescale field, so no cross-field predicate applies here.
func NewStc89() *Registry {
	return &Registry{
		Dialect: "stc89",
		MSR:     []byte{0x00},
		Fields: []Field{
			boolField("cpu_6t_enabled", 0, 1<<0, true),
			boolField("bsl_pindetect_enabled", 0, 1<<2, true),
			boolField("eeprom_erase_enabled", 0, 1<<3, true),
			enumField("clock_gain", 0, 1<<4, 4, map[string]byte{"low": 0, "high": 1}),
			boolField("ale_enabled", 0, 1<<5, false),
			boolField("xram_enabled", 0, 1<<6, false),
			boolField("watchdog_por_enabled", 0, 1<<7, true),
		},
	}
}

// NewStc12A builds the option registry for the P12A/STC12A dialect:
// four MSR bytes, grounded on Stc12AOption. low_voltage_reset is a
// string enum in the Python source (not a plain boolean, despite its
// name) because the stored bit and the displayed value run in
// opposite senses.
func NewStc12A() *Registry {
	fields := []Field{
		enumField("low_voltage_reset", 3, 1<<6, 6, map[string]byte{"low": 1, "high": 0}),
		enumField("clock_source", 0, 1<<1, 1, map[string]byte{"internal": 0, "external": 1}),
		boolField("watchdog_por_enabled", 1, 1<<5, true),
		boolField("watchdog_stop_idle", 1, 1<<3, true),
		intEnumField("watchdog_prescale", 1, 0x07, 0, watchdogPrescaleTable),
		boolField("eeprom_erase_enabled", 2, 1<<1, true),
		boolField("bsl_pindetect_enabled", 2, 1<<0, true),
	}
	fields = withWatchdogPrescaleValidate(fields, 1, 1<<5, true)
	return &Registry{Dialect: "stc12a", MSR: make([]byte, 4), Fields: fields}
}

// NewStc12 builds the registry shared by P12/P12B (STC12/STC12B):
// four MSR bytes, grounded on Stc12Option.
func NewStc12() *Registry {
	fields := []Field{
		boolField("reset_pin_enabled", 0, 1<<0, false),
		boolField("low_voltage_reset", 0, 1<<6, true),
		intEnumField("oscillator_stable_delay", 0, 0x30, 4, map[int]byte{
			4096: 0, 8192: 1, 16384: 2, 32768: 3,
		}),
		enumField("por_reset_delay", 1, 1<<7, 7, map[string]byte{"short": 1, "long": 0}),
		enumField("clock_gain", 1, 1<<6, 6, map[string]byte{"low": 0, "high": 1}),
		enumField("clock_source", 1, 1<<1, 1, map[string]byte{"internal": 0, "external": 1}),
		boolField("watchdog_por_enabled", 2, 1<<5, true),
		boolField("watchdog_stop_idle", 2, 1<<3, true),
		intEnumField("watchdog_prescale", 2, 0x07, 0, watchdogPrescaleTable),
		boolField("eeprom_erase_enabled", 3, 1<<1, true),
		boolField("bsl_pindetect_enabled", 3, 1<<0, true),
	}
	fields = withWatchdogPrescaleValidate(fields, 2, 1<<5, true)
	return &Registry{Dialect: "stc12", MSR: make([]byte, 4), Fields: fields}
}

// NewStc15A builds the registry for P15A/STC15A: thirteen MSR bytes,
// grounded on Stc15AOption. Trim bytes live at msr[3:5] but are set
// by the trim routine, not through this registry's public fields.
func NewStc15A() *Registry {
	fields := []Field{
		boolField("reset_pin_enabled", 0, 1<<4, false),
		boolField("watchdog_por_enabled", 2, 1<<5, true),
		boolField("watchdog_stop_idle", 2, 1<<3, true),
		intEnumField("watchdog_prescale", 2, 0x07, 0, watchdogPrescaleTable),
		boolField("low_voltage_reset", 1, 1<<6, false),
		intRangeField("low_voltage_threshold", 1, 0x07, 0, 0, 7),
		boolField("eeprom_lvd_inhibit", 1, 1<<7, false),
		boolField("eeprom_erase_enabled", 12, 1<<1, true),
		boolField("bsl_pindetect_enabled", 12, 1<<0, true),
	}
	fields = withWatchdogPrescaleValidate(fields, 2, 1<<5, true)
	return &Registry{Dialect: "stc15a", MSR: make([]byte, 13), Fields: fields}
}

// NewStc15 builds the registry for P15/STC15, grounded on
// Stc15Option. It always carries the core fields; cpu_core_voltage is
// only offered when the caller knows the MSR is long enough, mirroring
// the Python source's len(msr) > 4 guard.
func NewStc15(msrLen int, hasCoreVoltage bool) *Registry {
	if msrLen < 4 {
		msrLen = 4
	}
	fields := []Field{
		boolField("reset_pin_enabled", 2, 1<<4, true),
		enumField("clock_source", 2, 1<<0, 0, map[string]byte{"internal": 1, "external": 0}),
		enumField("clock_gain", 2, 1<<1, 1, map[string]byte{"low": 0, "high": 1}),
		boolField("watchdog_por_enabled", 0, 1<<5, true),
		boolField("watchdog_stop_idle", 0, 1<<3, true),
		intEnumField("watchdog_prescale", 0, 0x07, 0, watchdogPrescaleTable),
		boolField("low_voltage_reset", 1, 1<<6, true),
		intRangeField("low_voltage_threshold", 1, 0x07, 0, 0, 7),
		boolField("eeprom_lvd_inhibit", 1, 1<<7, false),
		boolField("eeprom_erase_enabled", 3, 1<<1, false),
		boolField("bsl_pindetect_enabled", 3, 1<<0, true),
		enumField("por_reset_delay", 2, 1<<7, 7, map[string]byte{"short": 0, "long": 1}),
		enumField("rstout_por_state", 2, 1<<3, 3, map[string]byte{"low": 0, "high": 1}),
		boolField("uart2_passthrough", 2, 1<<6, false),
		enumField("uart2_pin_mode", 2, 1<<5, 5, map[string]byte{"normal": 0, "push-pull": 1}),
	}
	if hasCoreVoltage {
		fields = append(fields, enumField("cpu_core_voltage", 4, 0xff, 0, map[string]byte{
			"low": 0xea, "mid": 0xf7, "high": 0xfd,
		}))
	}
	fields = withWatchdogPrescaleValidate(fields, 0, 1<<5, true)
	return &Registry{Dialect: "stc15", MSR: make([]byte, msrLen), Fields: fields}
}

// NewStc8 builds the registry for P8/STC8, grounded on Stc8Option.
// low_voltage_threshold is stored inverted (3 - value) in the MSR
// byte, and program_eeprom_split is validated exactly as the Python
// source does: a multiple of 512 within [512, eepromTotal].
func NewStc8(eepromTotal int) *Registry {
	fields := []Field{
		boolField("reset_pin_enabled", 2, 1<<4, true),
		enumField("clock_gain", 1, 1<<1, 1, map[string]byte{"low": 0, "high": 1}),
		boolField("watchdog_por_enabled", 3, 1<<5, true),
		boolField("watchdog_stop_idle", 3, 1<<3, true),
		intEnumField("watchdog_prescale", 3, 0x07, 0, watchdogPrescaleTable),
		boolField("low_voltage_reset", 2, 1<<6, true),
		invertedIntRangeField("low_voltage_threshold", 2, 0x03, 0, 3),
		boolField("eeprom_erase_enabled", 0, 1<<1, false),
		boolField("bsl_pindetect_enabled", 0, 1<<0, true),
		enumField("por_reset_delay", 1, 1<<7, 7, map[string]byte{"short": 0, "long": 1}),
		enumField("rstout_por_state", 1, 1<<3, 3, map[string]byte{"low": 0, "high": 1}),
		boolField("uart1_remap", 1, 1<<6, false),
		boolField("uart2_passthrough", 1, 1<<4, false),
		enumField("uart2_pin_mode", 1, 1<<5, 5, map[string]byte{"normal": 0, "push-pull": 1}),
		boolField("epwm_open_drain", 1, 1<<2, false),
		{
			Name:   "program_eeprom_split",
			Decode: func(msr []byte) any { return int(msr[4]) * 256 },
			Encode: func(msr []byte, value any) error {
				v, ok := asInt(value)
				if !ok || v < 512 || v > eepromTotal || v%512 != 0 {
					return splitRangeErr(eepromTotal)
				}
				msr[4] = byte(v / 256)
				return nil
			},
		},
	}
	fields = withWatchdogPrescaleValidate(fields, 3, 1<<5, true)
	return &Registry{Dialect: "stc8", MSR: make([]byte, 5), Fields: fields}
}

// PreflightRegistries returns the registries used to validate -o
// options before any device I/O happens: for a fixed dialect name,
// just that dialect's registry built with the most permissive sizing
// (so a name/value rejected here would be rejected by every real
// device of that dialect too); for "auto" or "usb15" (whose concrete
// family isn't known until identify), every dialect's registry, since
// an option is acceptable pre-connect if any family would accept it.
func PreflightRegistries(dialectName string) []*Registry {
	switch dialectName {
	case "stc89":
		return []*Registry{NewStc89()}
	case "stc12a":
		return []*Registry{NewStc12A()}
	case "stc12", "stc12b":
		return []*Registry{NewStc12()}
	case "stc15a":
		return []*Registry{NewStc15A()}
	case "stc15":
		return []*Registry{NewStc15(13, true)}
	case "stc8":
		return []*Registry{NewStc8(65024)}
	default:
		return []*Registry{
			NewStc89(), NewStc12A(), NewStc12(), NewStc15A(), NewStc15(13, true), NewStc8(65024),
		}
	}
}

func splitRangeErr(eepromTotal int) error {
	return &invalidSplitError{max: eepromTotal}
}

type invalidSplitError struct{ max int }

func (e *invalidSplitError) Error() string {
	return "program_eeprom_split: must be a multiple of 512 within [512, " + strconv.Itoa(e.max) + "]"
}
