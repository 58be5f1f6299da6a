package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdraculin/stc-isp/frame"
	"github.com/mdraculin/stc-isp/options"
	"github.com/mdraculin/stc-isp/protocol"
	"github.com/mdraculin/stc-isp/protocolerr"
	"github.com/mdraculin/stc-isp/transport"
)

// fakeTransport is a no-op transport.Transport double; the session
// tests exercise retry/fallback logic purely through the errors a
// fakeDialect returns, never real I/O.
type fakeTransport struct {
	setBaudCalls []int
}

func (f *fakeTransport) Write([]byte) error                                       { return nil }
func (f *fakeTransport) ReadExactly(context.Context, int, time.Duration) ([]byte, error) { return nil, nil }
func (f *fakeTransport) SetBaud(baud int) error                                   { f.setBaudCalls = append(f.setBaudCalls, baud); return nil }
func (f *fakeTransport) SetParity(bool) error                                     { return nil }
func (f *fakeTransport) AssertReset(time.Duration) error                          { return nil }
func (f *fakeTransport) Drain() error                                             { return nil }
func (f *fakeTransport) Close() error                                             { return nil }

var _ transport.Transport = (*fakeTransport)(nil)

// fakeDialect lets each test script the error sequence returned from
// Detect/SwitchBaud without touching the real dialect engines.
type fakeDialect struct {
	detectErrs    []error
	detectCalls   int
	switchErrs    []error
	switchCalls   int
	switchPlans   []protocol.BaudPlan
	terminateErr  error
	terminateCalls int
}

func (f *fakeDialect) Name() string { return "fake" }

func (f *fakeDialect) Detect(context.Context, transport.Transport, int) (protocol.TargetState, error) {
	var err error
	if f.detectCalls < len(f.detectErrs) {
		err = f.detectErrs[f.detectCalls]
	}
	f.detectCalls++
	return protocol.TargetState{Registry: &options.Registry{}}, err
}

func (f *fakeDialect) SwitchBaud(_ context.Context, _ transport.Transport, _ *protocol.TargetState, plan protocol.BaudPlan) error {
	f.switchPlans = append(f.switchPlans, plan)
	var err error
	if f.switchCalls < len(f.switchErrs) {
		err = f.switchErrs[f.switchCalls]
	}
	f.switchCalls++
	return err
}

func (f *fakeDialect) Trim(context.Context, transport.Transport, *protocol.TargetState, float64) error {
	return nil
}
func (f *fakeDialect) Erase(context.Context, transport.Transport, *protocol.TargetState, int) error {
	return nil
}
func (f *fakeDialect) WriteCode(context.Context, transport.Transport, *protocol.TargetState, []byte, func(int, int)) error {
	return nil
}
func (f *fakeDialect) WriteEeprom(context.Context, transport.Transport, *protocol.TargetState, []byte, func(int, int)) error {
	return nil
}
func (f *fakeDialect) WriteOptions(context.Context, transport.Transport, *protocol.TargetState) error {
	return nil
}
func (f *fakeDialect) Terminate(context.Context, transport.Transport, *protocol.TargetState, bool) error {
	f.terminateCalls++
	return f.terminateErr
}
func (f *fakeDialect) BlockSize() int         { return 128 }
func (f *fakeDialect) Codec() frame.Codec     { return frame.Codec{} }

var _ protocol.Dialect = (*fakeDialect)(nil)

func TestRetryDetectSucceedsAfterFrameErrors(t *testing.T) {
	s := &Session{}
	d := &fakeDialect{detectErrs: []error{
		&frame.FrameError{Kind: "checksum_mismatch"},
		&frame.FrameError{Kind: "checksum_mismatch"},
		nil,
	}}
	_, err := s.retryDetect(context.Background(), d, &fakeTransport{})
	require.NoError(t, err)
	assert.Equal(t, 3, d.detectCalls)
}

func TestRetryDetectGivesUpAfterThreeFrameErrors(t *testing.T) {
	s := &Session{}
	d := &fakeDialect{detectErrs: []error{
		&frame.FrameError{Kind: "truncated"},
		&frame.FrameError{Kind: "truncated"},
		&frame.FrameError{Kind: "truncated"},
	}}
	_, err := s.retryDetect(context.Background(), d, &fakeTransport{})
	require.Error(t, err)
	assert.Equal(t, 3, d.detectCalls)
}

func TestRetryDetectDoesNotRetryNonFrameErrors(t *testing.T) {
	s := &Session{}
	d := &fakeDialect{detectErrs: []error{
		&protocolerr.UnknownModelError{Magic: 0xdead},
	}}
	_, err := s.retryDetect(context.Background(), d, &fakeTransport{})
	require.Error(t, err)
	assert.Equal(t, 1, d.detectCalls)
}

func TestWithHalfBaudFallbackRetriesOnLinkLost(t *testing.T) {
	s := &Session{}
	d := &fakeDialect{switchErrs: []error{&protocolerr.LinkLostError{Phase: "baud switch"}, nil}}
	st := &protocol.TargetState{}
	err := s.withHalfBaudFallback(context.Background(), d, &fakeTransport{}, st, protocol.BaudPlan{TransferBaud: 115200})
	require.NoError(t, err)
	require.Len(t, d.switchPlans, 2)
	assert.Equal(t, 115200, d.switchPlans[0].TransferBaud)
	assert.Equal(t, 57600, d.switchPlans[1].TransferBaud)
}

func TestWithHalfBaudFallbackPropagatesOtherErrors(t *testing.T) {
	s := &Session{}
	d := &fakeDialect{switchErrs: []error{&protocolerr.DeviceNakError{Phase: "baud switch", Code: 0x0f}}}
	st := &protocol.TargetState{}
	err := s.withHalfBaudFallback(context.Background(), d, &fakeTransport{}, st, protocol.BaudPlan{TransferBaud: 115200})
	require.Error(t, err)
	assert.Len(t, d.switchPlans, 1)
}

func TestPreflightValidateOptionsRejectsUnknownName(t *testing.T) {
	s := &Session{opts: Options{DialectName: "stc15", SetOptions: map[string]string{"not_a_real_option": "1"}}}
	err := s.preflightValidateOptions()
	require.Error(t, err)
	var badOpt *protocolerr.BadOptionError
	require.ErrorAs(t, err, &badOpt)
}

func TestPreflightValidateOptionsRejectsBadValue(t *testing.T) {
	s := &Session{opts: Options{DialectName: "stc12a", SetOptions: map[string]string{"watchdog_prescale": "5"}}}
	err := s.preflightValidateOptions()
	require.Error(t, err)
}

func TestPreflightValidateOptionsAcceptsKnownOption(t *testing.T) {
	s := &Session{opts: Options{DialectName: "stc15a", SetOptions: map[string]string{"reset_pin_enabled": "true"}}}
	require.NoError(t, s.preflightValidateOptions())
}

func TestPreflightValidateOptionsForAutoAcceptsAnyDialectField(t *testing.T) {
	s := &Session{opts: Options{DialectName: "auto", SetOptions: map[string]string{"cpu_core_voltage": "high"}}}
	require.NoError(t, s.preflightValidateOptions())
}

func TestRunRejectsBadOptionBeforePowerCycle(t *testing.T) {
	cycled := false
	s := &Session{
		opts:  Options{DialectName: "stc15", SetOptions: map[string]string{"not_a_real_option": "1"}},
		cycle: func() error { cycled = true; return nil },
	}
	code := s.Run(context.Background())
	assert.Equal(t, 1, code)
	assert.False(t, cycled, "power cycle must not run once option validation has failed")
}

func TestApplyOptionsRejectsUnknownName(t *testing.T) {
	s := &Session{opts: Options{SetOptions: map[string]string{"not_a_real_option": "1"}}}
	st := &protocol.TargetState{Registry: optionsRegistryForTest()}
	err := s.applyOptions(st)
	require.Error(t, err)
	var badOpt *protocolerr.BadOptionError
	require.ErrorAs(t, err, &badOpt)
}

func optionsRegistryForTest() *options.Registry {
	return &options.Registry{Dialect: "fake", MSR: []byte{0}}
}

func TestFailMapsUserAbortToExitCodeTwo(t *testing.T) {
	s := &Session{}
	code := s.fail(&protocolerr.UserAbortError{Phase: "program"}, nil, nil)
	assert.Equal(t, 2, code)
}

func TestFailMapsOtherErrorsToExitCodeOne(t *testing.T) {
	s := &Session{}
	code := s.fail(&protocolerr.UnknownModelError{Magic: 0x1234}, nil, nil)
	assert.Equal(t, 1, code)
}

func TestFailCallsBestEffortTerminate(t *testing.T) {
	s := &Session{}
	d := &fakeDialect{}
	code := s.fail(&protocolerr.LinkLostError{Phase: "erase"}, d, &fakeTransport{})
	assert.Equal(t, 1, code)
	assert.Equal(t, 1, d.terminateCalls)
}
