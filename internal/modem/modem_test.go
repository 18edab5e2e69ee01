package modem

import (
	"strings"
	"testing"
	"time"
)

func feedLine(e *Engine, line string) []byte {
	var out []byte
	for _, c := range []byte(line) {
		out = append(out, e.FeedCommandByte(c)...)
	}
	out = append(out, e.FeedCommandByte('\r')...)
	return out
}

func TestScenarioATChainWithEcho(t *testing.T) {
	// Scenario 1: ATE1V1Q0X4 + CR -> echo, then verbose OK.
	e := NewEngine(nil)
	e.Initialize()

	out := feedLine(e, "ATE1V1Q0X4")
	want := "ATE1V1Q0X4\r\r\nOK\r\n"
	if string(out) != want {
		t.Fatalf("got %q want %q", out, want)
	}

	s := e.Settings()
	if !s.Echo || !s.Verbose || s.Quiet || s.ResultCodesLevel != 4 {
		t.Fatalf("settings not updated: %+v", s)
	}
}

func TestEmptyLineReturnsOK(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	e.settings.Echo = false
	out := e.FeedCommandByte('\r')
	if string(out) != "\r\nOK\r\n" {
		t.Fatalf("got %q", out)
	}
}

func TestBackspaceEditsLine(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	e.settings.Echo = false

	for _, c := range []byte("ATE9") {
		e.FeedCommandByte(c)
	}
	e.FeedCommandByte(8) // backspace: removes the bogus "9"
	for _, c := range []byte("1") {
		e.FeedCommandByte(c)
	}
	out := e.FeedCommandByte('\r')
	if string(out) != "\r\nOK\r\n" {
		t.Fatalf("expected OK after corrected line, got %q", out)
	}
	if !e.Settings().Echo {
		t.Fatal("expected E1 to have taken effect after backspace correction")
	}
}

func TestUnknownCommandReturnsError(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	e.settings.Echo = false
	out := feedLine(e, "AT%")
	if string(out) != "\r\nERROR\r\n" {
		t.Fatalf("got %q", out)
	}
}

func TestNonATLineIsError(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	e.settings.Echo = false
	out := feedLine(e, "HELLO")
	if string(out) != "\r\nERROR\r\n" {
		t.Fatalf("got %q", out)
	}
}

func TestSRegisterWriteAndQuery(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	e.settings.Echo = false

	out := feedLine(e, "ATS2=43")
	if string(out) != "\r\nOK\r\n" {
		t.Fatalf("got %q", out)
	}
	if e.Settings().SRegisters[SRegEscapeChar] != 43 {
		t.Fatal("S2 not written")
	}

	out = feedLine(e, "ATS2?")
	if string(out) != "\r\n043\r\n\r\nOK\r\n" {
		t.Fatalf("query output %q", out)
	}
	idx, val := e.LastQueriedRegister()
	if idx != 2 || val != 43 {
		t.Fatalf("got idx=%d val=%d", idx, val)
	}
}

func TestSRegisterCRAboveASCIIIsError(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	e.settings.Echo = false
	out := feedLine(e, "ATS3=200")
	if string(out) != "\r\nERROR\r\n" {
		t.Fatalf("got %q", out)
	}
	if e.Settings().SRegisters[SRegCR] != 13 {
		t.Fatal("S3 must be untouched after rejected write")
	}
}

func TestSRegisterOutOfRangeIsError(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	e.settings.Echo = false
	out := feedLine(e, "ATS2=300")
	if string(out) != "\r\nERROR\r\n" {
		t.Fatalf("got %q", out)
	}
}

func TestAnswerTransitionsOnlineAndEmitsConnect(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	e.settings.Echo = false
	out := feedLine(e, "ATA")
	if string(out) != "\r\nCONNECT\r\n" {
		t.Fatalf("got %q", out)
	}
	if e.State() != StateOnline {
		t.Fatalf("expected ONLINE, got %v", e.State())
	}
}

func TestFactoryResetAndSaveProfile(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	feedLine(e, "ATE0")
	if e.Settings().Echo {
		t.Fatal("expected echo off")
	}
	feedLine(e, "AT&W0")
	feedLine(e, "AT&F")
	if !e.Settings().Echo {
		t.Fatal("expected echo reset to default (on) after &F")
	}
	feedLine(e, "ATZ0")
	if e.Settings().Echo {
		t.Fatal("expected echo off restored from saved profile 0")
	}
}

func TestEscapeSequenceValid(t *testing.T) {
	// Scenario 2, compressed to synthetic timestamps: three
	// qualifying '+' bytes separated by gaps under guard time, preceded and
	// followed by silence at least guard-time long.
	e := NewEngine(nil)
	e.Initialize()
	feedLine(e, "ATA") // -> ONLINE
	guard := guardDuration(e.Settings())

	base := time.Unix(1000, 0)
	t0 := base
	fwd := e.FeedOnlineByte('+', t0)
	if len(fwd) != 0 {
		t.Fatalf("first + should be withheld, got %v", fwd)
	}
	t1 := t0.Add(guard / 2)
	fwd = e.FeedOnlineByte('+', t1)
	if len(fwd) != 0 {
		t.Fatalf("second + should be withheld, got %v", fwd)
	}
	t2 := t1.Add(guard / 2)
	fwd = e.FeedOnlineByte('+', t2)
	if len(fwd) != 0 {
		t.Fatalf("third + should be withheld, got %v", fwd)
	}

	if resp, switched := e.PollEscape(t2.Add(guard / 2)); switched {
		t.Fatalf("should not switch before guard elapses, got resp %q", resp)
	}

	resp, switched := e.PollEscape(t2.Add(guard + time.Millisecond))
	if !switched {
		t.Fatal("expected escape completion after post-silence guard")
	}
	if string(resp) != "\r\nOK\r\n" {
		t.Fatalf("got %q", resp)
	}
	if e.State() != StateCommand {
		t.Fatalf("expected COMMAND, got %v", e.State())
	}
}

func TestEscapeSequenceSpoofedInData(t *testing.T) {
	// Scenario 3: "foo+++bar" with no guard silence around the
	// pluses must all be forwarded, and the modem stays ONLINE.
	e := NewEngine(nil)
	e.Initialize()
	feedLine(e, "ATA")

	base := time.Unix(2000, 0)
	var forwarded []byte
	now := base
	for _, b := range []byte("foo+++bar") {
		forwarded = append(forwarded, e.FeedOnlineByte(b, now)...)
		now = now.Add(time.Millisecond)
	}
	if string(forwarded) != "foo+++bar" {
		t.Fatalf("expected full spoofed string forwarded, got %q", forwarded)
	}
	if e.State() != StateOnline {
		t.Fatalf("expected to remain ONLINE, got %v", e.State())
	}
}

func TestEscapeGuardFailsOnInterCharacterGap(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	feedLine(e, "ATA")
	guard := guardDuration(e.Settings())

	base := time.Unix(3000, 0)
	e.FeedOnlineByte('+', base)
	e.FeedOnlineByte('+', base.Add(guard/2))
	// Third + arrives after the inter-character guard has elapsed: the
	// first two are flushed as data, the third restarts the count.
	out := e.FeedOnlineByte('+', base.Add(guard/2+guard+time.Millisecond))
	if string(out) != "++" {
		t.Fatalf("expected the two stale pluses flushed as data, got %q", out)
	}
	if e.State() != StateOnline {
		t.Fatal("should still be online, no completed escape")
	}
}

func TestDCDFallingEdgeTearsDownCall(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	feedLine(e, "ATA")
	if e.State() != StateOnline {
		t.Fatal("expected online")
	}
	out := e.OnDCDFallingEdge()
	if string(out) != "\r\nNO CARRIER\r\n" {
		t.Fatalf("got %q", out)
	}
	if e.State() != StateCommand {
		t.Fatalf("expected COMMAND after carrier loss, got %v", e.State())
	}
}

func TestDTRModeCommandAndHangup(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	e.settings.DTRMode = 1
	feedLine(e, "ATA")
	e.OnDTRFallingEdge()
	if e.State() != StateCommand {
		t.Fatal("dtr_mode=1 should switch to COMMAND without NO CARRIER text")
	}

	e2 := NewEngine(nil)
	e2.Initialize()
	e2.settings.DTRMode = 2
	feedLine(e2, "ATA")
	out := e2.OnDTRFallingEdge()
	if string(out) != "\r\nNO CARRIER\r\n" {
		t.Fatalf("got %q", out)
	}
}

func TestHardwareLinePassthroughRingAndConnect(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	e.settings.Echo = false

	var out []byte
	for _, b := range []byte("RING\r\n") {
		out = append(out, e.FeedHardwareByte(b)...)
	}
	if string(out) != "\r\nRING\r\n" {
		t.Fatalf("got %q", out)
	}

	for _, b := range []byte("CONNECT 9600\r\n") {
		e.FeedHardwareByte(b)
	}
	if e.State() != StateOnline {
		t.Fatalf("expected ONLINE after hardware CONNECT, got %v", e.State())
	}
}

func TestDCDLineFollowsMode(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	e.settings.DCDMode = 0
	if !e.DCDLine() {
		t.Fatal("dcd_mode=0 should always report high")
	}
	e.settings.DCDMode = 1
	if e.DCDLine() {
		t.Fatal("dcd_mode=1 should track real carrier, expected low while COMMAND")
	}
	feedLine(e, "ATA")
	if !e.DCDLine() {
		t.Fatal("expected DCD high while ONLINE with dcd_mode=1")
	}
}

func TestInfoAndConfigurationDump(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	e.settings.Echo = false

	out := feedLine(e, "ATI")
	if string(out) != "\r\nMODEMBRIDGE EMULATED MODEM\r\n\r\nOK\r\n" {
		t.Fatalf("ATI output %q", out)
	}

	out = feedLine(e, "AT&V")
	s := string(out)
	if !strings.Contains(s, "ACTIVE PROFILE:") {
		t.Fatalf("dump missing profile header: %q", s)
	}
	if !strings.Contains(s, "E0 V1 Q0 X4 &C1 &D2 &S0") {
		t.Fatalf("dump missing flag line: %q", s)
	}
	if !strings.Contains(s, "S02:043") || !strings.Contains(s, "S12:050") {
		t.Fatalf("dump missing S-registers: %q", s)
	}
	if !strings.HasSuffix(s, "\r\nOK\r\n") {
		t.Fatalf("dump must end with OK: %q", s)
	}
}

func TestAmpersandCAndDUpdateModes(t *testing.T) {
	e := NewEngine(nil)
	e.Initialize()
	e.settings.Echo = false

	if out := feedLine(e, "AT&C0&D3"); string(out) != "\r\nOK\r\n" {
		t.Fatalf("got %q", out)
	}
	s := e.Settings()
	if s.DCDMode != 0 || s.DTRMode != 3 {
		t.Fatalf("modes not updated: &C%d &D%d", s.DCDMode, s.DTRMode)
	}
	if out := feedLine(e, "AT&C2"); string(out) != "\r\nERROR\r\n" {
		t.Fatalf("got %q", out)
	}
}
