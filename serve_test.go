package main

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"testing"

	"github.com/Jon-Bright/mifctl/dvfs"
	"github.com/Jon-Bright/mifctl/sim"
)

func newSimController(t *testing.T, initial uint32) (*dvfs.Controller, *sim.Hardware) {
	t.Helper()
	hw := sim.New(dvfs.MIF, sim.MIFTable, initial)
	c, err := dvfs.New(dvfs.Config{
		Platform:   dvfs.MIF,
		Clocks:     hw,
		Reference:  hw,
		Regulator:  hw,
		ClosedLoop: hw.Loop(),
		Notifier:   hw,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, hw
}

type client struct {
	c net.Conn
	r *bufio.Reader
}

func connect(t *testing.T, dev dvfs.Device) (*client, chan struct{}) {
	t.Helper()
	s := &Server{dev: dev}
	sc, cc := net.Pipe()
	done := make(chan struct{})
	go func() {
		s.handleConnection(sc)
		close(done)
	}()
	return &client{cc, bufio.NewReader(cc)}, done
}

// send writes a command and returns every reply line up to and including
// the OK or ERR line.
func (c *client) send(t *testing.T, l string) []string {
	t.Helper()
	if _, err := c.c.Write([]byte(l + "\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	var out []string
	for {
		r, err := c.r.ReadString('\n')
		if err != nil {
			t.Fatalf("Read after '%s' failed: %v", l, err)
		}
		r = strings.TrimSuffix(r, "\n")
		out = append(out, r)
		if r == "OK" || strings.HasPrefix(r, "ERR: ") {
			return out
		}
	}
}

func TestServerCommands(t *testing.T) {
	c, hw := newSimController(t, 546000)
	defer c.Close()
	cl, done := connect(t, c)

	if r := cl.send(t, "GET"); len(r) != 2 || r[0] != "546000" || r[1] != "OK" {
		t.Errorf("GET incorrect, got: %q", r)
	}
	if r := cl.send(t, "set 1000000"); r[0] != "OK" {
		t.Errorf("SET incorrect, got: %q", r)
	}
	if hw.Domain() != 845000 {
		t.Errorf("SET didn't move the domain, got: %d, want: 845000", hw.Domain())
	}
	r := cl.send(t, "TABLE")
	if len(r) != len(sim.MIFTable)+1 {
		t.Fatalf("TABLE incorrect length, got: %q", r)
	}
	if r[0] != "0 1794000 1025000 on" || r[9] != "9 273000 737500 on" {
		t.Errorf("TABLE incorrect, got: %q", r)
	}
	r = cl.send(t, "DUMP")
	if !strings.Contains(strings.Join(r, "\n"), "freq 845000kHz") {
		t.Errorf("DUMP incorrect, got: %q", r)
	}
	if r := cl.send(t, "REBOOT"); r[0] != "OK" {
		t.Errorf("REBOOT incorrect, got: %q", r)
	}
	if c.Ceiling() != 900000 {
		t.Errorf("REBOOT didn't set the ceiling, got: %d", c.Ceiling())
	}
	r = cl.send(t, "TABLE")
	if r[0] != "0 1794000 1025000 capped" || r[4] != "4 845000 843750 on" {
		t.Errorf("TABLE after REBOOT incorrect, got: %q", r)
	}

	for _, bad := range []string{"SET", "SET abc", "SET 0", "SET 1 2", "FROB"} {
		r := cl.send(t, bad)
		if len(r) != 1 || !strings.HasPrefix(r[0], "ERR: ") {
			t.Errorf("'%s' got: %q, want an error", bad, r)
		}
	}
	// Errors don't drop the connection.
	if r := cl.send(t, "GET"); r[0] != "845000" {
		t.Errorf("GET after errors incorrect, got: %q", r)
	}

	cl.c.Write([]byte("QUIT\n"))
	<-done
}

func TestServerDeviceError(t *testing.T) {
	c, hw := newSimController(t, 546000)
	defer c.Close()
	cl, done := connect(t, c)
	hw.Kill()
	r := cl.send(t, "GET")
	if !strings.HasPrefix(r[0], "ERR: ") || !strings.Contains(r[0], "frequency read failed") {
		t.Errorf("GET on dead hardware got: %q", r)
	}
	cl.c.Close()
	<-done
}

func TestLoadASV(t *testing.T) {
	in := `# mif table
1794000 1025000
1539000	975000   # trailing comment

273000 737500
`
	pts, err := loadASV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("loadASV failed: %v", err)
	}
	want := []dvfs.OperatingPoint{{Freq: 1794000, Volt: 1025000}, {Freq: 1539000, Volt: 975000}, {Freq: 273000, Volt: 737500}}
	if len(pts) != len(want) {
		t.Fatalf("Incorrect point count, got: %d, want: %d", len(pts), len(want))
	}
	for i := range want {
		if pts[i] != want[i] {
			t.Errorf("Point %d incorrect, got: %v, want: %v", i, pts[i], want[i])
		}
	}

	for _, bad := range []string{
		"",
		"# nothing\n",
		"1794000\n",
		"1794000 1025000 1\n",
		"fast 1025000\n",
		"1794000 -5\n",
		"99999999999 1\n",
	} {
		if _, err := loadASV(strings.NewReader(bad)); err == nil {
			t.Errorf("loadASV(%q) succeeded, want an error", bad)
		}
	}
}

func TestDumpNotTerminal(t *testing.T) {
	c, _ := newSimController(t, 546000)
	defer c.Close()
	var b bytes.Buffer
	// An fd that's certainly not a terminal.
	if err := dump(&b, ^uintptr(0), c); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	if strings.HasPrefix(b.String(), "mifctl") {
		t.Errorf("Header written for a non-terminal: %q", b.String())
	}
	if !strings.Contains(b.String(), "freq 546000kHz") {
		t.Errorf("Dump incorrect, got: %q", b.String())
	}
}
