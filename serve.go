package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Jon-Bright/mifctl/dvfs"
	"github.com/platinasystems/log"
)

var port = flag.Int("port", 24601, "The port that the server should listen to")

type Server struct {
	dev dvfs.Device
	l   net.Listener
}

func NewServer(port int, dev dvfs.Device) (*Server, error) {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	log.Printf("info", "Listening on port %d", port)
	return &Server{dev, l}, nil
}

func parseFreq(parms string) (uint32, error) {
	t := strings.Fields(parms)
	if len(t) != 1 {
		return 0, fmt.Errorf("want one frequency, got '%s'", parms)
	}
	f, err := strconv.ParseUint(t[0], 10, 32)
	if err != nil {
		return 0, err
	}
	if f == 0 {
		return 0, errors.New("frequency must be positive")
	}
	return uint32(f), nil
}

// stater is implemented by devices that can show their operating points.
type stater interface {
	State() dvfs.State
}

// runCommand carries out one command. Commands that report something
// write it before the final reply line.
func (s *Server) runCommand(cmd, parms string, w *bufio.Writer) error {
	switch cmd {
	case "SET":
		f, err := parseFreq(parms)
		if err != nil {
			return fmt.Errorf("error parsing frequency: %v", err)
		}
		return s.dev.Target(f)
	case "GET":
		f, err := s.dev.CurrentFrequency()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\n", f)
		return nil
	case "TABLE":
		st, ok := s.dev.(stater)
		if !ok {
			return errors.New("device has no table")
		}
		state := st.State()
		for i, o := range state.Points {
			fmt.Fprintf(w, "%d %d %d %s\n", i, o.Freq, o.Volt, state.PointState(i))
		}
		return nil
	case "DUMP":
		return s.dev.Dump(w)
	case "REBOOT":
		return s.dev.ApplyRebootCeiling()
	}
	return fmt.Errorf("unknown command: %s", cmd)
}

func (s *Server) handleConnection(c net.Conn) {
	log.Printf("info", "Handling connection from %v", c.RemoteAddr())
	defer c.Close()
	r := bufio.NewReader(c)
	w := bufio.NewWriter(c)
	for {
		l, err := r.ReadString('\n')
		if err == io.EOF {
			log.Printf("debug", "EOF for connection %v", c.RemoteAddr())
			return
		}
		if err != nil {
			log.Printf("err", "Error reading string for connection %v: %v", c.RemoteAddr(), err)
			return
		}
		l = strings.TrimSpace(l)
		log.Printf("debug", "Got line '%s'", l)
		if l == "" {
			continue
		}
		t := strings.SplitN(l, " ", 2)
		cmd := strings.ToUpper(t[0])
		parms := ""
		if len(t) > 1 {
			parms = t[1]
		}
		if cmd == "QUIT" {
			return
		}
		err = s.runCommand(cmd, parms, w)
		if err != nil {
			es := fmt.Sprintf("Error running %s: %v", cmd, err)
			log.Print("err", es)
			w.WriteString("ERR: " + es + "\n")
		} else {
			w.WriteString("OK\n")
		}
		err = w.Flush()
		if err != nil {
			log.Printf("err", "error writing reply: %v", err)
			return
		}
	}
}

func (s *Server) handleConnections() {
	for {
		conn, err := s.l.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			log.Printf("err", "Error accepting connection: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) Close() error {
	return s.l.Close()
}

// shutdownOnSignal puts the reboot ceiling in place and stops the server
// when the system asks us to go.
func shutdownOnSignal(s *Server, dev dvfs.Device) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		log.Printf("info", "Got %v, shutting down", <-sig)
		err := dev.ApplyRebootCeiling()
		if err != nil {
			log.Printf("err", "Failed applying reboot ceiling: %v", err)
		}
		s.Close() // Ignore error
	}()
}

func main() {
	flag.Parse()
	d, err := openDomain()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed opening domain: %v\n", err)
		os.Exit(1)
	}
	defer d.Close()

	if *dumpOnly {
		err = dump(os.Stdout, os.Stdout.Fd(), d)
		if err != nil {
			log.Printf("err", "Failed dumping: %v", err)
		}
		return
	}

	s, err := NewServer(*port, d)
	if err != nil {
		d.Close() // Ignore error
		fmt.Fprintf(os.Stderr, "Failed creating server: %v\n", err)
		os.Exit(1)
	}
	shutdownOnSignal(s, d)
	s.handleConnections()
}
