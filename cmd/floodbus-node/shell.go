package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/peterh/liner"
	"go.opencensus.io/stats/view"

	floodbus "github.com/floodbus/go-floodbus"
	"github.com/floodbus/go-floodbus/metrics"
)

// TestMessageType is the message type sent from the prompt.
const TestMessageType = "IntegrationTestMessage"

// TestMessage carries a line of text typed at the prompt.
type TestMessage struct {
	Text string `json:"integrationTestMessage"`
}

var errQuit = errors.New("quit")

type shell struct {
	bus *floodbus.Bus
	out io.Writer
}

func newShell(bus *floodbus.Bus, out io.Writer) *shell {
	return &shell{bus: bus, out: out}
}

func (s *shell) run() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Fprintf(s.out, "node %s listening on %s\n", s.bus.ID(), s.bus.Addr())
	fmt.Fprintln(s.out, "type help for a list of commands")

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		if err := s.exec(strings.Fields(input)); err != nil {
			if err == errQuit {
				return nil
			}
			fmt.Fprintln(s.out, err)
		}
	}
}

func (s *shell) exec(args []string) error {
	if len(args) == 0 {
		return nil
	}

	cmd, params := args[0], args[1:]
	switch cmd {
	case "help":
		if len(params) > 0 {
			s.helpType(params[0])
			return nil
		}
		s.help()
	case "add":
		return s.add(params)
	case "remove":
		if len(params) != 1 {
			return errors.New("usage: remove <name>")
		}
		s.bus.RemoveConnection(params[0])
	case "peers":
		for _, p := range s.bus.Connections() {
			fmt.Fprintln(s.out, p)
		}
	case "send":
		return s.send(params)
	case "stats":
		return s.stats()
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
	return nil
}

func (s *shell) help() {
	fmt.Fprintln(s.out, "add <name> <port>         add an outgoing connection to localhost:<port>")
	fmt.Fprintln(s.out, "add <name> <ip> <port>    add an outgoing connection")
	fmt.Fprintln(s.out, "add <name> <multiaddr>    add an outgoing connection, e.g. /ip4/10.0.0.2/tcp/5678")
	fmt.Fprintln(s.out, "remove <name>             remove an outgoing connection")
	fmt.Fprintln(s.out, "peers                     list outgoing connections")
	fmt.Fprintln(s.out, "send <message>            send a message to anybody")
	fmt.Fprintln(s.out, "send <receiver> <message> send a message to a connected receiver")
	fmt.Fprintln(s.out, "help <messagetype>        show how to send a message type")
	fmt.Fprintln(s.out, "stats                     show message counters")
	fmt.Fprintln(s.out, "quit                      stop the node")
}

func (s *shell) helpType(msgType string) {
	if msgType != TestMessageType {
		fmt.Fprintf(s.out, "message type %s is not implemented in this tool\n", msgType)
		return
	}
	fmt.Fprintf(s.out, "send <text>               send a %s to anybody\n", TestMessageType)
	fmt.Fprintf(s.out, "send <receiver> <text>    send a %s to a connected receiver\n", TestMessageType)
}

func (s *shell) add(params []string) error {
	var (
		addr ma.Multiaddr
		err  error
	)
	switch {
	case len(params) == 2 && strings.HasPrefix(params[1], "/"):
		addr, err = ma.NewMultiaddr(params[1])
	case len(params) == 2:
		addr, err = tcpAddr("127.0.0.1", params[1])
	case len(params) == 3:
		addr, err = tcpAddr(params[1], params[2])
	default:
		return errors.New("usage: add <name> [ip] <port>")
	}
	if err != nil {
		return err
	}

	s.bus.AddConnection(params[0], addr)
	fmt.Fprintf(s.out, "added connection %s (%s)\n", params[0], addr)
	return nil
}

func tcpAddr(ip, port string) (ma.Multiaddr, error) {
	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("the port must be an integer: %q", port)
	}
	proto := "ip4"
	if strings.Contains(ip, ":") {
		proto = "ip6"
	}
	return ma.NewMultiaddr(fmt.Sprintf("/%s/%s/tcp/%d", proto, ip, p))
}

// send addresses the message to the first word if it names a connection,
// even when no text follows, and otherwise to anybody.
func (s *shell) send(params []string) error {
	if len(params) == 0 {
		return errors.New("usage: send [receiver] <message>")
	}

	if s.bus.HasConnection(params[0]) {
		s.bus.Publish(params[0], TestMessageType, TestMessage{Text: strings.Join(params[1:], " ")})
		return nil
	}
	s.bus.PublishAny(TestMessageType, TestMessage{Text: strings.Join(params, " ")})
	return nil
}

// stats prints the counters recorded since the node started.
func (s *shell) stats() error {
	for _, v := range []*view.View{
		metrics.PublishedView,
		metrics.ForwardedView,
		metrics.DuplicatesView,
		metrics.DeliveredView,
		metrics.DroppedView,
		metrics.SendErrorsView,
	} {
		rows, err := view.RetrieveData(v.Name)
		if err != nil {
			return err
		}

		var total float64
		for _, row := range rows {
			if sum, ok := row.Data.(*view.SumData); ok {
				total += sum.Value
			}
		}
		fmt.Fprintf(s.out, "%-20s %d\n", strings.TrimPrefix(v.Name, "floodbus/"), int64(total))
	}
	return nil
}
