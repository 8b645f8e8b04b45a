// Command client is a terminal front end for the chat server: a scrolling
// message pane, a status bar and an input line.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jroimartin/gocui"
)

const (
	msgView    = "messages"
	statusView = "status"
	inputView  = "input"
	helpView   = "help"
)

type chatUI struct {
	gui      *gocui.Gui
	conn     net.Conn
	addr     string
	showHelp bool

	mu     sync.Mutex
	room   string
	online bool
}

func main() {
	addr := flag.String("addr", "localhost:8989", "chat server address")
	name := flag.String("name", "", "username to set on connect")
	flag.Parse()

	conn, err := net.DialTimeout("tcp", *addr, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		log.Fatal(err)
	}
	defer g.Close()

	ui := &chatUI{gui: g, conn: conn, addr: *addr, online: true}
	g.Cursor = true
	g.SetManagerFunc(ui.layout)
	if err := ui.keybindings(); err != nil {
		log.Fatal(err)
	}

	go ui.receive()
	if *name != "" {
		ui.send("/name " + *name)
	}

	if err := g.MainLoop(); err != nil && !errors.Is(err, gocui.ErrQuit) {
		log.Fatal(err)
	}
}

func (ui *chatUI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	msgHeight := maxY - 6

	if v, err := g.SetView(msgView, 0, 0, maxX-1, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Messages"
		v.Wrap = true
		v.Autoscroll = true
	}

	if v, err := g.SetView(statusView, 0, msgHeight+1, maxX-1, msgHeight+3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
		ui.renderStatus(v)
	}

	if v, err := g.SetView(inputView, 0, msgHeight+3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Input"
		v.Editable = true
		v.Wrap = true
		if _, err := g.SetCurrentView(inputView); err != nil {
			return err
		}
	}

	if !ui.showHelp {
		if err := g.DeleteView(helpView); err != nil && err != gocui.ErrUnknownView {
			return err
		}
		return nil
	}
	if v, err := g.SetView(helpView, maxX/6, maxY/6, maxX*5/6, maxY*5/6); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Help"
		fmt.Fprintln(v, `Commands:
/name <username>       - Set your username
/join <room>           - Join or create a room
/leave                 - Go back to the lobby
/rooms                 - List rooms
/users                 - List users in your room
/msg <user> <message>  - Send a private message
/ping                  - Check the server
/quit                  - Leave chat

Keybindings:
Ctrl-C                 - Quit
Ctrl-H                 - Toggle help
Enter                  - Send`)
	}
	return nil
}

func (ui *chatUI) renderStatus(v *gocui.View) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	v.Clear()
	state := "connected"
	if !ui.online {
		state = "disconnected"
	}
	room := ui.room
	if room == "" {
		room = "-"
	}
	fmt.Fprintf(v, "%s %s | Room: %s | Ctrl-H: Help", state, ui.addr, room)
}

func (ui *chatUI) keybindings() error {
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone,
		func(_ *gocui.Gui, _ *gocui.View) error {
			ui.send("/quit")
			return gocui.ErrQuit
		}); err != nil {
		return err
	}

	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlH, gocui.ModNone,
		func(_ *gocui.Gui, _ *gocui.View) error {
			ui.showHelp = !ui.showHelp
			return nil
		}); err != nil {
		return err
	}

	return ui.gui.SetKeybinding(inputView, gocui.KeyEnter, gocui.ModNone, ui.handleInput)
}

func (ui *chatUI) handleInput(_ *gocui.Gui, v *gocui.View) error {
	input := strings.TrimSpace(v.Buffer())
	v.Clear()
	if err := v.SetCursor(0, 0); err != nil {
		return err
	}
	if input == "" {
		return nil
	}

	ui.send(input)
	if input == "/quit" {
		return gocui.ErrQuit
	}
	return nil
}

func (ui *chatUI) send(line string) {
	if _, err := fmt.Fprintf(ui.conn, "%s\n", line); err != nil {
		ui.appendLine(fmt.Sprintf("[CLIENT] send failed: %v", err))
	}
}

// receive copies server lines into the message pane until the connection drops.
func (ui *chatUI) receive() {
	scanner := bufio.NewScanner(ui.conn)
	for scanner.Scan() {
		line := scanner.Text()
		ui.trackRoom(line)
		ui.appendLine(line)
	}

	ui.mu.Lock()
	ui.online = false
	ui.mu.Unlock()
	ui.appendLine("[CLIENT] connection closed")
}

// trackRoom follows the server's room confirmations for the status bar.
func (ui *chatUI) trackRoom(line string) {
	for _, marker := range []string{"You joined room '", "You are in '"} {
		i := strings.Index(line, marker)
		if i < 0 {
			continue
		}
		rest := line[i+len(marker):]
		if end := strings.IndexByte(rest, '\''); end > 0 {
			ui.mu.Lock()
			ui.room = rest[:end]
			ui.mu.Unlock()
		}
		return
	}
}

func (ui *chatUI) appendLine(line string) {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(msgView)
		if err != nil {
			return err
		}
		fmt.Fprintln(v, line)

		if sv, err := g.View(statusView); err == nil {
			ui.renderStatus(sv)
		}
		return nil
	})
}
