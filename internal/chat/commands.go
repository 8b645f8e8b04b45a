package chat

import (
	"errors"
	"fmt"

	"github.com/Tyrowin/roomchat/internal/room"
	"github.com/Tyrowin/roomchat/internal/session"
)

func defaultCommands() map[string]commandFunc {
	return map[string]commandFunc{
		"name": func(d *Dispatcher, s *session.Session, args string) error {
			name, _ := splitToken(args)
			if name == "" {
				return usage("/name <username>")
			}
			return d.setName(s, name)
		},

		"join": func(d *Dispatcher, s *session.Session, args string) error {
			target, _ := splitToken(args)
			if target == "" {
				return usage("/join <room>")
			}
			return d.join(s, target)
		},

		"leave": func(d *Dispatcher, s *session.Session, _ string) error {
			if !s.Named() {
				return ErrIdentityRequired
			}
			if s.Room == room.DefaultName {
				return ErrAlreadyInDefault
			}
			return d.join(s, room.DefaultName)
		},

		"rooms": func(d *Dispatcher, s *session.Session, _ string) error {
			d.listRooms(s)
			return nil
		},

		"users": func(d *Dispatcher, s *session.Session, _ string) error {
			d.listUsers(s)
			return nil
		},

		"msg": func(d *Dispatcher, s *session.Session, args string) error {
			target, text := splitToken(args)
			if target == "" || text == "" {
				return usage("/msg <user> <message>")
			}
			return d.privateMessage(s, target, text)
		},

		"help": func(d *Dispatcher, s *session.Session, _ string) error {
			for _, line := range helpLines {
				if err := d.delivery.Send(s, line); err != nil {
					break
				}
			}
			return nil
		},

		"quit": func(d *Dispatcher, s *session.Session, _ string) error {
			_ = d.delivery.Send(s, serverLine("Goodbye! Disconnecting..."))
			d.Disconnect(s, "quit")
			return nil
		},

		"ping": func(d *Dispatcher, s *session.Session, _ string) error {
			_ = d.delivery.Send(s, serverLine("PONG [%s]", stamp(d.now())))
			return nil
		},

		"typing": func(d *Dispatcher, s *session.Session, _ string) error {
			d.typing(s)
			return nil
		},
	}
}

// setName gives s its identity. A first name places the session in the
// default room; a later one renames it in place. The current name counts as
// taken.
func (d *Dispatcher) setName(s *session.Session, name string) error {
	if s.Name == name {
		return session.ErrNameTaken
	}
	previous := s.Name
	if err := d.sessions.SetName(s, name); err != nil {
		return err
	}
	now := d.now()

	if previous != "" {
		notice := noticeLine(now, previous, "is now known as "+name)
		d.delivery.Broadcast(s.Room, notice, "")
		if rm := d.rooms.Find(s.Room); rm != nil {
			rm.History.Append(notice)
		}
		d.logger.Info("user renamed", "session_id", s.ID, "from", previous, "to", name)
		return nil
	}

	lobby := d.rooms.Default()
	s.Room = lobby.Name
	_ = d.delivery.Send(s, serverLine("Welcome, %s! You are in '%s'. Type /help for commands.", name, lobby.Name))
	d.replayHistory(s, lobby)

	notice := noticeLine(now, name, "joined the "+lobby.Name)
	d.delivery.Broadcast(lobby.Name, notice, s.ID)
	lobby.History.Append(notice)

	d.logger.Info("user named", "session_id", s.ID, "user", name, "room", lobby.Name)
	return nil
}

func (d *Dispatcher) join(s *session.Session, target string) error {
	if !s.Named() {
		return ErrIdentityRequired
	}
	if err := room.ValidateName(target); err != nil {
		return err
	}
	if target == s.Room {
		return ErrAlreadyInRoom
	}

	rm, created, err := d.rooms.GetOrCreate(target)
	if err != nil {
		if errors.Is(err, room.ErrCapacityExceeded) {
			return fmt.Errorf("cannot create room %q: %w", target, err)
		}
		return err
	}
	if created {
		d.logger.Info("room created", "room", rm.Name, "by", s.Name, "rooms", d.rooms.Len())
	}

	now := d.now()
	previous := s.Room
	d.delivery.Broadcast(previous, noticeLine(now, s.Name, "left the room"), s.ID)

	s.Room = rm.Name
	_ = d.delivery.Send(s, serverLine("You joined room '%s'", rm.Name))
	d.replayHistory(s, rm)

	notice := noticeLine(now, s.Name, "joined the room")
	d.delivery.Broadcast(rm.Name, notice, s.ID)
	rm.History.Append(notice)

	d.logger.Info("user changed room", "session_id", s.ID, "user", s.Name, "from", previous, "to", rm.Name)
	d.CollectEmptyRooms()
	return nil
}

func (d *Dispatcher) listRooms(s *session.Session) {
	_ = d.delivery.Send(s, serverLine("Available rooms:"))
	for _, rm := range d.rooms.List() {
		line := fmt.Sprintf("  - %s (%s)", rm.Name, plural(d.sessions.CountInRoom(rm.Name), "user"))
		if d.delivery.Send(s, line) != nil {
			return
		}
	}
}

func (d *Dispatcher) listUsers(s *session.Session) {
	if !s.Named() {
		_ = d.delivery.Send(s, serverLine("You are not in a room. Set your username with /name <username>"))
		return
	}
	_ = d.delivery.Send(s, serverLine("Users in '%s':", s.Room))
	for _, peer := range d.sessions.InRoom(s.Room) {
		if !peer.Named() {
			continue
		}
		if d.delivery.Send(s, "  - "+peer.Name) != nil {
			return
		}
	}
}

func (d *Dispatcher) privateMessage(s *session.Session, target, text string) error {
	if !s.Named() {
		return ErrIdentityRequired
	}
	peer := d.sessions.LookupByName(target)
	if peer == nil {
		return fmt.Errorf("%w: %s", ErrUserNotFound, target)
	}
	now := d.now()
	_ = d.delivery.Send(peer, privateFromLine(now, s.Name, text))
	_ = d.delivery.Send(s, privateToLine(now, peer.Name, text))
	return nil
}

func (d *Dispatcher) chat(s *session.Session, text string) error {
	if !s.Named() {
		return ErrIdentityRequired
	}
	rm, err := d.roomFor(s)
	if err != nil {
		return err
	}
	line := chatLine(d.now(), s.Name, text)
	rm.History.Append(line)
	d.delivery.Broadcast(rm.Name, line, "")
	return nil
}

// typing is silent on every rejection: no identity or inside the cooldown.
func (d *Dispatcher) typing(s *session.Session) {
	if !s.Named() {
		return
	}
	now := d.now()
	if !s.LastTyping.IsZero() && now.Sub(s.LastTyping) < d.typingCooldown {
		return
	}
	s.LastTyping = now
	d.delivery.Broadcast(s.Room, typingLine(s.Name), s.ID)
}
