package mailaccess

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap"
)

// Capabilities that change how messages leave a mailbox.
const (
	capMove    = "MOVE"
	capUIDPlus = "UIDPLUS"
)

// ErrExpungeScope is returned when a message cannot be expunged on its own:
// the server lacks UIDPLUS and other messages in the mailbox are already
// marked \Deleted, so a plain EXPUNGE would remove them too.
var ErrExpungeScope = errors.New("server cannot expunge a single message while others are marked deleted")

// Flag is a server-defined message flag the layer is allowed to change.
type Flag string

const (
	FlagSeen    Flag = imap.SeenFlag
	FlagFlagged Flag = imap.FlaggedFlag
)

// Action is a user-level message mutation.
type Action string

const (
	ActionMarkRead   Action = "markRead"
	ActionMarkUnread Action = "markUnread"
	ActionStar       Action = "star"
	ActionUnstar     Action = "unstar"
	ActionMove       Action = "move"
	ActionTrash      Action = "trash"
	ActionArchive    Action = "archive"
	ActionSpam       Action = "spam"
	ActionDelete     Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionMarkRead, ActionMarkUnread, ActionStar, ActionUnstar,
		ActionMove, ActionTrash, ActionArchive, ActionSpam, ActionDelete:
		return true
	}
	return false
}

// moveTargets are the fixed destinations of the composite move actions.
var moveTargets = map[Action]string{
	ActionTrash:   MailboxTrash,
	ActionArchive: MailboxArchive,
	ActionSpam:    MailboxJunk,
}

func flagAction(flag Flag, on bool) Action {
	switch {
	case flag == FlagSeen && on:
		return ActionMarkRead
	case flag == FlagSeen:
		return ActionMarkUnread
	case on:
		return ActionStar
	default:
		return ActionUnstar
	}
}

// SetFlag adds or removes a flag. Adding a flag that is already set, or
// removing one that is clear, succeeds without changing anything.
func (s *Session) SetFlag(path string, uid uint32, flag Flag, on bool) error {
	if flag != FlagSeen && flag != FlagFlagged {
		return newError(KindInvalid, "set_flag", fmt.Errorf("flag %q cannot be changed", flag))
	}
	action := flagAction(flag, on)

	if _, err := s.open(path, false); err != nil {
		return mutationError(string(action), path, s.fail(string(action), err))
	}

	op := imap.FlagsOp(imap.AddFlags)
	if !on {
		op = imap.RemoveFlags
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	if err := s.conn.UidStore(seqset, imap.FormatFlagsOp(op, true), []interface{}{string(flag)}); err != nil {
		return mutationError(string(action), path, s.fail(string(action), err))
	}
	return nil
}

// Move moves a message to another mailbox. UID MOVE is used when the server
// has it; otherwise the message is copied and then expunged on its own.
func (s *Session) Move(from string, uid uint32, to string) error {
	return s.move(ActionMove, from, uid, to)
}

// Trash moves a message to Trash. It is a move, never a delete.
func (s *Session) Trash(from string, uid uint32) error {
	return s.move(ActionTrash, from, uid, moveTargets[ActionTrash])
}

// Archive moves a message to Archive.
func (s *Session) Archive(from string, uid uint32) error {
	return s.move(ActionArchive, from, uid, moveTargets[ActionArchive])
}

// MarkSpam moves a message to Junk.
func (s *Session) MarkSpam(from string, uid uint32) error {
	return s.move(ActionSpam, from, uid, moveTargets[ActionSpam])
}

func (s *Session) move(action Action, from string, uid uint32, to string) error {
	if to == "" {
		return newError(KindInvalid, string(action), fmt.Errorf("no target mailbox"))
	}
	if _, err := s.open(from, false); err != nil {
		return mutationError(string(action), to, s.fail(string(action), err))
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	move, err := s.conn.Support(capMove)
	if err != nil {
		return mutationError(string(action), to, s.fail(string(action), err))
	}
	if move {
		err = s.conn.UidMove(seqset, to)
	} else {
		err = s.expungeOne(uid, func() error {
			return s.conn.UidCopy(seqset, to)
		})
	}
	if err != nil {
		return mutationError(string(action), to, s.fail(string(action), err))
	}
	return nil
}

// Delete permanently removes one message. Messages other clients marked
// \Deleted in the same mailbox are never expunged with it.
func (s *Session) Delete(path string, uid uint32) error {
	action := string(ActionDelete)
	if _, err := s.open(path, false); err != nil {
		return mutationError(action, path, s.fail(action, err))
	}
	if err := s.expungeOne(uid, nil); err != nil {
		return mutationError(action, path, s.fail(action, err))
	}
	return nil
}

// expungeOne runs before (if any), flags uid \Deleted and expunges it. With
// UIDPLUS the expunge is UID EXPUNGE of uid alone. Without it a plain
// EXPUNGE is only sent when no other message carries \Deleted; that check
// happens before anything is changed.
func (s *Session) expungeOne(uid uint32, before func() error) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	uidPlus, err := s.conn.Support(capUIDPlus)
	if err != nil {
		return err
	}
	if !uidPlus {
		criteria := imap.NewSearchCriteria()
		criteria.WithFlags = []string{imap.DeletedFlag}
		marked, err := s.conn.UidSearch(criteria)
		if err != nil {
			return err
		}
		for _, other := range marked {
			if other != uid {
				return ErrExpungeScope
			}
		}
	}

	if before != nil {
		if err := before(); err != nil {
			return err
		}
	}
	if err := s.conn.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.DeletedFlag}); err != nil {
		return err
	}
	if uidPlus {
		return s.conn.UidExpunge(seqset)
	}
	return s.conn.Expunge()
}

// Apply runs a user-level action against one message. target is only used by
// ActionMove and must already be a server path.
func (s *Session) Apply(action Action, path string, uid uint32, target string) error {
	switch action {
	case ActionMarkRead:
		return s.SetFlag(path, uid, FlagSeen, true)
	case ActionMarkUnread:
		return s.SetFlag(path, uid, FlagSeen, false)
	case ActionStar:
		return s.SetFlag(path, uid, FlagFlagged, true)
	case ActionUnstar:
		return s.SetFlag(path, uid, FlagFlagged, false)
	case ActionMove:
		return s.Move(path, uid, target)
	case ActionTrash:
		return s.Trash(path, uid)
	case ActionArchive:
		return s.Archive(path, uid)
	case ActionSpam:
		return s.MarkSpam(path, uid)
	case ActionDelete:
		return s.Delete(path, uid)
	default:
		return newError(KindInvalid, "apply", fmt.Errorf("unknown action %q", action))
	}
}
