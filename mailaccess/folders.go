package mailaccess

import (
	"sort"
	"strings"

	"github.com/emersion/go-imap"

	"mailbridge/models"
)

var specialUseAttrs = []string{`\Sent`, `\Drafts`, `\Trash`, `\Junk`, `\Archive`, `\All`, `\Flagged`}

var folderStatusItems = []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen}

// Folders lists every mailbox with its message and unseen counts. A mailbox
// whose STATUS fails is still listed, with zero counts.
func (s *Session) Folders() ([]models.Folder, error) {
	mailboxes, err := s.conn.List("", "*")
	if err != nil {
		return nil, s.fail("folders", err)
	}

	folders := make([]models.Folder, 0, len(mailboxes))
	for _, mb := range mailboxes {
		if mb == nil {
			continue
		}
		f := models.Folder{
			Name:       displayName(mb.Name, mb.Delimiter),
			Path:       mb.Name,
			Delimiter:  mb.Delimiter,
			SpecialUse: specialUse(mb.Attributes),
			Attributes: mb.Attributes,
		}
		if f.Attributes == nil {
			f.Attributes = []string{}
		}

		if !hasFlag(mb.Attributes, imap.NoSelectAttr) {
			status, err := s.conn.Status(mb.Name, folderStatusItems)
			if err != nil {
				s.log.WithField("mailbox", mb.Name).WithError(err).Debug("STATUS failed")
			} else if status != nil {
				f.Total = status.Messages
				f.Unseen = status.Unseen
			}
		}
		folders = append(folders, f)
	}

	sort.SliceStable(folders, func(i, j int) bool {
		return folderRank(folders[i]) < folderRank(folders[j])
	})
	return folders, nil
}

func displayName(path, delim string) string {
	if delim == "" {
		return path
	}
	if i := strings.LastIndex(path, delim); i >= 0 {
		return path[i+len(delim):]
	}
	return path
}

func specialUse(attrs []string) string {
	for _, want := range specialUseAttrs {
		if hasFlag(attrs, want) {
			return want
		}
	}
	return ""
}

// folderRank puts INBOX first, then special-use mailboxes, then the rest in
// server order.
func folderRank(f models.Folder) int {
	switch {
	case strings.EqualFold(f.Path, MailboxInbox):
		return 0
	case f.SpecialUse != "":
		return 1
	default:
		return 2
	}
}
