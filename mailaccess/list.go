package mailaccess

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"

	"mailbridge/models"
)

var summaryItems = []imap.FetchItem{
	imap.FetchUid,
	imap.FetchEnvelope,
	imap.FetchFlags,
	imap.FetchRFC822Size,
	imap.FetchInternalDate,
	imap.FetchBodyStructure,
}

var errMalformed = errors.New("message is missing uid or envelope")

// Window is the inclusive, 1-indexed sequence range of one listing page,
// counted down from the newest message.
type Window struct {
	Start   uint32
	End     uint32
	HasMore bool
}

// Size is the number of sequence numbers the window covers.
func (w Window) Size() uint32 {
	return w.End - w.Start + 1
}

// ComputeWindow returns the page window over a mailbox of total messages.
// The range is recomputed from the live count on every request, so a message
// arriving between two page loads shifts later pages by one. A page past the
// end clamps to [1,1].
func ComputeWindow(total uint32, page, pageSize int) Window {
	t, p, ps := int64(total), int64(page), int64(pageSize)
	end := max(1, t-(p-1)*ps)
	start := max(1, t-p*ps+1)
	return Window{
		Start:   uint32(start),
		End:     uint32(end),
		HasMore: start > 1,
	}
}

// List returns one page of a mailbox, newest first. An absent mailbox lists
// as empty. Messages that cannot be summarized are skipped, and a fetch that
// fails after delivering some messages returns what arrived.
func (s *Session) List(path string, page, pageSize int) (*models.MessagePage, error) {
	result := models.NewMessagePage(page, pageSize)
	log := s.log.WithField("mailbox", path)

	status, err := s.open(path, true)
	if err != nil {
		if isMailboxAbsent(err) {
			log.Debug("mailbox does not exist, listing as empty")
			return result, nil
		}
		return nil, s.fail("list", err)
	}

	result.Total = status.Messages
	if status.Messages == 0 {
		return result, nil
	}

	w := ComputeWindow(status.Messages, page, pageSize)
	seqset := new(imap.SeqSet)
	seqset.AddRange(w.Start, w.End)

	msgs, err := s.conn.Fetch(seqset, summaryItems)
	if err != nil {
		if len(msgs) == 0 {
			return nil, s.fail("list", err)
		}
		log.WithError(err).Warn("fetch ended early, returning %d of %d messages", len(msgs), w.Size())
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SeqNum > msgs[j].SeqNum
	})
	result.Messages = s.summarize(path, msgs)
	result.HasMore = w.HasMore
	return result, nil
}

// ListFlagged pages through the flagged messages of a mailbox. Flagged
// messages are found with UID SEARCH and windowed with ComputeWindow over the
// ascending result.
func (s *Session) ListFlagged(path string, page, pageSize int) (*models.MessagePage, error) {
	result := models.NewMessagePage(page, pageSize)
	log := s.log.WithField("mailbox", path)

	if _, err := s.open(path, true); err != nil {
		if isMailboxAbsent(err) {
			log.Debug("mailbox does not exist, listing as empty")
			return result, nil
		}
		return nil, s.fail("list", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithFlags = []string{imap.FlaggedFlag}
	uids, err := s.conn.UidSearch(criteria)
	if err != nil {
		return nil, s.fail("list", err)
	}

	result.Total = uint32(len(uids))
	if len(uids) == 0 {
		return result, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	w := ComputeWindow(result.Total, page, pageSize)
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids[w.Start-1 : w.End]...)

	msgs, err := s.conn.UidFetch(seqset, summaryItems)
	if err != nil {
		if len(msgs) == 0 {
			return nil, s.fail("list", err)
		}
		log.WithError(err).Warn("fetch ended early, returning %d of %d messages", len(msgs), w.Size())
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Uid > msgs[j].Uid
	})
	result.Messages = s.summarize(path, msgs)
	result.HasMore = w.HasMore
	return result, nil
}

func (s *Session) summarize(path string, msgs []*imap.Message) []models.MessageSummary {
	out := make([]models.MessageSummary, 0, len(msgs))
	for _, msg := range msgs {
		summary, err := s.summary(msg)
		if err != nil {
			s.log.WithField("mailbox", path).
				WithError(newError(KindParse, "list", err)).
				Warn("skipping malformed message")
			continue
		}
		out = append(out, summary)
	}
	return out
}

func (s *Session) summary(msg *imap.Message) (models.MessageSummary, error) {
	if msg == nil || msg.Uid == 0 || msg.Envelope == nil {
		return models.MessageSummary{}, errMalformed
	}
	env := msg.Envelope

	summary := models.MessageSummary{
		ID:             strconv.FormatUint(uint64(msg.Uid), 10),
		UID:            msg.Uid,
		MessageID:      env.MessageId,
		FromAddress:    "unknown",
		ToAddresses:    addressList(env.To),
		CcAddresses:    addressList(env.Cc),
		Subject:        env.Subject,
		IsRead:         hasFlag(msg.Flags, imap.SeenFlag),
		IsStarred:      hasFlag(msg.Flags, imap.FlaggedFlag),
		HasAttachments: hasAttachments(msg.BodyStructure),
		Size:           msg.Size,
		SentAt:         env.Date,
		ReceivedAt:     msg.InternalDate,
	}
	if summary.Subject == "" {
		summary.Subject = noSubject
	}
	if len(env.From) > 0 && env.From[0] != nil {
		if addr := formatAddress(env.From[0]); addr != "" {
			summary.FromAddress = addr
		}
		if name := env.From[0].PersonalName; name != "" {
			summary.FromName = &name
		}
	}
	if summary.SentAt.IsZero() {
		summary.SentAt = msg.InternalDate
	}
	if summary.SentAt.IsZero() {
		summary.SentAt = s.now()
	}
	if summary.ReceivedAt.IsZero() {
		summary.ReceivedAt = summary.SentAt
	}
	return summary, nil
}

const noSubject = "(No Subject)"

func addressList(addrs []*imap.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if addr := formatAddress(a); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func formatAddress(a *imap.Address) string {
	if a == nil || a.MailboxName == "" || a.HostName == "" {
		return ""
	}
	return a.MailboxName + "@" + a.HostName
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// hasAttachments walks the body structure for a part with an attachment
// disposition, so listings never download bodies.
func hasAttachments(bs *imap.BodyStructure) bool {
	if bs == nil {
		return false
	}
	if strings.EqualFold(bs.Disposition, "attachment") {
		return true
	}
	for _, part := range bs.Parts {
		if hasAttachments(part) {
			return true
		}
	}
	return false
}
