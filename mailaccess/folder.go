package mailaccess

// Application-level folder identifiers accepted from the UI.
const (
	FolderInbox   = "inbox"
	FolderSent    = "sent"
	FolderDrafts  = "drafts"
	FolderTrash   = "trash"
	FolderSpam    = "spam"
	FolderStarred = "starred"
	FolderArchive = "archive"
)

const (
	MailboxInbox   = "INBOX"
	MailboxSent    = "Sent"
	MailboxDrafts  = "Drafts"
	MailboxTrash   = "Trash"
	MailboxJunk    = "Junk"
	MailboxArchive = "Archive"
)

var folderPaths = map[string]string{
	FolderInbox:   MailboxInbox,
	FolderSent:    MailboxSent,
	FolderDrafts:  MailboxDrafts,
	FolderTrash:   MailboxTrash,
	FolderSpam:    MailboxJunk,
	FolderStarred: MailboxInbox,
	FolderArchive: MailboxArchive,
}

// sentAliases are tried, in order, when the server has no mailbox named Sent
// and none carrying the \Sent special-use attribute.
var sentAliases = []string{"Sent Items", "Sent Mail", "INBOX.Sent"}

// Resolve maps a folder slug to its server mailbox path. Unknown slugs are
// returned unchanged and treated as raw server paths, so custom folders work
// without being listed here.
func Resolve(slug string) string {
	if path, ok := folderPaths[slug]; ok {
		return path
	}
	return slug
}

// IsVirtual reports whether slug names a query over another mailbox rather
// than a mailbox of its own. "starred" is the flagged subset of INBOX.
func IsVirtual(slug string) bool {
	return slug == FolderStarred
}
