// Package slackmodel defines the typed records the export parser emits
// and the document store persists: conversations, messages, users,
// failed imports, and file metadata.
package slackmodel

import "time"

// JobStatus is one of the canonical, uppercase pipeline states. Lowercase
// variants are never produced or accepted.
type JobStatus string

const (
	JobUploading  JobStatus = "UPLOADING"
	JobUploaded   JobStatus = "UPLOADED"
	JobExtracting JobStatus = "EXTRACTING"
	JobExtracted  JobStatus = "EXTRACTED"
	JobImporting  JobStatus = "IMPORTING"
	JobImported   JobStatus = "IMPORTED"
	JobTraining   JobStatus = "TRAINING"
	JobComplete   JobStatus = "COMPLETE"
	JobError      JobStatus = "ERROR"
	JobCancelled  JobStatus = "CANCELLED"
)

// Stage names the active pipeline stage. It mirrors a subset of JobStatus
// but is tracked separately because a job can be "between" stages (e.g.
// EXTRACTED, waiting to auto-advance to IMPORTING).
type Stage string

const (
	StageNone       Stage = ""
	StageExtracting Stage = "EXTRACTING"
	StageImporting  Stage = "IMPORTING"
	StageTraining   Stage = "TRAINING"
)

// Job is the durable record of one ingestion run, held by the Job Store.
type Job struct {
	ID              string    `bson:"_id" json:"id"`
	Filename        string    `bson:"filename" json:"filename"`
	SizeBytes       int64     `bson:"size_bytes" json:"size_bytes"`
	ArchivePath     string    `bson:"archive_path" json:"archive_path"`
	ExtractPath     string    `bson:"extract_path,omitempty" json:"extract_path,omitempty"`
	Status          JobStatus `bson:"status" json:"status"`
	CurrentStage    Stage     `bson:"current_stage" json:"current_stage"`
	StageProgress   int       `bson:"stage_progress" json:"stage_progress"`
	Progress        string    `bson:"progress" json:"progress"`
	ProgressPercent int       `bson:"progress_percent" json:"progress_percent"`
	Error           string    `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at" json:"updated_at"`
}

// ConversationKind enumerates the kinds of Slack conversation the export
// dialect recognises.
type ConversationKind string

const (
	KindChannel      ConversationKind = "Channel"
	KindDirectMsg    ConversationKind = "DirectMessage"
	KindMultiPartyDM ConversationKind = "MultiPartyDM"
	KindPhoneCall    ConversationKind = "PhoneCall"
)

// Conversation is a channel, DM, or multi-party DM.
type Conversation struct {
	ID            string           `bson:"_id" json:"id"`
	Name          string           `bson:"name" json:"name"`
	Kind          ConversationKind `bson:"kind" json:"kind"`
	CreatedAt     time.Time        `bson:"created_at,omitempty" json:"created_at,omitempty"`
	Creator       string           `bson:"creator,omitempty" json:"creator,omitempty"`
	Topic         string           `bson:"topic,omitempty" json:"topic,omitempty"`
	TopicSetBy    string           `bson:"topic_set_by,omitempty" json:"topic_set_by,omitempty"`
	TopicSetAt    time.Time        `bson:"topic_set_at,omitempty" json:"topic_set_at,omitempty"`
	Purpose       string           `bson:"purpose,omitempty" json:"purpose,omitempty"`
	PurposeSetBy  string           `bson:"purpose_set_by,omitempty" json:"purpose_set_by,omitempty"`
	PurposeSetAt  time.Time        `bson:"purpose_set_at,omitempty" json:"purpose_set_at,omitempty"`
	Archived      bool             `bson:"archived" json:"archived"`
	ArchivedBy    string           `bson:"archived_by,omitempty" json:"archived_by,omitempty"`
	ArchivedAt    time.Time        `bson:"archived_at,omitempty" json:"archived_at,omitempty"`
	MemberUsers   []string         `bson:"member_users,omitempty" json:"member_users,omitempty"`
}

// MessageType tags the variant of a Message record.
type MessageType string

const (
	MessageText   MessageType = "message"
	MessageJoin   MessageType = "join"
	MessageFile   MessageType = "file_share"
	MessageSystem MessageType = "system"
)

// Reaction attaches a set of reacting usernames to an emoji on a message.
type Reaction struct {
	Emoji string   `bson:"emoji" json:"emoji"`
	Users []string `bson:"users" json:"users"`
}

// SharedFile is the metadata a file-share message line carries about an
// attached file.
type SharedFile struct {
	ID       string `bson:"id,omitempty" json:"id,omitempty"`
	Name     string `bson:"name" json:"name"`
	MimeType string `bson:"mimetype,omitempty" json:"mimetype,omitempty"`
}

// Message is a single line-derived record from an export text file.
// Identity is (ConversationID, TS, Ordinal): the timestamp alone is not
// unique because system messages can collide within the same second.
type Message struct {
	ConversationID  string      `bson:"conversation_id" json:"conversation_id"`
	TS              time.Time   `bson:"ts" json:"ts"`
	Ordinal         int         `bson:"ordinal" json:"ordinal"`
	User            string      `bson:"username,omitempty" json:"username,omitempty"`
	Text            string      `bson:"text" json:"text"`
	Type            MessageType `bson:"type" json:"type"`
	IsEdited        bool        `bson:"is_edited" json:"is_edited"`
	Reactions       []Reaction  `bson:"reactions,omitempty" json:"reactions,omitempty"`
	Files           []SharedFile `bson:"files,omitempty" json:"files,omitempty"`
	ThreadTS        *time.Time  `bson:"thread_ts,omitempty" json:"thread_ts,omitempty"`
	ReplyCount      int         `bson:"reply_count,omitempty" json:"reply_count,omitempty"`
	ReplyUsersCount int         `bson:"reply_users_count,omitempty" json:"reply_users_count,omitempty"`
	SystemAction    string      `bson:"system_action,omitempty" json:"system_action,omitempty"`
}

// TextHash is the stable duplicate-detection key for a message's body,
// combined with (ConversationID, TS) by the document store
// (docstore.TextHash, with SystemAction folded in when set). Computed there, not
// stored on Message itself, since it's a derived index field rather than
// a parsed attribute.

// User tracks cross-conversation activity for one Slack username. The
// export format does not carry stable user IDs for every message, so
// username is the identity.
type User struct {
	Username      string    `bson:"_id" json:"username"`
	FirstSeen     time.Time `bson:"first_seen" json:"first_seen"`
	LastSeen      time.Time `bson:"last_seen" json:"last_seen"`
	Conversations []string  `bson:"conversations" json:"conversations"`
	MessageCount  int       `bson:"message_count" json:"message_count"`
}

// FailedImport describes one unrecoverable parse or write failure that
// did not abort the job it occurred in.
type FailedImport struct {
	ID          string    `bson:"_id" json:"id"`
	JobID       string    `bson:"job_id" json:"job_id"`
	FilePath    string    `bson:"file_path" json:"file_path"`
	LineNumber  int       `bson:"line_number" json:"line_number"` // -1 for whole-file failures
	Description string    `bson:"description" json:"description"`
	CapturedAt  time.Time `bson:"captured_at" json:"captured_at"`
}

// File is the metadata-only record for an attachment surfaced by the
// export; its bytes live on disk under the extract tree.
type File struct {
	ID       string `bson:"_id" json:"id"`
	Name     string `bson:"name" json:"name"`
	MimeType string `bson:"mimetype,omitempty" json:"mimetype,omitempty"`
	Path     string `bson:"path" json:"path"`
}
