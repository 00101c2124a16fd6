package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dialog entry types
const (
	DialogRecording = "recording"
	DialogText      = "text"
	DialogMessage   = "message"
)

// TagsAttachmentType is the distinguished attachment type holding
// "name:value" tag strings.
const TagsAttachmentType = "tags"

// Party identifies one participant of a conversation. All fields are
// optional; the core only reads tel, mailto and name for indexing.
type Party struct {
	Tel    string `json:"tel,omitempty"`
	Mailto string `json:"mailto,omitempty"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Dialog is one segment of the conversation. Parties is kept opaque
// because producers encode it as either an index or a list of indices.
type Dialog struct {
	Type     string          `json:"type,omitempty"`
	Start    string          `json:"start,omitempty"`
	Duration float64         `json:"duration,omitempty"`
	Parties  json.RawMessage `json:"parties,omitempty"`
	URL      string          `json:"url,omitempty"`
	MimeType string          `json:"mimetype,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
	Encoding string          `json:"encoding,omitempty"`
}

// Analysis is one analysis record produced by a link. Body is opaque JSON.
type Analysis struct {
	Type     string          `json:"type,omitempty"`
	Dialog   json.RawMessage `json:"dialog,omitempty"`
	Vendor   string          `json:"vendor,omitempty"`
	Schema   string          `json:"schema,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
	Encoding string          `json:"encoding,omitempty"`
}

// Attachment is an arbitrary document attached to the conversation.
type Attachment struct {
	Type     string          `json:"type,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
	Encoding string          `json:"encoding,omitempty"`
}

// VCon is the conversation record, the pipeline's unit of work. The UUID
// is immutable once assigned and CreatedAt is set by the producer; the
// core never rewrites either. Unknown top-level fields are preserved
// verbatim across decode/encode so that stages outside this process can
// carry their own extensions.
type VCon struct {
	UUID        string       `json:"uuid"`
	Vcon        string       `json:"vcon"`
	CreatedAt   string       `json:"created_at"`
	UpdatedAt   string       `json:"updated_at,omitempty"`
	Subject     string       `json:"subject,omitempty"`
	Parties     []Party      `json:"parties"`
	Dialog      []Dialog     `json:"dialog"`
	Analysis    []Analysis   `json:"analysis"`
	Attachments []Attachment `json:"attachments"`

	extra map[string]json.RawMessage
}

// NewVCon creates an empty conversation record with a fresh UUID and
// the current time as creation timestamp.
func NewVCon() *VCon {
	now := time.Now().UTC().Format(time.RFC3339)
	return &VCon{
		UUID:        uuid.NewString(),
		Vcon:        "0.0.1",
		CreatedAt:   now,
		Parties:     []Party{},
		Dialog:      []Dialog{},
		Analysis:    []Analysis{},
		Attachments: []Attachment{},
	}
}

type vconAlias VCon

var knownVconFields = map[string]bool{
	"uuid": true, "vcon": true, "created_at": true, "updated_at": true,
	"subject": true, "parties": true, "dialog": true, "analysis": true,
	"attachments": true,
}

// UnmarshalJSON decodes the known fields and stashes everything else in
// the extra map so MarshalJSON can round-trip it.
func (v *VCon) UnmarshalJSON(data []byte) error {
	var alias vconAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if knownVconFields[k] {
			delete(raw, k)
		}
	}
	*v = VCon(alias)
	if len(raw) > 0 {
		v.extra = raw
	}
	return nil
}

// MarshalJSON re-emits the known fields plus any preserved extras.
func (v VCon) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(vconAlias(v))
	if err != nil {
		return nil, err
	}
	if len(v.extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, val := range v.extra {
		merged[k] = val
	}
	return json.Marshal(merged)
}

// CreatedAtTime parses the producer-assigned creation timestamp.
func (v *VCon) CreatedAtTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v.CreatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid created_at %q: %w", v.CreatedAt, err)
	}
	return t, nil
}

// Tags returns the tag set from the distinguished tags attachment as a
// name -> value map. Missing or malformed tags attachments yield an
// empty map.
func (v *VCon) Tags() map[string]string {
	tags := make(map[string]string)
	att := v.tagsAttachment()
	if att == nil {
		return tags
	}
	var entries []string
	if err := json.Unmarshal(att.Body, &entries); err != nil {
		return tags
	}
	for _, e := range entries {
		name, value, ok := strings.Cut(e, ":")
		if !ok {
			continue
		}
		tags[name] = value
	}
	return tags
}

// GetTag returns the value of a single tag, or "" if absent.
func (v *VCon) GetTag(name string) string {
	return v.Tags()[name]
}

// SetTag adds or replaces one name:value entry in the tags attachment,
// creating the attachment if it does not exist yet.
func (v *VCon) SetTag(name, value string) error {
	tags := v.Tags()
	tags[name] = value
	entries := make([]string, 0, len(tags))
	for n, val := range tags {
		entries = append(entries, n+":"+val)
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if att := v.tagsAttachment(); att != nil {
		att.Body = body
		return nil
	}
	v.Attachments = append(v.Attachments, Attachment{
		Type:     TagsAttachmentType,
		Body:     body,
		Encoding: "json",
	})
	return nil
}

func (v *VCon) tagsAttachment() *Attachment {
	for i := range v.Attachments {
		if v.Attachments[i].Type == TagsAttachmentType {
			return &v.Attachments[i]
		}
	}
	return nil
}

// Classification buckets a chain failure for DLQ inspection.
type Classification string

const (
	// ClassificationRecoverable marks failures worth retrying: timeouts,
	// 5xx from dependent services, explicit try-later signals.
	ClassificationRecoverable Classification = "recoverable"
	// ClassificationPermanent marks failures that retrying cannot fix:
	// malformed documents, unresolvable references, do-not-retry signals.
	ClassificationPermanent Classification = "permanent"
)

// FailureMarker records why a UUID landed on a DLQ. It is stored next to
// the DLQ entry so operators can inspect failures without log access.
type FailureMarker struct {
	UUID           string         `json:"uuid"`
	Chain          string         `json:"chain"`
	Stage          string         `json:"stage"`
	Classification Classification `json:"classification"`
	Error          string         `json:"error"`
	FailedAt       time.Time      `json:"failed_at"`
}
