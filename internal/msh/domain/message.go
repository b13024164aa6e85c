package domain

import "time"

// ebMS3 well-known values for connectivity test exchanges.
const (
	TestService = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/service"
	TestAction  = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/test"
)

// Party identifies one side of a message exchange.
type Party struct {
	PartyID string
	Role    string
}

// PartInfo describes one payload part of a user message.
type PartInfo struct {
	EntityID    int64
	Href        string
	Length      int64
	ContentType string
	// FileName is set once the payload bytes have been written by the
	// payload persistence provider (file path or storage object id).
	FileName   string
	InBody     bool
	Properties map[string]string

	// Data holds the submitted payload bytes until the persistence
	// provider writes them out; providers clear it after a successful
	// store so the envelope keeps only metadata.
	Data []byte
}

// Message is the immutable envelope metadata of a business message.
// It is created once by the submission path and never mutated; its mutable
// per-attempt state lives in MessageLog.
type Message struct {
	EntityID       int64
	MessageID      string
	RefToMessageID string
	Tenant         Tenant
	Role           MSHRole

	ConversationID string
	Service        string
	Action         string
	AgreementRef   string

	From Party
	To   Party

	// MPC is the message partition channel for pull-mode delivery.
	MPC     string
	Subtype MessageSubtype

	// FinalRecipient and OriginalUser are the routing message properties
	// the backend search filters match against.
	FinalRecipient string
	OriginalUser   string

	// SourceMessage marks a split-and-join source message: one whose
	// payloads exceed the inline size and travel as a group of fragments.
	SourceMessage   bool
	MessageFragment bool
	GroupID         string

	Parts []PartInfo

	Created time.Time
}

// IsTestMessage reports whether the message uses the well-known ebMS3 test
// service/action pair.
func (m *Message) IsTestMessage() bool {
	return m.Service == TestService && m.Action == TestAction
}

// SplitAndJoin reports whether the message participates in split-and-join,
// either as the source or as one of its fragments.
func (m *Message) SplitAndJoin() bool {
	return m.SourceMessage || m.MessageFragment
}

// TotalPayloadLength sums the declared length of all payload parts.
func (m *Message) TotalPayloadLength() int64 {
	var total int64
	for i := range m.Parts {
		total += m.Parts[i].Length
	}
	return total
}

// MessageGroup owns the ordered set of fragments a split-and-join source
// message was decomposed into.
type MessageGroup struct {
	EntityID        int64
	GroupID         string
	Tenant          Tenant
	SourceMessageID string
	FragmentCount   int64
	CompressedSize  int64
	Failed          bool
	FailureDetail   string
	Created         time.Time
}

// SignalMessage is the receipt/error signal paired with a user message.
type SignalMessage struct {
	EntityID       int64
	MessageID      string
	RefToMessageID string
	Tenant         Tenant
	Deleted        *time.Time
}
