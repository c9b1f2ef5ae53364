package domain

import "time"

type MemoryKind string

const (
	KindText  MemoryKind = "text"
	KindVoice MemoryKind = "voice"
	KindImage MemoryKind = "image"
)

func ParseMemoryKind(s string) (MemoryKind, bool) {
	switch MemoryKind(s) {
	case KindText, KindVoice, KindImage:
		return MemoryKind(s), true
	default:
		return "", false
	}
}

type MemoryStatus string

const (
	StatusCaptured  MemoryStatus = "captured"
	StatusEnriching MemoryStatus = "enriching"
	StatusReady     MemoryStatus = "ready"
	StatusFailed    MemoryStatus = "failed"
)

// Memory is one captured note. OwnerID is fixed at capture time and is the
// authority for every ownership check; index payloads only carry hints.
type Memory struct {
	ID            string       `json:"id"`
	OwnerID       string       `json:"owner_id"`
	Kind          MemoryKind   `json:"kind"`
	RawText       string       `json:"raw_text,omitempty"`
	ProcessedText string       `json:"processed_text,omitempty"`
	Caption       string       `json:"caption,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	ImagePath     string       `json:"image_path,omitempty"`
	AudioPath     string       `json:"audio_path,omitempty"`
	Status        MemoryStatus `json:"status"`
	Error         string       `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	DeletedAt     *time.Time   `json:"deleted_at,omitempty"`
}

// DisplayText is what a result list shows for the memory: the normalized
// text when present, the caption for pure-image memories.
func (m *Memory) DisplayText() string {
	if m.ProcessedText != "" {
		return m.ProcessedText
	}
	if m.RawText != "" {
		return m.RawText
	}
	return m.Caption
}
