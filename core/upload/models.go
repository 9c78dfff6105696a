package upload

import (
	"fmt"
	"sort"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tabula/core"
)

type Status string

// Session statuses
const (
	StatusProcessing Status = "processing" // receiving chunks
	StatusMerging    Status = "merging"    // one request won the merge
	StatusCompleted  Status = "completed"  // merged & handed to ingestion
	StatusFailed     Status = "failed"
)

// Session is one logical chunked-upload attempt.
type Session struct {
	ID               int64       `json:"id"`
	UploadID         string      `json:"upload_id"`
	OriginalFileName string      `json:"original_file_name"`
	StoredFileName   string      `json:"stored_file_name"`
	FileSize         int64       `json:"file_size"`
	TotalChunks      int         `json:"total_chunks"`
	ReceivedChunks   []int       `json:"received_chunks"`
	Status           Status      `json:"status"`
	TotalRows        int         `json:"total_rows"`
	ProcessedRows    int         `json:"processed_rows"`
	FinalPath        string      `json:"-"`
	ErrorMessage     null.String `json:"error_message"`
	IngestedAt       null.Time   `json:"ingested_at"`
	CreatedAt        time.Time   `json:"created_at"` // UTC
	UpdatedAt        time.Time   `json:"updated_at"` // UTC
}

// ProcessedChunks is the number of distinct chunks received so far.
func (s Session) ProcessedChunks() int { return len(s.ReceivedChunks) }

func (s Session) IsComplete() bool {
	return s.TotalChunks > 0 && s.ProcessedChunks() >= s.TotalChunks
}

func (s Session) HasChunk(index int) bool {
	for _, idx := range s.ReceivedChunks {
		if idx == index {
			return true
		}
	}
	return false
}

// AddChunk adds index to the received set; it returns false if it was already there.
func (s *Session) AddChunk(index int) bool {
	if s.HasChunk(index) {
		return false
	}
	s.ReceivedChunks = append(s.ReceivedChunks, index)
	sort.Ints(s.ReceivedChunks)
	return true
}

func (s Session) UploadProgress() float64 {
	return core.Percent(s.ProcessedChunks(), s.TotalChunks)
}

func (s Session) ProcessingProgress() float64 {
	if s.IngestedAt.Valid {
		return 100
	}
	return core.Percent(s.ProcessedRows, s.TotalRows)
}

// StoredName disambiguates the client file name with a time prefix.
func StoredName(original string, now time.Time) string {
	return fmt.Sprintf("%d_%s", now.UnixNano(), original)
}

// NewChunk contains information sent along with one chunk.
type NewChunk struct {
	UploadID    string `form:"uploadId" validate:"omitempty,uuid"`
	ChunkIndex  int    `form:"chunkIndex" validate:"gte=0,ltfield=TotalChunks"`
	TotalChunks int    `form:"totalChunks" validate:"gte=1"`
	FileName    string `form:"fileName" validate:"required,max=255,filename"`
	FileSize    int64  `form:"fileSize" validate:"gte=1"`
}

func (nc *NewChunk) Clean() {
	nc.UploadID = core.CleanString(nc.UploadID, true /* lower */)
	nc.FileName = core.CleanString(nc.FileName)
}

// ChunkReceipt is returned to the client for every received chunk.
type ChunkReceipt struct {
	Success    bool    `json:"success"`
	FileID     int64   `json:"fileId"`
	UploadID   string  `json:"uploadId"`
	ChunkIndex int     `json:"chunkIndex"`
	IsComplete bool    `json:"isComplete"`
	Progress   float64 `json:"progress"`
	Message    string  `json:"message,omitempty"`
}

// Progress reports an upload's status & counters.
type Progress struct {
	FileID             int64       `json:"fileId"`
	UploadID           string      `json:"uploadId"`
	FileName           string      `json:"fileName"`
	Status             Status      `json:"status"`
	TotalChunks        int         `json:"totalChunks"`
	ProcessedChunks    int         `json:"processedChunks"`
	UploadProgress     float64     `json:"uploadProgress"`
	TotalRows          int         `json:"totalRows"`
	ProcessedRows      int         `json:"processedRows"`
	ProcessingProgress float64     `json:"processingProgress"`
	Ingested           bool        `json:"ingested"`
	Error              null.String `json:"error"`
}

func NewProgress(s Session) Progress {
	return Progress{
		FileID:             s.ID,
		UploadID:           s.UploadID,
		FileName:           s.OriginalFileName,
		Status:             s.Status,
		TotalChunks:        s.TotalChunks,
		ProcessedChunks:    s.ProcessedChunks(),
		UploadProgress:     s.UploadProgress(),
		TotalRows:          s.TotalRows,
		ProcessedRows:      s.ProcessedRows,
		ProcessingProgress: s.ProcessingProgress(),
		Ingested:           s.IngestedAt.Valid,
		Error:              s.ErrorMessage,
	}
}
