package dataset

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tabula/core"
)

type RowStatus string

const (
	RowComplete RowStatus = "complete"
	RowDeleted  RowStatus = "deleted"
)

const DefaultPerPage = 10

// MaxPage bounds the requested page so that its offset fits in 32 bits at the largest page size.
const MaxPage = math.MaxInt32 / 1000

// PerPageOptions lists the accepted page sizes.
var PerPageOptions = []int{10, 25, 50, 100, 250, 500, 1000}

// Cells holds one row's values in source column order.
type Cells []string

// Value stores cells as a JSON array.
func (c Cells) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(c))
}

func (c *Cells) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*c = Cells{}
		return nil
	default:
		return errors.Errorf("dataset: cannot scan %T into Cells", src)
	}
	return json.Unmarshal(raw, (*[]string)(c))
}

type Row struct {
	ID        int64       `json:"id"`
	FileID    int64       `json:"file_id"`
	Data      Cells       `json:"data"`
	Status    RowStatus   `json:"status"`
	Note      null.String `json:"note"`
	CreatedAt time.Time   `json:"created_at"`
}

type ListQuery struct {
	Page    int    `query:"page"`
	PerPage int    `query:"per_page"`
	Search  string `query:"search"`
}

// Normalize falls back to defaults for out-of-range values instead of failing.
func (q *ListQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > MaxPage {
		q.Page = MaxPage
	}
	allowed := false
	for _, n := range PerPageOptions {
		if q.PerPage == n {
			allowed = true
			break
		}
	}
	if !allowed {
		q.PerPage = DefaultPerPage
	}
	q.Search = core.CleanString(q.Search)
}

// Offset returns the number of rows to skip for a normalized query.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.PerPage
}

type Page struct {
	Header     Row             `json:"header"`
	Rows       []Row           `json:"rows"`
	Pagination core.Pagination `json:"pagination"`
}

type DeleteResult struct {
	Accepted       int  `json:"accepted"`
	Deleted        int  `json:"deleted"`
	HeaderExcluded bool `json:"headerExcluded"`
}

type RowIDs struct {
	IDs []int64 `json:"ids" validate:"required,min=1"`
}

type NewNote struct {
	Note string `json:"note" validate:"required,max=5000"`
}

func PurgeTaskFor(fileID int64, rowIDs ...int64) core.PurgeTask {
	return core.PurgeTask{FileID: fileID, RowIDs: rowIDs}
}
