package logsvc

import (
	"bytes"
	"log"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/tabula/core"
)

func TestRollbarLogger_Print(t *testing.T) {
	var buf bytes.Buffer
	l := NewRollbarLogger(log.New(&buf, "", 0), &core.Config{Env: "TEST"})
	l.Enable(false)

	l.Error("chunk upload: could not store chunk",
		errors.New("disk full"),
		map[string]interface{}{"upload_id": "u-1", "chunk_index": 2},
		core.Principal{ID: "svc", Username: "importer"},
	)

	assert.Equal(t,
		"ERROR: chunk upload: could not store chunk | disk full | chunk_index=2 upload_id=u-1 | client=svc\n",
		buf.String(),
	)
}

func Test_parseEntry(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")

	tests := []struct {
		name          string
		args          []interface{}
		wantErr       error
		wantFields    map[string]interface{}
		wantPrincipal string
		wantRollbar   int
	}{
		{name: "message only", wantRollbar: 1},
		{
			name:          "first principal wins",
			args:          []interface{}{core.Principal{ID: "1"}, map[string]interface{}{"file_id": 3}, core.Principal{ID: "2"}},
			wantFields:    map[string]interface{}{"file_id": 3},
			wantPrincipal: "1",
			wantRollbar:   2,
		},
		{
			name:        "context maps merged",
			args:        []interface{}{first, map[string]interface{}{"file_id": 3}, map[string]interface{}{"upload_id": "u"}, second, nil},
			wantErr:     first,
			wantFields:  map[string]interface{}{"file_id": 3, "upload_id": "u"},
			wantRollbar: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := parseEntry("msg", tt.args)
			assert.Equal(t, tt.wantErr, e.err)
			assert.Equal(t, tt.wantFields, e.fields)
			if tt.wantPrincipal == "" {
				assert.Nil(t, e.principal)
			} else if assert.NotNil(t, e.principal) {
				assert.Equal(t, tt.wantPrincipal, e.principal.ID)
			}
			args := e.rollbarArgs()
			assert.Len(t, args, tt.wantRollbar)
			assert.Equal(t, "msg", args[0])
		})
	}
}
