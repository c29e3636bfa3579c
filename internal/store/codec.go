package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/takeoff/internal/model"
)

// runColumns holds the JSON-encoded columns of a run row. Nil health or
// summary map to SQL NULL.
type runColumns struct {
	drawings []byte
	health   []byte
	summary  []byte
}

func encodeRun(r *model.Run) (runColumns, error) {
	var c runColumns
	drawings := r.Drawings
	if drawings == nil {
		drawings = []string{}
	}
	var err error
	if c.drawings, err = json.Marshal(drawings); err != nil {
		return c, eris.Wrap(err, "marshal drawings")
	}
	if r.Health != nil {
		if c.health, err = json.Marshal(r.Health); err != nil {
			return c, eris.Wrap(err, "marshal health")
		}
	}
	if r.Summary != nil {
		if c.summary, err = json.Marshal(r.Summary); err != nil {
			return c, eris.Wrap(err, "marshal summary")
		}
	}
	return c, nil
}

func decodeRun(r *model.Run, c runColumns) error {
	if len(c.drawings) > 0 {
		if err := json.Unmarshal(c.drawings, &r.Drawings); err != nil {
			return eris.Wrap(err, "unmarshal drawings")
		}
	}
	if len(c.health) > 0 {
		r.Health = &model.HealthReport{}
		if err := json.Unmarshal(c.health, r.Health); err != nil {
			return eris.Wrap(err, "unmarshal health")
		}
	}
	if len(c.summary) > 0 {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(c.summary, r.Summary); err != nil {
			return eris.Wrap(err, "unmarshal summary")
		}
	}
	return nil
}
